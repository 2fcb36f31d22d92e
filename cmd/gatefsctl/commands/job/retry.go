package job

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
)

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry a failed job",
	Long: `Submit a fresh job carrying a failed job's payload.

The original job record is kept; the retry gets a new ID.

Examples:
  # Retry a failed job
  gatefsctl job retry c7e1f9b2`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	job, err := client.RetryJob(args[0])
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Retry submitted: %s", job.ID))
	fmt.Printf("Watch progress with:\n  gatefsctl job watch %s\n", job.ID)
	return nil
}
