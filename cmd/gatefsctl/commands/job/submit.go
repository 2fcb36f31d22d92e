package job

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
	"github.com/gatefs/gatefs/internal/cli/output"
)

var submitPayload string

var submitCmd = &cobra.Command{
	Use:   "submit <type>",
	Short: "Submit a job",
	Long: `Submit a background job of the given type.

Use 'gatefsctl job types' to list the types available to you.

Examples:
  # Rebuild the index of every mount
  gatefsctl job submit fs_index_rebuild

  # Rebuild one mount
  gatefsctl job submit fs_index_rebuild --payload '{"mountIds":["docs"]}'

  # Drain the dirty queue immediately
  gatefsctl job submit fs_index_apply_dirty`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "Job payload as JSON")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var payload json.RawMessage
	if submitPayload != "" {
		if !json.Valid([]byte(submitPayload)) {
			return fmt.Errorf("payload is not valid JSON")
		}
		payload = json.RawMessage(submitPayload)
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	job, err := client.SubmitJob(args[0], payload)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return cmdutil.PrintResource(os.Stdout, job, nil)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Job submitted: %s", job.ID))
	fmt.Printf("Watch progress with:\n  gatefsctl job watch %s\n", job.ID)
	return nil
}
