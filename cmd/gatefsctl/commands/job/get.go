package job

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
	"github.com/gatefs/gatefs/internal/cli/output"
	"github.com/gatefs/gatefs/internal/cli/timeutil"
	"github.com/gatefs/gatefs/pkg/apiclient"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show job details",
	Long: `Display details of one background job.

Examples:
  # Show a job
  gatefsctl job get c7e1f9b2

  # Show as JSON (includes payload and stats)
  gatefsctl job get c7e1f9b2 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	job, err := client.GetJob(args[0])
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, job)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, job)
	default:
		return printJobDetails(job)
	}
}

func printJobDetails(j *apiclient.Job) error {
	pairs := [][2]string{
		{"ID", j.ID},
		{"Type", j.Type},
		{"Status", j.Status},
		{"Trigger", j.Trigger},
		{"Created", timeutil.Format(j.CreatedAt)},
	}
	if j.StartedAt != nil {
		pairs = append(pairs, [2]string{"Started", timeutil.Format(*j.StartedAt)})
	}
	if j.FinishedAt != nil {
		pairs = append(pairs, [2]string{"Finished", timeutil.Format(*j.FinishedAt)})
	}
	pairs = append(pairs, [2]string{"Duration", jobDuration(j)})
	if j.Error != "" {
		pairs = append(pairs, [2]string{"Error", j.Error})
	}
	if len(j.Payload) > 0 {
		pairs = append(pairs, [2]string{"Payload", string(j.Payload)})
	}
	if len(j.Stats) > 0 {
		pairs = append(pairs, [2]string{"Stats", string(j.Stats)})
	}

	var actions []string
	if j.AllowedActions.CanCancel {
		actions = append(actions, "cancel")
	}
	if j.AllowedActions.CanRetry {
		actions = append(actions, "retry")
	}
	if j.AllowedActions.CanDelete {
		actions = append(actions, "delete")
	}
	if len(actions) > 0 {
		pairs = append(pairs, [2]string{"Actions", fmt.Sprint(actions)})
	}

	return output.SimpleTable(os.Stdout, pairs)
}
