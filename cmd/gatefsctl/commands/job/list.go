package job

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
	"github.com/gatefs/gatefs/internal/cli/timeutil"
	"github.com/gatefs/gatefs/pkg/apiclient"
)

var (
	listType   string
	listStatus string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long: `List background jobs visible to the caller, newest first.

Non-admin users only see their own jobs.

Examples:
  # List all jobs
  gatefsctl job list

  # Only failed index rebuilds
  gatefsctl job list --type fs_index_rebuild --status failed

  # List as JSON
  gatefsctl job list -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by job type")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending|running|completed|partial|failed|cancelled)")
}

// JobList is a list of jobs for table rendering.
type JobList []apiclient.Job

// Headers implements TableRenderer.
func (jl JobList) Headers() []string {
	return []string{"ID", "TYPE", "STATUS", "TRIGGER", "CREATED", "DURATION"}
}

// Rows implements TableRenderer.
func (jl JobList) Rows() [][]string {
	rows := make([][]string, 0, len(jl))
	for i := range jl {
		j := &jl[i]
		rows = append(rows, []string{
			j.ID,
			j.Type,
			j.Status,
			j.Trigger,
			timeutil.Ago(j.CreatedAt),
			jobDuration(j),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	jobs, err := client.ListJobs(apiclient.JobFilter{Type: listType, Status: listStatus})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, jobs, len(jobs) == 0, "No jobs found.", JobList(jobs))
}
