// Package job implements background job management commands for gatefsctl.
package job

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/internal/cli/timeutil"
	"github.com/gatefs/gatefs/pkg/apiclient"
)

// Cmd is the parent command for job management.
var Cmd = &cobra.Command{
	Use:   "job",
	Short: "Background job management",
	Long: `Manage background jobs on the GateFS server.

Job commands allow you to submit, list, inspect, cancel, retry, and
delete background jobs such as index rebuilds.

Examples:
  # List all jobs
  gatefsctl job list

  # Submit an index rebuild for one mount
  gatefsctl job submit fs_index_rebuild --payload '{"mountIds":["docs"]}'

  # Watch a job until it finishes
  gatefsctl job watch <id>

  # Cancel a running job
  gatefsctl job cancel <id>`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(submitCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(retryCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(watchCmd)
	Cmd.AddCommand(typesCmd)
}

// jobDuration renders how long a job has been (or was) running.
func jobDuration(j *apiclient.Job) string {
	if j.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	return timeutil.FormatDuration(end.Sub(*j.StartedAt))
}

// jobSummary is the one-line form used by list and watch output.
func jobSummary(j *apiclient.Job) string {
	return fmt.Sprintf("%s  %s  %s", j.ID, j.Type, j.Status)
}
