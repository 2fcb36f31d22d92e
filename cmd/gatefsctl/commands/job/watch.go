package job

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
)

var (
	watchInterval time.Duration
	watchTimeout  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Watch a job until it finishes",
	Long: `Poll a job's status until it reaches a terminal state.

Exits successfully when the job completes; a failed, partial or
cancelled outcome is reported as an error.

Examples:
  # Watch a job
  gatefsctl job watch c7e1f9b2

  # Poll less frequently with a deadline
  gatefsctl job watch c7e1f9b2 --interval 5s --timeout 30m`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Poll interval")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 0, "Give up after this long (0 = no timeout)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	deadline := time.Time{}
	if watchTimeout > 0 {
		deadline = time.Now().Add(watchTimeout)
	}

	lastStatus := ""
	for {
		job, err := client.GetJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}

		if job.Status != lastStatus {
			fmt.Println(jobSummary(job))
			lastStatus = job.Status
		}

		if job.Terminal() {
			switch job.Status {
			case "completed":
				cmdutil.PrintSuccess(fmt.Sprintf("Job %s completed in %s", job.ID, jobDuration(job)))
				return nil
			default:
				if job.Error != "" {
					return fmt.Errorf("job %s %s: %s", job.ID, job.Status, job.Error)
				}
				return fmt.Errorf("job %s %s", job.ID, job.Status)
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for job %s (last status: %s)", job.ID, job.Status)
		}

		time.Sleep(watchInterval)
	}
}
