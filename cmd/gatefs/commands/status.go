package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/internal/cli/health"
	"github.com/gatefs/gatefs/internal/cli/output"
	"github.com/gatefs/gatefs/internal/cli/timeutil"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIAddr string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long: `Display the current status of the GateFS gateway.

This command checks the gateway health by calling the health and readiness
endpoints and displays process state, mount count and dependency health.

Examples:
  # Check status (uses default settings)
  gatefs status

  # Check status with custom API address
  gatefs status --api-addr localhost:9080

  # Output as JSON
  gatefs status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/gatefs/gatefs.pid)")
	statusCmd.Flags().StringVar(&statusAPIAddr, "api-addr", "localhost:8080", "API server address")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the gateway status information.
type ServerStatus struct {
	Running bool              `json:"running" yaml:"running"`
	PID     int               `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message string            `json:"message" yaml:"message"`
	Healthy bool              `json:"healthy" yaml:"healthy"`
	Ready   bool              `json:"ready" yaml:"ready"`
	Mounts  int               `json:"mounts" yaml:"mounts"`
	Checks  map[string]string `json:"checks,omitempty" yaml:"checks,omitempty"`
	SeenAt  string            `json:"seen_at,omitempty" yaml:"seen_at,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := ServerStatus{
		Running: false,
		Healthy: false,
		Message: "Gateway is not running",
	}

	// Use default PID file if not specified
	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check PID file first
	if pid, running := isProcessRunning(pidPath); running {
		status.Running = true
		status.PID = pid
	}

	client := &http.Client{Timeout: 2 * time.Second}

	// Liveness (works for both daemon and foreground mode)
	resp, err := client.Get(fmt.Sprintf("http://%s/health", statusAPIAddr))
	if err == nil {
		func() {
			defer func() { _ = resp.Body.Close() }()

			var healthResp health.Response
			if err := json.NewDecoder(resp.Body).Decode(&healthResp); err == nil {
				status.Running = true
				status.Healthy = healthResp.Status == "healthy"
				status.SeenAt = healthResp.Timestamp
				if status.Healthy {
					status.Message = "Gateway is running and healthy"
				} else {
					status.Message = fmt.Sprintf("Gateway is running but unhealthy: %s", healthResp.Error)
				}
			} else {
				status.Running = true
				status.Message = "Gateway is running but health response invalid"
			}
		}()
	} else if status.Running {
		// PID file says running but health check failed
		status.Message = "Gateway process exists but health check failed"
	}

	// Readiness carries mount count and dependency health
	if status.Healthy {
		if readyResp, err := client.Get(fmt.Sprintf("http://%s/health/ready", statusAPIAddr)); err == nil {
			func() {
				defer func() { _ = readyResp.Body.Close() }()

				var ready health.ReadyResponse
				if err := json.NewDecoder(readyResp.Body).Decode(&ready); err == nil {
					status.Ready = ready.Status == "healthy"
					status.Mounts = ready.Data.Mounts
					status.Checks = ready.Data.Checks
				}
			}()
		}
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status ServerStatus) {
	fmt.Println()
	fmt.Println("GateFS Gateway Status")
	fmt.Println("=====================")
	fmt.Println()

	if status.Running {
		if status.Healthy {
			fmt.Printf("  Status:     \033[32m● Running\033[0m\n")
		} else {
			fmt.Printf("  Status:     \033[33m● Running (unhealthy)\033[0m\n")
		}
		if status.PID != 0 {
			fmt.Printf("  PID:        %d\n", status.PID)
		}
		if status.SeenAt != "" {
			fmt.Printf("  Seen:       %s\n", timeutil.FormatTime(status.SeenAt))
		}
		if status.Healthy {
			readiness := "not ready"
			if status.Ready {
				readiness = "ready"
			}
			fmt.Printf("  Readiness:  %s\n", readiness)
			fmt.Printf("  Mounts:     %d\n", status.Mounts)

			names := make([]string, 0, len(status.Checks))
			for name := range status.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-10s  %s\n", name+":", status.Checks[name])
			}
		}
	} else {
		fmt.Printf("  Status:     \033[31m○ Stopped\033[0m\n")
	}

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
