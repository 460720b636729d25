package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/cli/output"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the ClipForge server.

This command checks the server health by calling the health endpoint
and displays status, uptime, and database health.

Examples:
  # Check status (uses default settings)
  clipforged status

  # Check status with custom API port
  clipforged status --api-port 9080

  # Output as JSON
  clipforged status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/clipforge/clipforged.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running  bool   `json:"running" yaml:"running"`
	PID      int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message  string `json:"message" yaml:"message"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Uptime   string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	Healthy  bool   `json:"healthy" yaml:"healthy"`
}

type healthPayload struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Database      string `json:"database"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := ServerStatus{
		Message: "Server is not running",
	}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check PID file first
	if pidData, err := os.ReadFile(pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidData))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				// Signal 0 probes liveness without touching the process
				if process.Signal(syscall.Signal(0)) == nil {
					status.Running = true
					status.PID = pid
				}
			}
		}
	}

	// Check health endpoint (works for both daemon and foreground mode)
	healthURL := fmt.Sprintf("http://localhost:%d/api/health", statusAPIPort)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(healthURL)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()

		var health healthPayload
		if err := json.NewDecoder(resp.Body).Decode(&health); err == nil {
			status.Running = true
			status.Healthy = health.Status == "ok"
			status.Version = health.Version
			status.Uptime = (time.Duration(health.UptimeSeconds) * time.Second).String()
			status.Database = health.Database
			if status.Healthy {
				status.Message = "Server is running and healthy"
			} else {
				status.Message = fmt.Sprintf("Server is running but degraded (database: %s)", health.Database)
			}
		} else {
			status.Running = true
			status.Message = "Server is running but health response invalid"
		}
	} else if status.Running {
		status.Message = fmt.Sprintf("Process is running (PID %d) but health endpoint unreachable on port %d", status.PID, statusAPIPort)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		pairs := [][2]string{
			{"Running", strconv.FormatBool(status.Running)},
			{"Healthy", strconv.FormatBool(status.Healthy)},
			{"Message", status.Message},
		}
		if status.PID != 0 {
			pairs = append(pairs, [2]string{"PID", strconv.Itoa(status.PID)})
		}
		if status.Version != "" {
			pairs = append(pairs, [2]string{"Version", status.Version})
		}
		if status.Uptime != "" {
			pairs = append(pairs, [2]string{"Uptime", status.Uptime})
		}
		if status.Database != "" {
			pairs = append(pairs, [2]string{"Database", status.Database})
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}
