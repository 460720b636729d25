package commands

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/cli/output"
	"github.com/clipforge/clipforge/internal/cli/timeutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health",
	Long: `Show the health of the target ClipForge server.

Examples:
  # Check the default server
  clipforgectl status

  # Check a remote server as JSON
  clipforgectl status --server http://media-box:8080 -o json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := cmdutil.GetClient().GetHealth(ctx)
	if err != nil {
		return err
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, health)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, health)
	default:
		uptime := (time.Duration(health.UptimeS) * time.Second).String()
		return output.SimpleTable(os.Stdout, [][2]string{
			{"Server", cmdutil.ServerURL()},
			{"Status", health.Status},
			{"Version", health.Version},
			{"Uptime", timeutil.FormatUptime(uptime)},
			{"Database", health.Database},
		})
	}
}
