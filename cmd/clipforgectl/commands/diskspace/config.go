package diskspace

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/cli/output"
	"github.com/clipforge/clipforge/pkg/apiclient"
)

var (
	configMaxGB      float64
	configReservedGB float64
	configEnabled    string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the disk budget",
	Long: `Show the disk budget configuration, or change it when flags are given.

Changes are persisted server-side and survive restarts.

Examples:
  # Show the current budget
  clipforgectl diskspace config

  # Raise the budget to 200 GB with 10 GB reserved
  clipforgectl diskspace config --max 200 --reserved 10

  # Disable enforcement
  clipforgectl diskspace config --enabled=false`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().Float64Var(&configMaxGB, "max", 0, "Budget ceiling in GB")
	configCmd.Flags().Float64Var(&configReservedGB, "reserved", 0, "Reserved headroom in GB")
	configCmd.Flags().StringVar(&configEnabled, "enabled", "", "Enable or disable enforcement (true|false)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := cmdutil.GetClient()

	current, err := client.GetDiskConfig(ctx)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed("max") ||
		cmd.Flags().Changed("reserved") ||
		cmd.Flags().Changed("enabled")

	if changed {
		next := *current
		if cmd.Flags().Changed("max") {
			next.MaxTotalSpaceGB = configMaxGB
		}
		if cmd.Flags().Changed("reserved") {
			next.ReservedSpaceGB = configReservedGB
		}
		if cmd.Flags().Changed("enabled") {
			switch configEnabled {
			case "true":
				next.IsEnabled = true
			case "false":
				next.IsEnabled = false
			default:
				return fmt.Errorf("invalid --enabled value %q (want true or false)", configEnabled)
			}
		}

		current, err = client.SetDiskConfig(ctx, next)
		if err != nil {
			return err
		}
		cmdutil.PrintSuccess("Disk budget updated")
	}

	return printDiskConfig(current)
}

func printDiskConfig(config *apiclient.DiskConfig) error {
	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, config)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, config)
	default:
		return output.SimpleTable(os.Stdout, [][2]string{
			{"Budget", fmt.Sprintf("%.1f GB", config.MaxTotalSpaceGB)},
			{"Reserved", fmt.Sprintf("%.1f GB", config.ReservedSpaceGB)},
			{"Enforced", fmt.Sprintf("%t", config.IsEnabled)},
		})
	}
}
