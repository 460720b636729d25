package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/internal/cli/output"
	"github.com/clipforge/clipforge/internal/cli/prompt"
)

var (
	cleanupIgnoreRetention bool
	cleanupYes             bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <temp|downloads|logs|all>",
	Short: "Trigger a server cleanup sweep",
	Long: `Trigger an immediate cleanup sweep on the server.

Scopes:
  temp       stale chunked-upload staging directories
  downloads  transcoded artifacts past their retention period, plus
             originals no task references anymore
  logs       aged server log files
  all        all of the above

By default outputs inside their retention window are kept. Use
--ignore-retention to reclaim them too (prompts for confirmation).

Examples:
  # Sweep stale temp directories
  clipforgectl cleanup temp

  # Reclaim everything, including retained outputs
  clipforgectl cleanup all --ignore-retention`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupIgnoreRetention, "ignore-retention", false, "Also remove artifacts still inside their retention window")
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Skip confirmation prompts")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	scope := args[0]

	if cleanupIgnoreRetention && !cleanupYes {
		ok, err := prompt.Confirm("Remove artifacts that are still inside their retention window?", false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	report, err := cmdutil.GetClient().TriggerCleanup(context.Background(), scope, cleanupIgnoreRetention)
	if err != nil {
		return err
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, report)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, report)
	default:
		pairs := [][2]string{
			{"Files removed", fmt.Sprintf("%d", report.FilesRemoved)},
			{"Bytes freed", bytesize.ByteSize(report.BytesFreed).String()},
		}
		for category, n := range report.ByCategory {
			pairs = append(pairs, [2]string{"  " + category, fmt.Sprintf("%d", n)})
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}
