package diskspace

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/internal/cli/output"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show live disk usage",
	RunE:  runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	usage, err := cmdutil.GetClient().GetDiskUsage(context.Background())
	if err != nil {
		return err
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, usage)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, usage)
	default:
		pairs := [][2]string{
			{"Budget", bytesize.ByteSize(usage.TotalSpace).String()},
			{"Used", fmt.Sprintf("%s (%.1f%%)", bytesize.ByteSize(usage.UsedSpace), usage.UsagePercent)},
			{"Available", bytesize.ByteSize(usage.AvailableSpace).String()},
			{"Reserved", bytesize.ByteSize(usage.ReservedSpace).String()},
			{"Enforced", fmt.Sprintf("%t", usage.Enabled)},
		}
		for category, n := range usage.Breakdown {
			pairs = append(pairs, [2]string{"  " + category, bytesize.ByteSize(n).String()})
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}
