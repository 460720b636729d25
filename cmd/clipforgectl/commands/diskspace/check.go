package diskspace

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/internal/cli/output"
	"github.com/clipforge/clipforge/pkg/apiclient"
)

var checkTemp bool

var checkCmd = &cobra.Command{
	Use:   "check <size>",
	Short: "Pre-flight a disk budget check",
	Long: `Ask the server whether an upload of the given size would be admitted.

Sizes accept human-readable suffixes (500Mi, 4Gi, ...).

Examples:
  clipforgectl diskspace check 4Gi
  clipforgectl diskspace check 700Mi --include-temp`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkTemp, "include-temp", true, "Include chunk staging space in the estimate")
}

func runCheck(cmd *cobra.Command, args []string) error {
	size, err := bytesize.ParseByteSize(args[0])
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", args[0], err)
	}

	result, err := cmdutil.GetClient().CheckSpace(context.Background(), apiclient.CheckSpaceRequest{
		OriginalFileSize: size.Int64(),
		IncludeTempSpace: checkTemp,
	})
	if err != nil {
		return err
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, result)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, result)
	default:
		verdict := "yes"
		if !result.HasEnoughSpace {
			verdict = "no"
		}
		pairs := [][2]string{
			{"Admitted", verdict},
			{"Required", bytesize.ByteSize(result.RequiredSpace).String()},
			{"Available", bytesize.ByteSize(result.AvailableSpace).String()},
		}
		if result.Details != "" {
			pairs = append(pairs, [2]string{"Details", result.Details})
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}
