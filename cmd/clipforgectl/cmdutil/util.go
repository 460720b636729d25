// Package cmdutil provides shared utilities for clipforgectl commands.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/clipforge/clipforge/internal/cli/output"
	"github.com/clipforge/clipforge/pkg/apiclient"
	"github.com/clipforge/clipforge/pkg/uploader"
)

// DefaultServerURL is used when neither the --server flag nor the
// CLIPFORGE_SERVER environment variable is set.
const DefaultServerURL = "http://localhost:8080"

// Exit codes returned by clipforgectl.
const (
	ExitOK                = 0
	ExitError             = 1
	ExitValidation        = 2
	ExitInsufficientSpace = 3
	ExitCancelled         = 4
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ServerURL string
	Output    string
	NoColor   bool
}

// ServerURL resolves the target server, preferring the flag over the
// environment over the default.
func ServerURL() string {
	if Flags.ServerURL != "" {
		return Flags.ServerURL
	}
	if env := os.Getenv("CLIPFORGE_SERVER"); env != "" {
		return env
	}
	return DefaultServerURL
}

// GetClient returns an API client for the configured server.
func GetClient() *apiclient.Client {
	return apiclient.New(ServerURL())
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// IsColorDisabled returns whether color output is disabled.
func IsColorDisabled() bool {
	return Flags.NoColor
}

// PrintOutput prints data in the specified format (JSON, YAML, or table).
// For table format, it displays emptyMsg if data is empty, otherwise uses
// the tableRenderer.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	printer := output.NewPrinter(os.Stdout, format, !IsColorDisabled())
	printer.Success(msg)
}

// PrintResource prints a resource in the configured format. Table format
// gets a success message instead of the raw resource.
func PrintResource(w io.Writer, data any, successMsg string) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		PrintSuccess(successMsg)
		return nil
	}
}

// ExitCode maps an error to the clipforgectl exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, uploader.ErrCancelled) || errors.Is(err, context.Canceled) {
		return ExitCancelled
	}

	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsInsufficientSpace():
			return ExitInsufficientSpace
		case apiErr.IsValidationError():
			return ExitValidation
		}
	}
	return ExitError
}
