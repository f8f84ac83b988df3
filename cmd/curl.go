package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/iksnae/chatark/internal"
	"github.com/spf13/cobra"
)

var (
	curlChat  string
	curlCount int
)

// diagnosticsPlaceholder is shown in place of request texts that cannot be built
const diagnosticsPlaceholder = "Select a chat and configure a valid profile first."

var curlCmd = &cobra.Command{
	Use:   "curl",
	Short: "Print curl commands and the stream URL for the current chat",
	Long: `Print the history and analysis-export requests as curl commands and the
websocket stream URL for the current chat, for debugging outside chatark.
The output contains credentials in clear text.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count := cfg.ExportCount
		if cmd.Flags().Changed("count") {
			count = curlCount
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		diag, err := buildDiagnostics(a, curlChat, count)
		if err != nil {
			return err
		}
		writeDiagnostics(cmd.OutOrStdout(), diag)
		return nil
	},
}

// buildDiagnostics falls back to the placeholder texts when there is no usable selection
func buildDiagnostics(a *app, chatID string, count int) (internal.Diagnostics, error) {
	if err := internal.ValidateCount(count); err != nil {
		return internal.Diagnostics{}, err
	}
	err := a.focus(chatID)
	var diag internal.Diagnostics
	if err == nil {
		diag, err = a.controller.Diagnostics(count)
	}

	var incomplete *internal.CredentialIncompleteError
	switch {
	case err == nil:
		return diag, nil
	case errors.Is(err, internal.ErrNoActiveProfile), errors.Is(err, internal.ErrNoActiveChat), errors.As(err, &incomplete):
		internal.LogDebug("Diagnostics unavailable: %v", err)
		return internal.Diagnostics{
			HistoryCurl: diagnosticsPlaceholder,
			StreamURL:   diagnosticsPlaceholder,
			ExportCurl:  diagnosticsPlaceholder,
		}, nil
	default:
		return internal.Diagnostics{}, err
	}
}

func writeDiagnostics(w io.Writer, diag internal.Diagnostics) {
	_, _ = fmt.Fprintln(w, headerStyle.Render("History request"))
	_, _ = fmt.Fprintln(w, diag.HistoryCurl)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, headerStyle.Render("Stream URL"))
	_, _ = fmt.Fprintln(w, diag.StreamURL)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, headerStyle.Render("Analysis export request"))
	_, _ = fmt.Fprintln(w, diag.ExportCurl)
}

func init() {
	rootCmd.AddCommand(curlCmd)
	curlCmd.Flags().StringVarP(&curlChat, "chat", "c", "", "Chat id (default: the active profile's last chat)")
	curlCmd.Flags().IntVarP(&curlCount, "count", "n", internal.DefaultExportCount, "Message count for the export request")
}
