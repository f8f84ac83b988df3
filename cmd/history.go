package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/iksnae/chatark/internal"
	"github.com/iksnae/chatark/internal/export"
	"github.com/spf13/cobra"
)

var (
	historyChat   string
	historyFormat string
	historyOut    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Fetch a chat's history and export it",
	Long: `Fetch the recent history of a chat once and write it as a transcript
(jsonl, md, yaml or json), oldest message first.

--out is a file path, a directory (the file is named chat_<id>.<ext>), or "-"
for stdout, which is the default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(historyFormat)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.focus(historyChat); err != nil {
			return err
		}
		chatID := a.controller.Snapshot().ChatID
		_, profile, err := a.activeProfile()
		if err != nil {
			return err
		}

		var messages []internal.Message
		err = internal.ShowProgress(cmd.Context(), fmt.Sprintf("Fetching history of %s", chatID), func() error {
			var fetchErr error
			messages, fetchErr = a.controller.History(cmd.Context())
			return fetchErr
		})
		if err != nil {
			return err
		}

		transcript := export.NewTranscript(chatID, profile.Name, messages)
		if historyOut == "-" {
			return exporter.Export(transcript, cmd.OutOrStdout())
		}

		path := historyOut
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			path = filepath.Join(path, export.FileName(chatID, exporter))
		}
		if err := writeFile(path, func(w io.Writer) error { return exporter.Export(transcript, w) }); err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Exported %d message(s) to %s", len(messages), path))
		return nil
	},
}

// writeFile creates path and writes it with fn
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyChat, "chat", "c", "", "Chat id (default: the active profile's last chat)")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "md", "Export format: jsonl, md, yaml, json")
	historyCmd.Flags().StringVarP(&historyOut, "out", "o", "-", "Output file or directory, or - for stdout")
}
