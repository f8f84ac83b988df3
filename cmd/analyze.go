package cmd

import (
	"fmt"
	"io"

	"github.com/iksnae/chatark/internal"
	"github.com/spf13/cobra"
)

var (
	analyzeChat  string
	analyzeCount int
	analyzeOut   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Export recent messages of a chat for analysis",
	Long: fmt.Sprintf(`Ask the relay service for an analysis export of the last --count
messages (1 to %d) of a chat and print it.`, internal.MaxExportCount),
	RunE: func(cmd *cobra.Command, args []string) error {
		count := cfg.ExportCount
		if cmd.Flags().Changed("count") {
			count = analyzeCount
		}
		if err := internal.ValidateCount(count); err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.focus(analyzeChat); err != nil {
			return err
		}

		var result *internal.AnalysisResult
		err = internal.ShowProgress(cmd.Context(), "Exporting for analysis", func() error {
			var exportErr error
			result, exportErr = a.controller.ExportForAnalysis(cmd.Context(), count)
			return exportErr
		})
		if err != nil {
			return err
		}

		if analyzeOut != "" && analyzeOut != "-" {
			if err := writeFile(analyzeOut, func(w io.Writer) error {
				_, err := io.WriteString(w, result.AnalysisText)
				return err
			}); err != nil {
				return err
			}
			internal.PrintInfo(result.Summary())
			internal.PrintSuccess(fmt.Sprintf("Wrote analysis text to %s", analyzeOut))
			return nil
		}

		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(w, headerStyle.Render(result.Summary()))
		_, _ = fmt.Fprintln(w)
		_, err = fmt.Fprintln(w, result.AnalysisText)
		return err
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&analyzeChat, "chat", "c", "", "Chat id (default: the active profile's last chat)")
	analyzeCmd.Flags().IntVarP(&analyzeCount, "count", "n", internal.DefaultExportCount, "Number of recent messages to export")
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "Write the analysis text to a file instead of stdout")
}
