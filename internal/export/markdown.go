package export

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// MarkdownExporter exports transcripts in Markdown format
type MarkdownExporter struct{}

// Export exports a transcript to Markdown format
func (e *MarkdownExporter) Export(transcript *Transcript, w io.Writer) error {
	_, _ = fmt.Fprintf(w, "# Chat %s\n\n", transcript.ChatID)

	if transcript.ProfileName != "" {
		_, _ = fmt.Fprintf(w, "**Profile:** %s  \n", transcript.ProfileName)
	}
	if !transcript.ExportedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "**Exported:** %s  \n", transcript.ExportedAt.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(w, "**Messages:** %d\n\n", len(transcript.Messages))

	_, _ = fmt.Fprintf(w, "---\n\n")

	for i, msg := range transcript.Messages {
		timestamp := ""
		if !msg.Time.IsZero() {
			timestamp = fmt.Sprintf(" (%s)", msg.Time.Format("2006-01-02 15:04:05"))
		}

		sender := msg.SenderName
		if msg.Origin.IsSystem() {
			sender = "_" + sender + "_"
		} else {
			sender = "**" + sender + ":**"
		}

		_, _ = fmt.Fprintf(w, "%s%s\n\n%s\n\n", sender, timestamp, escapeMarkdown(msg.Content))

		if i < len(transcript.Messages)-1 {
			_, _ = fmt.Fprintf(w, "---\n\n")
		}
	}

	return nil
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))
	inCodeBlock := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "```"):
			inCodeBlock = !inCodeBlock
		case !inCodeBlock:
			line = strings.ReplaceAll(line, "**", "\\*\\*")
			line = strings.ReplaceAll(line, "__", "\\_\\_")
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
