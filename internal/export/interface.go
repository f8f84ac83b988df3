package export

import (
	"fmt"
	"io"
	"time"

	"github.com/iksnae/chatark/internal"
)

// Transcript is a chat's messages, oldest first, as written by the exporters
type Transcript struct {
	ChatID      string             `json:"chat_id" yaml:"chat_id"`
	ProfileName string             `json:"profile_name,omitempty" yaml:"profile_name,omitempty"`
	ExportedAt  time.Time          `json:"exported_at" yaml:"exported_at"`
	Messages    []internal.Message `json:"messages" yaml:"messages"`
}

// NewTranscript creates a transcript stamped with the current time
func NewTranscript(chatID, profileName string, messages []internal.Message) *Transcript {
	return &Transcript{
		ChatID:      chatID,
		ProfileName: profileName,
		ExportedAt:  time.Now().UTC(),
		Messages:    messages,
	}
}

// Exporter defines the interface for all export formats
type Exporter interface {
	Export(transcript *Transcript, w io.Writer) error
	Extension() string
}

// NewExporter creates a new exporter based on format
func NewExporter(format string) (Exporter, error) {
	switch format {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: jsonl, md, yaml, json)", format)
	}
}

// FileName is the default output name for a transcript of chatID
func FileName(chatID string, e Exporter) string {
	return fmt.Sprintf("chat_%s.%s", internal.SafeFileComponent(chatID), e.Extension())
}
