package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// JSONLExporter exports transcripts in JSONL format (one message per line)
type JSONLExporter struct{}

type jsonlLine struct {
	Origin   string `json:"origin"`
	Sender   string `json:"sender"`
	SenderID string `json:"sender_id,omitempty"`
	Content  string `json:"content"`
	Time     string `json:"time,omitempty"`
}

// Export exports a transcript to JSONL format
func (e *JSONLExporter) Export(transcript *Transcript, w io.Writer) error {
	enc := json.NewEncoder(w)

	for _, msg := range transcript.Messages {
		line := jsonlLine{
			Origin:   string(msg.Origin),
			Sender:   msg.SenderName,
			SenderID: msg.SenderID,
			Content:  msg.Content,
		}
		if !msg.Time.IsZero() {
			line.Time = msg.Time.UTC().Format(time.RFC3339)
		}

		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	return nil
}

// Extension returns the file extension for this format
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
