package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONLExporter_Export(t *testing.T) {
	exporter := &JSONLExporter{}
	var buf bytes.Buffer
	if err := exporter.Export(testTranscript(), &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(lines)+1, err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	tests := []struct {
		line    int
		key     string
		want    interface{}
		present bool
	}{
		{0, "origin", "remote", true},
		{0, "sender", "Alice", true},
		{0, "sender_id", "u_alice", true},
		{0, "time", "2024-05-01T10:00:00Z", true},
		{1, "content", "Yes, **here**", true},
		{2, "origin", "system-info", true},
		{2, "sender_id", nil, false},
		{2, "time", nil, false},
	}
	for _, tt := range tests {
		got, ok := lines[tt.line][tt.key]
		if ok != tt.present {
			t.Errorf("line %d key %s present = %v, want %v", tt.line, tt.key, ok, tt.present)
			continue
		}
		if tt.present && got != tt.want {
			t.Errorf("line %d %s = %v, want %v", tt.line, tt.key, got, tt.want)
		}
	}
}

func TestJSONLExporter_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONLExporter{}).Export(&Transcript{}, &buf); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty transcript wrote %q", buf.String())
	}
}
