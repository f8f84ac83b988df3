package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response is read for its detail
const maxErrorBody = 64 << 10

// Backend executes history and export descriptors against the relay service
type Backend interface {
	FetchHistory(ctx context.Context, d Descriptor) ([]MessageRecord, error)
	ExportForAnalysis(ctx context.Context, d Descriptor) (*AnalysisResult, error)
}

// HTTPBackend is the net/http implementation of Backend
type HTTPBackend struct {
	client *http.Client
}

// NewHTTPBackend creates a backend client; a nil client gets a default with a timeout
func NewHTTPBackend(client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{client: client}
}

// FetchHistory returns history records in the order the service sent them (newest first)
func (b *HTTPBackend) FetchHistory(ctx context.Context, d Descriptor) ([]MessageRecord, error) {
	var body HistoryResponse
	if err := b.do(ctx, "history", d, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// ExportForAnalysis returns the analysis export for a chat
func (b *HTTPBackend) ExportForAnalysis(ctx context.Context, d Descriptor) (*AnalysisResult, error) {
	var body AnalysisResult
	if err := b.do(ctx, "export", d, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (b *HTTPBackend) do(ctx context.Context, op string, d Descriptor, out interface{}) error {
	req, err := d.HTTPRequest(ctx)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	LogDebug("%s request: %s %s", op, d.Method, RedactURL(d.URL))
	resp, err := b.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{Op: op, Status: resp.StatusCode, Detail: errorDetail(raw, resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Status: 0, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// errorDetail extracts {"detail": ...} from an error body, falling back to the raw text
func errorDetail(raw []byte, status string) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		// FastAPI validation errors carry a list here
		return string(body.Detail)
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return status
}
