package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	historyPath = "/api/v1/chat/messages"
	exportPath  = "/api/v1/chat/export_for_analysis"
	streamPath  = "/ws/v1/chat/stream/"

	// DefaultExportCount is the message count used when none is given
	DefaultExportCount = 100
	// MaxExportCount is the largest count the backend accepts
	MaxExportCount = 500
)

// Endpoint is the relay service location requests are built against
type Endpoint struct {
	BaseURL *url.URL
}

// ParseEndpoint parses an absolute http(s) base URL
func ParseEndpoint(raw string) (Endpoint, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("invalid base url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("invalid base url %q: missing host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return Endpoint{BaseURL: u}, nil
}

// Descriptor is a ready-to-send request
type Descriptor struct {
	Method      string
	URL         string
	Headers     map[string]string
	HeaderOrder []string
}

// HTTPRequest converts the descriptor into an *http.Request
func (d Descriptor) HTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range d.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

func (e Endpoint) apiURL(path string, query url.Values) string {
	u := *e.BaseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func copyHeaders(auth *ComposedAuth) (map[string]string, []string) {
	headers := make(map[string]string, len(auth.Headers))
	for key, value := range auth.Headers {
		headers[key] = value
	}
	return headers, append([]string(nil), auth.HeaderOrder...)
}

// HistoryRequest builds the history-fetch descriptor for chatID
func (e Endpoint) HistoryRequest(chatID string, auth *ComposedAuth) Descriptor {
	headers, order := copyHeaders(auth)
	return Descriptor{
		Method:      http.MethodPost,
		URL:         e.apiURL(historyPath, url.Values{"chat_id": {chatID}}),
		Headers:     headers,
		HeaderOrder: order,
	}
}

// ExportRequest builds the export-for-analysis descriptor for chatID
func (e Endpoint) ExportRequest(chatID string, auth *ComposedAuth, count int) Descriptor {
	headers, order := copyHeaders(auth)
	query := url.Values{
		"chat_id": {chatID},
		"count":   {strconv.Itoa(count)},
	}
	return Descriptor{
		Method:      http.MethodPost,
		URL:         e.apiURL(exportPath, query),
		Headers:     headers,
		HeaderOrder: order,
	}
}

// StreamURL builds the websocket subscription URL for chatID.
// The stream scheme mirrors the base scheme: https maps to wss.
func (e Endpoint) StreamURL(chatID string, auth *ComposedAuth) string {
	scheme := "ws"
	if e.BaseURL.Scheme == "https" {
		scheme = "wss"
	}
	query := url.Values{}
	for key, value := range auth.StreamParams {
		query.Set(key, value)
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     e.BaseURL.Host,
		Path:     streamPath + chatID,
		RawPath:  streamPath + url.PathEscape(chatID),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// ValidateCount checks an export message count against backend limits
func ValidateCount(count int) error {
	if count < 1 || count > MaxExportCount {
		return &ValidationError{Field: "count", Reason: fmt.Sprintf("must be between 1 and %d, got %d", MaxExportCount, count)}
	}
	return nil
}

// CurlCommand renders a descriptor as an equivalent curl invocation for copy-paste
func CurlCommand(d Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "curl -X %s %q", d.Method, d.URL)
	for _, key := range d.HeaderOrder {
		fmt.Fprintf(&b, " \\\n-H %q", key+": "+d.Headers[key])
	}
	return b.String()
}

// Diagnostics holds the display-only request texts for the current selection
type Diagnostics struct {
	HistoryCurl string `json:"history_curl" yaml:"history_curl"`
	StreamURL   string `json:"stream_url" yaml:"stream_url"`
	ExportCurl  string `json:"export_curl" yaml:"export_curl"`
}

// BuildDiagnostics derives all diagnostic texts from chatID, auth and count
func (e Endpoint) BuildDiagnostics(chatID string, auth *ComposedAuth, count int) Diagnostics {
	return Diagnostics{
		HistoryCurl: CurlCommand(e.HistoryRequest(chatID, auth)),
		StreamURL:   e.StreamURL(chatID, auth),
		ExportCurl:  CurlCommand(e.ExportRequest(chatID, auth, count)),
	}
}
