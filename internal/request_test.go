package internal

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/iksnae/chatark/testutil"
)

// testAuth composes a profile with api key k and the fixture blob's fields
func testAuth(t *testing.T, overrides map[string]interface{}) *ComposedAuth {
	t.Helper()
	auth, err := ComposeAuth(Profile{Name: "p", APIKey: "k", AuthInfo: testutil.AuthBlob(overrides)})
	if err != nil {
		t.Fatalf("ComposeAuth() error = %v", err)
	}
	return auth
}

func mustEndpoint(t *testing.T, raw string) Endpoint {
	t.Helper()
	e, err := ParseEndpoint(raw)
	if err != nil {
		t.Fatalf("ParseEndpoint(%q) error = %v", raw, err)
	}
	return e
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "http://127.0.0.1:8000", want: "http://127.0.0.1:8000"},
		{raw: " https://relay.example.com/ ", want: "https://relay.example.com"},
		{raw: "https://relay.example.com/base/?x=1#f", want: "https://relay.example.com/base"},
		{raw: "ftp://relay.example.com", wantErr: true},
		{raw: "relay.example.com", wantErr: true},
		{raw: "http://", wantErr: true},
		{raw: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			e, err := ParseEndpoint(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && e.BaseURL.String() != tt.want {
				t.Errorf("BaseURL = %q, want %q", e.BaseURL, tt.want)
			}
		})
	}
}

func TestEndpoint_StreamURL(t *testing.T) {
	auth, err := ComposeAuth(Profile{
		Name:     "p",
		APIKey:   "k",
		AuthInfo: `{"cookie": "c", "user_agent": "u", "referer": "r", "cmd_history": "h", "web_version": "w"}`,
	})
	if err != nil {
		t.Fatal(err)
	}

	raw := mustEndpoint(t, "http://127.0.0.1:8000").StreamURL("42", auth)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("StreamURL() is not a URL: %v", err)
	}
	if u.Scheme != "ws" || u.Host != "127.0.0.1:8000" || u.Path != "/ws/v1/chat/stream/42" {
		t.Errorf("StreamURL() = %s", raw)
	}
	q := u.Query()
	want := map[string]string{
		"cmd_stream":  "h",
		"cmd_history": "h",
		"token":       "k",
		"cookie":      "c",
		"user_agent":  "u",
		"referer":     "r",
		"web_version": "w",
	}
	for key, value := range want {
		if q.Get(key) != value {
			t.Errorf("query %s = %q, want %q", key, q.Get(key), value)
		}
	}
	if len(q) != len(want) {
		t.Errorf("query has %d params, want %d: %v", len(q), len(want), q)
	}
	if !strings.Contains(raw, "cmd_stream=h") || !strings.Contains(raw, "token=k") {
		t.Errorf("StreamURL() = %s, want cmd_stream=h and token=k", raw)
	}
}

func TestEndpoint_StreamURLSchemeAndEscaping(t *testing.T) {
	auth := testAuth(t, nil)

	secure := mustEndpoint(t, "https://relay.example.com/prefix").StreamURL("oc 1/2", auth)
	if !strings.HasPrefix(secure, "wss://relay.example.com/ws/v1/chat/stream/oc%201%2F2?") {
		t.Errorf("StreamURL() = %s", secure)
	}
	u, err := url.Parse(secure)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Query().Get("cookie"); got != "session=abc123; lang=en" {
		t.Errorf("cookie param = %q", got)
	}
}

func TestEndpoint_HistoryRequest(t *testing.T) {
	auth := testAuth(t, nil)
	d := mustEndpoint(t, "http://127.0.0.1:8000/").HistoryRequest("oc_1", auth)

	if d.Method != "POST" {
		t.Errorf("Method = %s, want POST", d.Method)
	}
	if d.URL != "http://127.0.0.1:8000/api/v1/chat/messages?chat_id=oc_1" {
		t.Errorf("URL = %s", d.URL)
	}
	if d.Headers["Authorization"] != "Bearer k" {
		t.Errorf("Authorization = %q", d.Headers["Authorization"])
	}

	// descriptors own their headers
	d.Headers["Authorization"] = "changed"
	if auth.Headers["Authorization"] != "Bearer k" {
		t.Error("descriptor headers alias the composed auth")
	}

	req, err := d.HTTPRequest(context.Background())
	if err != nil {
		t.Fatalf("HTTPRequest() error = %v", err)
	}
	if req.Header.Get("X-Web-Version") != "7.9.0" || req.URL.Query().Get("chat_id") != "oc_1" {
		t.Errorf("HTTPRequest() = %v %v", req.URL, req.Header)
	}
}

func TestEndpoint_ExportRequest(t *testing.T) {
	d := mustEndpoint(t, "http://relay").ExportRequest("oc&1", testAuth(t, nil), 250)
	if d.URL != "http://relay/api/v1/chat/export_for_analysis?chat_id=oc%261&count=250" {
		t.Errorf("URL = %s", d.URL)
	}
}

func TestValidateCount(t *testing.T) {
	for _, count := range []int{1, DefaultExportCount, MaxExportCount} {
		if err := ValidateCount(count); err != nil {
			t.Errorf("ValidateCount(%d) error = %v", count, err)
		}
	}
	for _, count := range []int{0, -3, MaxExportCount + 1} {
		var vErr *ValidationError
		if err := ValidateCount(count); !errors.As(err, &vErr) || vErr.Field != "count" {
			t.Errorf("ValidateCount(%d) error = %v, want count ValidationError", count, err)
		}
	}
}

func TestCurlCommand(t *testing.T) {
	d := Descriptor{
		Method:      "POST",
		URL:         "http://relay/api/v1/chat/messages?chat_id=oc_1",
		Headers:     map[string]string{"Authorization": "Bearer k", "X-Referer": "r"},
		HeaderOrder: []string{"Authorization", "X-Referer"},
	}
	want := "curl -X POST \"http://relay/api/v1/chat/messages?chat_id=oc_1\" \\\n" +
		"-H \"Authorization: Bearer k\" \\\n" +
		"-H \"X-Referer: r\""
	if got := CurlCommand(d); got != want {
		t.Errorf("CurlCommand() =\n%s\nwant\n%s", got, want)
	}
}

func TestEndpoint_BuildDiagnostics(t *testing.T) {
	diag := mustEndpoint(t, "http://relay").BuildDiagnostics("oc_1", testAuth(t, nil), 42)

	if !strings.HasPrefix(diag.HistoryCurl, `curl -X POST "http://relay/api/v1/chat/messages?chat_id=oc_1"`) {
		t.Errorf("HistoryCurl = %s", diag.HistoryCurl)
	}
	if !strings.Contains(diag.ExportCurl, "count=42") {
		t.Errorf("ExportCurl = %s", diag.ExportCurl)
	}
	if !strings.HasPrefix(diag.StreamURL, "ws://relay/ws/v1/chat/stream/oc_1?") {
		t.Errorf("StreamURL = %s", diag.StreamURL)
	}
}
