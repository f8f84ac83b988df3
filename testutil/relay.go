package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// RecordedRequest is a request the relay server received
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// RelayServer fakes the relay backend: the history and analysis endpoints
// and the websocket stream. Stream connections are tracked per chat id.
type RelayServer struct {
	*httptest.Server

	mu            sync.Mutex
	history       map[string][]string
	historyStatus int
	historyBody   string
	holds         map[string]chan struct{}
	analysis      string
	streamStatus  int
	requests      []RecordedRequest
	streams       map[string][]*websocket.Conn
	dials         map[string]int
	writeMu       sync.Mutex
	upgrader      websocket.Upgrader
}

// NewRelayServer starts a relay server that is closed when the test ends
func NewRelayServer(t *testing.T) *RelayServer {
	t.Helper()
	s := &RelayServer{
		history: make(map[string][]string),
		holds:   make(map[string]chan struct{}),
		streams: make(map[string][]*websocket.Conn),
		dials:   make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		analysis: `{"analysis_text":"[10:00] Alice: hi","start_info":"from 10:00","end_info":"to 10:05","message_count":1}`,
	}

	r := chi.NewRouter()
	r.Post("/api/v1/chat/messages", s.handleHistory)
	r.Post("/api/v1/chat/export_for_analysis", s.handleAnalysis)
	r.Get("/ws/v1/chat/stream/{chatID}", s.handleStream)
	s.Server = httptest.NewServer(r)

	t.Cleanup(func() {
		s.mu.Lock()
		for _, hold := range s.holds {
			select {
			case <-hold:
			default:
				close(hold)
			}
		}
		for _, conns := range s.streams {
			for _, conn := range conns {
				_ = conn.Close()
			}
		}
		s.mu.Unlock()
		s.Close()
	})
	return s
}

func (s *RelayServer) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})
}

// SetHistory sets the records (JSON objects, newest first) served for chatID
func (s *RelayServer) SetHistory(chatID string, records ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[chatID] = records
}

// FailHistory makes the history endpoint answer status with body
func (s *RelayServer) FailHistory(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyStatus = status
	s.historyBody = body
}

// HoldHistory blocks history requests for chatID until the returned release is called
func (s *RelayServer) HoldHistory(chatID string) (release func()) {
	hold := make(chan struct{})
	s.mu.Lock()
	s.holds[chatID] = hold
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}

// SetAnalysis sets the body returned by the analysis endpoint
func (s *RelayServer) SetAnalysis(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = body
}

// RejectStreams makes stream handshakes fail with status
func (s *RelayServer) RejectStreams(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamStatus = status
}

// Requests returns the HTTP requests received so far
func (s *RelayServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Dials returns how many stream connections were opened for chatID
func (s *RelayServer) Dials(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials[chatID]
}

func (s *RelayServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	chatID := r.URL.Query().Get("chat_id")

	s.mu.Lock()
	hold := s.holds[chatID]
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	status, body := s.historyStatus, s.historyBody
	records := s.history[chatID]
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"has_more":false,"next_cursor":"","messages":[%s]}`, strings.Join(records, ","))
}

func (s *RelayServer) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	s.mu.Lock()
	body := s.analysis
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprint(w, body)
}

func (s *RelayServer) handleStream(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	chatID := chi.URLParam(r, "chatID")

	s.mu.Lock()
	status := s.streamStatus
	s.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.streams[chatID] = append(s.streams[chatID], conn)
	s.dials[chatID]++
	s.mu.Unlock()

	// drain until the client goes away so close frames are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	conns := s.streams[chatID]
	for i, c := range conns {
		if c == conn {
			s.streams[chatID] = append(conns[:i:i], conns[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// WaitStream waits until a stream for chatID is open
func (s *RelayServer) WaitStream(t *testing.T, chatID string) {
	t.Helper()
	Eventually(t, 5*time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.streams[chatID]) > 0
	}, "stream for "+chatID+" opened")
}

// OpenStreams returns how many streams for chatID are open now
func (s *RelayServer) OpenStreams(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[chatID])
}

func (s *RelayServer) latest(t *testing.T, chatID string) *websocket.Conn {
	t.Helper()
	s.WaitStream(t, chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.streams[chatID]
	return conns[len(conns)-1]
}

// Push sends a text payload on the newest stream of chatID
func (s *RelayServer) Push(t *testing.T, chatID, payload string) {
	t.Helper()
	conn := s.latest(t, chatID)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("Failed to push to %s: %v", chatID, err)
	}
}

// CloseStream closes the newest stream of chatID with a close frame
func (s *RelayServer) CloseStream(t *testing.T, chatID string, code int, reason string) {
	t.Helper()
	conn := s.latest(t, chatID)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Failed to close stream %s: %v", chatID, err)
	}
}
