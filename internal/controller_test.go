package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/chatark/testutil"
)

// fakeBackend serves canned history per chat. Held chats block until released,
// ignoring cancellation, so stale completions can be observed.
type fakeBackend struct {
	mu       sync.Mutex
	history  map[string][]MessageRecord
	err      error
	holds    map[string]chan struct{}
	fetches  map[string]int
	analysis *AnalysisResult
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[string][]MessageRecord),
		holds:   make(map[string]chan struct{}),
		fetches: make(map[string]int),
	}
}

func (b *fakeBackend) hold(chatID string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.holds[chatID] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (b *fakeBackend) FetchHistory(ctx context.Context, d Descriptor) ([]MessageRecord, error) {
	u, _ := url.Parse(d.URL)
	chatID := u.Query().Get("chat_id")

	b.mu.Lock()
	b.fetches[chatID]++
	hold := b.holds[chatID]
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.history[chatID], nil
}

func (b *fakeBackend) ExportForAnalysis(ctx context.Context, d Descriptor) (*AnalysisResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.analysis, nil
}

// fakeConn is a stream whose payloads and remote close are driven by the test
type fakeConn struct {
	chatID   string
	payloads chan []byte
	remote   chan error
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn(chatID string) *fakeConn {
	return &fakeConn{
		chatID:   chatID,
		payloads: make(chan []byte, 16),
		remote:   make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadPayload() ([]byte, error) {
	select {
	case p := <-c.payloads:
		return p, nil
	case err := <-c.remote:
		return nil, err
	case <-c.closed:
		return nil, &StreamClosedError{Code: 1000, Reason: "closed locally"}
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(payload string) {
	c.payloads <- []byte(payload)
}

func (c *fakeConn) closeRemote(code int, reason string) {
	c.remote <- &StreamClosedError{Code: code, Reason: reason}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[string][]*fakeConn
	err   error
	holds map[string]chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(map[string][]*fakeConn), holds: make(map[string]chan struct{})}
}

func (b *fakeBackend) fetchCount(chatID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches[chatID]
}

func (d *fakeDialer) hold(chatID string) (release func()) {
	ch := make(chan struct{})
	d.mu.Lock()
	d.holds[chatID] = ch
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (d *fakeDialer) Dial(ctx context.Context, streamURL string) (StreamConn, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, err
	}
	chatID := strings.TrimPrefix(u.Path, streamPath)

	d.mu.Lock()
	hold := d.holds[chatID]
	dialErr := d.err
	d.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if dialErr != nil {
		return nil, dialErr
	}

	conn := newFakeConn(chatID)
	d.mu.Lock()
	d.conns[chatID] = append(d.conns[chatID], conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dials(chatID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns[chatID])
}

func (d *fakeDialer) latest(t *testing.T, chatID string) *fakeConn {
	t.Helper()
	testutil.Eventually(t, 5*time.Second, func() bool { return d.dials(chatID) > 0 }, "stream dialed for "+chatID)
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[chatID]
	return conns[len(conns)-1]
}

type controllerHarness struct {
	c       *Controller
	store   *ProfileStore
	backend *fakeBackend
	dialer  *fakeDialer
	log     *eventLog
}

func newHarness(t *testing.T, storage LocalStorage) *controllerHarness {
	t.Helper()
	store, err := NewProfileStore(storage)
	if err != nil {
		t.Fatalf("NewProfileStore() error = %v", err)
	}
	h := &controllerHarness{
		store:   store,
		backend: newFakeBackend(),
		dialer:  newFakeDialer(),
		log:     &eventLog{},
	}
	h.c = NewController(ControllerOptions{
		Store:    store,
		Backend:  h.backend,
		Dialer:   h.dialer,
		Endpoint: mustEndpoint(t, "http://relay.test"),
		SelfID:   "u_me",
	})
	h.c.Subscribe(h.log.handle)
	t.Cleanup(h.c.Close)
	return h
}

// fixtureHarness starts from the two fixture profiles, Side project active on oc_b2
func fixtureHarness(t *testing.T) *controllerHarness {
	t.Helper()
	return newHarness(t, NewSQLiteStorage(testutil.CreateTestDB(t), ":memory:"))
}

func (h *controllerHarness) messages() []Message {
	h.c.Flush()
	var out []Message
	for _, e := range h.log.snapshot() {
		if e.Kind == EventMessage {
			out = append(out, e.Message)
		}
	}
	return out
}

func (h *controllerHarness) hasMessage(substr string) bool {
	for _, m := range h.messages() {
		if strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}

func (h *controllerHarness) countMessages(substr string) int {
	n := 0
	for _, m := range h.messages() {
		if strings.Contains(m.Content, substr) {
			n++
		}
	}
	return n
}

func (h *controllerHarness) waitMessage(t *testing.T, substr string) {
	t.Helper()
	testutil.Eventually(t, 5*time.Second, func() bool { return h.hasMessage(substr) }, "message containing "+substr)
}

func (h *controllerHarness) waitState(t *testing.T, state SessionState) {
	t.Helper()
	testutil.Eventually(t, 5*time.Second, func() bool { return h.c.Snapshot().State == state }, "state "+string(state))
}

func TestController_StartStreamsActiveChat(t *testing.T) {
	h := fixtureHarness(t)
	h.backend.history["oc_b2"] = []MessageRecord{
		{Content: "yo", CreateTime: 2000, Sender: &Sender{ID: "u_bob", Name: "Bob"}},
		{Content: "hi", CreateTime: 1000, Sender: &Sender{ID: "u_me", Name: "Me"}},
	}

	if err := h.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitState(t, StateStreaming)
	h.waitMessage(t, "yo")

	snap := h.c.Snapshot()
	if snap.ProfileID != testutil.ProfileBID || snap.ChatID != "oc_b2" || snap.Status != StatusConnected {
		t.Errorf("Snapshot() = %+v", snap)
	}

	var history []Message
	for _, m := range h.messages() {
		if !m.Origin.IsSystem() {
			history = append(history, m)
		}
	}
	if len(history) != 2 || history[0].Content != "hi" || history[1].Content != "yo" {
		t.Fatalf("history = %+v, want hi then yo", history)
	}
	if history[0].Origin != OriginUser || history[1].Origin != OriginRemote {
		t.Errorf("origins = %s, %s", history[0].Origin, history[1].Origin)
	}
	if !h.hasMessage("Connected, waiting for live messages") {
		t.Error("missing connected notice")
	}

	events := h.log.snapshot()
	if events[0].Kind != EventReset || events[0].ChatID != "oc_b2" {
		t.Errorf("first event = %+v, want reset for oc_b2", events[0])
	}
}

func TestController_LiveMessages(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	conn := h.dialer.latest(t, "oc_b2")

	conn.push(`{"content": "first", "sender": {"id": "u_bob", "name": "Bob"}}`)
	conn.push(`not json`)
	conn.push(`{"content": "second", "sender": {"id": "u_bob", "name": "Bob"}}`)
	h.waitMessage(t, "second")

	var got []string
	for _, m := range h.messages() {
		if m.Origin == OriginRemote || m.Origin == OriginSystemError {
			got = append(got, string(m.Origin)+":"+strings.SplitN(m.Content, ":", 2)[0])
		}
	}
	want := []string{"remote:first", "system-error:Received a malformed stream message", "remote:second"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if h.c.Snapshot().State != StateStreaming {
		t.Errorf("a malformed payload should not end the stream")
	}
}

func TestController_SwitchSameChatIsNoop(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, StateStreaming)

	if err := h.c.SwitchChat("oc_b2"); err != nil {
		t.Fatalf("SwitchChat() error = %v", err)
	}
	if err := h.c.SwitchChat(" oc_b2 "); err != nil {
		t.Fatalf("SwitchChat() error = %v", err)
	}
	if n := h.dialer.dials("oc_b2"); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if n := h.backend.fetchCount("oc_b2"); n != 1 {
		t.Errorf("history fetches = %d, want 1", n)
	}
}

func TestController_SwitchChat(t *testing.T) {
	h := fixtureHarness(t)
	h.backend.history["oc_b1"] = []MessageRecord{{Content: "from b1", Sender: &Sender{ID: "u_x", Name: "X"}}}
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	old := h.dialer.latest(t, "oc_b2")
	h.waitState(t, StateStreaming)

	if err := h.c.SwitchChat("oc_b1"); err != nil {
		t.Fatalf("SwitchChat() error = %v", err)
	}
	if !old.isClosed() {
		t.Error("switching should close the previous stream")
	}
	h.waitState(t, StateStreaming)
	h.waitMessage(t, "from b1")

	if got := h.store.LastActiveChat(testutil.ProfileBID); got != "oc_b1" {
		t.Errorf("LastActiveChat() = %q, want oc_b1", got)
	}
	// the locally closed stream must not report a close
	if h.hasMessage("Connection closed") {
		t.Error("close of a superseded stream was reported")
	}

	if err := h.c.SwitchChat(""); err == nil {
		t.Error("SwitchChat(\"\") should fail")
	}
}

func TestController_StaleRemoteCloseSuppressed(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	old := h.dialer.latest(t, "oc_b2")
	h.waitState(t, StateStreaming)

	if err := h.c.SwitchChat("oc_b1"); err != nil {
		t.Fatal(err)
	}
	old.closeRemote(1000, "late close")
	h.waitState(t, StateStreaming)
	h.dialer.latest(t, "oc_b1").push(`{"content": "marker", "sender": {"id": "u_x", "name": "X"}}`)
	h.waitMessage(t, "marker")

	if h.hasMessage("late close") || h.hasMessage("Connection closed") {
		t.Error("stale stream close produced a message")
	}
	if h.c.Snapshot().State != StateStreaming {
		t.Errorf("stale close changed state to %s", h.c.Snapshot().State)
	}
}

func TestController_CurrentCloseReported(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"token expired", "Connection closed: token expired"},
		{"", "Connection closed: unknown reason"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h := fixtureHarness(t)
			if err := h.c.Start(); err != nil {
				t.Fatal(err)
			}
			conn := h.dialer.latest(t, "oc_b2")
			h.waitState(t, StateStreaming)

			conn.closeRemote(4001, tt.reason)
			h.waitMessage(t, tt.want)
			snap := h.c.Snapshot()
			if snap.State != StateReconnecting || snap.Status != StatusDisconnected {
				t.Errorf("Snapshot() = %+v", snap)
			}
			if h.countMessages("Connection closed") != 1 {
				t.Errorf("close reported %d times", h.countMessages("Connection closed"))
			}
		})
	}
}

func TestController_StaleHistoryDiscarded(t *testing.T) {
	h := fixtureHarness(t)
	h.backend.history["oc_b2"] = []MessageRecord{{Content: "stale history", Sender: &Sender{ID: "u_x", Name: "X"}}}
	h.backend.history["oc_b1"] = []MessageRecord{{Content: "fresh history", Sender: &Sender{ID: "u_x", Name: "X"}}}
	release := h.backend.hold("oc_b2")
	defer release()

	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := h.c.SwitchChat("oc_b1"); err != nil {
		t.Fatal(err)
	}
	h.waitMessage(t, "fresh history")
	release()

	// wait for the held fetch to finish: Close waits for every leg
	h.c.Close()
	if h.hasMessage("stale history") {
		t.Error("history of a superseded chat was emitted")
	}
}

func TestController_StaleDialClosed(t *testing.T) {
	h := fixtureHarness(t)
	release := h.dialer.hold("oc_b2")
	defer release()

	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := h.c.SwitchChat("oc_b1"); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, StateStreaming)
	release()

	stale := h.dialer.latest(t, "oc_b2")
	testutil.Eventually(t, 5*time.Second, stale.isClosed, "stale dial closed")
	if snap := h.c.Snapshot(); snap.ChatID != "oc_b1" || snap.State != StateStreaming {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if n := h.countMessages("Connected, waiting"); n != 1 {
		t.Errorf("connected notices = %d, want 1", n)
	}
}

func TestController_HistoryFailure(t *testing.T) {
	h := fixtureHarness(t)
	h.backend.err = &TransportError{Op: "history", Status: http.StatusUnauthorized, Detail: "cookie expired"}

	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	h.waitMessage(t, "Failed to fetch history: HTTP 401: cookie expired")
	h.waitState(t, StateStreaming)
}

func TestController_DialFailure(t *testing.T) {
	h := fixtureHarness(t)
	h.dialer.err = &TransportError{Op: "stream", Status: http.StatusForbidden, Detail: "403 Forbidden"}

	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	h.waitMessage(t, "Stream connection failed: HTTP 403: 403 Forbidden")
	h.waitState(t, StateIdle)
	if h.c.Snapshot().Status != StatusDisconnected {
		t.Errorf("Status = %s, want disconnected", h.c.Snapshot().Status)
	}
}

func TestController_IncompleteCredentials(t *testing.T) {
	h := newHarness(t, NewMemoryStorage())
	blob := `{"p1": {"name": "Broken", "apiKey": "k", "authInfo": "{\"cookie\": \"c\"}", "chatIds": ["oc_1"]}}`
	if _, err := h.store.Import([]byte(blob)); err != nil {
		t.Fatal(err)
	}

	if err := h.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitMessage(t, `Credentials for profile "Broken" are incomplete`)

	msgs := h.messages()
	if last := msgs[len(msgs)-1]; last.Origin != OriginSystemError {
		t.Errorf("Origin = %s, want system-error", last.Origin)
	}
	if h.dialer.dials("oc_1") != 0 || h.backend.fetchCount("oc_1") != 0 {
		t.Error("no request should be made with incomplete credentials")
	}
	if snap := h.c.Snapshot(); snap.State != StateIdle || snap.ChatID != "oc_1" {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if _, err := h.c.History(context.Background()); err == nil {
		t.Error("History() should fail with incomplete credentials")
	}
}

func TestController_StartFallsBackToFirstProfile(t *testing.T) {
	h := newHarness(t, NewMemoryStorage())
	if _, err := h.store.Import([]byte(testutil.ProfilesJSON())); err != nil {
		t.Fatal(err)
	}

	if err := h.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.waitState(t, StateStreaming)
	if snap := h.c.Snapshot(); snap.ProfileID != testutil.ProfileAID || snap.ChatID != "oc_a1" {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if h.store.ActiveID() != testutil.ProfileAID {
		t.Errorf("ActiveID() = %q, want the first profile", h.store.ActiveID())
	}
}

func TestController_StartWithoutProfiles(t *testing.T) {
	h := newHarness(t, NewMemoryStorage())
	if err := h.c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if snap := h.c.Snapshot(); snap.State != StateIdle || snap.ProfileID != "" || snap.ChatID != "" {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if err := h.c.SwitchChat("oc_1"); !errors.Is(err, ErrNoActiveProfile) {
		t.Errorf("SwitchChat() error = %v, want ErrNoActiveProfile", err)
	}
	if err := h.c.AddChatID("oc_1"); !errors.Is(err, ErrNoActiveProfile) {
		t.Errorf("AddChatID() error = %v, want ErrNoActiveProfile", err)
	}
}

func TestController_ProfileWithoutChats(t *testing.T) {
	h := newHarness(t, NewMemoryStorage())
	id, err := h.store.Save("", "Empty", "k", testutil.AuthBlob(nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.c.SelectProfile(id); err != nil {
		t.Fatalf("SelectProfile() error = %v", err)
	}
	h.waitMessage(t, `Profile "Empty" has no chats yet`)
	if snap := h.c.Snapshot(); snap.State != StateIdle || snap.ProfileID != id || snap.ChatID != "" {
		t.Errorf("Snapshot() = %+v", snap)
	}

	if err := h.c.AddChatID("oc_new"); err != nil {
		t.Fatalf("AddChatID() error = %v", err)
	}
	h.waitState(t, StateStreaming)
	p, _ := h.store.Get(id)
	if len(p.ChatIDs) != 1 || p.ChatIDs[0] != "oc_new" {
		t.Errorf("ChatIDs = %v", p.ChatIDs)
	}
	if h.c.Snapshot().ChatID != "oc_new" {
		t.Errorf("AddChatID() should switch to the new chat")
	}
}

func TestController_SelectProfile(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.SelectProfile("missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("SelectProfile(missing) error = %v", err)
	}
	if err := h.c.SelectProfile(testutil.ProfileAID); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, StateStreaming)
	if snap := h.c.Snapshot(); snap.ProfileID != testutil.ProfileAID || snap.ChatID != "oc_a1" {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if h.store.ActiveID() != testutil.ProfileAID {
		t.Errorf("SelectProfile() should persist the active pointer")
	}
}

func TestController_DeleteActiveProfile(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	conn := h.dialer.latest(t, "oc_b2")
	h.waitState(t, StateStreaming)

	if err := h.c.DeleteProfile(testutil.ProfileBID); err != nil {
		t.Fatalf("DeleteProfile() error = %v", err)
	}
	if !conn.isClosed() {
		t.Error("deleting the active profile should close its stream")
	}
	h.waitState(t, StateStreaming)
	if snap := h.c.Snapshot(); snap.ProfileID != testutil.ProfileAID || snap.ChatID != "oc_a1" {
		t.Errorf("Snapshot() = %+v, want fallback to the remaining profile", snap)
	}

	if err := h.c.DeleteProfile(testutil.ProfileAID); err != nil {
		t.Fatal(err)
	}
	if snap := h.c.Snapshot(); snap.State != StateIdle || snap.ProfileID != "" || snap.ChatID != "" {
		t.Errorf("Snapshot() = %+v, want idle", snap)
	}
	if h.store.ActiveID() != "" {
		t.Errorf("ActiveID() = %q, want empty", h.store.ActiveID())
	}
}

func TestController_DeleteInactiveProfileKeepsStream(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	conn := h.dialer.latest(t, "oc_b2")
	h.waitState(t, StateStreaming)

	if err := h.c.DeleteProfile(testutil.ProfileAID); err != nil {
		t.Fatal(err)
	}
	if conn.isClosed() || h.dialer.dials("oc_b2") != 1 {
		t.Error("deleting another profile should not touch the stream")
	}
}

func TestController_SaveProfileReconnects(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	first := h.dialer.latest(t, "oc_b2")
	h.waitState(t, StateStreaming)

	if _, err := h.c.SaveProfile(testutil.ProfileBID, "Side project", "new-key", testutil.AuthBlob(nil), []string{"oc_b1", "oc_b2"}); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}
	if !first.isClosed() {
		t.Error("saving should close the stream opened with old credentials")
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return h.dialer.dials("oc_b2") == 2 }, "reconnected")

	if _, err := h.c.SaveProfile("", "", "k", testutil.AuthBlob(nil), nil); err == nil {
		t.Error("SaveProfile() should reject an empty name")
	}
}

func TestController_ImportProfiles(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, StateStreaming)

	n, err := h.c.ImportProfiles([]byte(`{"other": {"name": "Other", "chatIds": ["oc_o"]}}`))
	if err != nil || n != 1 {
		t.Fatalf("ImportProfiles() = %d, %v", n, err)
	}
	if h.dialer.dials("oc_b2") != 1 {
		t.Error("importing unrelated profiles should not reconnect")
	}

	active, _ := h.store.Get(testutil.ProfileBID)
	blob := `{"` + testutil.ProfileBID + `": {"name": "Side project", "apiKey": "rotated", "authInfo": ` +
		jsonString(active.AuthInfo) + `, "chatIds": ["oc_b2"]}}`
	if _, err := h.c.ImportProfiles([]byte(blob)); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, func() bool { return h.dialer.dials("oc_b2") == 2 }, "reconnected after import")

	if _, err := h.c.ImportProfiles([]byte("[]")); err == nil {
		t.Error("ImportProfiles() should reject a non-object")
	}
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func TestController_ClearChat(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	conn := h.dialer.latest(t, "oc_b2")
	h.waitState(t, StateStreaming)

	h.c.ClearChat()
	if !conn.isClosed() {
		t.Error("ClearChat() should close the stream")
	}
	if snap := h.c.Snapshot(); snap.State != StateIdle || snap.ChatID != "" || snap.ProfileID != testutil.ProfileBID {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if _, err := h.c.History(context.Background()); !errors.Is(err, ErrNoActiveChat) {
		t.Errorf("History() error = %v, want ErrNoActiveChat", err)
	}
}

func TestController_Focus(t *testing.T) {
	h := fixtureHarness(t)
	h.backend.history["oc_b2"] = []MessageRecord{
		{Content: "later", CreateTime: 2000},
		{Content: "earlier", CreateTime: 1000},
	}
	h.backend.analysis = &AnalysisResult{AnalysisText: "text", MessageCount: 2}

	if err := h.c.Focus(""); err != nil {
		t.Fatalf("Focus() error = %v", err)
	}
	if snap := h.c.Snapshot(); snap.ChatID != "oc_b2" || snap.State != StateIdle {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if h.dialer.dials("oc_b2") != 0 {
		t.Error("Focus() should not open a stream")
	}

	messages, err := h.c.History(context.Background())
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "earlier" {
		t.Errorf("History() = %+v", messages)
	}

	result, err := h.c.ExportForAnalysis(context.Background(), 20)
	if err != nil || result.MessageCount != 2 {
		t.Errorf("ExportForAnalysis() = %+v, %v", result, err)
	}
	if _, err := h.c.ExportForAnalysis(context.Background(), 0); err == nil {
		t.Error("ExportForAnalysis(0) should fail validation")
	}

	diag, err := h.c.Diagnostics(20)
	if err != nil {
		t.Fatalf("Diagnostics() error = %v", err)
	}
	if !strings.Contains(diag.HistoryCurl, "chat_id=oc_b2") || !strings.Contains(diag.ExportCurl, "count=20") {
		t.Errorf("Diagnostics() = %+v", diag)
	}

	if err := h.c.Focus("oc_other"); err != nil {
		t.Fatal(err)
	}
	if h.c.Snapshot().ChatID != "oc_other" {
		t.Errorf("Focus(chat) should select that chat")
	}
}

func TestController_FocusStaleLastChat(t *testing.T) {
	db := testutil.CreateTestDB(t)
	testutil.SeedLocalStorage(t, db, map[string]string{lastActiveChatPrefix + testutil.ProfileBID: "oc_removed"})
	h := newHarness(t, NewSQLiteStorage(db, ":memory:"))

	if err := h.c.Focus(""); err != nil {
		t.Fatal(err)
	}
	if got := h.c.Snapshot().ChatID; got != "oc_b1" {
		t.Errorf("ChatID = %q, want the first chat when the last one is gone", got)
	}
}

func TestController_FocusWithoutProfiles(t *testing.T) {
	h := newHarness(t, NewMemoryStorage())
	if err := h.c.Focus(""); !errors.Is(err, ErrNoActiveProfile) {
		t.Errorf("Focus() error = %v, want ErrNoActiveProfile", err)
	}
}

func TestController_Close(t *testing.T) {
	h := fixtureHarness(t)
	if err := h.c.Start(); err != nil {
		t.Fatal(err)
	}
	conn := h.dialer.latest(t, "oc_b2")
	h.waitState(t, StateStreaming)

	h.c.Close()
	h.c.Close()
	if !conn.isClosed() {
		t.Error("Close() should close the stream")
	}
	if h.hasMessage("Connection closed") {
		t.Error("Close() should not report the stream close")
	}

	calls := map[string]error{
		"Start":         h.c.Start(),
		"SwitchChat":    h.c.SwitchChat("oc_b1"),
		"SelectProfile": h.c.SelectProfile(testutil.ProfileAID),
		"AddChatID":     h.c.AddChatID("oc_x"),
		"Focus":         h.c.Focus(""),
		"DeleteProfile": h.c.DeleteProfile(testutil.ProfileAID),
	}
	for name, err := range calls {
		if !errors.Is(err, ErrControllerClosed) {
			t.Errorf("%s() after Close error = %v, want ErrControllerClosed", name, err)
		}
	}
}
