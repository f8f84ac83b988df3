package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ConnectionStatus is the state of the live stream connection
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// SessionState is the controller's position in the session lifecycle
type SessionState string

const (
	// StateIdle means no chat is being served
	StateIdle SessionState = "idle"
	// StateLoading means a chat was selected and its stream is being opened
	StateLoading SessionState = "loading"
	// StateStreaming means the stream for the active chat is open
	StateStreaming SessionState = "streaming"
	// StateReconnecting means the previous stream is closed and not yet replaced
	StateReconnecting SessionState = "reconnecting"
)

// ControllerOptions wires a Controller to its collaborators
type ControllerOptions struct {
	Store    *ProfileStore
	Backend  Backend
	Dialer   StreamDialer
	Endpoint Endpoint
	SelfID   string
}

// Snapshot is a point-in-time view of the controller
type Snapshot struct {
	ProfileID string           `json:"profile_id" yaml:"profile_id"`
	ChatID    string           `json:"chat_id" yaml:"chat_id"`
	State     SessionState     `json:"state" yaml:"state"`
	Status    ConnectionStatus `json:"status" yaml:"status"`
}

// Controller owns the active profile and chat and the single live stream.
//
// All state changes happen under mu. History fetches and stream dials run on
// their own goroutines and carry the generation they were started in; when
// they complete, results from an older generation are discarded.
type Controller struct {
	mu         sync.Mutex
	store      *ProfileStore
	backend    Backend
	dialer     StreamDialer
	endpoint   Endpoint
	normalizer *Normalizer
	events     *dispatcher

	profileID  string
	chatID     string
	state      SessionState
	status     ConnectionStatus
	generation uint64
	conn       StreamConn
	cancelLegs context.CancelFunc
	closed     bool
	legs       sync.WaitGroup
}

// NewController creates an idle controller
func NewController(opts ControllerOptions) *Controller {
	return &Controller{
		store:      opts.Store,
		backend:    opts.Backend,
		dialer:     opts.Dialer,
		endpoint:   opts.Endpoint,
		normalizer: NewNormalizer(opts.SelfID),
		events:     newDispatcher(),
		state:      StateIdle,
		status:     StatusDisconnected,
	}
}

// Subscribe registers handler for all events and returns a function that removes it.
// Handlers run on the dispatcher goroutine, in emission order.
func (c *Controller) Subscribe(handler EventHandler) func() {
	return c.events.subscribe(handler)
}

// Flush waits until every event emitted so far has been handled.
// It must not be called from inside a handler.
func (c *Controller) Flush() {
	c.events.flush()
}

// Snapshot returns the current profile, chat, state and status
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{ProfileID: c.profileID, ChatID: c.chatID, State: c.state, Status: c.status}
}

// Start selects the stored active profile, or the first profile when the pointer is unset
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	return c.startLocked()
}

func (c *Controller) startLocked() error {
	id := c.store.ActiveID()
	if id == "" {
		if profiles := c.store.List(); len(profiles) > 0 {
			id = profiles[0].ID
		}
	}
	if id == "" {
		c.profileID = ""
		c.clearChatLocked()
		return nil
	}
	return c.selectProfileLocked(id)
}

// SelectProfile makes id the active profile and opens its last-used (or first) chat
func (c *Controller) SelectProfile(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	return c.selectProfileLocked(id)
}

func (c *Controller) selectProfileLocked(id string) error {
	profile, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if err := c.store.SetActive(id); err != nil {
		return err
	}

	chat := c.store.LastActiveChat(id)
	if chat == "" || !profile.HasChat(chat) {
		chat = ""
		if len(profile.ChatIDs) > 0 {
			chat = profile.ChatIDs[0]
		}
	}

	if chat == "" {
		c.profileID = id
		c.clearChatLocked()
		c.publishMessageLocked(c.normalizer.Info("", "Profile %q has no chats yet; add a chat id to start listening.", profile.Name))
		return nil
	}
	return c.switchChatLocked(chat)
}

// SwitchChat makes chatID the active chat: it closes the current stream,
// fetches history and opens a new stream. It is a no-op when already
// streaming chatID under the same profile.
func (c *Controller) SwitchChat(chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return &ValidationError{Field: "chatId", Reason: "chat id must not be empty"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}
	return c.switchChatLocked(chatID)
}

func (c *Controller) switchChatLocked(chatID string) error {
	profileID := c.store.ActiveID()
	if profileID == "" {
		return ErrNoActiveProfile
	}
	profile, ok := c.store.Get(profileID)
	if !ok {
		return ErrNoActiveProfile
	}

	if c.state == StateStreaming && c.chatID == chatID && c.profileID == profileID {
		LogDebug("Already streaming chat %s, nothing to do", chatID)
		return nil
	}

	c.teardownLocked()
	c.profileID = profileID
	c.chatID = chatID
	if err := c.store.SetLastActiveChat(profileID, chatID); err != nil {
		LogWarn("Failed to remember last chat for profile %s: %v", profileID, err)
	}
	c.events.publish(Event{Kind: EventReset, ProfileID: profileID, ChatID: chatID, State: c.state, Status: c.status})

	auth, err := ComposeAuth(profile)
	if err == nil {
		err = auth.Require(LevelFull)
	}
	if err != nil {
		c.setStateLocked(StateIdle, StatusDisconnected)
		c.publishMessageLocked(c.normalizer.Error(chatID,
			"Credentials for profile %q are incomplete, cannot load chat: %v", profile.Name, err))
		return nil
	}

	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelLegs = cancel
	c.setStateLocked(StateLoading, StatusConnecting)

	history := c.endpoint.HistoryRequest(chatID, auth)
	streamURL := c.endpoint.StreamURL(chatID, auth)
	LogInfo("Switching to chat %s (profile %s)", chatID, profileID)

	c.legs.Add(2)
	go c.runHistory(ctx, gen, chatID, history)
	go c.runStream(ctx, gen, chatID, streamURL)
	return nil
}

// Focus selects a chat of the active profile without opening a stream.
// An empty chatID resolves to the last-used chat, then the first one.
// History, ExportForAnalysis and Diagnostics then target it.
func (c *Controller) Focus(chatID string) error {
	chatID = strings.TrimSpace(chatID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}

	profileID := c.store.ActiveID()
	if profileID == "" {
		if profiles := c.store.List(); len(profiles) > 0 {
			profileID = profiles[0].ID
		}
	}
	profile, ok := c.store.Get(profileID)
	if !ok {
		return ErrNoActiveProfile
	}
	if err := c.store.SetActive(profileID); err != nil {
		return err
	}

	if chatID == "" {
		chatID = c.store.LastActiveChat(profileID)
		if !profile.HasChat(chatID) {
			chatID = ""
			if len(profile.ChatIDs) > 0 {
				chatID = profile.ChatIDs[0]
			}
		}
	}
	if chatID == "" {
		return ErrNoActiveChat
	}

	c.teardownLocked()
	c.profileID = profileID
	c.chatID = chatID
	c.setStateLocked(StateIdle, StatusDisconnected)
	return nil
}

// AddChatID appends chatID to the active profile and switches to it
func (c *Controller) AddChatID(chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return &ValidationError{Field: "chatId", Reason: "chat id must not be empty"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}

	profileID := c.store.ActiveID()
	if profileID == "" {
		return ErrNoActiveProfile
	}
	if _, err := c.store.AddChatID(profileID, chatID); err != nil {
		return err
	}
	return c.switchChatLocked(chatID)
}

// ClearChat closes the stream and returns to Idle with no active chat
func (c *Controller) ClearChat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearChatLocked()
}

func (c *Controller) clearChatLocked() {
	c.teardownLocked()
	c.chatID = ""
	c.setStateLocked(StateIdle, StatusDisconnected)
}

// SaveProfile stores a profile (see ProfileStore.Save) and reopens the session with it
func (c *Controller) SaveProfile(id, name, apiKey, authInfo string, chatIDs []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrControllerClosed
	}

	savedID, err := c.store.Save(id, name, apiKey, authInfo, chatIDs)
	if err != nil {
		return "", err
	}
	// Credentials may have changed under an open stream.
	c.teardownLocked()
	c.setStateLocked(StateIdle, StatusDisconnected)
	return savedID, c.selectProfileLocked(savedID)
}

// DeleteProfile removes a profile; deleting the active one falls back to another profile or Idle
func (c *Controller) DeleteProfile(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrControllerClosed
	}

	wasActive := c.store.ActiveID() == id || c.profileID == id
	if err := c.store.Delete(id); err != nil {
		return err
	}
	if !wasActive {
		return nil
	}
	c.profileID = ""
	c.clearChatLocked()
	return c.startLocked()
}

// ImportProfiles merges an exported profiles file and returns how many were imported.
// The session is reopened when the active profile changed or none was active.
func (c *Controller) ImportProfiles(blob []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrControllerClosed
	}

	activeID := c.store.ActiveID()
	before, hadActive := c.store.Get(activeID)

	n, err := c.store.Import(blob)
	if err != nil || n == 0 {
		return n, err
	}

	after, _ := c.store.Get(activeID)
	if hadActive && reflect.DeepEqual(before, after) && c.profileID == activeID {
		return n, nil
	}
	c.teardownLocked()
	c.setStateLocked(StateIdle, StatusDisconnected)
	return n, c.startLocked()
}

// ExportForAnalysis requests an analysis export of the active chat
func (c *Controller) ExportForAnalysis(ctx context.Context, count int) (*AnalysisResult, error) {
	if err := ValidateCount(count); err != nil {
		return nil, err
	}
	chatID, auth, err := c.currentAuth()
	if err != nil {
		return nil, err
	}
	return c.backend.ExportForAnalysis(ctx, c.endpoint.ExportRequest(chatID, auth, count))
}

// History fetches the active chat's history once, oldest message first
func (c *Controller) History(ctx context.Context) ([]Message, error) {
	chatID, auth, err := c.currentAuth()
	if err != nil {
		return nil, err
	}
	records, err := c.backend.FetchHistory(ctx, c.endpoint.HistoryRequest(chatID, auth))
	if err != nil {
		return nil, err
	}
	return c.normalizer.NormalizeHistory(records, chatID), nil
}

// Diagnostics returns copy-paste request texts for the active chat and profile
func (c *Controller) Diagnostics(count int) (Diagnostics, error) {
	if err := ValidateCount(count); err != nil {
		return Diagnostics{}, err
	}
	chatID, auth, err := c.currentAuth()
	if err != nil {
		return Diagnostics{}, err
	}
	return c.endpoint.BuildDiagnostics(chatID, auth, count), nil
}

// currentAuth composes credentials for the active selection at LevelFull
func (c *Controller) currentAuth() (string, *ComposedAuth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	profileID := c.store.ActiveID()
	if profileID == "" {
		return "", nil, ErrNoActiveProfile
	}
	profile, ok := c.store.Get(profileID)
	if !ok {
		return "", nil, ErrNoActiveProfile
	}
	if c.chatID == "" {
		return "", nil, ErrNoActiveChat
	}
	auth, err := ComposeAuth(profile)
	if err != nil {
		return "", nil, err
	}
	if err := auth.Require(LevelFull); err != nil {
		return "", nil, err
	}
	return c.chatID, auth, nil
}

// Close closes the stream, waits for background work and stops event delivery
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.clearChatLocked()
	c.closed = true
	c.mu.Unlock()

	c.legs.Wait()
	c.events.close()
}

// teardownLocked supersedes in-flight work and closes the current stream
func (c *Controller) teardownLocked() {
	c.generation++
	if c.cancelLegs != nil {
		c.cancelLegs()
		c.cancelLegs = nil
	}
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		c.setStateLocked(StateReconnecting, StatusDisconnected)
		if err := conn.Close(); err != nil {
			LogDebug("Closing stream for chat %s: %v", c.chatID, err)
		}
	}
}

func (c *Controller) setStateLocked(state SessionState, status ConnectionStatus) {
	if c.state == state && c.status == status {
		return
	}
	c.state = state
	c.status = status
	c.events.publish(Event{Kind: EventStatus, ProfileID: c.profileID, ChatID: c.chatID, State: state, Status: status})
}

func (c *Controller) publishMessageLocked(msg Message) {
	c.events.publish(Event{Kind: EventMessage, ProfileID: c.profileID, ChatID: c.chatID, Message: msg, State: c.state, Status: c.status})
}

func (c *Controller) runHistory(ctx context.Context, gen uint64, chatID string, d Descriptor) {
	defer c.legs.Done()

	records, err := c.backend.FetchHistory(ctx, d)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		LogDebug("Discarding stale history for chat %s", chatID)
		return
	}
	if err != nil {
		LogWarn("History fetch for chat %s failed: %v", chatID, err)
		c.publishMessageLocked(c.normalizer.Error(chatID, "Failed to fetch history: %s", failureReason(err)))
		return
	}
	for _, msg := range c.normalizer.NormalizeHistory(records, chatID) {
		c.publishMessageLocked(msg)
	}
}

func (c *Controller) runStream(ctx context.Context, gen uint64, chatID, streamURL string) {
	defer c.legs.Done()

	conn, err := c.dialer.Dial(ctx, streamURL)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		LogDebug("Discarding stale stream dial for chat %s", chatID)
		return
	}
	if err != nil {
		LogWarn("Stream for chat %s failed to open: %v", chatID, err)
		c.setStateLocked(StateIdle, StatusDisconnected)
		c.publishMessageLocked(c.normalizer.Error(chatID, "Stream connection failed: %s", failureReason(err)))
		c.mu.Unlock()
		return
	}
	c.conn = conn
	c.setStateLocked(StateStreaming, StatusConnected)
	c.publishMessageLocked(c.normalizer.Info(chatID, "Connected, waiting for live messages..."))
	c.mu.Unlock()

	c.readStream(gen, chatID, conn)
}

func (c *Controller) readStream(gen uint64, chatID string, conn StreamConn) {
	for {
		payload, err := conn.ReadPayload()
		if err != nil {
			c.handleStreamClosed(gen, chatID, conn, err)
			return
		}

		var record MessageRecord
		decodeErr := json.Unmarshal(payload, &record)

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		if decodeErr != nil {
			c.publishMessageLocked(c.normalizer.Error(chatID, "Received a malformed stream message: %v", decodeErr))
		} else {
			c.publishMessageLocked(c.normalizer.NormalizeRecord(record, chatID))
		}
		c.mu.Unlock()
	}
}

// handleStreamClosed reports a close only for the connection that is still current
func (c *Controller) handleStreamClosed(gen uint64, chatID string, conn StreamConn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.conn != conn {
		LogDebug("Suppressing close of superseded stream for chat %s", chatID)
		return
	}
	c.conn = nil
	_ = conn.Close()
	LogInfo("Stream for chat %s closed: %v", chatID, err)
	c.setStateLocked(StateReconnecting, StatusDisconnected)
	c.publishMessageLocked(c.normalizer.Info(chatID, "Connection closed: %s", closeReason(err)))
}

func failureReason(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		switch {
		case te.Status != 0:
			return fmt.Sprintf("HTTP %d: %s", te.Status, te.Detail)
		case te.Err != nil:
			return te.Err.Error()
		}
	}
	return err.Error()
}

func closeReason(err error) string {
	var sce *StreamClosedError
	if errors.As(err, &sce) && sce.Reason != "" {
		return sce.Reason
	}
	return "unknown reason"
}
