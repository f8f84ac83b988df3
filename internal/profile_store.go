package internal

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Local storage keys, shared with the browser client's export format
const (
	profilesKey          = "feishuProfiles"
	activeProfileKey     = "activeProfileId"
	lastActiveChatPrefix = "lastActiveChatId_"
)

// ProfileStore holds credential profiles and the active-profile pointer.
// Every mutation persists a whole snapshot before it becomes visible.
type ProfileStore struct {
	mu        sync.RWMutex
	storage   LocalStorage
	profiles  profileSet
	activeID  string
	lastChats map[string]string
	newID     func() string
}

// NewProfileStore loads the store from storage
func NewProfileStore(storage LocalStorage) (*ProfileStore, error) {
	s := &ProfileStore{
		storage:   storage,
		profiles:  newProfileSet(),
		lastChats: make(map[string]string),
		newID:     newProfileID,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	s.pruneDangling()
	return s, nil
}

// pruneDangling removes a stale active pointer and last-chat keys of profiles
// that no longer exist. Failures are logged; the in-memory view is already clean.
func (s *ProfileStore) pruneDangling() {
	var changes []StorageChange
	if raw, ok, err := s.storage.GetItem(activeProfileKey); err == nil && ok && raw != "" && s.activeID == "" {
		changes = append(changes, SetItem(activeProfileKey, ""))
	}
	if lister, ok := s.storage.(KeyLister); ok {
		keys, err := lister.KeysWithPrefix(lastActiveChatPrefix)
		if err != nil {
			LogWarn("Failed to list last-chat keys: %v", err)
		}
		for _, key := range keys {
			if _, exists := s.profiles.byID[strings.TrimPrefix(key, lastActiveChatPrefix)]; !exists {
				changes = append(changes, RemoveItem(key))
			}
		}
	}
	if len(changes) == 0 {
		return
	}
	if err := s.storage.Apply(changes); err != nil {
		LogWarn("Failed to prune dangling profile pointers: %v", err)
		return
	}
	LogDebug("Pruned %d dangling profile pointer(s)", len(changes))
}

// newProfileID returns a fresh time-ordered identifier
func newProfileID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (s *ProfileStore) load() error {
	raw, ok, err := s.storage.GetItem(profilesKey)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	if ok {
		profiles, err := decodeProfileSet([]byte(raw))
		if err != nil {
			return &StorageError{Path: profilesKey, Op: "read", Err: err}
		}
		s.profiles = profiles
	}

	active, ok, err := s.storage.GetItem(activeProfileKey)
	if err != nil {
		return fmt.Errorf("failed to load active profile: %w", err)
	}
	if ok {
		if _, exists := s.profiles.byID[active]; exists {
			s.activeID = active
		} else if active != "" {
			LogDebug("Active profile %s no longer exists, clearing pointer", active)
		}
	}

	for _, id := range s.profiles.order {
		chat, ok, err := s.storage.GetItem(lastActiveChatPrefix + id)
		if err != nil {
			return fmt.Errorf("failed to load last chat for %s: %w", id, err)
		}
		if ok && chat != "" {
			s.lastChats[id] = chat
		}
	}

	LogDebug("Loaded %d profile(s), active=%q", len(s.profiles.order), s.activeID)
	return nil
}

// commit persists profiles plus extra changes, then swaps in the new snapshot
func (s *ProfileStore) commit(next profileSet, extra ...StorageChange) error {
	data, err := next.encode(false)
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	changes := append([]StorageChange{SetItem(profilesKey, string(data))}, extra...)
	if err := s.storage.Apply(changes); err != nil {
		return err
	}
	s.profiles = next
	return nil
}

// List returns (id, name) pairs in insertion order
func (s *ProfileStore) List() []ProfileSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]ProfileSummary, 0, len(s.profiles.order))
	for _, id := range s.profiles.order {
		summaries = append(summaries, ProfileSummary{ID: id, Name: s.profiles.byID[id].Name})
	}
	return summaries
}

// Len returns the number of stored profiles
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles.order)
}

// Get returns a copy of the profile stored under id
func (s *ProfileStore) Get(id string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles.byID[id]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Save validates and stores a profile, assigning a fresh id when id is empty.
// The saved profile becomes active.
func (s *ProfileStore) Save(id, name, apiKey, authInfo string, chatIDs []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "name", Reason: "profile name must not be empty"}
	}
	authInfo = strings.TrimSpace(authInfo)
	if _, err := ValidateAuthBlob(authInfo); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	for id == "" {
		candidate := s.newID()
		if _, exists := s.profiles.byID[candidate]; !exists {
			id = candidate
		}
	}

	next := s.profiles.clone()
	next.put(id, Profile{
		Name:     name,
		APIKey:   strings.TrimSpace(apiKey),
		AuthInfo: authInfo,
		ChatIDs:  NormalizeChatIDs(chatIDs),
	})

	if err := s.commit(next, SetItem(activeProfileKey, id)); err != nil {
		return "", err
	}
	s.activeID = id
	LogInfo("Saved profile %q (%s)", name, id)
	return id, nil
}

// Delete removes a profile; unknown ids are ignored
func (s *ProfileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles.byID[id]; !ok {
		return nil
	}

	next := s.profiles.clone()
	next.remove(id)

	extra := []StorageChange{RemoveItem(lastActiveChatPrefix + id)}
	wasActive := s.activeID == id
	if wasActive {
		extra = append(extra, SetItem(activeProfileKey, ""))
	}
	if err := s.commit(next, extra...); err != nil {
		return err
	}

	delete(s.lastChats, id)
	if wasActive {
		s.activeID = ""
	}
	LogInfo("Deleted profile %s", id)
	return nil
}

// Import merges profiles from an exported JSON object and returns how many were taken.
// Entries without a name are skipped.
func (s *ProfileStore) Import(blob []byte) (int, error) {
	entries, err := decodeOrderedObject(blob)
	if err != nil {
		return 0, &ImportError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.profiles.clone()
	imported := 0
	for _, entry := range entries {
		var p Profile
		if err := json.Unmarshal(entry.Value, &p); err != nil {
			LogWarn("Skipping import entry %s: %v", entry.ID, err)
			continue
		}
		if strings.TrimSpace(p.Name) == "" {
			LogDebug("Skipping import entry %s: no name", entry.ID)
			continue
		}
		p.ChatIDs = NormalizeChatIDs(p.ChatIDs)
		next.put(entry.ID, p)
		imported++
	}

	if imported == 0 {
		return 0, nil
	}
	if err := s.commit(next); err != nil {
		return 0, err
	}
	LogInfo("Imported %d profile(s)", imported)
	return imported, nil
}

// Export returns a single-entry JSON mapping for id
func (s *ProfileStore) Export(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	single := newProfileSet()
	single.put(id, p)
	return single.encode(true)
}

// ExportAll returns the full id -> profile mapping as JSON
func (s *ProfileStore) ExportAll() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles.encode(true)
}

var unsafeFileChar = regexp.MustCompile(`[\s/\\]`)

// SafeFileComponent replaces whitespace and path separators with underscores
func SafeFileComponent(name string) string {
	return unsafeFileChar.ReplaceAllString(name, "_")
}

// ExportFileName returns the download name used for an export of id, or of all profiles when id is empty
func (s *ProfileStore) ExportFileName(id string) string {
	if id == "" {
		return "feishu_ark_profiles_all_profiles.json"
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	name := id
	if p, ok := s.profiles.byID[id]; ok {
		name = p.Name
	}
	return "feishu_ark_profiles_" + SafeFileComponent(name) + ".json"
}

// ActiveID returns the active profile id, or "" when none is selected
func (s *ProfileStore) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActive points the active profile at id; "" clears the pointer
func (s *ProfileStore) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if _, ok := s.profiles.byID[id]; !ok {
			return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
		}
	}
	if id == s.activeID {
		return nil
	}
	if err := s.storage.Apply([]StorageChange{SetItem(activeProfileKey, id)}); err != nil {
		return err
	}
	s.activeID = id
	return nil
}

// LastActiveChat returns the chat last opened under profile id
func (s *ProfileStore) LastActiveChat(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastChats[id]
}

// SetLastActiveChat remembers chatID for profile id
func (s *ProfileStore) SetLastActiveChat(id, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if s.lastChats[id] == chatID {
		return nil
	}
	if err := s.storage.Apply([]StorageChange{SetItem(lastActiveChatPrefix+id, chatID)}); err != nil {
		return err
	}
	s.lastChats[id] = chatID
	return nil
}

// AddChatID appends chatID to a profile's chat list and reports whether it was new
func (s *ProfileStore) AddChatID(id, chatID string) (bool, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return false, &ValidationError{Field: "chatId", Reason: "chat id must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if p.HasChat(chatID) {
		return false, nil
	}

	next := s.profiles.clone()
	updated := next.byID[id]
	updated.ChatIDs = append(updated.ChatIDs, chatID)
	next.byID[id] = updated
	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}
