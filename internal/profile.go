package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Profile is a named bundle of credentials and chat ids for one backend account
type Profile struct {
	Name     string   `json:"name"`
	APIKey   string   `json:"apiKey"`
	AuthInfo string   `json:"authInfo"` // JSON text, parsed lazily by ComposeAuth
	ChatIDs  []string `json:"chatIds"`
}

// ProfileSummary is the (id, name) pair shown in profile listings
type ProfileSummary struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// UnmarshalJSON accepts authInfo either as JSON text or as an inline object
func (p *Profile) UnmarshalJSON(data []byte) error {
	var aux struct {
		Name     string          `json:"name"`
		APIKey   string          `json:"apiKey"`
		AuthInfo json.RawMessage `json:"authInfo"`
		ChatIDs  []string        `json:"chatIds"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.Name = aux.Name
	p.APIKey = aux.APIKey
	p.ChatIDs = aux.ChatIDs
	p.AuthInfo = ""

	raw := bytes.TrimSpace(aux.AuthInfo)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		return json.Unmarshal(raw, &p.AuthInfo)
	}
	p.AuthInfo = string(raw)
	return nil
}

// MarshalJSON always writes chatIds as an array
func (p Profile) MarshalJSON() ([]byte, error) {
	type plain Profile
	out := plain(p)
	if out.ChatIDs == nil {
		out.ChatIDs = []string{}
	}
	return json.Marshal(out)
}

// HasChat reports whether chatID is in the profile's chat list
func (p Profile) HasChat(chatID string) bool {
	for _, id := range p.ChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// clone returns a copy that shares no slices with p
func (p Profile) clone() Profile {
	p.ChatIDs = append([]string(nil), p.ChatIDs...)
	return p
}

// NormalizeChatIDs trims ids, drops empty ones and keeps the first occurrence of each
func NormalizeChatIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}

// SplitChatIDs splits newline or comma separated input into chat ids
func SplitChatIDs(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})
	return NormalizeChatIDs(fields)
}

// rawEntry is one top-level member of a profiles JSON object, in document order
type rawEntry struct {
	ID    string
	Value json.RawMessage
}

// decodeOrderedObject reads a JSON object keeping member order
func decodeOrderedObject(data []byte) ([]rawEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var entries []rawEntry
	index := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("member %q: %w", key, err)
		}
		// Duplicate keys: last value wins, first position is kept.
		if i, dup := index[key]; dup {
			entries[i].Value = value
			continue
		}
		index[key] = len(entries)
		entries = append(entries, rawEntry{ID: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

// profileSet is an insertion-ordered id -> Profile mapping
type profileSet struct {
	order []string
	byID  map[string]Profile
}

func newProfileSet() profileSet {
	return profileSet{byID: make(map[string]Profile)}
}

func (ps profileSet) clone() profileSet {
	out := profileSet{
		order: append([]string(nil), ps.order...),
		byID:  make(map[string]Profile, len(ps.byID)),
	}
	for id, p := range ps.byID {
		out.byID[id] = p.clone()
	}
	return out
}

// put stores p under id, appending id when it is new
func (ps *profileSet) put(id string, p Profile) {
	if _, exists := ps.byID[id]; !exists {
		ps.order = append(ps.order, id)
	}
	ps.byID[id] = p
}

func (ps *profileSet) remove(id string) {
	if _, exists := ps.byID[id]; !exists {
		return
	}
	delete(ps.byID, id)
	for i, existing := range ps.order {
		if existing == id {
			ps.order = append(ps.order[:i], ps.order[i+1:]...)
			break
		}
	}
}

// encode writes the set as a JSON object in insertion order
func (ps profileSet) encode(indent bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range ps.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(ps.byID[id])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile %s: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')

	if !indent {
		return buf.Bytes(), nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return pretty.Bytes(), nil
}

// decodeProfileSet parses a persisted profiles object
func decodeProfileSet(data []byte) (profileSet, error) {
	ps := newProfileSet()
	if len(bytes.TrimSpace(data)) == 0 {
		return ps, nil
	}
	entries, err := decodeOrderedObject(data)
	if err != nil {
		return ps, err
	}
	for _, entry := range entries {
		var p Profile
		if err := json.Unmarshal(entry.Value, &p); err != nil {
			LogWarn("Skipping unreadable profile %s: %v", entry.ID, err)
			continue
		}
		if strings.TrimSpace(p.Name) == "" {
			LogWarn("Skipping unnamed profile %s", entry.ID)
			continue
		}
		ps.put(entry.ID, p)
	}
	return ps, nil
}
