package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AuthLevel is how much of a credential set an operation needs
type AuthLevel int

const (
	// LevelOptional fields are sent only when present
	LevelOptional AuthLevel = iota
	// LevelUsable is the minimum for a profile to be considered at all
	LevelUsable
	// LevelFull is required before any history, export or stream request
	LevelFull
)

const (
	fieldAPIKey        = "apiKey"
	fieldCookie        = "cookie"
	fieldHistoryCmd    = "cmd_history"
	fieldStreamCmd     = "cmd_stream"
	fieldExampleChatID = "example_chat_id"
)

// authField maps one credential to its header and stream query parameter
type authField struct {
	Key    string
	Header string // empty when the field is not sent as a header
	Param  string
	Level  AuthLevel
}

// authFields drives header and parameter construction, in output order
var authFields = []authField{
	{Key: fieldAPIKey, Header: "Authorization", Param: "token", Level: LevelUsable},
	{Key: fieldCookie, Header: "X-Feishu-Cookie", Param: "cookie", Level: LevelUsable},
	{Key: fieldHistoryCmd, Header: "X-Cmd-History", Param: "cmd_history", Level: LevelFull},
	{Key: fieldStreamCmd, Param: "cmd_stream", Level: LevelFull},
	{Key: "user_agent", Header: "X-User-Agent", Param: "user_agent", Level: LevelFull},
	{Key: "referer", Header: "X-Referer", Param: "referer", Level: LevelFull},
	{Key: "web_version", Header: "X-Web-Version", Param: "web_version", Level: LevelFull},
	{Key: "csrf_token", Header: "X-CSRF-Token", Param: "csrf_token"},
	{Key: "lgw_csrf_token", Header: "X-LGW-CSRF-Token", Param: "lgw_csrf_token"},
}

// requiredBlobFields must be in an auth blob for a profile to be saved
var requiredBlobFields = []string{fieldCookie, "user_agent", "referer", fieldHistoryCmd, "web_version"}

// ComposedAuth is the header and query representation of a profile's credentials
type ComposedAuth struct {
	Headers      map[string]string
	HeaderOrder  []string
	StreamParams map[string]string
	present      map[string]bool
}

// ParseAuthInfo decodes an auth blob into string fields.
// Numbers and booleans are stringified, nested values are ignored.
func ParseAuthInfo(text string) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("auth info is not valid JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("auth info must be a JSON object")
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				fields[key] = s
			}
		case json.Number:
			fields[key] = v.String()
		case bool:
			fields[key] = strconv.FormatBool(v)
		}
	}
	return fields, nil
}

// ComposeAuth derives headers and stream parameters from a profile.
// It fails with *CredentialIncompleteError unless the apiKey and cookie are present.
func ComposeAuth(profile Profile) (*ComposedAuth, error) {
	values := make(map[string]string)
	var parseErr error

	if profile.AuthInfo != "" {
		fields, err := ParseAuthInfo(profile.AuthInfo)
		if err != nil {
			parseErr = err
		} else {
			values = fields
		}
	} else {
		parseErr = fmt.Errorf("auth info is empty")
	}

	if parseErr != nil {
		values = make(map[string]string)
	}
	if key := strings.TrimSpace(profile.APIKey); key != "" {
		values[fieldAPIKey] = key
	}
	if values[fieldStreamCmd] == "" && values[fieldHistoryCmd] != "" {
		values[fieldStreamCmd] = values[fieldHistoryCmd]
	}

	auth := &ComposedAuth{
		Headers:      make(map[string]string),
		StreamParams: make(map[string]string),
		present:      make(map[string]bool),
	}
	for _, field := range authFields {
		value, ok := values[field.Key]
		if !ok || value == "" {
			continue
		}
		auth.present[field.Key] = true
		auth.StreamParams[field.Param] = value
		if field.Header == "" {
			continue
		}
		if field.Key == fieldAPIKey {
			value = "Bearer " + value
		}
		auth.Headers[field.Header] = value
		auth.HeaderOrder = append(auth.HeaderOrder, field.Header)
	}

	if missing := auth.Missing(LevelUsable); len(missing) > 0 {
		return nil, &CredentialIncompleteError{Missing: missing, Err: parseErr}
	}
	return auth, nil
}

// Has reports whether a credential field is present
func (a *ComposedAuth) Has(key string) bool {
	return a.present[key]
}

// StreamCommand returns the resolved stream command token
func (a *ComposedAuth) StreamCommand() string {
	return a.StreamParams["cmd_stream"]
}

// Missing lists the fields needed for level that are absent
func (a *ComposedAuth) Missing(level AuthLevel) []string {
	var missing []string
	for _, field := range authFields {
		if field.Level == LevelOptional || field.Level > level {
			continue
		}
		if !a.present[field.Key] {
			missing = append(missing, field.Key)
		}
	}
	return missing
}

// Require fails with *CredentialIncompleteError when fields for level are absent
func (a *ComposedAuth) Require(level AuthLevel) error {
	if missing := a.Missing(level); len(missing) > 0 {
		return &CredentialIncompleteError{Missing: missing}
	}
	return nil
}

// ValidateAuthBlob checks that text is a JSON object carrying every field a saved profile needs
func ValidateAuthBlob(text string) (map[string]string, error) {
	fields, err := ParseAuthInfo(text)
	if err != nil {
		return nil, &ValidationError{Field: "authInfo", Reason: err.Error()}
	}
	var missing []string
	for _, key := range requiredBlobFields {
		if fields[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{
			Field:  "authInfo",
			Reason: "missing required fields: " + strings.Join(missing, ", "),
		}
	}
	return fields, nil
}

// PrepareAuthBlob validates pasted auth JSON, pretty-prints it, and
// prepends its example_chat_id to chatIDs when that id is new.
func PrepareAuthBlob(text string, chatIDs []string) (string, []string, error) {
	fields, err := ValidateAuthBlob(text)
	if err != nil {
		return "", chatIDs, err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, bytes.TrimSpace([]byte(text)), "", "  "); err != nil {
		return "", chatIDs, &ValidationError{Field: "authInfo", Reason: err.Error()}
	}

	ids := NormalizeChatIDs(chatIDs)
	if example := fields[fieldExampleChatID]; example != "" {
		ids = NormalizeChatIDs(append([]string{example}, ids...))
	}
	return pretty.String(), ids, nil
}
