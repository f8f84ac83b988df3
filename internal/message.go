package internal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Origin classifies where a message came from
type Origin string

const (
	OriginUser        Origin = "user"
	OriginRemote      Origin = "remote"
	OriginSystemInfo  Origin = "system-info"
	OriginSystemError Origin = "system-error"
)

// IsSystem reports whether the message was synthesized locally
func (o Origin) IsSystem() bool {
	return o == OriginSystemInfo || o == OriginSystemError
}

// Sender identifies the author of a MessageRecord
type Sender struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
}

// MessageRecord is one message as sent by the relay service
type MessageRecord struct {
	MessageID  string  `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	ChatID     string  `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	Content    string  `json:"content" yaml:"content"`
	CreateTime int64   `json:"create_time,omitempty" yaml:"create_time,omitempty"` // epoch millis
	Sender     *Sender `json:"sender,omitempty" yaml:"sender,omitempty"`
}

// UnmarshalJSON tolerates ids sent as numbers and an empty sender object
func (r *MessageRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		MessageID  json.RawMessage `json:"message_id"`
		ChatID     json.RawMessage `json:"chat_id"`
		Content    string          `json:"content"`
		CreateTime json.Number     `json:"create_time"`
		Sender     *struct {
			ID        json.RawMessage `json:"id"`
			Name      string          `json:"name"`
			AvatarURL string          `json:"avatar_url"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*r = MessageRecord{
		MessageID: rawIDString(aux.MessageID),
		ChatID:    rawIDString(aux.ChatID),
		Content:   aux.Content,
	}
	if aux.CreateTime != "" {
		ts, err := aux.CreateTime.Int64()
		if err != nil {
			f, ferr := aux.CreateTime.Float64()
			if ferr != nil {
				return fmt.Errorf("invalid create_time %q: %w", aux.CreateTime, err)
			}
			ts = int64(f)
		}
		r.CreateTime = ts
	}
	if aux.Sender != nil {
		sender := Sender{ID: rawIDString(aux.Sender.ID), Name: aux.Sender.Name, AvatarURL: aux.Sender.AvatarURL}
		if sender != (Sender{}) {
			r.Sender = &sender
		}
	}
	return nil
}

func rawIDString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Time returns the creation time, or the zero time when unknown
func (r MessageRecord) Time() time.Time {
	if r.CreateTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.CreateTime)
}

// Message is a normalized message event delivered to subscribers
type Message struct {
	Origin     Origin    `json:"origin" yaml:"origin"`
	ChatID     string    `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	SenderID   string    `json:"sender_id,omitempty" yaml:"sender_id,omitempty"`
	SenderName string    `json:"sender_name" yaml:"sender_name"`
	AvatarURL  string    `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Content    string    `json:"content" yaml:"content"`
	Time       time.Time `json:"time,omitempty" yaml:"time,omitempty"`
}

// HistoryResponse is the body returned by the history endpoint
type HistoryResponse struct {
	HasMore    bool            `json:"has_more"`
	NextCursor string          `json:"next_cursor"`
	Messages   []MessageRecord `json:"messages"`
}

// AnalysisResult is the body returned by the export-for-analysis endpoint
type AnalysisResult struct {
	AnalysisText string `json:"analysis_text" yaml:"analysis_text"`
	StartInfo    string `json:"start_info" yaml:"start_info"`
	EndInfo      string `json:"end_info" yaml:"end_info"`
	MessageCount int    `json:"message_count" yaml:"message_count"`
}

// Summary renders the context line shown above an analysis export
func (a AnalysisResult) Summary() string {
	return fmt.Sprintf("%s, %s. %d message(s) exported.", a.StartInfo, a.EndInfo, a.MessageCount)
}
