package internal

import (
	"fmt"
	"sort"
	"time"
)

const (
	systemSenderName = "System"
	errorSenderName  = "System error"
	unknownSender    = "Unknown"
)

// Normalizer converts relay MessageRecords into Message events
type Normalizer struct {
	// SelfID is the sender id of the local user; records from it get OriginUser
	SelfID string
	now    func() time.Time
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(selfID string) *Normalizer {
	return &Normalizer{SelfID: selfID, now: time.Now}
}

// NormalizeRecord converts one record received for chatID.
// A record without a sender is treated as a system notice.
func (n *Normalizer) NormalizeRecord(record MessageRecord, chatID string) Message {
	msg := Message{
		ChatID:  chatID,
		Content: record.Content,
		Time:    record.Time(),
	}
	if record.ChatID != "" {
		msg.ChatID = record.ChatID
	}

	if record.Sender == nil {
		msg.Origin = OriginSystemInfo
		msg.SenderName = systemSenderName
		return msg
	}

	msg.Origin = n.normalizeOrigin(record.Sender)
	msg.SenderID = record.Sender.ID
	msg.SenderName = record.Sender.Name
	msg.AvatarURL = record.Sender.AvatarURL
	if msg.SenderName == "" {
		msg.SenderName = unknownSender
	}
	return msg
}

// NormalizeHistory converts a newest-first history page into oldest-first messages.
// When every record carries a timestamp the result is ordered by time.
func (n *Normalizer) NormalizeHistory(records []MessageRecord, chatID string) []Message {
	messages := make([]Message, 0, len(records))
	timed := true
	for i := len(records) - 1; i >= 0; i-- {
		msg := n.NormalizeRecord(records[i], chatID)
		timed = timed && !msg.Time.IsZero()
		messages = append(messages, msg)
	}
	if timed {
		sort.SliceStable(messages, func(i, j int) bool {
			return messages[i].Time.Before(messages[j].Time)
		})
	}
	return messages
}

func (n *Normalizer) normalizeOrigin(sender *Sender) Origin {
	if n.SelfID != "" && sender.ID == n.SelfID {
		return OriginUser
	}
	return OriginRemote
}

// Info synthesizes an informational system message
func (n *Normalizer) Info(chatID, format string, args ...interface{}) Message {
	return Message{
		Origin:     OriginSystemInfo,
		ChatID:     chatID,
		SenderName: systemSenderName,
		Content:    fmt.Sprintf(format, args...),
		Time:       n.now(),
	}
}

// Error synthesizes an error system message
func (n *Normalizer) Error(chatID, format string, args ...interface{}) Message {
	return Message{
		Origin:     OriginSystemError,
		ChatID:     chatID,
		SenderName: errorSenderName,
		Content:    fmt.Sprintf(format, args...),
		Time:       n.now(),
	}
}
