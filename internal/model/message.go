// Package model defines the wire types shared by the REST client, the live
// streams, and the timeline store.
package model

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the message kinds the server emits.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeVoice      MessageType = "voice"
	TypeImage      MessageType = "image"
	TypeFile       MessageType = "file"
	TypeDocument   MessageType = "document"
	TypeAttachment MessageType = "attachment"
	TypeCallInvite MessageType = "call_invite"
)

// Payload carries type-specific JSON. The server stores it as a JSON-encoded
// string inside the message row but clients post it as a plain object, so
// both encodings are accepted on decode.
type Payload []byte

func (p *Payload) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Payload(s)
		return nil
	}
	*p = append((*p)[:0], b...)
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

// Message is a single chat message. ID is server-assigned, unique within the
// client's working set, and not guaranteed monotonic.
type Message struct {
	ID        int64       `json:"id"`
	Channel   string      `json:"channel"`
	Alias     string      `json:"alias"`
	UserID    string      `json:"user_id,omitempty"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	AudioURL  string      `json:"audio_url,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	FileURL   string      `json:"file_url,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	Payload   Payload     `json:"payload,omitempty"`
	CreatedAt int64       `json:"created_at"`
}

// Time returns the creation time.
func (m *Message) Time() time.Time {
	return time.Unix(m.CreatedAt, 0)
}

// Mine reports whether the message was sent from the device with the given id.
func (m *Message) Mine(userID string) bool {
	return m.UserID != "" && m.UserID == userID
}
