package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypePublic  MessageType = "public"
	MessageTypeOOC     MessageType = "ooc"
	MessageTypePrivate MessageType = "private"
	MessageTypeSystem  MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypePublic, MessageTypeOOC, MessageTypePrivate, MessageTypeSystem:
		return true
	}
	return false
}

// Message неизменяемо после рассылки. Sequence назначается сервером
// в момент broadcast и монотонно растет внутри сцены.
type Message struct {
	ID                  uuid.UUID   `json:"id"`
	SceneID             uuid.UUID   `json:"scene_id"`
	SenderUserID        uuid.UUID   `json:"sender"` // uuid.Nil для серверных system-сообщений
	SpeakingCharacterID *uuid.UUID  `json:"character,omitempty"`
	Type                MessageType `json:"type"`
	Content             string      `json:"content"`
	RecipientUserIDs    []uuid.UUID `json:"recipients,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	Sequence            int64       `json:"sequence"`
}

// ServerIssued - сообщение создано сервером, а не участником
func (m *Message) ServerIssued() bool {
	return m.SenderUserID == uuid.Nil
}
