// Package protocol описывает envelope чат-протокола, общий для сервера и клиента.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeChatMessage = "chat_message"
	TypeHeartbeat   = "heartbeat"
	TypeError       = "error"
	TypeSubscribe   = "subscribe"
	TypeSubscribed  = "subscribed"
	TypeUnsubscribe = "unsubscribe"
)

// Envelope - кадр протокола в обе стороны.
// Для type=error заполнены Error/Detail (и RetryAfter для RATE_LIMITED),
// для type=chat_message - Message, для subscribe/unsubscribe - SceneID.
type Envelope struct {
	Type       string     `json:"type"`
	SceneID    *uuid.UUID `json:"scene_id,omitempty"`
	Message    *Message   `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	RetryAfter int64      `json:"retry_after,omitempty"` // секунды
}

// Message повторяет схему REST-истории. При отправке клиент заполняет
// только Type, Content, Character и Recipients; остальное назначает сервер.
type Message struct {
	ID         uuid.UUID   `json:"id,omitempty"`
	SceneID    uuid.UUID   `json:"scene_id,omitempty"`
	Sender     uuid.UUID   `json:"sender,omitempty"`
	Character  *uuid.UUID  `json:"character,omitempty"`
	Type       string      `json:"type"`
	Content    string      `json:"content"`
	Recipients []uuid.UUID `json:"recipients,omitempty"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
	Sequence   int64       `json:"sequence,omitempty"`
}
