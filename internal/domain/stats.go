package domain

import (
	"time"

	"github.com/google/uuid"
)

// SceneStats - счетчики сообщений сцены для GM-панели
type SceneStats struct {
	SceneID       uuid.UUID               `json:"scene_id"`
	TotalMessages int64                   `json:"total_messages"`
	ByType        map[MessageType]int64   `json:"by_type"`
	BySender      []ParticipantStats      `json:"by_sender"`
	FirstAt       *time.Time              `json:"first_at,omitempty"`
	LastAt        *time.Time              `json:"last_at,omitempty"`
}

type ParticipantStats struct {
	UserID   uuid.UUID `json:"user_id"`
	Messages int64     `json:"messages"`
}
