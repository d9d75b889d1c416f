package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID          int64                  `json:"id"`
	EventTime   time.Time              `json:"event_time"`
	ActorUserID *uuid.UUID             `json:"actor_user_id,omitempty"`
	ActorRole   string                 `json:"actor_role"`
	SceneID     *uuid.UUID             `json:"scene_id,omitempty"`
	EventType   string                 `json:"event_type"`
	Payload     map[string]interface{} `json:"payload"`
}

const (
	ActorRoleUser   = "user"
	ActorRoleSystem = "system"
)

const (
	EventTypeSessionConnected    = "SESSION_CONNECTED"
	EventTypeSessionDisconnected = "SESSION_DISCONNECTED"
	EventTypeSessionTerminated   = "SESSION_TERMINATED"
	EventTypeSceneSubscribed     = "SCENE_SUBSCRIBED"
	EventTypeSceneUnsubscribed   = "SCENE_UNSUBSCRIBED"
	EventTypeRateLimitAbuse      = "RATE_LIMIT_ABUSE"
	EventTypePersistFailed       = "MESSAGE_PERSIST_FAILED"
)
