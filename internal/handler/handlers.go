package handler

import (
	"scene_chat/internal/chat"
	"scene_chat/internal/config"
	"scene_chat/internal/service"
	"scene_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	Chat      *ChatHandler
	Stats     *StatsHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, broadcaster *chat.Broadcaster, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(cfg),
		Auth:      NewAuthHandler(services.Auth, log),
		Chat:      NewChatHandler(services.Chat, log),
		Stats:     NewStatsHandler(services.Stats, log),
		WebSocket: NewWebSocketHandler(services.Auth, services.Chat, services.Audit, broadcaster, cfg.Chat, log),
	}
}
