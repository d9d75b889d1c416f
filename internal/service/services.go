package service

import (
	"scene_chat/internal/chat"
	"scene_chat/internal/config"
	"scene_chat/internal/repository"
	"scene_chat/pkg/logger"
)

// Services - агрегатор всех сервисов
type Services struct {
	Auth      AuthService
	Chat      ChatService
	Stats     StatsService
	Audit     AuditService
	RateLimit RateLimitService
}

func NewServices(
	repos *repository.Repositories,
	limiter *chat.Limiter,
	broadcaster *chat.Broadcaster,
	cfg *config.Config,
	log logger.Logger,
) *Services {
	return &Services{
		Auth:      NewAuthService(repos.User, cfg.JWT, log),
		Chat:      NewChatService(repos.Scene, repos.Message, limiter, broadcaster, cfg.Chat, log),
		Stats:     NewStatsService(repos.Stats, repos.Scene, log),
		Audit:     NewAuditService(repos.Audit, log),
		RateLimit: NewRateLimitService(repos.RateLimit, log),
	}
}
