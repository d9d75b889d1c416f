package service

import (
	"context"

	"github.com/google/uuid"
	"scene_chat/internal/domain"
	"scene_chat/internal/repository"
	apperrors "scene_chat/pkg/errors"
	"scene_chat/pkg/logger"
)

type StatsService interface {
	// GetSceneStats доступна только GM/owner сцены
	GetSceneStats(ctx context.Context, sceneID, viewerID uuid.UUID) (*domain.SceneStats, error)
}

type statsService struct {
	statsRepo repository.StatsRepository
	sceneRepo repository.SceneRepository
	log       logger.Logger
}

func NewStatsService(statsRepo repository.StatsRepository, sceneRepo repository.SceneRepository, log logger.Logger) StatsService {
	return &statsService{
		statsRepo: statsRepo,
		sceneRepo: sceneRepo,
		log:       log,
	}
}

func (s *statsService) GetSceneStats(ctx context.Context, sceneID, viewerID uuid.UUID) (*domain.SceneStats, error) {
	roster, err := s.sceneRepo.GetRoster(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	role, ok := roster.RoleOf(viewerID)
	if !ok {
		return nil, apperrors.ErrNotParticipant
	}
	if !role.Staff() {
		return nil, apperrors.ErrForbidden
	}

	return s.statsRepo.GetSceneStats(ctx, sceneID)
}
