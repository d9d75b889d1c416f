package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"scene_chat/internal/domain"
	apperrors "scene_chat/pkg/errors"
	"scene_chat/pkg/logger"
)

// SceneRepository читает сцены и ростеры, принадлежащие подсистеме кампаний.
// Жизненный цикл сцен (создание/закрытие/архив) управляется снаружи.
type SceneRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Scene, error)
	GetRoster(ctx context.Context, sceneID uuid.UUID) (*domain.Roster, error)
}

type sceneRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewSceneRepository(db *pgxpool.Pool, log logger.Logger) SceneRepository {
	return &sceneRepository{db: db, log: log}
}

func (r *sceneRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Scene, error) {
	query := `
		SELECT id, campaign_id, title, status, created_at
		FROM scenes
		WHERE id = $1
	`

	scene := &domain.Scene{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&scene.ID, &scene.CampaignID, &scene.Title, &scene.Status, &scene.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrSceneNotFound
		}
		r.log.Error("Failed to get scene", "error", err, "scene_id", id)
		return nil, err
	}

	return scene, nil
}

func (r *sceneRepository) GetRoster(ctx context.Context, sceneID uuid.UUID) (*domain.Roster, error) {
	query := `
		SELECT scene_id, character_id, user_id, role, joined_at
		FROM scene_participants
		WHERE scene_id = $1
	`

	rows, err := r.db.Query(ctx, query, sceneID)
	if err != nil {
		r.log.Error("Failed to get roster", "error", err, "scene_id", sceneID)
		return nil, err
	}
	defer rows.Close()

	roster := &domain.Roster{SceneID: sceneID}
	for rows.Next() {
		var p domain.SceneParticipant
		err := rows.Scan(&p.SceneID, &p.CharacterID, &p.UserID, &p.Role, &p.JoinedAt)
		if err != nil {
			r.log.Error("Failed to scan participant", "error", err)
			return nil, err
		}
		roster.Participants = append(roster.Participants, p)
	}

	return roster, rows.Err()
}
