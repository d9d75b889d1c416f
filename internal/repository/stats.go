package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"scene_chat/internal/domain"
	"scene_chat/pkg/logger"
)

type StatsRepository interface {
	GetSceneStats(ctx context.Context, sceneID uuid.UUID) (*domain.SceneStats, error)
}

type statsRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewStatsRepository(db *pgxpool.Pool, log logger.Logger) StatsRepository {
	return &statsRepository{db: db, log: log}
}

func (r *statsRepository) GetSceneStats(ctx context.Context, sceneID uuid.UUID) (*domain.SceneStats, error) {
	stats := &domain.SceneStats{
		SceneID: sceneID,
		ByType:  make(map[domain.MessageType]int64),
	}

	typeQuery := `
		SELECT message_type, COUNT(*), MIN(created_at), MAX(created_at)
		FROM scene_messages
		WHERE scene_id = $1
		GROUP BY message_type
	`

	rows, err := r.db.Query(ctx, typeQuery, sceneID)
	if err != nil {
		r.log.Error("Failed to get scene stats", "error", err, "scene_id", sceneID)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msgType domain.MessageType
		var count int64
		var first, last *time.Time
		if err := rows.Scan(&msgType, &count, &first, &last); err != nil {
			r.log.Error("Failed to scan stats row", "error", err)
			return nil, err
		}
		stats.ByType[msgType] = count
		stats.TotalMessages += count
		if first != nil && (stats.FirstAt == nil || first.Before(*stats.FirstAt)) {
			stats.FirstAt = first
		}
		if last != nil && (stats.LastAt == nil || last.After(*stats.LastAt)) {
			stats.LastAt = last
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	senderQuery := `
		SELECT sender_user_id, COUNT(*)
		FROM scene_messages
		WHERE scene_id = $1
		GROUP BY sender_user_id
		ORDER BY COUNT(*) DESC
	`

	senderRows, err := r.db.Query(ctx, senderQuery, sceneID)
	if err != nil {
		r.log.Error("Failed to get sender stats", "error", err, "scene_id", sceneID)
		return nil, err
	}
	defer senderRows.Close()

	for senderRows.Next() {
		var ps domain.ParticipantStats
		if err := senderRows.Scan(&ps.UserID, &ps.Messages); err != nil {
			r.log.Error("Failed to scan sender stats", "error", err)
			return nil, err
		}
		stats.BySender = append(stats.BySender, ps)
	}

	return stats, senderRows.Err()
}
