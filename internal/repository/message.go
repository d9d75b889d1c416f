package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"scene_chat/internal/domain"
	"scene_chat/pkg/logger"
)

type MessageRepository interface {
	CreateMessage(ctx context.Context, message *domain.Message) error
	// ListVisibleBefore возвращает сообщения сцены с sequence < before
	// (before <= 0 - от самых свежих), видимые пользователю viewerID.
	// Сообщения идут по убыванию sequence.
	ListVisibleBefore(ctx context.Context, sceneID, viewerID uuid.UUID, staff bool, before int64, limit int) ([]*domain.Message, error)
	LatestSequence(ctx context.Context, sceneID uuid.UUID) (int64, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

func (r *messageRepository) CreateMessage(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO scene_messages (id, scene_id, sender_user_id, speaking_character_id,
		                            message_type, content, recipient_user_ids, created_at, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		message.ID, message.SceneID, message.SenderUserID, message.SpeakingCharacterID,
		message.Type, message.Content, message.RecipientUserIDs, message.CreatedAt, message.Sequence,
	)

	if err != nil {
		r.log.Error("Failed to create message", "error", err, "scene_id", message.SceneID)
		return err
	}

	return nil
}

func (r *messageRepository) ListVisibleBefore(ctx context.Context, sceneID, viewerID uuid.UUID, staff bool, before int64, limit int) ([]*domain.Message, error) {
	// GM/owner видят все, остальные - public/ooc плюс свои private
	query := `
		SELECT id, scene_id, sender_user_id, speaking_character_id,
		       message_type, content, recipient_user_ids, created_at, sequence
		FROM scene_messages
		WHERE scene_id = $1
		  AND ($2 <= 0 OR sequence < $2)
		  AND ($3 OR message_type IN ('public', 'ooc')
		         OR sender_user_id = $4
		         OR $4 = ANY(recipient_user_ids))
		ORDER BY sequence DESC
		LIMIT $5
	`

	rows, err := r.db.Query(ctx, query, sceneID, before, staff, viewerID, limit)
	if err != nil {
		r.log.Error("Failed to list messages", "error", err, "scene_id", sceneID)
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		err := rows.Scan(
			&message.ID, &message.SceneID, &message.SenderUserID, &message.SpeakingCharacterID,
			&message.Type, &message.Content, &message.RecipientUserIDs, &message.CreatedAt, &message.Sequence,
		)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

func (r *messageRepository) LatestSequence(ctx context.Context, sceneID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM scene_messages WHERE scene_id = $1`

	var seq int64
	if err := r.db.QueryRow(ctx, query, sceneID).Scan(&seq); err != nil {
		r.log.Error("Failed to get latest sequence", "error", err, "scene_id", sceneID)
		return 0, err
	}

	return seq, nil
}
