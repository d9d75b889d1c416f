package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"scene_chat/internal/chat"
	"scene_chat/internal/config"
	"scene_chat/internal/domain"
	"scene_chat/internal/repository"
	apperrors "scene_chat/pkg/errors"
	"scene_chat/pkg/logger"
)

// SendRequest - входящий запрос на отправку от сессии
type SendRequest struct {
	SceneID     uuid.UUID
	Type        domain.MessageType
	Content     string
	CharacterID *uuid.UUID
	Recipients  []uuid.UUID
}

type ChatService interface {
	// Authorize проверяет, что сцена активна и пользователь в ростере.
	// Возвращает ростер и роль для кеширования в подписке сессии.
	Authorize(ctx context.Context, sceneID, userID uuid.UUID) (*domain.Roster, domain.Role, error)

	// Send прогоняет запрос через права, лимит и валидацию, затем отдает
	// сообщение Broadcaster (который сохраняет и рассылает). Все отказы
	// синхронны и не оставляют побочных эффектов.
	Send(ctx context.Context, senderID uuid.UUID, senderRole domain.Role, roster *domain.Roster, req *SendRequest) (*domain.Message, error)

	// SystemNotice - серверное system-сообщение, лимит не применяется
	SystemNotice(ctx context.Context, sceneID uuid.UUID, content string, recipients []uuid.UUID) *domain.Message

	// History возвращает страницу истории, отфильтрованную по правам просмотра
	History(ctx context.Context, sceneID, viewerID uuid.UUID, before int64, limit int) ([]*domain.Message, error)
}

type chatService struct {
	sceneRepo   repository.SceneRepository
	messageRepo repository.MessageRepository
	limiter     *chat.Limiter
	broadcaster *chat.Broadcaster
	cfg         config.ChatConfig
	log         logger.Logger
}

func NewChatService(
	sceneRepo repository.SceneRepository,
	messageRepo repository.MessageRepository,
	limiter *chat.Limiter,
	broadcaster *chat.Broadcaster,
	cfg config.ChatConfig,
	log logger.Logger,
) ChatService {
	return &chatService{
		sceneRepo:   sceneRepo,
		messageRepo: messageRepo,
		limiter:     limiter,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log,
	}
}

func (s *chatService) Authorize(ctx context.Context, sceneID, userID uuid.UUID) (*domain.Roster, domain.Role, error) {
	scene, err := s.sceneRepo.GetByID(ctx, sceneID)
	if err != nil {
		return nil, "", err
	}
	if !scene.Active() {
		return nil, "", apperrors.ErrSceneClosed
	}

	roster, err := s.sceneRepo.GetRoster(ctx, sceneID)
	if err != nil {
		return nil, "", err
	}

	role, ok := roster.RoleOf(userID)
	if !ok {
		return nil, "", apperrors.ErrNotParticipant
	}

	return roster, role, nil
}

func (s *chatService) Send(ctx context.Context, senderID uuid.UUID, senderRole domain.Role, roster *domain.Roster, req *SendRequest) (*domain.Message, error) {
	msg := &domain.Message{
		SceneID:             req.SceneID,
		SenderUserID:        senderID,
		SpeakingCharacterID: req.CharacterID,
		Type:                req.Type,
		Content:             req.Content,
		RecipientUserIDs:    req.Recipients,
	}

	if err := chat.CanSend(msg, senderRole, roster); err != nil {
		return nil, err
	}

	if err := s.validate(msg, roster); err != nil {
		return nil, err
	}

	// Лимит проверяется после валидации: отклоненный запрос
	// не должен расходовать слот окна
	if ok, retryAfter := s.limiter.Allow(senderID, req.SceneID, senderRole, time.Now()); !ok {
		return nil, apperrors.RateLimited(retryAfter)
	}

	return s.broadcaster.Broadcast(ctx, msg), nil
}

func (s *chatService) SystemNotice(ctx context.Context, sceneID uuid.UUID, content string, recipients []uuid.UUID) *domain.Message {
	msg := &domain.Message{
		SceneID:          sceneID,
		SenderUserID:     uuid.Nil,
		Type:             domain.MessageTypeSystem,
		Content:          content,
		RecipientUserIDs: recipients,
	}
	return s.broadcaster.Broadcast(ctx, msg)
}

func (s *chatService) History(ctx context.Context, sceneID, viewerID uuid.UUID, before int64, limit int) ([]*domain.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	// История доступна и по закрытой сцене, поэтому статус не проверяется
	roster, err := s.sceneRepo.GetRoster(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	role, ok := roster.RoleOf(viewerID)
	if !ok {
		return nil, apperrors.ErrNotParticipant
	}

	return s.messageRepo.ListVisibleBefore(ctx, sceneID, viewerID, role.Staff(), before, limit)
}

func (s *chatService) validate(msg *domain.Message, roster *domain.Roster) error {
	if !msg.Type.Valid() {
		return apperrors.Validation("unknown message type")
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return apperrors.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxContentRunes {
		return apperrors.Validation("content is too long")
	}
	msg.Content = content

	switch msg.Type {
	case domain.MessageTypePrivate:
		if len(msg.RecipientUserIDs) == 0 {
			return apperrors.Validation("private messages require at least one recipient")
		}
		for _, id := range msg.RecipientUserIDs {
			if id == msg.SenderUserID {
				return apperrors.Validation("private message recipients must differ from sender")
			}
			if _, ok := roster.RoleOf(id); !ok {
				return apperrors.Validation("private message recipients must participate in the scene")
			}
		}
	default:
		if len(msg.RecipientUserIDs) > 0 {
			return apperrors.Validation("recipients are allowed only on private messages")
		}
	}

	return nil
}
