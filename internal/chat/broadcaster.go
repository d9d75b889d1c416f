package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"scene_chat/internal/domain"
	"scene_chat/internal/repository"
	"scene_chat/pkg/logger"
	"scene_chat/pkg/protocol"
)

// Subscriber - сторона доставки, которую видит Broadcaster.
// Enqueue обязан не блокироваться; false означает переполненный буфер,
// подписчик сам закрывает свою сессию.
type Subscriber interface {
	ID() string
	UserID() uuid.UUID
	Enqueue(env *protocol.Envelope) bool
}

type subscription struct {
	sub  Subscriber
	role domain.Role
}

type sceneChannel struct {
	mu     sync.Mutex
	seq    int64
	seeded bool
	subs   map[string]subscription
}

// Broadcaster держит реестр scene -> подписанные сессии, назначает
// монотонный sequence внутри сцены и рассылает сообщения с учетом прав
// просмотра. Единственный процессный экземпляр, внедряется зависимостью.
type Broadcaster struct {
	messages repository.MessageRepository
	audit    repository.AuditRepository
	log      logger.Logger

	mu     sync.RWMutex
	scenes map[uuid.UUID]*sceneChannel
}

func NewBroadcaster(messages repository.MessageRepository, audit repository.AuditRepository, log logger.Logger) *Broadcaster {
	return &Broadcaster{
		messages: messages,
		audit:    audit,
		log:      log,
		scenes:   make(map[uuid.UUID]*sceneChannel),
	}
}

// Subscribe регистрирует сессию в сцене. Повторная подписка - no-op.
// При первом обращении к сцене счетчик sequence засевается из хранилища.
func (b *Broadcaster) Subscribe(ctx context.Context, sceneID uuid.UUID, sub Subscriber, role domain.Role) error {
	ch := b.scene(sceneID)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.seeded {
		seq, err := b.messages.LatestSequence(ctx, sceneID)
		if err != nil {
			return err
		}
		ch.seq = seq
		ch.seeded = true
	}

	ch.subs[sub.ID()] = subscription{sub: sub, role: role}
	return nil
}

func (b *Broadcaster) Unsubscribe(sceneID uuid.UUID, subID string) {
	b.mu.RLock()
	ch, ok := b.scenes[sceneID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	ch.mu.Lock()
	delete(ch.subs, subID)
	ch.mu.Unlock()
}

// UnsubscribeAll снимает сессию со всех сцен (закрытие сокета)
func (b *Broadcaster) UnsubscribeAll(subID string) {
	b.mu.RLock()
	channels := make([]*sceneChannel, 0, len(b.scenes))
	for _, ch := range b.scenes {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	for _, ch := range channels {
		ch.mu.Lock()
		delete(ch.subs, subID)
		ch.mu.Unlock()
	}
}

// Broadcast назначает sequence, сохраняет сообщение и раздает его
// подходящим подписчикам. Отказ хранилища не останавливает рассылку:
// подключенные клиенты получают сообщение, инцидент уходит в аудит
// для последующей сверки с историей.
//
// Рассылка по одной сцене сериализована ее мьютексом, поэтому все
// сессии видят сообщения в одном порядке. Enqueue неблокирующий:
// медленный подписчик не задерживает остальных.
func (b *Broadcaster) Broadcast(ctx context.Context, msg *domain.Message) *domain.Message {
	ch := b.scene(msg.SceneID)

	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.seq++
	msg.Sequence = ch.seq
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	if err := b.messages.CreateMessage(ctx, msg); err != nil {
		b.log.Error("Message persist failed, broadcasting anyway",
			"error", err, "scene_id", msg.SceneID, "sequence", msg.Sequence)
		b.auditPersistFailure(ctx, msg)
	}

	env := envelopeFor(msg)
	for _, s := range ch.subs {
		if !CanView(msg, s.sub.UserID(), s.role) {
			continue
		}
		if !s.sub.Enqueue(env) {
			b.log.Warn("Subscriber buffer full, dropping session",
				"session_id", s.sub.ID(), "scene_id", msg.SceneID)
		}
	}

	return msg
}

func (b *Broadcaster) scene(sceneID uuid.UUID) *sceneChannel {
	b.mu.RLock()
	ch, ok := b.scenes[sceneID]
	b.mu.RUnlock()
	if ok {
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok = b.scenes[sceneID]; ok {
		return ch
	}
	ch = &sceneChannel{subs: make(map[string]subscription)}
	b.scenes[sceneID] = ch
	return ch
}

func (b *Broadcaster) auditPersistFailure(ctx context.Context, msg *domain.Message) {
	sceneID := msg.SceneID
	entry := &domain.AuditLog{
		EventTime: time.Now(),
		ActorRole: domain.ActorRoleSystem,
		SceneID:   &sceneID,
		EventType: domain.EventTypePersistFailed,
		Payload: map[string]interface{}{
			"message_id": msg.ID.String(),
			"sequence":   msg.Sequence,
		},
	}
	if err := b.audit.CreateLog(ctx, entry); err != nil {
		b.log.Error("Failed to audit persist failure", "error", err)
	}
}

// envelopeFor переводит доменное сообщение в кадр протокола
func envelopeFor(msg *domain.Message) *protocol.Envelope {
	sceneID := msg.SceneID
	return &protocol.Envelope{
		Type:    protocol.TypeChatMessage,
		SceneID: &sceneID,
		Message: &protocol.Message{
			ID:         msg.ID,
			SceneID:    msg.SceneID,
			Sender:     msg.SenderUserID,
			Character:  msg.SpeakingCharacterID,
			Type:       string(msg.Type),
			Content:    msg.Content,
			Recipients: msg.RecipientUserIDs,
			CreatedAt:  msg.CreatedAt,
			Sequence:   msg.Sequence,
		},
	}
}
