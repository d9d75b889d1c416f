package handler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"scene_chat/internal/chat"
	"scene_chat/internal/config"
	"scene_chat/internal/domain"
	"scene_chat/internal/service"
	apperrors "scene_chat/pkg/errors"
	"scene_chat/pkg/logger"
	"scene_chat/pkg/protocol"
)

// sceneSubscription - кешированные при подписке роль и ростер.
// Права на отправку проверяются по этому снимку без похода в БД.
type sceneSubscription struct {
	role   domain.Role
	roster *domain.Roster
}

// chatSession - одно WebSocket-соединение. Реализует chat.Subscriber.
// Чтение и запись разнесены по горутинам: writePump - единственный
// писатель в сокет, readPump - единственный читатель.
type chatSession struct {
	id   string
	user *domain.User
	conn *websocket.Conn

	chatSvc     service.ChatService
	auditSvc    service.AuditService
	broadcaster *chat.Broadcaster
	cfg         config.ChatConfig
	log         logger.Logger

	send chan *protocol.Envelope
	done chan struct{}

	closeOnce sync.Once

	mu            sync.Mutex
	subscriptions map[uuid.UUID]*sceneSubscription
	strikes       int
}

func newChatSession(
	user *domain.User,
	conn *websocket.Conn,
	chatSvc service.ChatService,
	auditSvc service.AuditService,
	broadcaster *chat.Broadcaster,
	cfg config.ChatConfig,
	log logger.Logger,
) *chatSession {
	return &chatSession{
		id:            uuid.NewString(),
		user:          user,
		conn:          conn,
		chatSvc:       chatSvc,
		auditSvc:      auditSvc,
		broadcaster:   broadcaster,
		cfg:           cfg,
		log:           log.With("session_id", user.ID.String()),
		send:          make(chan *protocol.Envelope, cfg.SendBufferSize),
		done:          make(chan struct{}),
		subscriptions: make(map[uuid.UUID]*sceneSubscription),
	}
}

func (s *chatSession) ID() string        { return s.id }
func (s *chatSession) UserID() uuid.UUID { return s.user.ID }

// Enqueue кладет кадр в исходящий буфер не блокируясь.
// Переполнение означает зависшего потребителя: сессия закрывается,
// клиент восстановит пропущенное через историю после переподключения.
func (s *chatSession) Enqueue(env *protocol.Envelope) bool {
	select {
	case s.send <- env:
		return true
	case <-s.done:
		return false
	default:
		s.log.Warn("Send buffer overflow, closing session")
		go s.close()
		return false
	}
}

// run блокируется до закрытия соединения
func (s *chatSession) run(ctx context.Context) {
	s.auditEvent(ctx, nil, domain.EventTypeSessionConnected, nil)

	go s.writePump()
	s.readPump(ctx)

	s.close()
	s.auditEvent(context.Background(), nil, domain.EventTypeSessionDisconnected, nil)
}

func (s *chatSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.broadcaster.UnsubscribeAll(s.id)
		s.conn.Close()
	})
}

func (s *chatSession) readPump(ctx context.Context) {
	s.conn.SetReadLimit(s.cfg.Heartbeat.MaxMsgSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.Heartbeat.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.Heartbeat.PongWait))
	})

	for {
		var env protocol.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Unexpected connection close", "error", err)
			}
			return
		}

		// Любой кадр подтверждает живость наравне с pong
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.Heartbeat.PongWait))

		s.dispatch(ctx, &env)

		select {
		case <-s.done:
			return
		default:
		}
	}
}

func (s *chatSession) writePump() {
	ticker := time.NewTicker(s.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case env := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Heartbeat.WriteWait))
			if err := s.conn.WriteJSON(env); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Heartbeat.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *chatSession) dispatch(ctx context.Context, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSubscribe:
		s.handleSubscribe(ctx, env)
	case protocol.TypeUnsubscribe:
		s.handleUnsubscribe(ctx, env)
	case protocol.TypeChatMessage:
		s.handleChatMessage(ctx, env)
	case protocol.TypeHeartbeat:
		s.Enqueue(&protocol.Envelope{Type: protocol.TypeHeartbeat})
	default:
		s.sendError(nil, apperrors.Validation("unknown envelope type"))
	}
}

func (s *chatSession) handleSubscribe(ctx context.Context, env *protocol.Envelope) {
	if env.SceneID == nil {
		s.sendError(nil, apperrors.Validation("scene_id is required"))
		return
	}
	sceneID := *env.SceneID

	roster, role, err := s.chatSvc.Authorize(ctx, sceneID, s.user.ID)
	if err != nil {
		s.sendError(&sceneID, err)
		return
	}

	if err := s.broadcaster.Subscribe(ctx, sceneID, s, role); err != nil {
		s.log.Error("Failed to subscribe session", "error", err, "scene_id", sceneID)
		s.sendError(&sceneID, apperrors.ErrInternalServer)
		return
	}

	s.mu.Lock()
	s.subscriptions[sceneID] = &sceneSubscription{role: role, roster: roster}
	s.mu.Unlock()

	s.Enqueue(&protocol.Envelope{Type: protocol.TypeSubscribed, SceneID: &sceneID})
	s.auditEvent(ctx, &sceneID, domain.EventTypeSceneSubscribed, map[string]interface{}{"role": string(role)})
}

func (s *chatSession) handleUnsubscribe(ctx context.Context, env *protocol.Envelope) {
	if env.SceneID == nil {
		s.sendError(nil, apperrors.Validation("scene_id is required"))
		return
	}
	sceneID := *env.SceneID

	s.mu.Lock()
	_, subscribed := s.subscriptions[sceneID]
	delete(s.subscriptions, sceneID)
	s.mu.Unlock()

	if !subscribed {
		return
	}

	s.broadcaster.Unsubscribe(sceneID, s.id)
	s.auditEvent(ctx, &sceneID, domain.EventTypeSceneUnsubscribed, nil)
}

func (s *chatSession) handleChatMessage(ctx context.Context, env *protocol.Envelope) {
	if env.Message == nil || env.SceneID == nil {
		s.sendError(nil, apperrors.Validation("scene_id and message are required"))
		return
	}
	sceneID := *env.SceneID

	s.mu.Lock()
	sub, subscribed := s.subscriptions[sceneID]
	s.mu.Unlock()

	if !subscribed {
		s.sendError(&sceneID, apperrors.NotSubscribed("subscribe to the scene before sending"))
		return
	}

	req := &service.SendRequest{
		SceneID:     sceneID,
		Type:        domain.MessageType(env.Message.Type),
		Content:     env.Message.Content,
		CharacterID: env.Message.Character,
		Recipients:  env.Message.Recipients,
	}

	if _, err := s.chatSvc.Send(ctx, s.user.ID, sub.role, sub.roster, req); err != nil {
		s.sendError(&sceneID, err)
		if chatErr, ok := apperrors.AsChatError(err); ok && chatErr.Code == apperrors.CodeRateLimited {
			s.recordStrike(ctx, sceneID)
		}
		return
	}

	s.mu.Lock()
	s.strikes = 0
	s.mu.Unlock()
}

// recordStrike считает подряд идущие отказы лимитера; после порога
// сессия принудительно завершается как злоупотребляющая
func (s *chatSession) recordStrike(ctx context.Context, sceneID uuid.UUID) {
	s.mu.Lock()
	s.strikes++
	strikes := s.strikes
	s.mu.Unlock()

	if strikes < s.cfg.MaxAbuseStrikes {
		return
	}

	s.log.Warn("Rate limit abuse threshold reached, terminating session", "strikes", strikes)
	s.auditEvent(ctx, &sceneID, domain.EventTypeRateLimitAbuse, map[string]interface{}{"strikes": strikes})
	s.auditEvent(ctx, &sceneID, domain.EventTypeSessionTerminated, nil)

	// Серверное уведомление нарушителю уходит до обрыва сессии;
	// оно же остается в истории сцены для GM
	s.chatSvc.SystemNotice(ctx, sceneID, "session terminated: rate limit exceeded repeatedly", []uuid.UUID{s.user.ID})

	s.close()
}

func (s *chatSession) sendError(sceneID *uuid.UUID, err error) {
	env := &protocol.Envelope{Type: protocol.TypeError, SceneID: sceneID}

	if chatErr, ok := apperrors.AsChatError(err); ok {
		env.Error = chatErr.Code
		env.Detail = chatErr.Message
		if chatErr.RetryAfter > 0 {
			// Округление вверх: клиент не должен повторять раньше срока
			env.RetryAfter = int64((chatErr.RetryAfter + time.Second - 1) / time.Second)
		}
	} else {
		env.Error = apperrors.CodePermissionDenied
		env.Detail = err.Error()
	}

	s.Enqueue(env)
}

func (s *chatSession) auditEvent(ctx context.Context, sceneID *uuid.UUID, eventType string, payload map[string]interface{}) {
	userID := s.user.ID
	if err := s.auditSvc.LogEvent(ctx, &userID, domain.ActorRoleUser, sceneID, eventType, payload); err != nil {
		s.log.Warn("Failed to write audit event", "error", err, "event_type", eventType)
	}
}
