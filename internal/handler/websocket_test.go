package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"scene_chat/internal/chat"
	"scene_chat/internal/config"
	"scene_chat/internal/domain"
	"scene_chat/internal/service"
	apperrors "scene_chat/pkg/errors"
	"scene_chat/pkg/logger"
	"scene_chat/pkg/protocol"
)

type fakeAuthService struct {
	user *domain.User
	err  error
}

func (f *fakeAuthService) Login(_ context.Context, _, _ string) (*service.LoginResponse, error) {
	return nil, apperrors.ErrInvalidCredentials
}

func (f *fakeAuthService) ValidateToken(_ context.Context, _ string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

type notice struct {
	sceneID    uuid.UUID
	content    string
	recipients []uuid.UUID
}

type fakeChatService struct {
	roster  *domain.Roster
	role    domain.Role
	sendErr error

	mu      sync.Mutex
	sent    int
	notices []notice
}

func (f *fakeChatService) Authorize(_ context.Context, _, _ uuid.UUID) (*domain.Roster, domain.Role, error) {
	return f.roster, f.role, nil
}

func (f *fakeChatService) Send(_ context.Context, senderID uuid.UUID, _ domain.Role, _ *domain.Roster, req *service.SendRequest) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent++
	return &domain.Message{SceneID: req.SceneID, SenderUserID: senderID, Type: req.Type, Content: req.Content}, nil
}

func (f *fakeChatService) SystemNotice(_ context.Context, sceneID uuid.UUID, content string, recipients []uuid.UUID) *domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice{sceneID: sceneID, content: content, recipients: recipients})
	return &domain.Message{SceneID: sceneID, Type: domain.MessageTypeSystem, Content: content, RecipientUserIDs: recipients}
}

func (f *fakeChatService) History(_ context.Context, _, _ uuid.UUID, _ int64, _ int) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeChatService) recordedNotices() []notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notice(nil), f.notices...)
}

type fakeAuditService struct{}

func (f *fakeAuditService) LogEvent(_ context.Context, _ *uuid.UUID, _ string, _ *uuid.UUID, _ string, _ map[string]interface{}) error {
	return nil
}

type noopMessageRepo struct{}

func (noopMessageRepo) CreateMessage(_ context.Context, _ *domain.Message) error { return nil }
func (noopMessageRepo) ListVisibleBefore(_ context.Context, _, _ uuid.UUID, _ bool, _ int64, _ int) ([]*domain.Message, error) {
	return nil, nil
}
func (noopMessageRepo) LatestSequence(_ context.Context, _ uuid.UUID) (int64, error) { return 0, nil }

type noopAuditRepo struct{}

func (noopAuditRepo) CreateLog(_ context.Context, _ *domain.AuditLog) error { return nil }

type wsFixture struct {
	server  *httptest.Server
	chatSvc *fakeChatService
	sceneID uuid.UUID
	userID  uuid.UUID
}

func newWSFixture(t *testing.T, authErr, sendErr error) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &wsFixture{
		sceneID: uuid.New(),
		userID:  uuid.New(),
	}

	roster := &domain.Roster{
		SceneID: f.sceneID,
		Participants: []domain.SceneParticipant{
			{SceneID: f.sceneID, UserID: f.userID, CharacterID: uuid.New(), Role: domain.RolePlayer},
		},
	}

	f.chatSvc = &fakeChatService{roster: roster, role: domain.RolePlayer, sendErr: sendErr}

	cfg := config.ChatConfig{
		RateLimit: config.RateLimitConfig{Window: time.Minute, Limit: 10, StaffLimit: 30},
		Heartbeat: config.HeartbeatConfig{
			Interval:   time.Second,
			PongWait:   5 * time.Second,
			WriteWait:  time.Second,
			MaxMsgSize: 16 * 1024,
		},
		MaxContentRunes: 2000,
		SendBufferSize:  16,
		MaxAbuseStrikes: 2,
	}

	log := logger.New("error")
	auth := &fakeAuthService{
		user: &domain.User{ID: f.userID, Email: "p@example.com", IsActive: true},
		err:  authErr,
	}
	broadcaster := chat.NewBroadcaster(noopMessageRepo{}, noopAuditRepo{}, log)
	h := NewWebSocketHandler(auth, f.chatSvc, &fakeAuditService{}, broadcaster, cfg, log)

	router := gin.New()
	router.GET("/ws/scenes/:id/chat", h.HandleChat)

	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/scenes/" + f.sceneID.String() + "/chat"
	header := http.Header{"Authorization": []string{"Bearer test-token"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return &env
}

func TestWebSocketSubscribesSceneFromPath(t *testing.T) {
	f := newWSFixture(t, nil, nil)
	conn := f.dial(t)

	env := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeSubscribed, env.Type)
	require.NotNil(t, env.SceneID)
	assert.Equal(t, f.sceneID, *env.SceneID)
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	f := newWSFixture(t, apperrors.ErrInvalidToken, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/scenes/" + f.sceneID.String() + "/chat"
	header := http.Header{"Authorization": []string{"Bearer bad-token"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketRejectsSendToUnsubscribedScene(t *testing.T) {
	f := newWSFixture(t, nil, nil)
	conn := f.dial(t)
	readEnvelope(t, conn) // subscribed

	otherScene := uuid.New()
	require.NoError(t, conn.WriteJSON(&protocol.Envelope{
		Type:    protocol.TypeChatMessage,
		SceneID: &otherScene,
		Message: &protocol.Message{Type: "ooc", Content: "hi"},
	}))

	env := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Equal(t, apperrors.CodeNotSubscribed, env.Error)
}

func TestWebSocketRepeatedRateLimitTerminatesWithServerNotice(t *testing.T) {
	f := newWSFixture(t, nil, apperrors.RateLimited(3*time.Second))
	conn := f.dial(t)
	readEnvelope(t, conn) // subscribed

	send := func() {
		require.NoError(t, conn.WriteJSON(&protocol.Envelope{
			Type:    protocol.TypeChatMessage,
			SceneID: &f.sceneID,
			Message: &protocol.Message{Type: "ooc", Content: "spam"},
		}))
	}

	// Первый отказ: ошибка с retry_after, сессия жива
	send()
	env := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Equal(t, apperrors.CodeRateLimited, env.Error)
	assert.Equal(t, int64(3), env.RetryAfter)

	// Второй отказ достигает порога: серверное уведомление нарушителю
	// и принудительное завершение
	send()

	require.Eventually(t, func() bool {
		return len(f.chatSvc.recordedNotices()) == 1
	}, 2*time.Second, time.Millisecond)

	notices := f.chatSvc.recordedNotices()
	assert.Equal(t, f.sceneID, notices[0].sceneID)
	assert.Equal(t, []uuid.UUID{f.userID}, notices[0].recipients)

	// Соединение закрыто сервером, а не истекло по дедлайну чтения
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var readErr error
	for readErr == nil {
		var discard protocol.Envelope
		readErr = conn.ReadJSON(&discard)
	}
	var netErr net.Error
	if errors.As(readErr, &netErr) && netErr.Timeout() {
		t.Fatal("server did not close the connection")
	}
}

func TestWebSocketHeartbeatEcho(t *testing.T) {
	f := newWSFixture(t, nil, nil)
	conn := f.dial(t)
	readEnvelope(t, conn) // subscribed

	require.NoError(t, conn.WriteJSON(&protocol.Envelope{Type: protocol.TypeHeartbeat}))

	env := readEnvelope(t, conn)
	assert.Equal(t, protocol.TypeHeartbeat, env.Type)
}