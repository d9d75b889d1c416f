package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"scene_chat/internal/chat"
	"scene_chat/internal/config"
	"scene_chat/internal/service"
	apperrors "scene_chat/pkg/errors"
	"scene_chat/pkg/logger"
	"scene_chat/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // В продакшене нужно проверять origin
	},
}

type WebSocketHandler struct {
	authService service.AuthService
	chatService service.ChatService
	auditSvc    service.AuditService
	broadcaster *chat.Broadcaster
	cfg         config.ChatConfig
	log         logger.Logger
}

func NewWebSocketHandler(
	authService service.AuthService,
	chatService service.ChatService,
	auditSvc service.AuditService,
	broadcaster *chat.Broadcaster,
	cfg config.ChatConfig,
	log logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		authService: authService,
		chatService: chatService,
		auditSvc:    auditSvc,
		broadcaster: broadcaster,
		cfg:         cfg,
		log:         log,
	}
}

// HandleChat - GET /ws/scenes/:id/chat. Аутентификация и авторизация
// проверяются до апгрейда, чтобы отказ вернулся обычным HTTP-статусом.
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	sceneID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scene ID"})
		return
	}

	token := extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}

	user, err := h.authService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	roster, role, err := h.chatService.Authorize(c.Request.Context(), sceneID, user.ID)
	if err != nil {
		c.JSON(apperrors.HTTPStatusFromError(err), gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	session := newChatSession(user, conn, h.chatService, h.auditSvc, h.broadcaster, h.cfg, h.log)

	// Сцена из пути подписывается сразу, до первого кадра клиента
	if err := h.broadcaster.Subscribe(c.Request.Context(), sceneID, session, role); err != nil {
		h.log.Error("Failed to subscribe initial scene", "error", err, "scene_id", sceneID)
		conn.Close()
		return
	}
	session.mu.Lock()
	session.subscriptions[sceneID] = &sceneSubscription{role: role, roster: roster}
	session.mu.Unlock()
	session.Enqueue(&protocol.Envelope{Type: protocol.TypeSubscribed, SceneID: &sceneID})

	session.run(c.Request.Context())
}

// extractToken ищет токен в заголовке Authorization, cookie и query.
// Браузерный WebSocket API не умеет ставить заголовки, поэтому
// fallback на cookie/query обязателен.
func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if after, found := strings.CutPrefix(auth, "Bearer "); found {
			return after
		}
	}
	if cookie, err := c.Cookie("token"); err == nil && cookie != "" {
		return cookie
	}
	return c.Query("token")
}
