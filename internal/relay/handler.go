package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"casedesk/internal/backend"
	"casedesk/internal/realtime"
	"casedesk/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// dev relay: any origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the socket upgrade and the REST collaborator endpoints.
type Handler struct {
	hub       *Hub
	outbox    Outbox
	fanout    *RedisFanout
	jwtSecret string // empty = no auth
	logger    *slog.Logger
}

func NewHandler(hub *Hub, outbox Outbox, fanout *RedisFanout, jwtSecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:       hub,
		outbox:    outbox,
		fanout:    fanout,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// RegisterRoutes mounts everything on r. wsRoute is a gin pattern with a
// :userId parameter.
func (h *Handler) RegisterRoutes(r *gin.Engine, wsRoute string) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET(wsRoute, h.HandleWebSocket)

	users := r.Group("/api/v1/users/:userId", h.authorize)
	users.GET("/notifications", h.ListNotifications)
	users.POST("/notifications", h.PushNotification)
	users.PUT("/notifications/:id/read", h.MarkAsRead)
	users.POST("/events", h.PushEvent)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.hub.Count(),
	})
}

// HandleWebSocket upgrades GET <ws route>?token=JWT
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, ok := h.pathUserID(c)
	if !ok {
		return
	}
	if !h.checkToken(c, userID, c.Query("token")) {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket_upgrade_failed", "user_id", userID, "error", err.Error())
		return
	}
	NewClient(h.hub, conn, userID).Serve()
}

// GET /api/v1/users/:userId/notifications?page=&limit=&unread=
func (h *Handler) ListNotifications(c *gin.Context) {
	userID := c.GetInt64("path_user_id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	unread, _ := strconv.ParseBool(c.Query("unread"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	items, total, err := h.outbox.List(ctx, userID, ListQuery{Page: page, Limit: limit, UnreadOnly: unread})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dtos := make([]backend.NotificationDTO, 0, len(items))
	for _, n := range items {
		dtos = append(dtos, n.ToDTO())
	}
	c.JSON(http.StatusOK, backend.NotificationPage{
		Items:   dtos,
		Total:   total,
		Page:    page,
		PerPage: limit,
	})
}

// POST /api/v1/users/:userId/notifications stores and pushes a notification
func (h *Handler) PushNotification(c *gin.Context) {
	userID := c.GetInt64("path_user_id")
	var req backend.PushNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category := store.Category(req.Category)
	if !category.Valid() {
		category = store.CategorySystem
	}
	n := &Notification{
		UserID:   userID,
		Title:    req.Title,
		Message:  req.Message,
		Type:     string(store.ParseSeverity(req.Type)),
		Category: string(category),
		Priority: orDefault(req.Priority, string(store.PriorityMedium)),
		Link:     req.Link,
		Metadata: req.Metadata,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.outbox.Create(ctx, n); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dto := n.ToDTO()
	if err := h.push(ctx, userID, realtime.KindNotification, dto); err != nil {
		h.logger.Error("notification_push_failed", "user_id", userID, "id", n.ID, "error", err.Error())
	}
	c.JSON(http.StatusCreated, dto)
}

// POST /api/v1/users/:userId/events pushes a task, process or system frame
func (h *Handler) PushEvent(c *gin.Context) {
	userID := c.GetInt64("path_user_id")
	var req backend.PushEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frame, err := realtime.NewServerFrame(req.Kind, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	frame.Payload = req.Payload
	frame.Message = req.Message
	frame.MessageKind = req.MessageKind

	data, err := frame.ToJSON()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.fanout.Publish(ctx, userID, req.Kind, data); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"kind": req.Kind, "delivered_locally": h.hub.Connected(userID)})
}

// PUT /api/v1/users/:userId/notifications/:id/read
func (h *Handler) MarkAsRead(c *gin.Context) {
	userID := c.GetInt64("path_user_id")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.outbox.MarkRead(ctx, userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// authorize parses :userId and, when a secret is configured, checks the
// bearer token belongs to that user.
func (h *Handler) authorize(c *gin.Context) {
	userID, ok := h.pathUserID(c)
	if !ok {
		return
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !h.checkToken(c, userID, token) {
		return
	}
	c.Set("path_user_id", userID)
	c.Next()
}

func (h *Handler) pathUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return userID, true
}

func (h *Handler) checkToken(c *gin.Context, userID int64, token string) bool {
	if h.jwtSecret == "" {
		return true
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return false
	}
	claims, err := backend.ParseToken(h.jwtSecret, token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return false
	}
	if claims.UserID != userID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token does not belong to this user"})
		return false
	}
	return true
}

func (h *Handler) push(ctx context.Context, userID int64, kind string, payload any) error {
	frame, err := realtime.NewServerFrame(kind, payload)
	if err != nil {
		return err
	}
	data, err := frame.ToJSON()
	if err != nil {
		return err
	}
	return h.fanout.Publish(ctx, userID, kind, data)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
