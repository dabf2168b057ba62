// Package handler is the operator HTTP API: health, metrics, statistics,
// the escalation queue and a live event stream.
package handler

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the operator API on top of the hub.
type Handler struct {
	Hub    *chathub.Hub
	secret []byte
	logger *zap.Logger
}

// NewHandler creates a handler verifying tokens with secret.
func NewHandler(hub *chathub.Hub, secret []byte, logger *zap.Logger) *Handler {
	return &Handler{Hub: hub, secret: secret, logger: logger}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", h.RequireOperator())
	{
		api.GET("/stats", h.Stats)
		api.GET("/escalations", h.Escalations)
	}
	r.GET("/ws/events", h.RequireOperator(), h.ServeEvents)
	return r
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats returns the stored counters plus the live queue sizes.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.Hub.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type escalationEntry struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	Position  int    `json:"position"`
	Available bool   `json:"available"`
}

// Escalations lists the SOS queue, oldest first. Requesters that are no
// longer Idle are marked unavailable; they will be skipped on dequeue.
func (h *Handler) Escalations(c *gin.Context) {
	ctx := c.Request.Context()
	ids := h.Hub.Escalations.Snapshot()

	entries := make([]escalationEntry, 0, len(ids))
	for i, id := range ids {
		entry := escalationEntry{UserID: id, Position: i + 1}
		user, err := h.Hub.Storage.GetUser(ctx, id)
		if err != nil {
			h.logger.Error("escalation lookup failed", zap.Int64("user_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load queue"})
			return
		}
		if user != nil {
			entry.Name = user.DisplayName()
			entry.Username = user.Username
			entry.Available = !user.Banned && user.ChatStatus == models.StatusIdle
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, gin.H{"queue": entries, "length": len(entries)})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
