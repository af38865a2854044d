package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kairoslabs/kairos-agent/internal/middleware"
	"github.com/kairoslabs/kairos-agent/internal/service"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// ChatRunner executes one chat turn, emitting progress events followed by
// exactly one result event.
type ChatRunner interface {
	Run(ctx context.Context, uid uuid.UUID, req *types.ChatRequest, emit service.EmitFunc)
}

// ChatHandler serves the conversational endpoint as an SSE stream.
type ChatHandler struct {
	orchestrator ChatRunner
	jwtSecret    string
	logger       zerolog.Logger
}

// NewChatHandler creates a new ChatHandler instance.
func NewChatHandler(orchestrator ChatRunner, jwtSecret string, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		jwtSecret:    jwtSecret,
		logger:       logger.With().Str("handler", "chat").Logger(),
	}
}

// RegisterRoutes registers the chat routes on the given router group.
func (h *ChatHandler) RegisterRoutes(router *gin.RouterGroup) {
	chat := router.Group("/chat")
	chat.Use(middleware.UserIdentity(h.jwtSecret))
	{
		chat.POST("", h.Chat)
	}
}

// Chat streams thinking events and one terminal result event for a turn.
func (h *ChatHandler) Chat(c *gin.Context) {
	uid, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req types.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	h.orchestrator.Run(c.Request.Context(), uid, &req, func(event string, data any) {
		c.SSEvent(event, data)
		c.Writer.Flush()
	})
}
