package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/kairoslabs/kairos-agent/internal/service"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// scriptedRunner emits a fixed event sequence for any turn.
type scriptedRunner struct {
	lastUID     uuid.UUID
	lastMessage string
}

func (r *scriptedRunner) Run(_ context.Context, uid uuid.UUID, req *types.ChatRequest, emit service.EmitFunc) {
	r.lastUID = uid
	r.lastMessage = req.Message
	emit(service.EventThinking, map[string]any{"step": "planning"})
	emit(service.EventResult, &types.UIPayload{
		UIType:  types.UITypeText,
		Message: "Here are some options.",
	})
}

func newChatRouter(runner ChatRunner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/api/v1")
	NewChatHandler(runner, testSecret, zerolog.Nop()).RegisterRoutes(group)
	return r
}

func TestChat(t *testing.T) {
	uid := uuid.New()

	t.Run("streams thinking and result events over SSE", func(t *testing.T) {
		runner := &scriptedRunner{}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
			bytes.NewBufferString(`{"message": "quiet dinner for two"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", uid.String())
		newChatRouter(runner).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
		assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))

		body := w.Body.String()
		assert.Contains(t, body, "event:thinking")
		assert.Contains(t, body, "event:result")
		assert.Contains(t, body, "Here are some options.")

		assert.Equal(t, uid, runner.lastUID)
		assert.Equal(t, "quiet dinner for two", runner.lastMessage)
	})

	t.Run("missing identity header is rejected before streaming", func(t *testing.T) {
		runner := &scriptedRunner{}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
			bytes.NewBufferString(`{"message": "hello"}`))
		req.Header.Set("Content-Type", "application/json")
		newChatRouter(runner).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, runner.lastMessage)
	})

	t.Run("history entry with empty role is rejected", func(t *testing.T) {
		runner := &scriptedRunner{}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
			bytes.NewBufferString(`{"message": "hi", "conversation_history": [{"role": "", "content": "hi"}]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", uid.String())
		newChatRouter(runner).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, runner.lastMessage)
	})

	t.Run("well-formed history is accepted", func(t *testing.T) {
		runner := &scriptedRunner{}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
			bytes.NewBufferString(`{"message": "same area please", "conversation_history": [`+
				`{"role": "user", "content": "dinner?"}, {"role": "assistant", "content": "Sure."}]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", uid.String())
		newChatRouter(runner).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "same area please", runner.lastMessage)
	})

	t.Run("empty message is rejected", func(t *testing.T) {
		runner := &scriptedRunner{}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
			bytes.NewBufferString(`{"message": ""}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", uid.String())
		newChatRouter(runner).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, runner.lastMessage)
	})
}
