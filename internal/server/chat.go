package server

import (
	"net/http"
	"strings"

	"github.com/artouc/ego-graphica/internal/runtime"
	"github.com/gin-gonic/gin"
)

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// handleChat runs one turn and streams its events as server-sent events.
// Failures after the stream opened arrive as an error event.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	turn := runtime.Turn{
		Tenant:    c.Param("tenant"),
		SessionID: req.SessionID,
		Message:   req.Message,
	}
	sink := func(ev runtime.Event) {
		c.SSEvent(string(ev.Type), ev.Payload())
		c.Writer.Flush()
	}
	// The error, if any, already went out as the stream's terminal event.
	_ = s.Conversation.Handle(c.Request.Context(), turn, sink)
}
