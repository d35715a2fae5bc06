package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hferrand/chatstream/internal/chat"
	"github.com/hferrand/chatstream/internal/common"
	"github.com/hferrand/chatstream/internal/ws"
)

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.Svc.Conversations(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) ListConversationMessages(c *gin.Context) {
	msgs, err := h.Svc.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Chat is the blocking completion: the whole turn runs inside the request.
func (h *Handler) Chat(c *gin.Context) {
	var req chat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	resp, err := h.Svc.Chat(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatAsync persists the user turn, records a job, and hands generation to
// the worker via the queue.
func (h *Handler) ChatAsync(c *gin.Context) {
	var req chat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if h.Jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue unavailable"})
		return
	}

	prep, err := h.Svc.Prepare(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		fail(c, err)
		return
	}
	job := &chat.Job{
		ID:             jobID,
		ConversationID: prep.ConversationID,
		Status:         chat.JobQueued,
	}
	if err := h.Svc.CreateJob(c.Request.Context(), job); err != nil {
		fail(c, err)
		return
	}

	if err := h.Jobs.PublishJob(c.Request.Context(), job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":          job.ID,
		"conversation_id": prep.ConversationID,
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.Svc.Job(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

// ChatWebSocket upgrades the connection and hands it to a streaming session,
// which owns it until the client disconnects.
func (h *Handler) ChatWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.NewSession(conn, h.Svc).Run(c.Request.Context())
}
