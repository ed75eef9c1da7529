package api

import (
	"context"
	"net/http"
	"time"

	"recoverflow/internal/dto/req"
	"recoverflow/internal/dto/resp"
	"recoverflow/internal/model"

	"github.com/gin-gonic/gin"
)

type MessageProvider interface {
	GetFailedMessage(ctx context.Context, id string) (*model.FailedMessage, error)
}

type ResolveProvider interface {
	MarkResolved(ctx context.Context, failedMessageID string, processedAt time.Time) (bool, error)
}

type MessageHandler struct {
	messages MessageProvider
	resolver ResolveProvider
}

func NewMessageHandler(messages MessageProvider, resolver ResolveProvider) *MessageHandler {
	return &MessageHandler{messages: messages, resolver: resolver}
}

func (h *MessageHandler) GetFailedMessage(c *gin.Context) {
	m, err := h.messages.GetFailedMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.FailedMessageResp{FailedMessage: m, View: m.View()})
}

// Resolve records that the message was processed successfully, typically
// reported by an integration after a retry went through.
func (h *MessageHandler) Resolve(c *gin.Context) {
	var r req.ResolveReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	var processedAt time.Time
	if r.ProcessedAt != nil {
		processedAt = *r.ProcessedAt
	}
	changed, err := h.resolver.MarkResolved(c.Request.Context(), c.Param("id"), processedAt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.ResolveResp{Changed: changed})
}
