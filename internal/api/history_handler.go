package api

import (
	"context"
	"net/http"

	"recoverflow/internal/dto/req"
	"recoverflow/internal/dto/resp"
	v1 "recoverflow/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type HistoryProvider interface {
	Get(ctx context.Context) (v1.RetryHistoryView, error)
	Acknowledge(ctx context.Context, requestID string, retryType v1.RetryType) (bool, error)
}

type HistoryHandler struct {
	service HistoryProvider
}

func NewHistoryHandler(service HistoryProvider) *HistoryHandler {
	return &HistoryHandler{service: service}
}

func (h *HistoryHandler) GetHistory(c *gin.Context) {
	view, err := h.service.Get(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if view.HistoricOperations == nil {
		view.HistoricOperations = []v1.HistoricRetryOperation{}
	}
	if view.UnacknowledgedOperations == nil {
		view.UnacknowledgedOperations = []v1.UnacknowledgedRetryOperation{}
	}
	c.JSON(http.StatusOK, view)
}

func (h *HistoryHandler) Acknowledge(c *gin.Context) {
	var r req.AcknowledgeReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	retryType := v1.RetryType(r.RetryType)
	if !retryType.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown retry type " + r.RetryType})
		return
	}
	found, err := h.service.Acknowledge(c.Request.Context(), c.Param("request_id"), retryType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp.AcknowledgeResp{Acknowledged: found})
}
