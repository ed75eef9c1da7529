package api

import (
	"context"
	"net/http"

	"recoverflow/internal/dto/req"
	"recoverflow/internal/dto/resp"
	"recoverflow/internal/model"
	"recoverflow/internal/service"
	v1 "recoverflow/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type RetryProvider interface {
	RequestRetry(ctx context.Context, r service.RetryRequest) (string, error)
	GetOperation(ctx context.Context, requestID string) (*model.RetryOperation, []*model.RetryBatch, error)
	ListOperations(ctx context.Context, activeOnly bool, limit int) ([]*model.RetryOperation, error)
}

type RetryHandler struct {
	service RetryProvider
}

func NewRetryHandler(service RetryProvider) *RetryHandler {
	return &RetryHandler{service: service}
}

func (h *RetryHandler) RetryMessages(c *gin.Context) {
	var r req.RetryMessagesReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.request(c, service.RetryRequest{Type: v1.RetrySingleMessage, MessageIDs: r.MessageIDs})
}

func (h *RetryHandler) RetryEndpoint(c *gin.Context) {
	var r req.RetryEndpointReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.request(c, service.RetryRequest{Type: v1.RetryAllForEndpoint, Endpoint: r.Endpoint, CutOff: r.Time()})
}

func (h *RetryHandler) RetryQueue(c *gin.Context) {
	var r req.RetryQueueReq
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.request(c, service.RetryRequest{Type: v1.RetryByQueueAddress, QueueAddress: r.QueueAddress, CutOff: r.Time()})
}

func (h *RetryHandler) RetryGroup(c *gin.Context) {
	var r req.CutOffReq
	// body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&r); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.request(c, service.RetryRequest{Type: v1.RetryFailureGroup, GroupID: c.Param("group_id"), CutOff: r.Time()})
}

func (h *RetryHandler) RetryAll(c *gin.Context) {
	h.request(c, service.RetryRequest{Type: v1.RetryAll})
}

func (h *RetryHandler) request(c *gin.Context, r service.RetryRequest) {
	requestID, err := h.service.RequestRetry(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp.RetryAcceptedResp{RequestID: requestID})
}

func (h *RetryHandler) GetOperation(c *gin.Context) {
	op, batches, err := h.service.GetOperation(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := operationResp(op)
	out.Batches = make([]resp.RetryBatchItem, 0, len(batches))
	for _, b := range batches {
		out.Batches = append(out.Batches, resp.RetryBatchItem{
			ID:               b.ID,
			Status:           string(b.Status),
			InitialBatchSize: b.InitialBatchSize,
			ForwardedCount:   b.ForwardedCount,
			SkippedCount:     len(b.SkippedIDs),
			FailureReason:    b.FailureReason,
			LastModified:     b.LastModified,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *RetryHandler) ListOperations(c *gin.Context) {
	var r req.ListOperationsReq
	if err := c.ShouldBindQuery(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if r.Limit == 0 {
		r.Limit = 50
	}
	ops, err := h.service.ListOperations(c.Request.Context(), r.Active, r.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := resp.RetryOperationListResp{Data: make([]resp.RetryOperationResp, 0, len(ops))}
	for _, op := range ops {
		out.Data = append(out.Data, operationResp(op))
	}
	c.JSON(http.StatusOK, out)
}

func operationResp(op *model.RetryOperation) resp.RetryOperationResp {
	return resp.RetryOperationResp{
		RequestID:        op.RequestID,
		RetrySessionID:   op.RetrySessionID,
		RetryType:        op.RetryType,
		Originator:       op.Originator,
		Classifier:       op.Classifier,
		StartTime:        op.StartTime,
		CompletionTime:   op.CompletionTime,
		NumberOfMessages: op.NumberOfMessages,
		BatchCount:       op.BatchCount,
		Completed:        op.Completed,
		Failed:           op.Failed,
	}
}
