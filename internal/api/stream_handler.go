package api

import (
	"io"
	"strconv"
	"strings"

	"recoverflow/internal/service"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
	"recoverflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StreamHandler struct {
	hub *service.Hub
}

func NewStreamHandler(hub *service.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Events streams domain events as SSE. With last_seq the client first gets
// every buffered event after it, or a reset when the buffer no longer
// reaches that far back. types narrows the stream to a comma separated set.
func (h *StreamHandler) Events(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	types := make(map[string]bool)
	for t := range strings.SplitSeq(c.Query("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}

	logger.Info("event stream client connected",
		zap.String("operator", service.GetOperator(c.Request.Context())),
		zap.String("ip", c.ClientIP()),
		zap.Int("types", len(types)),
	)

	client := &service.Client{
		Send:  make(chan v1.Event, 128),
		Types: types,
	}
	if !h.hub.Join(client) {
		c.SSEvent("error", "shutting down")
		return
	}
	defer h.hub.Leave(client)

	var maxSent int64
	if raw := c.Query("last_seq"); raw != "" {
		lastSeq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.SSEvent("error", "invalid last_seq")
			return
		}
		maxSent = lastSeq
		events, ok := h.hub.Replay(lastSeq)
		if !ok {
			c.SSEvent("reset", "seq_too_old")
		}
		for _, e := range events {
			if len(types) > 0 && !types[e.Type] {
				continue
			}
			c.SSEvent("event", e)
			maxSent = e.Seq
		}
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-client.Send:
			if !ok {
				return false
			}
			if e.Type == constraints.EventPing {
				c.SSEvent("ping", "pong")
				return true
			}
			// already delivered by the replay
			if e.Seq <= maxSent {
				return true
			}
			c.SSEvent("event", e)
			maxSent = e.Seq
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
