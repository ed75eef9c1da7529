package service

import (
	"context"
	"time"

	"recoverflow/internal/buffer"
	"recoverflow/internal/metrics"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
	"recoverflow/pkg/logger"

	"go.uber.org/zap"
)

// Client is one live event stream subscriber. An empty Types set receives
// every event type.
type Client struct {
	Send  chan v1.Event
	Types map[string]bool
}

func (c *Client) wants(eventType string) bool {
	return len(c.Types) == 0 || c.Types[eventType] || eventType == constraints.EventPing
}

// Hub fans relayed events out to stream clients and keeps a replay buffer
// for reconnects. All client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	Broadcast  chan v1.Event
	Register   chan *Client
	Unregister chan *Client

	buffer    *buffer.EventBuffer
	observer  metrics.HubObserver
	heartbeat time.Duration
	done      chan struct{}
}

func NewHub(observer metrics.HubObserver, heartbeat time.Duration, replaySize int) *Hub {
	if observer == nil {
		observer = metrics.Nop{}
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan v1.Event, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		buffer:     buffer.NewEventBuffer(replaySize),
		observer:   observer,
		heartbeat:  heartbeat,
		done:       make(chan struct{}),
	}
}

// Join registers c unless the hub has already stopped.
func (h *Hub) Join(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Publish hands e to the hub for fan-out. Events published after the hub
// stopped are dropped.
func (h *Hub) Publish(ctx context.Context, e v1.Event) error {
	select {
	case h.Broadcast <- e:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave unregisters c. It does not block once the hub has stopped.
func (h *Hub) Leave(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// Replay returns buffered events after lastSeq; ok is false when the
// client fell too far behind.
func (h *Hub) Replay(lastSeq int64) ([]v1.Event, bool) {
	return h.buffer.Since(lastSeq)
}

func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
				h.observer.DecOnline()
			}
			return
		case client := <-h.Register:
			h.clients[client] = true
			h.observer.IncOnline()
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.observer.DecOnline()
			}
		case e := <-h.Broadcast:
			h.buffer.Add(e)
			h.fanOut(e)
		case <-ticker.C:
			h.fanOut(v1.Event{Type: constraints.EventPing, OccurredAt: time.Now().UTC()})
		}
	}
}

func (h *Hub) fanOut(e v1.Event) {
	for client := range h.clients {
		if !client.wants(e.Type) {
			continue
		}
		select {
		case client.Send <- e:
			h.observer.RecordPush()
		default:
			logger.Warn("stream client too slow, disconnecting", zap.Int64("seq", e.Seq))
			close(client.Send)
			delete(h.clients, client)
			h.observer.DecOnline()
		}
	}
}
