package service

import (
	"context"
	"testing"
	"time"

	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
)

func receive(t *testing.T, c *Client) v1.Event {
	t.Helper()
	select {
	case e, ok := <-c.Send:
		if !ok {
			t.Fatal("client channel closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return v1.Event{}
}

func TestHub_BroadcastFiltersByType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil, time.Hour, 10)
	go hub.Run(ctx)

	all := &Client{Send: make(chan v1.Event, 4)}
	retries := &Client{Send: make(chan v1.Event, 4), Types: map[string]bool{constraints.EventRetryOperationCompleted: true}}
	hub.Register <- all
	hub.Register <- retries

	hub.Broadcast <- v1.Event{Seq: 1, Type: constraints.EventFailureRecorded}
	hub.Broadcast <- v1.Event{Seq: 2, Type: constraints.EventRetryOperationCompleted}

	if e := receive(t, all); e.Seq != 1 {
		t.Errorf("expected seq 1, got %d", e.Seq)
	}
	if e := receive(t, all); e.Seq != 2 {
		t.Errorf("expected seq 2, got %d", e.Seq)
	}
	if e := receive(t, retries); e.Seq != 2 {
		t.Errorf("filtered client expected seq 2, got %d", e.Seq)
	}
}

func TestHub_ReplayAfterReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil, time.Hour, 3)
	go hub.Run(ctx)

	c := &Client{Send: make(chan v1.Event, 8)}
	hub.Register <- c
	for seq := int64(1); seq <= 5; seq++ {
		hub.Broadcast <- v1.Event{Seq: seq, Type: constraints.EventFailureRecorded}
	}
	for i := 0; i < 5; i++ {
		receive(t, c)
	}

	events, ok := hub.Replay(3)
	if !ok || len(events) != 2 || events[0].Seq != 4 {
		t.Errorf("expected seq 4 and 5, got %v ok=%v", events, ok)
	}
	if _, ok := hub.Replay(1); ok {
		t.Error("expected replay from an evicted position to fail")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil, time.Hour, 10)
	go hub.Run(ctx)

	slow := &Client{Send: make(chan v1.Event, 1)}
	fast := &Client{Send: make(chan v1.Event, 8)}
	hub.Register <- slow
	hub.Register <- fast
	for seq := int64(1); seq <= 3; seq++ {
		hub.Broadcast <- v1.Event{Seq: seq, Type: constraints.EventFailureRecorded}
	}
	for i := 0; i < 3; i++ {
		receive(t, fast)
	}

	if e := receive(t, slow); e.Seq != 1 {
		t.Errorf("expected the buffered event first, got seq %d", e.Seq)
	}
	if _, ok := <-slow.Send; ok {
		t.Error("expected the slow client to be disconnected")
	}
}

func TestHub_ClosesClientsOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, time.Hour, 10)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	c := &Client{Send: make(chan v1.Event, 1)}
	hub.Register <- c
	cancel()
	<-done

	if _, ok := <-c.Send; ok {
		t.Error("expected client channel closed on shutdown")
	}
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, time.Hour, 10)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	c := &Client{Send: make(chan v1.Event, 1)}
	if hub.Join(c) {
		t.Error("joining a stopped hub must fail")
	}
	hub.Leave(c)
	for i := 0; i < 300; i++ {
		if err := hub.Publish(context.Background(), v1.Event{Seq: int64(i)}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
}
