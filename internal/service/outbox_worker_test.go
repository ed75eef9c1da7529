package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []v1.Event
	failures  int
}

func (p *fakePublisher) PublishEvent(_ context.Context, e v1.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("stream unavailable")
	}
	p.published = append(p.published, e)
	return nil
}

func publishN(t *testing.T, bus *OutboxBus, n int) {
	t.Helper()
	ctx := WithTraceID(context.Background(), "trace-1")
	for i := 0; i < n; i++ {
		e, _ := v1.NewEvent(constraints.EventFailureRecorded, "fm-1", v1.FailureRecorded{FailedMessageID: "fm-1"})
		if err := bus.Publish(ctx, e); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
}

func TestOutboxWorker_RelaysInOrder(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryOutbox()
	publishN(t, NewOutboxBus(outbox), 3)

	pub := &fakePublisher{}
	hub := NewHub(nil, time.Minute, 10)
	w := NewOutboxWorker(outbox, pub, hub, time.Second, 10, 3)
	w.ProcessPending(ctx)

	if len(pub.published) != 3 {
		t.Fatalf("expected 3 published, got %d", len(pub.published))
	}
	for i, e := range pub.published {
		if e.Seq != int64(i+1) {
			t.Errorf("event %d has seq %d", i, e.Seq)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case e := <-hub.Broadcast:
			if e.Seq != int64(i+1) {
				t.Errorf("hub got seq %d, want %d", e.Seq, i+1)
			}
		default:
			t.Fatalf("expected event %d on the hub", i+1)
		}
	}
	for _, row := range outbox.All() {
		if row.Status != model.StatusCompleted {
			t.Errorf("row %d not completed", row.ID)
		}
		if row.TraceID != "trace-1" {
			t.Errorf("row %d lost trace id", row.ID)
		}
	}
}

func TestOutboxWorker_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryOutbox()
	publishN(t, NewOutboxBus(outbox), 2)

	pub := &fakePublisher{failures: 1}
	w := NewOutboxWorker(outbox, pub, nil, time.Second, 10, 3)

	w.ProcessPending(ctx)
	if len(pub.published) != 0 {
		t.Fatalf("later events must not overtake a failed one, got %d", len(pub.published))
	}
	rows := outbox.All()
	if rows[0].Status != model.StatusPending || rows[0].RetryCount != 1 {
		t.Errorf("expected pending with 1 retry, got %+v", rows[0])
	}

	w.ProcessPending(ctx)
	if len(pub.published) != 2 {
		t.Errorf("expected both events after recovery, got %d", len(pub.published))
	}
}

func TestOutboxWorker_GivesUpAfterMaxRetry(t *testing.T) {
	ctx := context.Background()
	outbox := repository.NewMemoryOutbox()
	publishN(t, NewOutboxBus(outbox), 1)

	pub := &fakePublisher{failures: 10}
	w := NewOutboxWorker(outbox, pub, nil, time.Second, 10, 2)
	w.ProcessPending(ctx)
	w.ProcessPending(ctx)

	if got := outbox.All()[0].Status; got != model.StatusFailed {
		t.Errorf("expected failed after max retries, got %d", got)
	}
}
