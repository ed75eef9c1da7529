package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"recoverflow/internal/model"
	"recoverflow/internal/repository"
	v1 "recoverflow/pkg/api/v1"
)

func historicOp(i int) v1.HistoricRetryOperation {
	return v1.HistoricRetryOperation{
		RequestID:        fmt.Sprintf("req-%02d", i),
		RetryType:        v1.RetryAll,
		StartTime:        t0.Add(time.Duration(i) * time.Minute),
		CompletionTime:   t0.Add(time.Duration(i)*time.Minute + time.Second),
		Originator:       "all failed messages",
		NumberOfMessages: i,
	}
}

func TestHistory_AcknowledgeTwice(t *testing.T) {
	ctx := context.Background()
	svc := NewHistoryService(repository.NewMemoryStore(), 10, 3)

	if err := svc.RecordCompletion(ctx, historicOp(1)); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}

	found, err := svc.Acknowledge(ctx, "req-01", v1.RetryAll)
	if err != nil || !found {
		t.Fatalf("expected first ack to succeed, got %v %v", found, err)
	}
	found, err = svc.Acknowledge(ctx, "req-01", v1.RetryAll)
	if err != nil || found {
		t.Fatalf("expected second ack to report nothing, got %v %v", found, err)
	}

	view, _ := svc.Get(ctx)
	if len(view.UnacknowledgedOperations) != 0 {
		t.Errorf("expected no unacknowledged operations, got %d", len(view.UnacknowledgedOperations))
	}
	if len(view.HistoricOperations) != 1 {
		t.Errorf("acknowledging must keep the history, got %d", len(view.HistoricOperations))
	}
}

func TestHistory_AcknowledgeMatchesRetryType(t *testing.T) {
	ctx := context.Background()
	svc := NewHistoryService(repository.NewMemoryStore(), 10, 3)
	svc.RecordCompletion(ctx, historicOp(1))

	found, _ := svc.Acknowledge(ctx, "req-01", v1.RetryFailureGroup)
	if found {
		t.Error("a different retry type must not match")
	}
}

func TestHistory_DepthTrimsOldest(t *testing.T) {
	ctx := context.Background()
	svc := NewHistoryService(repository.NewMemoryStore(), 5, 3)
	for i := 1; i <= 8; i++ {
		if err := svc.RecordCompletion(ctx, historicOp(i)); err != nil {
			t.Fatalf("RecordCompletion %d failed: %v", i, err)
		}
	}

	view, _ := svc.Get(ctx)
	if len(view.HistoricOperations) != 5 {
		t.Fatalf("expected 5 historic operations, got %d", len(view.HistoricOperations))
	}
	if view.HistoricOperations[0].RequestID != "req-08" || view.HistoricOperations[4].RequestID != "req-04" {
		t.Errorf("expected newest first, got %s..%s",
			view.HistoricOperations[0].RequestID, view.HistoricOperations[4].RequestID)
	}
	if len(view.UnacknowledgedOperations) != 8 {
		t.Errorf("unacknowledged operations are not trimmed, got %d", len(view.UnacknowledgedOperations))
	}
}

func TestHistory_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewHistoryService(repository.NewMemoryStore(), 10, 3)
	svc.RecordCompletion(ctx, historicOp(1))
	svc.RecordCompletion(ctx, historicOp(1))

	view, _ := svc.Get(ctx)
	if len(view.HistoricOperations) != 1 || len(view.UnacknowledgedOperations) != 1 {
		t.Errorf("expected a single entry, got %+v", view)
	}
}

// racingHistory saves a competing write right before the caller's first save.
type racingHistory struct {
	*repository.MemoryStore
	raced bool
}

func (s *racingHistory) SaveHistory(ctx context.Context, h *model.RetryHistory, expectedRevision int64) error {
	if !s.raced {
		s.raced = true
		other, rev, _ := s.MemoryStore.LoadHistory(ctx)
		other.AddToHistory(historicOp(99), 10)
		s.MemoryStore.SaveHistory(ctx, other, rev)
	}
	return s.MemoryStore.SaveHistory(ctx, h, expectedRevision)
}

func TestHistory_ConcurrentWriterIsRetried(t *testing.T) {
	ctx := context.Background()
	svc := NewHistoryService(&racingHistory{MemoryStore: repository.NewMemoryStore()}, 10, 3)

	if err := svc.RecordCompletion(ctx, historicOp(1)); err != nil {
		t.Fatalf("RecordCompletion failed: %v", err)
	}
	view, _ := svc.Get(ctx)
	if len(view.HistoricOperations) != 2 {
		t.Errorf("expected both writes to survive, got %+v", view.HistoricOperations)
	}
}
