package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"recoverflow/internal/model"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/constraints"
)

func TestRetryAll_ForwardsEveryMessageOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(20)
	ids := f.seed(ctx, "u", 50)

	requestID, err := f.retry.RetryAll(ctx)
	if err != nil {
		t.Fatalf("RetryAll failed: %v", err)
	}

	op, batches, err := f.retry.GetOperation(ctx, requestID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if op.NumberOfMessages != 50 || op.BatchCount != 3 || len(batches) != 3 {
		t.Fatalf("expected 50 messages in 3 batches, got %d in %d (%d stored)", op.NumberOfMessages, op.BatchCount, len(batches))
	}
	sizes := map[int]int{}
	for _, b := range batches {
		if b.RetrySessionID != op.RetrySessionID {
			t.Errorf("batch %s has session %s, want %s", b.ID, b.RetrySessionID, op.RetrySessionID)
		}
		sizes[b.InitialBatchSize]++
	}
	if sizes[20] != 2 || sizes[10] != 1 {
		t.Errorf("unexpected batch sizes %v", sizes)
	}
	if got := len(f.store.ActiveClaims()); got != 50 {
		t.Errorf("expected 50 claims while staged, got %d", got)
	}

	if err := f.processor.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending failed: %v", err)
	}

	if got := len(f.sender.Sent()); got != 50 {
		t.Errorf("expected 50 sends, got %d", got)
	}
	for _, id := range ids {
		m, _ := f.store.Load(ctx, id)
		if m.Status != model.StatusRetryIssued {
			t.Errorf("message %s is %s, want retryIssued", id, m.Status)
		}
	}
	if got := len(f.store.ActiveClaims()); got != 0 {
		t.Errorf("expected claims released, %d left", got)
	}

	completed := f.bus.OfType(constraints.EventRetryOperationCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected exactly 1 RetryOperationCompleted, got %d", len(completed))
	}
	var payload v1.RetryOperationCompleted
	completed[0].Decode(&payload)
	if payload.NumberOfMessages != 50 || payload.ForwardedCount != 50 || payload.Failed {
		t.Errorf("unexpected completion %+v", payload)
	}
	if got := len(f.bus.OfType(constraints.EventMessagesSubmittedForRetry)); got != 3 {
		t.Errorf("expected 3 MessagesSubmittedForRetry, got %d", got)
	}

	view, _ := f.history.Get(ctx)
	if len(view.HistoricOperations) != 1 || len(view.UnacknowledgedOperations) != 1 {
		t.Errorf("expected the operation in history, got %+v", view)
	}

	op, _, _ = f.retry.GetOperation(ctx, requestID)
	if !op.Completed || op.ActiveScope != nil {
		t.Errorf("expected completed operation with released scope, got %+v", op)
	}
}

func TestRetry_ForwardedMessageCarriesRetryHeaders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	ids := f.seed(ctx, "u", 1)

	requestID, err := f.retry.RequestRetry(ctx, RetryRequest{Type: v1.RetrySingleMessage, MessageIDs: ids})
	if err != nil {
		t.Fatalf("RequestRetry failed: %v", err)
	}
	f.processor.ProcessPending(ctx)

	sent := f.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sent))
	}
	msg := sent[0]
	if msg.Destination != "billing@billing-01" {
		t.Errorf("unexpected destination %q", msg.Destination)
	}
	if msg.Headers[constraints.HeaderRetryRequestID] != requestID {
		t.Errorf("missing request id header: %v", msg.Headers)
	}
	if msg.Headers[constraints.HeaderRetryUniqueMessageID] != "u-000" {
		t.Errorf("missing unique id header: %v", msg.Headers)
	}
	if msg.Headers["bus.ConversationId"] != "conv-u-000" {
		t.Errorf("original headers must be kept: %v", msg.Headers)
	}
	if string(msg.Body) != `{"id":"u-000"}` {
		t.Errorf("unexpected body %s", msg.Body)
	}
}

func TestRetry_SameScopeRejectedWhileActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	f.seed(ctx, "u", 3)

	if _, err := f.retry.RetryAll(ctx); err != nil {
		t.Fatalf("first RetryAll failed: %v", err)
	}
	if _, err := f.retry.RetryAll(ctx); !errors.Is(err, ErrRetryInProgress) {
		t.Fatalf("expected ErrRetryInProgress, got %v", err)
	}

	f.processor.ProcessPending(ctx)
	if _, err := f.retry.RetryAll(ctx); err != nil {
		t.Errorf("scope must be free after completion, got %v", err)
	}
}

func TestRetry_OverlappingScopesNeverShareMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	ids := f.seed(ctx, "u", 5)

	first, err := f.retry.RequestRetry(ctx, RetryRequest{Type: v1.RetrySingleMessage, MessageIDs: ids[:2]})
	if err != nil {
		t.Fatalf("RequestRetry failed: %v", err)
	}
	second, err := f.retry.RequestRetry(ctx, RetryRequest{Type: v1.RetryAllForEndpoint, Endpoint: "billing"})
	if err != nil {
		t.Fatalf("RequestRetry failed: %v", err)
	}

	op1, _, _ := f.retry.GetOperation(ctx, first)
	op2, _, _ := f.retry.GetOperation(ctx, second)
	if op1.NumberOfMessages != 2 || op2.NumberOfMessages != 3 {
		t.Errorf("expected 2 and 3 messages, got %d and %d", op1.NumberOfMessages, op2.NumberOfMessages)
	}

	f.processor.ProcessPending(ctx)
	seen := map[string]int{}
	for _, msg := range f.sender.Sent() {
		seen[msg.Headers[constraints.HeaderRetryUniqueMessageID]]++
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct messages forwarded, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("message %s forwarded %d times", id, n)
		}
	}
}

func TestRetry_EmptyScopeCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)

	requestID, err := f.retry.RequestRetry(ctx, RetryRequest{Type: v1.RetryByQueueAddress, QueueAddress: "nobody@nowhere"})
	if err != nil {
		t.Fatalf("RequestRetry failed: %v", err)
	}
	op, batches, _ := f.retry.GetOperation(ctx, requestID)
	if !op.Completed || op.NumberOfMessages != 0 || len(batches) != 0 {
		t.Errorf("expected completed empty operation, got %+v", op)
	}
	if got := len(f.bus.OfType(constraints.EventRetryOperationCompleted)); got != 1 {
		t.Errorf("expected 1 RetryOperationCompleted, got %d", got)
	}
}

func TestRetry_InvalidScopes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)

	tests := []struct {
		name string
		req  RetryRequest
		want error
	}{
		{name: "no ids", req: RetryRequest{Type: v1.RetrySingleMessage}, want: ErrInvalidScope},
		{name: "no endpoint", req: RetryRequest{Type: v1.RetryAllForEndpoint}, want: ErrInvalidScope},
		{name: "no queue", req: RetryRequest{Type: v1.RetryByQueueAddress}, want: ErrInvalidScope},
		{name: "unknown group", req: RetryRequest{Type: v1.RetryFailureGroup, GroupID: "nope"}, want: ErrGroupNotFound},
		{name: "unknown type", req: RetryRequest{Type: "everything"}, want: ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.retry.RequestRetry(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRetry_GroupScopeIncludesArchived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	ids := f.seed(ctx, "u", 4)
	m, _ := f.store.Load(ctx, ids[0])
	groupID := m.FailureGroups[0].GroupID

	f.clock.Advance(time.Minute)
	if _, err := f.archive.ArchiveGroup(ctx, groupID, time.Time{}); err != nil {
		t.Fatalf("ArchiveGroup failed: %v", err)
	}

	requestID, err := f.retry.RequestRetry(ctx, RetryRequest{Type: v1.RetryFailureGroup, GroupID: groupID})
	if err != nil {
		t.Fatalf("RequestRetry failed: %v", err)
	}
	op, _, _ := f.retry.GetOperation(ctx, requestID)
	if op.NumberOfMessages != 4 {
		t.Errorf("expected archived members to be retried, got %d", op.NumberOfMessages)
	}
	if op.Originator != m.FailureGroups[0].Title || op.Classifier != m.FailureGroups[0].Type {
		t.Errorf("unexpected originator %q classifier %q", op.Originator, op.Classifier)
	}
}

func TestBatchProcessor_MissingBodyFailsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	f.seed(ctx, "u", 2)

	orphan := &model.FailedMessage{ID: "orphan", UniqueMessageID: "orphan", Status: model.StatusUnresolved}
	orphan.AppendAttempt(model.ProcessingAttempt{
		BodyRef:        "missing",
		FailureDetails: model.FailureDetails{AddressOfFailingEndpoint: "billing@billing-01", TimeOfFailure: t0},
	})
	if err := f.store.Create(ctx, orphan); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	requestID, err := f.retry.RetryAll(ctx)
	if err != nil {
		t.Fatalf("RetryAll failed: %v", err)
	}
	f.processor.ProcessPending(ctx)

	op, batches, _ := f.retry.GetOperation(ctx, requestID)
	if !op.Completed || !op.Failed {
		t.Errorf("expected failed completion, got %+v", op)
	}
	if batches[0].Status != model.BatchFailed || batches[0].FailureReason == "" {
		t.Errorf("expected failed batch with reason, got %+v", batches[0])
	}
	m, _ := f.store.Load(ctx, "orphan")
	if m.Status != model.StatusUnresolved {
		t.Errorf("unsent message must stay unresolved, got %s", m.Status)
	}
	if got := len(f.store.ActiveClaims()); got != 0 {
		t.Errorf("expected claims released after failure, %d left", got)
	}
}

func TestBatchProcessor_SendRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failure recovers", func(t *testing.T) {
		f := newFixture(10)
		f.seed(ctx, "u", 1)
		f.sender.failures["billing@billing-01"] = 1

		requestID, _ := f.retry.RetryAll(ctx)
		f.processor.ProcessPending(ctx)

		op, _, _ := f.retry.GetOperation(ctx, requestID)
		if !op.Completed || op.Failed {
			t.Errorf("expected successful completion, got %+v", op)
		}
	})

	t.Run("persistent failure fails the batch", func(t *testing.T) {
		f := newFixture(10)
		f.seed(ctx, "u", 1)
		f.sender.failures["billing@billing-01"] = 5

		requestID, _ := f.retry.RetryAll(ctx)
		f.processor.ProcessPending(ctx)

		op, _, _ := f.retry.GetOperation(ctx, requestID)
		if !op.Failed {
			t.Errorf("expected failed operation, got %+v", op)
		}
		if got := len(f.bus.OfType(constraints.EventMessagesSubmittedForRetry)); got != 0 {
			t.Errorf("nothing was forwarded, got %d submitted events", got)
		}
	})
}

func TestBatchProcessor_ResumesStaleBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	f.seed(ctx, "u", 3)

	requestID, _ := f.retry.RetryAll(ctx)
	batches, _ := f.store.BatchesForRequest(ctx, requestID)
	b := batches[0]
	b.Status = model.BatchForwarding
	b.ForwardedCount = 1
	if err := f.store.SaveBatch(ctx, b, b.Version); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	f.processor.ProcessPending(ctx)
	if got := len(f.sender.Sent()); got != 0 {
		t.Fatalf("a fresh forwarding batch must not be picked, got %d sends", got)
	}

	f.clock.Advance(2 * time.Minute)
	f.processor.ProcessPending(ctx)
	if got := len(f.sender.Sent()); got != 2 {
		t.Errorf("expected the remaining 2 messages to be sent, got %d", got)
	}
	got, _ := f.store.GetBatch(ctx, b.ID)
	if got.Status != model.BatchCompleted || got.ForwardedCount != 3 {
		t.Errorf("expected completed batch at offset 3, got %s at %d", got.Status, got.ForwardedCount)
	}
}

func TestBatchProcessor_SkipsResolvedMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(10)
	ids := f.seed(ctx, "u", 2)

	requestID, _ := f.retry.RetryAll(ctx)
	f.resolve.MarkResolved(ctx, ids[0], t0.Add(time.Minute))
	f.processor.ProcessPending(ctx)

	if got := len(f.sender.Sent()); got != 1 {
		t.Errorf("expected only the unresolved message to be sent, got %d", got)
	}
	op, _, _ := f.retry.GetOperation(ctx, requestID)
	if !op.Completed || op.Failed {
		t.Errorf("expected successful completion, got %+v", op)
	}
	m, _ := f.store.Load(ctx, ids[0])
	if m.Status != model.StatusResolved {
		t.Errorf("resolved message must stay resolved, got %s", m.Status)
	}

	var completed v1.RetryOperationCompleted
	events := f.bus.OfType(constraints.EventRetryOperationCompleted)
	if len(events) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(events))
	}
	events[0].Decode(&completed)
	if completed.ForwardedCount != 1 {
		t.Errorf("forwarded count = %d, want 1", completed.ForwardedCount)
	}
	submitted := f.bus.OfType(constraints.EventMessagesSubmittedForRetry)
	if len(submitted) != 1 {
		t.Fatalf("expected 1 MessagesSubmittedForRetry, got %d", len(submitted))
	}
	var payload v1.MessagesSubmittedForRetry
	submitted[0].Decode(&payload)
	if len(payload.FailedMessageIDs) != 1 || payload.FailedMessageIDs[0] != ids[1] {
		t.Errorf("submitted ids = %v, want [%s]", payload.FailedMessageIDs, ids[1])
	}
	batches, _ := f.store.BatchesForRequest(ctx, requestID)
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if b := batches[0]; b.ForwardedCount != 2 || len(b.SkippedIDs) != 1 || b.SkippedIDs[0] != ids[0] {
		t.Errorf("batch forwarded=%d skipped=%v", b.ForwardedCount, b.SkippedIDs)
	}
}
