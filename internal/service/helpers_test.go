package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recoverflow/internal/repository"
	"recoverflow/internal/transport"
	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingBus keeps every published event in order.
type recordingBus struct {
	mu     sync.Mutex
	events []v1.Event
}

func (b *recordingBus) Publish(_ context.Context, e v1.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) OfType(eventType string) []v1.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []v1.Event
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeSender records sent messages. failures[destination] makes that many
// sends to the destination fail first.
type fakeSender struct {
	mu       sync.Mutex
	sent     []transport.OutgoingMessage
	failures map[string]int
}

func (s *fakeSender) Send(_ context.Context, msg transport.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[msg.Destination] > 0 {
		s.failures[msg.Destination]--
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Sent() []transport.OutgoingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.OutgoingMessage(nil), s.sent...)
}

func notification(uniqueID string, failedAt time.Time) v1.FailureNotification {
	return v1.FailureNotification{
		UniqueMessageID: uniqueID,
		MessageID:       "msg-" + uniqueID,
		MessageType:     "Billing.Commands.ChargeCard",
		ContentType:     "application/json",
		ReceivingEndpoint: &v1.EndpointDetails{
			Name:   "billing",
			Host:   "billing-01",
			HostID: "h-01",
		},
		Headers: map[string]string{"bus.ConversationId": "conv-" + uniqueID},
		Body:    []byte(fmt.Sprintf(`{"id":%q}`, uniqueID)),
		Failure: v1.FailureDetails{
			ExceptionType:            "System.TimeoutException",
			ExceptionMessage:         "gateway timed out",
			StackTrace:               "System.TimeoutException: gateway timed out\n   at Billing.Gateway.Charge() in Gateway.cs:line 42",
			AddressOfFailingEndpoint: "billing@billing-01",
			TimeOfFailure:            failedAt,
		},
	}
}

type fixture struct {
	clock     *fakeClock
	store     *repository.MemoryStore
	bus       *recordingBus
	sender    *fakeSender
	ingestion *IngestionService
	history   *HistoryService
	retry     *RetryService
	processor *BatchProcessor
	archive   *ArchiveService
	resolve   *ResolveService
	groups    *GroupService
}

func newFixture(batchSize int) *fixture {
	clock := newFakeClock()
	store := repository.NewMemoryStore()
	store.SetClock(clock.Now)
	bus := &recordingBus{}
	sender := &fakeSender{failures: map[string]int{}}

	history := NewHistoryService(store, 10, 3)
	retry := NewRetryService(store, store, store, history, bus, nil, batchSize, 3)
	retry.now = clock.Now
	processor := NewBatchProcessor(store, store, store, sender, bus, retry, nil, BatchProcessorOptions{
		Parallelism:        2,
		MaxSendAttempts:    2,
		StaleAfter:         time.Minute,
		PickLimit:          100,
		MaxConflictRetries: 3,
	})
	processor.now = clock.Now
	archive := NewArchiveService(store, store, bus, nil)
	archive.now = clock.Now

	return &fixture{
		clock:     clock,
		store:     store,
		bus:       bus,
		sender:    sender,
		ingestion: NewIngestionService(store, store, nil, bus, nil, 3),
		history:   history,
		retry:     retry,
		processor: processor,
		archive:   archive,
		resolve:   NewResolveService(store, bus, 3),
		groups:    NewGroupService(store, store),
	}
}

// seed ingests n distinct failures and returns their failed message ids.
func (f *fixture) seed(ctx context.Context, prefix string, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		res, err := f.ingestion.Ingest(ctx, notification(fmt.Sprintf("%s-%03d", prefix, i), t0))
		if err != nil {
			panic(err)
		}
		ids = append(ids, res.FailedMessageID)
	}
	return ids
}

func repositoryAll() repository.Predicate { return repository.Predicate{} }
