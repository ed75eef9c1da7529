package buffer

import (
	"sync"
	"testing"
	"time"

	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func TestEventBuffer_Lifecycle(t *testing.T) {
	buf := NewEventBuffer(3)

	events, ok := buf.Since(0)
	if !ok || len(events) != 0 {
		t.Error("empty buffer should return nothing and ok=true")
	}

	buf.Add(v1.Event{Seq: 1})
	buf.Add(v1.Event{Seq: 2})
	buf.Add(v1.Event{Seq: 3})

	// 0 directly precedes the oldest buffered event, nothing is missing
	events, ok = buf.Since(0)
	if !ok || len(events) != 3 {
		t.Fatalf("expected all 3 events, got %d ok=%v", len(events), ok)
	}

	// wrap around, buffer now holds [2, 3, 4]
	buf.Add(v1.Event{Seq: 4})

	if _, ok = buf.Since(0); ok {
		t.Error("Since(0) should require a resync once 1 is evicted")
	}

	events, ok = buf.Since(2)
	if !ok {
		t.Fatal("Since(2) should be valid")
	}
	if len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 4 {
		t.Errorf("expected [3 4], got %+v", events)
	}

	events, ok = buf.Since(4)
	if !ok || len(events) != 0 {
		t.Errorf("expected up to date, got %d ok=%v", len(events), ok)
	}

	if buf.LastSeq() != 4 {
		t.Errorf("expected last seq 4, got %d", buf.LastSeq())
	}
}

func TestEventBuffer_Concurrency(t *testing.T) {
	buf := NewEventBuffer(1000)
	done := make(chan struct{})
	count := 5000

	go func() {
		for i := 1; i <= count; i++ {
			buf.Add(v1.Event{Seq: int64(i)})
			time.Sleep(2 * time.Microsecond)
		}
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeq int64
			timeout := time.After(5 * time.Second)
			for {
				select {
				case <-done:
					return
				case <-timeout:
					t.Error("test timed out")
					return
				default:
					events, ok := buf.Since(lastSeq)
					if !ok {
						// fell behind, jump to the newest like a resyncing client
						lastSeq = buf.LastSeq()
						continue
					}
					for _, e := range events {
						if e.Seq != lastSeq+1 {
							t.Errorf("gap in replay: %d after %d", e.Seq, lastSeq)
							return
						}
						lastSeq = e.Seq
					}
				}
			}
		}()
	}
	wg.Wait()
}
