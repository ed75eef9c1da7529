package buffer

import (
	"sort"
	"sync"

	v1 "recoverflow/pkg/api/v1"
)

// EventBuffer keeps the most recent events in a ring so live stream clients
// can catch up after a reconnect. Events must be added in Seq order.
type EventBuffer struct {
	mu     sync.RWMutex
	events []v1.Event
	size   int
	head   int
	isFull bool
}

func NewEventBuffer(size int) *EventBuffer {
	if size <= 0 {
		size = 1000
	}
	return &EventBuffer{
		events: make([]v1.Event, size),
		size:   size,
	}
}

func (b *EventBuffer) Add(e v1.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.head] = e
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.isFull = true
	}
}

// Since returns the events after lastSeq. ok is false when events after
// lastSeq have already been evicted and the caller has to resync from the
// store.
func (b *EventBuffer) Since(lastSeq int64) ([]v1.Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.head
	start := 0
	if b.isFull {
		count = b.size
		start = b.head
	}
	if count == 0 {
		return nil, true
	}

	if lastSeq < b.events[start].Seq-1 {
		return nil, false
	}

	// logical index i lives at physical (start + i) % size
	idx := sort.Search(count, func(i int) bool {
		return b.events[(start+i)%b.size].Seq > lastSeq
	})
	if idx == count {
		return nil, true
	}

	result := make([]v1.Event, 0, count-idx)
	for i := idx; i < count; i++ {
		result = append(result, b.events[(start+i)%b.size])
	}
	return result, true
}

// LastSeq returns the newest buffered Seq, or zero when empty.
func (b *EventBuffer) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.head == 0 && !b.isFull {
		return 0
	}
	return b.events[(b.head-1+b.size)%b.size].Seq
}
