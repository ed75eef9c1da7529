package repository

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"recoverflow/internal/model"
)

// MemoryStore implements every storage interface in process. A single mutex
// serializes access; optimistic concurrency is still enforced through
// versions so callers behave the same as against MySQL and etcd.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	messages      map[string]*model.FailedMessage
	nextAttemptID uint64
	comments      map[string]model.GroupComment
	bodies        map[string]model.MessageBody

	operations map[string]*model.RetryOperation
	batches    map[string]*model.RetryBatch
	claims     map[string]model.RetryClaim

	history    []byte
	historyRev int64

	apiKeys map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:        time.Now,
		messages:   make(map[string]*model.FailedMessage),
		comments:   make(map[string]model.GroupComment),
		bodies:     make(map[string]model.MessageBody),
		operations: make(map[string]*model.RetryOperation),
		batches:    make(map[string]*model.RetryBatch),
		claims:     make(map[string]model.RetryClaim),
		apiKeys:    make(map[string]bool),
	}
}

// SetClock replaces the time source used to stamp LastModified.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) AddAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key] = true
}

// FailureStore

func (s *MemoryStore) Load(_ context.Context, id string) (*model.FailedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, m *model.FailedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return ErrAlreadyExists
	}
	for i := range m.ProcessingAttempts {
		s.nextAttemptID++
		m.ProcessingAttempts[i].ID = s.nextAttemptID
		m.ProcessingAttempts[i].FailedMessageID = m.ID
	}
	for i := range m.FailureGroups {
		m.FailureGroups[i].FailedMessageID = m.ID
	}
	m.Version = 1
	m.LastModified = s.now().UTC()
	s.messages[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) Save(_ context.Context, m *model.FailedMessage, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[m.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrencyConflict
	}

	next := m.Clone()
	// stored attempts are immutable, only new ones are taken from m
	next.ProcessingAttempts = slices.Clone(cur.ProcessingAttempts)
	for i := range m.ProcessingAttempts {
		if m.ProcessingAttempts[i].ID != 0 {
			continue
		}
		s.nextAttemptID++
		m.ProcessingAttempts[i].ID = s.nextAttemptID
		m.ProcessingAttempts[i].FailedMessageID = m.ID
		next.ProcessingAttempts = append(next.ProcessingAttempts, m.ProcessingAttempts[i])
	}
	next.FailureGroups = slices.Clone(cur.FailureGroups)
	for _, g := range m.FailureGroups {
		if !slices.ContainsFunc(next.FailureGroups, func(x model.FailureGroup) bool { return x.GroupID == g.GroupID }) {
			g.FailedMessageID = m.ID
			next.FailureGroups = append(next.FailureGroups, g)
		}
	}

	next.Version = expectedVersion + 1
	next.LastModified = s.now().UTC()
	s.messages[m.ID] = next.Clone()

	m.Version = next.Version
	m.LastModified = next.LastModified
	return nil
}

func (s *MemoryStore) Query(_ context.Context, p Predicate) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matching(p), nil
}

func (s *MemoryStore) BulkConditionalUpdate(_ context.Context, p Predicate, newStatus model.FailedMessageStatus) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.matching(p)
	now := s.now().UTC()
	for _, id := range ids {
		m := s.messages[id]
		m.Status = newStatus
		m.LastModified = now
		m.Version++
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) matching(p Predicate) []string {
	var ms []*model.FailedMessage
	for _, m := range s.messages {
		if matches(p, m) {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].LastModified.Equal(ms[j].LastModified) {
			return ms[i].LastModified.Before(ms[j].LastModified)
		}
		return ms[i].ID < ms[j].ID
	})
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

func matches(p Predicate, m *model.FailedMessage) bool {
	if len(p.IDs) > 0 && !slices.Contains(p.IDs, m.ID) {
		return false
	}
	if len(p.Statuses) > 0 && !slices.Contains(p.Statuses, m.Status) {
		return false
	}
	if p.ReceivingEndpoint != "" && m.ReceivingEndpoint != p.ReceivingEndpoint {
		return false
	}
	if p.FailingAddress != "" && m.FailingAddress != p.FailingAddress {
		return false
	}
	if p.GroupID != "" && !m.HasGroup(p.GroupID) {
		return false
	}
	if !p.ModifiedBefore.IsZero() && m.LastModified.After(p.ModifiedBefore) {
		return false
	}
	return true
}

// GroupStore

func (s *MemoryStore) GetGroup(_ context.Context, groupID string) (*model.FailureGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		for _, g := range m.FailureGroups {
			if g.GroupID == groupID || (g.LegacyGroupID != "" && g.LegacyGroupID == groupID) {
				return &g, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListGroups(_ context.Context, classifier string) ([]model.GroupSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[string]*model.GroupSummary)
	for _, m := range s.messages {
		if m.Status != model.StatusUnresolved {
			continue
		}
		for _, g := range m.FailureGroups {
			if classifier != "" && g.Type != classifier {
				continue
			}
			sum, ok := byID[g.GroupID]
			if !ok {
				sum = &model.GroupSummary{
					GroupID:   g.GroupID,
					Title:     g.Title,
					Type:      g.Type,
					FirstSeen: m.TimeOfFailure,
					LastSeen:  m.TimeOfFailure,
					Comment:   s.comments[g.GroupID].Comment,
				}
				byID[g.GroupID] = sum
			}
			sum.Count++
			if m.TimeOfFailure.Before(sum.FirstSeen) {
				sum.FirstSeen = m.TimeOfFailure
			}
			if m.TimeOfFailure.After(sum.LastSeen) {
				sum.LastSeen = m.TimeOfFailure
			}
		}
	}
	groups := make([]model.GroupSummary, 0, len(byID))
	for _, g := range byID {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].LastSeen.Equal(groups[j].LastSeen) {
			return groups[i].LastSeen.After(groups[j].LastSeen)
		}
		return groups[i].GroupID < groups[j].GroupID
	})
	return groups, nil
}

func (s *MemoryStore) SetComment(_ context.Context, c *model.GroupComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.GroupID] = *c
	return nil
}

func (s *MemoryStore) DeleteComment(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comments, groupID)
	return nil
}

// BodyStore

func (s *MemoryStore) PutBody(_ context.Context, b *model.MessageBody) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bodies[b.ID]; ok {
		return nil
	}
	c := *b
	c.Body = slices.Clone(b.Body)
	c.Size = len(c.Body)
	s.bodies[b.ID] = c
	return nil
}

func (s *MemoryStore) GetBody(_ context.Context, ref string) (*model.MessageBody, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bodies[ref]
	if !ok {
		return nil, ErrNotFound
	}
	b.Body = slices.Clone(b.Body)
	return &b, nil
}

// RetryStore

func (s *MemoryStore) ClaimedAmong(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []string
	for _, id := range ids {
		if _, ok := s.claims[id]; ok {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (s *MemoryStore) StageRetry(_ context.Context, op *model.RetryOperation, batches []*model.RetryBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.operations[op.RequestID]; ok {
		return ErrAlreadyExists
	}
	if !op.Completed {
		for _, existing := range s.operations {
			if existing.ActiveScope != nil && *existing.ActiveScope == op.ScopeKey {
				return ErrAlreadyExists
			}
		}
	}
	for _, b := range batches {
		for _, id := range b.FailedMessageIDs {
			if _, ok := s.claims[id]; ok {
				return ErrConcurrencyConflict
			}
		}
	}

	now := s.now().UTC()
	if !op.Completed {
		scope := op.ScopeKey
		op.ActiveScope = &scope
	}
	s.operations[op.RequestID] = op.Clone()
	for _, b := range batches {
		b.Version = 1
		b.LastModified = now
		s.batches[b.ID] = b.Clone()
		for _, id := range b.FailedMessageIDs {
			s.claims[id] = model.RetryClaim{FailedMessageID: id, BatchID: b.ID, RequestID: op.RequestID, CreatedAt: now}
		}
	}
	return nil
}

func (s *MemoryStore) GetOperation(_ context.Context, requestID string) (*model.RetryOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return op.Clone(), nil
}

func (s *MemoryStore) ListOperations(_ context.Context, activeOnly bool, limit int) ([]*model.RetryOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]*model.RetryOperation, 0, len(s.operations))
	for _, op := range s.operations {
		if activeOnly && op.Completed {
			continue
		}
		ops = append(ops, op.Clone())
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].StartTime.After(ops[j].StartTime) })
	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

func (s *MemoryStore) CompleteOperation(_ context.Context, requestID string, failed bool, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[requestID]
	if !ok || op.Completed {
		return false, nil
	}
	t := at.UTC()
	op.Completed = true
	op.Failed = failed
	op.CompletionTime = &t
	op.ActiveScope = nil
	return true, nil
}

func (s *MemoryStore) PickBatches(_ context.Context, staleBefore time.Time, limit int) ([]*model.RetryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var picked []*model.RetryBatch
	for _, b := range s.batches {
		if b.Status == model.BatchStaging || (b.Status == model.BatchForwarding && b.LastModified.Before(staleBefore)) {
			picked = append(picked, b.Clone())
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if !picked[i].StartTime.Equal(picked[j].StartTime) {
			return picked[i].StartTime.Before(picked[j].StartTime)
		}
		return picked[i].ID < picked[j].ID
	})
	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	return picked, nil
}

func (s *MemoryStore) GetBatch(_ context.Context, id string) (*model.RetryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) SaveBatch(_ context.Context, b *model.RetryBatch, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.batches[b.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrencyConflict
	}
	now := s.now().UTC()
	cur.Status = b.Status
	cur.ForwardedCount = b.ForwardedCount
	cur.SkippedIDs = append([]string(nil), b.SkippedIDs...)
	cur.FailureReason = b.FailureReason
	cur.LastModified = now
	cur.Version = expectedVersion + 1
	b.Version = cur.Version
	b.LastModified = now
	return nil
}

func (s *MemoryStore) BatchesForRequest(_ context.Context, requestID string) ([]*model.RetryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RetryBatch
	for _, b := range s.batches {
		if b.RequestID == requestID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ReleaseClaims(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.claims {
		if c.BatchID == batchID {
			delete(s.claims, id)
		}
	}
	return nil
}

// ActiveClaims returns the claimed message ids mapped to their batch.
func (s *MemoryStore) ActiveClaims() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.claims))
	for id, c := range s.claims {
		out[id] = c.BatchID
	}
	return out
}

// HistoryStore

func (s *MemoryStore) LoadHistory(_ context.Context) (*model.RetryHistory, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &model.RetryHistory{}
	if s.history != nil {
		if err := json.Unmarshal(s.history, h); err != nil {
			return nil, 0, err
		}
	}
	return h, s.historyRev, nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, h *model.RetryHistory, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyRev != expectedRevision {
		return ErrConcurrencyConflict
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	s.history = raw
	s.historyRev++
	return nil
}

func (s *MemoryStore) ValidateAPIKey(_ context.Context, apiKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKeys[apiKey], nil
}

// MemoryOutbox is an in-process OutboxInterface.
type MemoryOutbox struct {
	mu     sync.Mutex
	events []model.OutboxEvent
	nextID int64
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Create(_ context.Context, e *model.OutboxEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	e.ID = o.nextID
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	o.events = append(o.events, *e)
	return nil
}

func (o *MemoryOutbox) FetchPending(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.OutboxEvent
	for _, e := range o.events {
		if e.Status != model.StatusPending {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *MemoryOutbox) UpdateStatus(_ context.Context, id int64, status int, retryCount int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.events {
		if o.events[i].ID == id {
			o.events[i].Status = status
			o.events[i].RetryCount = retryCount
			o.events[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// All returns every stored event in id order.
func (o *MemoryOutbox) All() []model.OutboxEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.events)
}
