package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	v1 "recoverflow/pkg/api/v1"
	"recoverflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamClient is the part of the redis client the stream transport uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

type RedisStreamOptions struct {
	ErrorStream  string
	Group        string
	Consumer     string
	ReadCount    int64
	BlockTimeout time.Duration
	// RedeliverAfter is how long an entry may stay unacked before it is
	// claimed and handed out again.
	RedeliverAfter time.Duration
}

// RedisStreamTransport sends retried messages to the stream named by their
// destination and reads failure notifications from the error stream through
// a consumer group.
type RedisStreamTransport struct {
	client StreamClient
	opts   RedisStreamOptions

	setupOnce sync.Once
	setupErr  error

	// cursor walks this consumer's unacknowledged entries once after start;
	// it becomes ">" when they are exhausted.
	mu     sync.Mutex
	cursor string

	// claimStart resumes an XAUTOCLAIM scan across calls.
	now        func() time.Time
	nextSweep  time.Time
	claimStart string
}

func NewRedisStreamTransport(client StreamClient, opts RedisStreamOptions) *RedisStreamTransport {
	if opts.ReadCount <= 0 {
		opts.ReadCount = 32
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 2 * time.Second
	}
	if opts.RedeliverAfter <= 0 {
		opts.RedeliverAfter = 30 * time.Second
	}
	return &RedisStreamTransport{client: client, opts: opts, cursor: "0", now: time.Now, claimStart: "0-0"}
}

func (t *RedisStreamTransport) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

func (t *RedisStreamTransport) Send(ctx context.Context, msg OutgoingMessage) error {
	if msg.Destination == "" {
		return errors.New("message has no destination")
	}
	values, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Destination,
		Values: values,
	}).Err()
}

func (t *RedisStreamTransport) setup(ctx context.Context) error {
	t.setupOnce.Do(func() {
		err := t.client.XGroupCreateMkStream(ctx, t.opts.ErrorStream, t.opts.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			t.setupErr = err
		}
	})
	return t.setupErr
}

// Receive blocks up to the configured timeout for new notifications. After a
// restart it first hands back entries this consumer read but never acked.
// Once running, entries left unacked for RedeliverAfter by any consumer of
// the group are claimed and returned again.
func (t *RedisStreamTransport) Receive(ctx context.Context) ([]Delivery, error) {
	if err := t.setup(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	start := t.cursor
	t.mu.Unlock()

	if start == ">" {
		if claimed := t.reclaim(ctx); len(claimed) > 0 {
			return claimed, nil
		}
	}

	args := &redis.XReadGroupArgs{
		Group:    t.opts.Group,
		Consumer: t.opts.Consumer,
		Streams:  []string{t.opts.ErrorStream, start},
		Count:    t.opts.ReadCount,
	}
	if start == ">" {
		args.Block = t.opts.BlockTimeout
	}

	streams, err := t.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
		streams = nil
	}

	var out []Delivery
	for _, s := range streams {
		for _, xmsg := range s.Messages {
			d := Delivery{ID: xmsg.ID, Stream: s.Stream}
			d.Notification, d.DecodeErr = decodeNotification(xmsg.Values)
			out = append(out, d)
		}
	}

	if start != ">" {
		t.mu.Lock()
		if len(out) == 0 {
			t.cursor = ">"
			logger.Debug("pending entries drained", zap.String("stream", t.opts.ErrorStream))
		} else {
			t.cursor = out[len(out)-1].ID
		}
		t.mu.Unlock()
	}
	return out, nil
}

// reclaim runs at most one XAUTOCLAIM step per half RedeliverAfter. A scan
// that did not reach the end of the pending list continues on the next call.
func (t *RedisStreamTransport) reclaim(ctx context.Context) []Delivery {
	t.mu.Lock()
	now := t.now()
	if now.Before(t.nextSweep) {
		t.mu.Unlock()
		return nil
	}
	t.nextSweep = now.Add(t.opts.RedeliverAfter / 2)
	from := t.claimStart
	t.mu.Unlock()

	msgs, next, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   t.opts.ErrorStream,
		Group:    t.opts.Group,
		Consumer: t.opts.Consumer,
		MinIdle:  t.opts.RedeliverAfter,
		Start:    from,
		Count:    t.opts.ReadCount,
	}).Result()
	if err != nil {
		logger.Warn("failed to claim idle notifications", zap.String("stream", t.opts.ErrorStream), zap.Error(err))
		return nil
	}

	t.mu.Lock()
	if next == "" || next == "0-0" {
		t.claimStart = "0-0"
	} else {
		t.claimStart = next
		t.nextSweep = time.Time{}
	}
	t.mu.Unlock()

	if len(msgs) == 0 {
		return nil
	}
	logger.Info("reclaimed idle notifications",
		zap.String("stream", t.opts.ErrorStream),
		zap.Int("count", len(msgs)),
	)
	out := make([]Delivery, 0, len(msgs))
	for _, xmsg := range msgs {
		d := Delivery{ID: xmsg.ID, Stream: t.opts.ErrorStream}
		d.Notification, d.DecodeErr = decodeNotification(xmsg.Values)
		out = append(out, d)
	}
	return out
}

func (t *RedisStreamTransport) Ack(ctx context.Context, d Delivery) error {
	return t.client.XAck(ctx, d.Stream, t.opts.Group, d.ID).Err()
}

// RedisEventPublisher appends domain events to a capped stream for
// downstream consumers.
type RedisEventPublisher struct {
	client StreamClient
	stream string
	maxLen int64
}

func NewRedisEventPublisher(client StreamClient, stream string, maxLen int64) *RedisEventPublisher {
	return &RedisEventPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisEventPublisher) PublishEvent(ctx context.Context, e v1.Event) error {
	values, err := encodeEvent(e)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: values,
	}).Err()
}
