// Command loadtest pushes synthetic failure notifications onto the error
// stream so ingestion, grouping and retry can be exercised at volume.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"recoverflow/internal/transport"
	v1 "recoverflow/pkg/api/v1"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	redisAddr  = flag.String("redis", "127.0.0.1:6379", "Redis address")
	stream     = flag.String("stream", "error", "Error stream to write to")
	total      = flag.Int("n", 10000, "Notifications to send")
	workers    = flag.Int("c", 8, "Concurrent writers")
	perSecond  = flag.Float64("rate", 500, "Notifications per second across all writers")
	distinct   = flag.Float64("distinct", 0.8, "Share of notifications with a fresh unique message id, the rest repeat earlier ones")
	endpoints  = flag.Int("endpoints", 5, "Number of receiving endpoints")
	exceptions = flag.Int("exceptions", 4, "Number of exception types")
)

var (
	sent      int64
	repeats   int64
	sendFails int64
)

func main() {
	flag.Parse()

	fmt.Printf("Starting failure generator\n")
	fmt.Printf("   Stream: %s @ %s\n", *stream, *redisAddr)
	fmt.Printf("   Total: %d | Writers: %d | Rate: %.0f/s\n", *total, *workers, *perSecond)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Printf("redis unreachable: %v\n", err)
		os.Exit(1)
	}

	limiter := rate.NewLimiter(rate.Limit(*perSecond), *workers)
	ids := newIDPool(*distinct)

	reportCtx, stopReport := context.WithCancel(ctx)
	go report(reportCtx)

	start := time.Now()
	var next int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < *workers; w++ {
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))
			for {
				if atomic.AddInt64(&next, 1) > int64(*total) {
					return nil
				}
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				id, repeat := ids.pick(rnd)
				n := notification(rnd, id)
				err := rdb.XAdd(gctx, &redis.XAddArgs{
					Stream: *stream,
					Values: transport.EncodeNotification(n),
				}).Err()
				if err != nil {
					if atomic.AddInt64(&sendFails, 1) == 1 {
						fmt.Printf("XADD failed: %v\n", err)
					}
					continue
				}
				atomic.AddInt64(&sent, 1)
				if repeat {
					atomic.AddInt64(&repeats, 1)
				}
			}
		})
	}
	err := g.Wait()
	stopReport()

	elapsed := time.Since(start)
	fmt.Printf("Done in %v: sent %d (%d repeats), %d failed, %.0f/s\n",
		elapsed.Round(time.Millisecond), atomic.LoadInt64(&sent), atomic.LoadInt64(&repeats),
		atomic.LoadInt64(&sendFails), float64(atomic.LoadInt64(&sent))/elapsed.Seconds())
	if err != nil && ctx.Err() == nil {
		os.Exit(1)
	}
}

func report(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := atomic.LoadInt64(&sent)
			fmt.Printf("[%s] Sent: %d | Repeats: %d | Errors: %d | Msgs/s: %d\n",
				time.Now().Format("15:04:05"), cur, atomic.LoadInt64(&repeats),
				atomic.LoadInt64(&sendFails), cur-last)
			last = cur
		}
	}
}

func notification(rnd *rand.Rand, uniqueID string) v1.FailureNotification {
	ep := fmt.Sprintf("loadtest.endpoint-%d", rnd.Intn(*endpoints))
	host := fmt.Sprintf("host-%d", rnd.Intn(3))
	exc := fmt.Sprintf("LoadTest.Exception%d", rnd.Intn(*exceptions))
	now := time.Now().UTC()
	return v1.FailureNotification{
		UniqueMessageID: uniqueID,
		MessageID:       uuid.NewString(),
		MessageType:     fmt.Sprintf("LoadTest.Messages.Command%d", rnd.Intn(3)),
		ContentType:     "application/json",
		TimeSent:        now.Add(-time.Second),
		SendingEndpoint: &v1.EndpointDetails{Name: "loadtest.sender", Host: "generator"},
		ReceivingEndpoint: &v1.EndpointDetails{
			Name:   ep,
			Host:   host,
			HostID: uuid.NewSHA1(uuid.NameSpaceOID, []byte(host)).String(),
		},
		Headers: map[string]string{},
		Body:    fmt.Appendf(nil, `{"id":%q,"at":%d}`, uniqueID, now.UnixMilli()),
		Failure: v1.FailureDetails{
			ExceptionType:            exc,
			ExceptionMessage:         "synthetic failure",
			StackTrace:               exc + ": synthetic failure\n   at LoadTest.Handler.Handle()",
			AddressOfFailingEndpoint: ep + "@" + host,
			TimeOfFailure:            now,
		},
	}
}

// idPool hands out fresh unique message ids, or with 1-distinct odds one
// that was already sent, so the dedup path sees traffic too.
type idPool struct {
	distinct float64
	issued   atomic.Int64
	prefix   string
}

func newIDPool(distinct float64) *idPool {
	return &idPool{distinct: distinct, prefix: uuid.NewString()[:8]}
}

func (p *idPool) pick(rnd *rand.Rand) (string, bool) {
	n := p.issued.Load()
	if n > 0 && rnd.Float64() >= p.distinct {
		return fmt.Sprintf("%s-%d", p.prefix, rnd.Int63n(n)), true
	}
	return fmt.Sprintf("%s-%d", p.prefix, p.issued.Add(1)-1), false
}
