// Package notify turns unread-counter movement into push notifications.
// The dispatcher observes thread state, detects counter increases, and
// hands renderable notifications to a pluggable sink behind a bounded
// queue and a per-recipient rate limit. Delivery is best-effort; dropping
// a push never affects message or counter state.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// Sink delivers one rendered notification to a push provider.
type Sink interface {
	Push(ctx context.Context, n *Notification) error
}

// LogSink writes notifications to the process log. It is the default
// sink when no provider is configured.
type LogSink struct{}

func (LogSink) Push(_ context.Context, n *Notification) error {
	logger.Info("push_notification",
		"user", n.User, "thread", n.Thread, "title", n.Title, "badge", n.Badge)
	return nil
}

// Config carries the dispatcher's tunables.
type Config struct {
	// QueueCapacity bounds the in-memory delivery queue.
	QueueCapacity int
	// RPS and Burst shape the per-recipient delivery rate.
	RPS   float64
	Burst int
	// Workers is the number of delivery goroutines. <= 0 means 1.
	Workers int
}

// Dispatcher watches thread metadata and emits a notification whenever a
// recipient's unread counter rises, unless the recipient currently has
// the thread open. A recipient's own sends never raise their counter, so
// counter movement is always attributable to the peer.
type Dispatcher struct {
	sink    Sink
	queue   *Queue
	limits  *limiterPool
	workers int

	mu      sync.Mutex
	seen    map[string]map[string]int64
	viewing map[string]string
}

// New returns a Dispatcher delivering through sink. A nil sink logs.
func New(cfg Config, sink Sink) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		sink:    sink,
		queue:   NewQueue(cfg.QueueCapacity),
		limits:  &limiterPool{rps: cfg.RPS, burst: cfg.Burst},
		workers: workers,
		seen:    make(map[string]map[string]int64),
		viewing: make(map[string]string),
	}
}

// SetViewing records that user currently has threadID open, suppressing
// pushes for it. An empty threadID clears the record.
func (d *Dispatcher) SetViewing(user, threadID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if threadID == "" {
		delete(d.viewing, user)
		return
	}
	d.viewing[user] = threadID
}

// Queue exposes the delivery queue for instrumentation.
func (d *Dispatcher) Queue() *Queue { return d.queue }

// Run watches thread state and delivers until ctx is canceled. The first
// scan only seeds counter baselines; a restart never re-notifies old
// unread state.
func (d *Dispatcher) Run(ctx context.Context) {
	d.scan(true)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.deliver(ctx)
		}()
	}

	kicks := store.WatchPrefix(ctx, "thread:")
	for {
		select {
		case <-ctx.Done():
			d.queue.CloseAndDrain()
			wg.Wait()
			return
		case _, ok := <-kicks:
			if !ok {
				d.queue.CloseAndDrain()
				wg.Wait()
				return
			}
			d.scan(false)
		}
	}
}

// scan walks every thread's metadata and enqueues notifications for
// counter increases. seed suppresses emission and only records baselines.
func (d *Dispatcher) scan(seed bool) {
	kvs, err := store.List("thread:", 0)
	if err != nil {
		logger.Error("notify_scan_failed", "error", err)
		return
	}
	for _, kv := range kvs {
		if !strings.HasSuffix(kv.Key, ":meta") {
			continue
		}
		var t models.Thread
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			logger.Warn("notify_thread_decode_failed", "key", kv.Key, "error", err)
			continue
		}
		d.diff(&t, seed)
	}
}

func (d *Dispatcher) diff(t *models.Thread, seed bool) {
	d.mu.Lock()
	prev := d.seen[t.ID]
	if prev == nil {
		prev = make(map[string]int64)
		d.seen[t.ID] = prev
	}
	type hit struct {
		user  string
		badge int64
	}
	var hits []hit
	for user, count := range t.UnreadCounts {
		was := prev[user]
		prev[user] = count
		if seed || count <= was {
			continue
		}
		if d.viewing[user] == t.ID {
			continue
		}
		hits = append(hits, hit{user: user, badge: count})
	}
	d.mu.Unlock()

	for _, h := range hits {
		// Only the peer's messages raise a participant's counter, so the
		// sender is the other participant even when rapid commits coalesce
		// into one scan and the preview already shows the recipient's own
		// later message.
		sender := t.Other(h.user)
		n := Notification{
			User:   h.user,
			Thread: t.ID,
			Title:  t.Profiles[sender].Name,
			Body:   t.LastMessage,
			Badge:  h.badge,
			TS:     t.LastMessageTS,
		}
		if n.Title == "" {
			n.Title = sender
		}
		if err := d.queue.TryEnqueue(n); err != nil {
			telemetry.NotificationsDropped.Inc()
			logger.Warn("notify_enqueue_dropped", "user", h.user, "thread", t.ID)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context) {
	for it := range d.queue.Out() {
		func(it *Item) {
			defer it.Done()
			if !d.limits.Allow(it.N.User) {
				telemetry.NotificationsDropped.Inc()
				return
			}
			if err := d.sink.Push(ctx, it.N); err != nil {
				telemetry.NotificationsDropped.Inc()
				logger.Warn("notify_push_failed", "user", it.N.User, "error", err)
				return
			}
			telemetry.NotificationsEmitted.Inc()
		}(it)
	}
}
