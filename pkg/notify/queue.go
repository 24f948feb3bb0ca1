package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Notification is one push destined for a recipient's device. Payload is
// the rendered wire form and may be backed by a pooled buffer; consumers
// must call Item.Done() when finished with it.
type Notification struct {
	User    string `json:"user"`
	Thread  string `json:"thread"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Badge   int64  `json:"badge"`
	TS      int64  `json:"ts"`
	Payload []byte `json:"-"`
}

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("notify queue full")

// Item wraps a Notification and owns its pooled buffer. Consumers MUST
// call Done() exactly once after processing.
type Item struct {
	N *Notification

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// maxPooledBuffer is the largest buffer returned to the pool; bigger
// ones are dropped so the pool cannot pin large arrays.
var maxPooledBuffer = 256 * 1024

// Done releases the pooled payload buffer and notification.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		if it.N != nil {
			it.N.Payload = nil
			notifPool.Put(it.N)
			it.N = nil
		}
	})
}

var notifPool = sync.Pool{New: func() any { return &Notification{} }}

// Queue is a bounded in-memory queue between the dispatcher's delta
// detection and its delivery workers. Safe for concurrent producers.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
}

// NewQueue creates a bounded Queue. capacity <= 0 falls back to 1024.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the consumer side. Do not close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

// TryEnqueue renders n into a pooled buffer and enqueues it without
// blocking. A full queue drops the notification and returns ErrQueueFull;
// push delivery is best-effort and must never stall message commits.
func (q *Queue) TryEnqueue(n Notification) error {
	newN := notifPool.Get().(*Notification)
	*newN = n

	bb := bytebufferpool.Get()
	bb.B = bb.B[:0]
	enc, err := json.Marshal(&n)
	if err == nil {
		bb.B = append(bb.B, enc...)
	}
	newN.Payload = bb.B

	// allocated fresh: reusing an Item would mean resetting its Once,
	// which cannot be done without copying the lock
	it := &Item{N: newN, buf: bb}

	select {
	case q.ch <- it:
		return nil
	default:
		it.Done()
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// CloseAndDrain closes the queue and releases anything still buffered.
func (q *Queue) CloseAndDrain() {
	close(q.ch)
	for it := range q.ch {
		it.Done()
	}
}

// Len returns the number of buffered notifications.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns how many notifications were dropped for a full queue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
