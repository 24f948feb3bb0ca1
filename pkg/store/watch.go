package store

import (
	"context"
	"strings"
	"sync"
)

// The watch hub implements the change-subscription primitive: watchers
// register a key prefix and receive a coalesced kick after every commit
// touching it. Consumers re-read whatever state they need; nothing is
// buffered per subscriber, so a slow consumer can never build an
// unbounded backlog inside the store.

type watcher struct {
	prefix string
	ch     chan struct{}
}

var (
	hubMu    sync.Mutex
	watchers map[*watcher]struct{}
)

func resetHub() {
	hubMu.Lock()
	defer hubMu.Unlock()
	watchers = make(map[*watcher]struct{})
}

func publish(keys []string) {
	hubMu.Lock()
	defer hubMu.Unlock()
	for w := range watchers {
		for _, k := range keys {
			if strings.HasPrefix(k, w.prefix) {
				select {
				case w.ch <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

func register(prefix string) *watcher {
	w := &watcher{prefix: prefix, ch: make(chan struct{}, 1)}
	hubMu.Lock()
	if watchers == nil {
		watchers = make(map[*watcher]struct{})
	}
	watchers[w] = struct{}{}
	hubMu.Unlock()
	return w
}

func unregister(w *watcher) {
	hubMu.Lock()
	if _, ok := watchers[w]; ok {
		delete(watchers, w)
		close(w.ch)
	}
	hubMu.Unlock()
}

// WatchPrefix returns a channel that receives a signal after every commit
// touching a key under prefix. Signals coalesce while the consumer is
// busy. The channel is closed when ctx is canceled.
func WatchPrefix(ctx context.Context, prefix string) <-chan struct{} {
	w := register(prefix)
	go func() {
		<-ctx.Done()
		unregister(w)
	}()
	return w.ch
}

// WatchKey streams the value at key: the current value is delivered
// immediately (nil when absent), then the latest value after each change.
// Intermediate values may coalesce; the final state is always delivered.
// The channel is closed when ctx is canceled.
func WatchKey(ctx context.Context, key string) <-chan []byte {
	w := register(key)
	out := make(chan []byte, 1)
	go func() {
		defer unregister(w)
		defer close(out)
		cur, err := Get(key)
		if err != nil && err != ErrNotFound {
			return
		}
		select {
		case out <- cur:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.ch:
				if !ok {
					return
				}
				v, err := Get(key)
				if err != nil && err != ErrNotFound {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
