package thread

import (
	"context"
	"encoding/json"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

// Subscribe streams the thread's state: the current state is delivered
// immediately, then a fresh state after every mutation. Rapid mutations
// may coalesce, but the final state is always delivered. Subscribers are
// independent; canceling ctx closes the channel and releases the watch.
func Subscribe(ctx context.Context, threadID string) <-chan models.Thread {
	out := make(chan models.Thread, 1)
	values := store.WatchKey(ctx, store.ThreadKey(threadID))
	telemetry.OpenSubscriptions.Inc()
	go func() {
		defer telemetry.OpenSubscriptions.Dec()
		defer close(out)
		for raw := range values {
			if raw == nil {
				// thread not created yet; first state arrives on creation
				continue
			}
			var t models.Thread
			if err := json.Unmarshal(raw, &t); err != nil {
				logger.Warn("thread_state_decode_failed", "thread", threadID, "error", err)
				continue
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
