// Package relay moves opaque signaling payloads between the two parties
// of a call session. Each session has two append-only lanes, one per
// role; a party publishes into its own lane and consumes the peer's.
// Payloads are never inspected beyond a size cap.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
)

var (
	// ErrSessionClosed rejects traffic for a terminal or unknown session.
	ErrSessionClosed = errors.New("relay: call session closed")

	// ErrPayloadTooLarge rejects oversized signaling payloads.
	ErrPayloadTooLarge = errors.New("relay: signal payload too large")
)

// DefaultMaxPayload caps a single signaling payload. WebRTC offers with
// many candidates stay well under this.
const DefaultMaxPayload = 64 << 10

var maxPayload atomic.Int64

func init() { maxPayload.Store(DefaultMaxPayload) }

// SetMaxPayload overrides the payload size cap. n <= 0 restores the
// default.
func SetMaxPayload(n int64) {
	if n <= 0 {
		n = DefaultMaxPayload
	}
	maxPayload.Store(n)
}

// MaxPayload returns the current payload size cap in bytes.
func MaxPayload() int64 { return maxPayload.Load() }

// Send appends a payload to the session's lane for role. The terminal
// check and the append commit together, so no signal can land in a lane
// after its session closed.
func Send(sessionID string, role models.Role, payload json.RawMessage) (models.SignalEnvelope, error) {
	if !role.Valid() {
		return models.SignalEnvelope{}, fmt.Errorf("unknown signal role %q", role)
	}
	if int64(len(payload)) > MaxPayload() {
		telemetry.SignalsRejected.Inc()
		return models.SignalEnvelope{}, ErrPayloadTooLarge
	}
	env := models.SignalEnvelope{
		Session: sessionID,
		Role:    role,
		Payload: payload,
		TS:      time.Now().UTC().UnixNano(),
	}
	err := store.Update(func(tx *store.Tx) error {
		raw, err := tx.Get(store.SessionKey(sessionID))
		if err == store.ErrNotFound {
			return ErrSessionClosed
		}
		if err != nil {
			return err
		}
		var sess models.CallSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		if sess.State.Terminal() {
			return ErrSessionClosed
		}
		b, err := json.Marshal(env)
		if err != nil {
			return err
		}
		tx.Put(store.SignalPrefix(sessionID, string(role))+store.LogKey(env.TS), b)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			telemetry.SignalsRejected.Inc()
		}
		return models.SignalEnvelope{}, err
	}
	telemetry.SignalsRelayed.WithLabelValues(string(role)).Inc()
	return env, nil
}

// Subscribe streams the lane written by role, in publish order, without
// loss: everything already in the lane is replayed first, then new
// signals as they land. The channel closes once the session reaches a
// terminal state and the lane is drained, or when ctx is canceled.
// Subscribing to a closed or unknown session fails with ErrSessionClosed.
func Subscribe(ctx context.Context, sessionID string, role models.Role) (<-chan models.SignalEnvelope, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown signal role %q", role)
	}
	sess, err := loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State.Terminal() {
		return nil, ErrSessionClosed
	}

	lane := store.SignalPrefix(sessionID, string(role))
	kicks := store.WatchPrefix(ctx, lane)
	states := store.WatchKey(ctx, store.SessionKey(sessionID))

	out := make(chan models.SignalEnvelope, 16)
	telemetry.OpenSubscriptions.Inc()
	go func() {
		defer telemetry.OpenSubscriptions.Dec()
		defer close(out)
		last := ""
		drain := func() bool {
			kvs, err := store.ListAfter(lane, last, 0)
			if err != nil {
				logger.Error("relay_lane_scan_failed", "session", sessionID, "error", err)
				return false
			}
			for _, kv := range kvs {
				var env models.SignalEnvelope
				if err := json.Unmarshal(kv.Value, &env); err != nil {
					logger.Warn("relay_signal_decode_failed", "key", kv.Key, "error", err)
					last = kv.Key
					continue
				}
				select {
				case out <- env:
					last = kv.Key
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		if !drain() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-kicks:
				if !ok {
					return
				}
				if !drain() {
					return
				}
			case raw, ok := <-states:
				if !ok {
					return
				}
				var s models.CallSession
				if raw == nil || json.Unmarshal(raw, &s) != nil {
					continue
				}
				if s.State.Terminal() {
					// deliver anything buffered before the close
					drain()
					return
				}
			}
		}
	}()
	return out, nil
}

func loadSession(sessionID string) (models.CallSession, error) {
	raw, err := store.Get(store.SessionKey(sessionID))
	if err == store.ErrNotFound {
		return models.CallSession{}, ErrSessionClosed
	}
	if err != nil {
		return models.CallSession{}, err
	}
	var sess models.CallSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return models.CallSession{}, err
	}
	return sess, nil
}
