// Package call coordinates 1:1 call sessions: a per-session state
// machine, a singleton active-call slot per thread, missed-call
// bookkeeping and deterministic teardown of session-scoped resources.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/thread"
)

var (
	// ErrAlreadyInCall means the thread's active-call slot holds a
	// non-terminal session. The caller should inform the user, not retry.
	ErrAlreadyInCall = errors.New("call already in progress for thread")

	// ErrStaleSession means the referenced session is not the thread's
	// current active session. Callers must discard the reference instead
	// of retrying against the same id.
	ErrStaleSession = errors.New("stale call session")
)

// Handle is a session-scoped resource (media capture, peer transport).
// The coordinator closes every attached handle exactly once when the
// session reaches a terminal state, whichever exit path gets there.
type Handle interface {
	Close() error
}

// Config carries the coordinator's tunables.
type Config struct {
	// RingTimeout ends an offering session as missed when the callee
	// never joins in time. Zero disables the timer; the caller's explicit
	// cancel then remains the only missed path.
	RingTimeout time.Duration
}

// Coordinator owns call-session lifecycle for the process.
type Coordinator struct {
	ringTimeout time.Duration

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	timer   *time.Timer
	handles []Handle
}

// New returns a Coordinator with the given config.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		ringTimeout: cfg.RingTimeout,
		live:        make(map[string]*liveSession),
	}
}

// Start creates a fresh call session for the thread and installs it in
// the thread's active-call slot, state offering. A new globally unique
// session id is allocated on every attempt, never reused; signaling from
// an abandoned attempt stays partitioned under the old id. Fails with
// ErrAlreadyInCall while a non-terminal session occupies the slot.
func (c *Coordinator) Start(threadID, callerID, calleeID string, typ models.CallType) (models.CallSession, error) {
	if !typ.Valid() {
		return models.CallSession{}, fmt.Errorf("unknown call type %q", typ)
	}
	sess := models.CallSession{
		ID:        uuid.NewString(),
		Thread:    threadID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		Type:      typ,
		State:     models.CallOffering,
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	err := store.Update(func(tx *store.Tx) error {
		traw, err := tx.Get(store.ThreadKey(threadID))
		if err == store.ErrNotFound {
			return thread.ErrNotFound
		}
		if err != nil {
			return err
		}
		var t models.Thread
		if err := json.Unmarshal(traw, &t); err != nil {
			return err
		}
		if !t.Has(callerID) || !t.Has(calleeID) || callerID == calleeID {
			return fmt.Errorf("caller/callee do not match thread %s participants", threadID)
		}
		sess.CallerName = t.Profiles[callerID].Name
		sess.CalleeName = t.Profiles[calleeID].Name

		if cur, err := activeSessionTx(tx, threadID); err != nil {
			return err
		} else if cur != nil && !cur.State.Terminal() {
			return ErrAlreadyInCall
		}

		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		tx.Put(store.SessionKey(sess.ID), b)
		tx.Put(store.ActiveCallKey(threadID), []byte(sess.ID))
		return nil
	})
	if err != nil {
		return models.CallSession{}, err
	}

	c.mu.Lock()
	ls := &liveSession{}
	if c.ringTimeout > 0 {
		sid, caller := sess.ID, sess.CallerID
		ls.timer = time.AfterFunc(c.ringTimeout, func() { c.ringExpired(sid, caller) })
	}
	c.live[sess.ID] = ls
	c.mu.Unlock()

	telemetry.CallsStarted.WithLabelValues(string(typ)).Inc()
	logger.Info("call_started", "session", sess.ID, "thread", threadID, "type", typ)
	return sess, nil
}

// Join transitions offering -> connecting on behalf of the callee.
// Fails with ErrStaleSession when the session is unknown, terminal, or no
// longer the thread's current active session. Joining an already
// connecting or connected session is a no-op.
func (c *Coordinator) Join(sessionID, calleeID string) (models.CallSession, error) {
	var out models.CallSession
	err := store.Update(func(tx *store.Tx) error {
		sess, err := currentSessionTx(tx, sessionID)
		if err != nil {
			return err
		}
		if sess.CalleeID != calleeID {
			return fmt.Errorf("%q is not the callee of session %s", calleeID, sessionID)
		}
		switch sess.State {
		case models.CallConnecting, models.CallConnected:
			out = *sess
			return nil
		case models.CallOffering:
		default:
			return ErrStaleSession
		}
		sess.State = models.CallConnecting
		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		tx.Put(store.SessionKey(sessionID), b)
		out = *sess
		return nil
	})
	if err != nil {
		return models.CallSession{}, err
	}
	c.stopRingTimer(sessionID)
	logger.Info("call_joined", "session", sessionID)
	return out, nil
}

// MarkConnected transitions connecting -> connected. Idempotent once
// connected; either side's transport adapter may report it first.
func (c *Coordinator) MarkConnected(sessionID string) error {
	err := store.Update(func(tx *store.Tx) error {
		sess, err := currentSessionTx(tx, sessionID)
		if err != nil {
			return err
		}
		switch sess.State {
		case models.CallConnected:
			return nil
		case models.CallConnecting:
		default:
			return fmt.Errorf("session %s is %s, not connecting", sessionID, sess.State)
		}
		sess.State = models.CallConnected
		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		tx.Put(store.SessionKey(sessionID), b)
		return nil
	})
	if err == nil {
		logger.Info("call_connected", "session", sessionID)
	}
	return err
}

// End moves any non-terminal session to a terminal state and clears the
// thread's active-call slot, but only while the slot still points at this
// session, so a slow stale end never clobbers a newer call. When the caller
// ends a session the callee never joined, the call is classified missed:
// a system notice lands in the thread and the callee's unread counter is
// bumped, atomically with the state transition. Ending an already
// terminal or unknown session is a no-op, so racing hangups from both
// ends are safe.
func (c *Coordinator) End(sessionID, endedBy string) error {
	outcome := ""
	err := store.Update(func(tx *store.Tx) error {
		sess, err := sessionTx(tx, sessionID)
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if sess.State.Terminal() {
			return nil
		}

		missed := sess.State == models.CallOffering && endedBy == sess.CallerID
		if missed {
			sess.State = models.CallMissed
			text := fmt.Sprintf("Missed %s call", sess.Type)
			if _, err := thread.AppendTx(tx, sess.Thread, sess.CallerID, text, true); err != nil {
				return err
			}
		} else {
			sess.State = models.CallEnded
		}
		sess.EndedTS = time.Now().UTC().UnixNano()
		sess.EndedBy = endedBy

		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		tx.Put(store.SessionKey(sessionID), b)
		clearSlotTx(tx, sess.Thread, sessionID)
		outcome = string(sess.State)
		return nil
	})
	if err != nil {
		return err
	}
	if outcome != "" {
		c.teardown(sessionID)
		telemetry.CallsFinished.WithLabelValues(outcome).Inc()
		logger.Info("call_finished", "session", sessionID, "outcome", outcome, "by", endedBy)
	}
	return nil
}

// Decline is the callee-only offering -> declined transition. It clears
// the slot and appends no missed-call notice; declining is distinct from
// missing. Declining an already terminal session is a no-op.
func (c *Coordinator) Decline(sessionID, calleeID string) error {
	declined := false
	err := store.Update(func(tx *store.Tx) error {
		sess, err := sessionTx(tx, sessionID)
		if err == store.ErrNotFound {
			return ErrStaleSession
		}
		if err != nil {
			return err
		}
		if sess.State.Terminal() {
			return nil
		}
		if sess.CalleeID != calleeID {
			return fmt.Errorf("%q is not the callee of session %s", calleeID, sessionID)
		}
		if sess.State != models.CallOffering {
			return ErrStaleSession
		}
		sess.State = models.CallDeclined
		sess.EndedTS = time.Now().UTC().UnixNano()
		sess.EndedBy = calleeID
		b, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		tx.Put(store.SessionKey(sessionID), b)
		clearSlotTx(tx, sess.Thread, sessionID)
		declined = true
		return nil
	})
	if err != nil {
		return err
	}
	if declined {
		c.teardown(sessionID)
		telemetry.CallsFinished.WithLabelValues(string(models.CallDeclined)).Inc()
		logger.Info("call_declined", "session", sessionID)
	}
	return nil
}

// Get returns the stored session, or ErrStaleSession when unknown.
func (c *Coordinator) Get(sessionID string) (models.CallSession, error) {
	raw, err := store.Get(store.SessionKey(sessionID))
	if err == store.ErrNotFound {
		return models.CallSession{}, ErrStaleSession
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

// Active returns the thread's current active session, if any.
func (c *Coordinator) Active(threadID string) (models.CallSession, bool, error) {
	raw, err := store.Get(store.ActiveCallKey(threadID))
	if err == store.ErrNotFound {
		return models.CallSession{}, false, nil
	}
	if err != nil {
		return models.CallSession{}, false, err
	}
	sess, err := c.Get(string(raw))
	if err != nil {
		return models.CallSession{}, false, err
	}
	return sess, !sess.State.Terminal(), nil
}

func (c *Coordinator) ringExpired(sessionID, callerID string) {
	sess, err := c.Get(sessionID)
	if err != nil || sess.State != models.CallOffering {
		return
	}
	logger.Info("call_ring_timeout", "session", sessionID)
	if err := c.End(sessionID, callerID); err != nil {
		logger.Error("call_ring_timeout_end_failed", "session", sessionID, "error", err)
	}
}

func (c *Coordinator) stopRingTimer(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ls, ok := c.live[sessionID]; ok && ls.timer != nil {
		ls.timer.Stop()
		ls.timer = nil
	}
}

// sessionTx loads a session inside a transaction.
func sessionTx(tx *store.Tx, sessionID string) (*models.CallSession, error) {
	raw, err := tx.Get(store.SessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	var sess models.CallSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// currentSessionTx loads a session and verifies it still occupies its
// thread's active-call slot.
func currentSessionTx(tx *store.Tx, sessionID string) (*models.CallSession, error) {
	sess, err := sessionTx(tx, sessionID)
	if err == store.ErrNotFound {
		return nil, ErrStaleSession
	}
	if err != nil {
		return nil, err
	}
	slot, err := tx.Get(store.ActiveCallKey(sess.Thread))
	if err == store.ErrNotFound || (err == nil && string(slot) != sessionID) {
		return nil, ErrStaleSession
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// activeSessionTx resolves the thread's slot to its session, nil when the
// slot is empty.
func activeSessionTx(tx *store.Tx, threadID string) (*models.CallSession, error) {
	slot, err := tx.Get(store.ActiveCallKey(threadID))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess, err := sessionTx(tx, string(slot))
	if err == store.ErrNotFound {
		// dangling slot; treat as free
		return nil, nil
	}
	return sess, err
}

// clearSlotTx releases the slot only while it still points at sessionID.
func clearSlotTx(tx *store.Tx, threadID, sessionID string) {
	if slot, err := tx.Get(store.ActiveCallKey(threadID)); err == nil && string(slot) == sessionID {
		tx.Delete(store.ActiveCallKey(threadID))
	}
}

// Attach scopes a resource to the session. It is closed exactly once via
// the coordinator's single teardown path when the session terminates. If
// the session is already terminal or unknown the handle is closed
// immediately and ErrStaleSession is returned.
func (c *Coordinator) Attach(sessionID string, h Handle) error {
	c.mu.Lock()
	if ls, ok := c.live[sessionID]; ok {
		ls.handles = append(ls.handles, h)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sess, err := c.Get(sessionID)
	if err != nil || sess.State.Terminal() {
		closeHandle(sessionID, h)
		return ErrStaleSession
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ls, ok := c.live[sessionID]
	if !ok {
		ls = &liveSession{}
		c.live[sessionID] = ls
	}
	ls.handles = append(ls.handles, h)
	return nil
}

// teardown releases everything scoped to the session. Removing the live
// entry first makes the release idempotent under racing terminal
// transitions.
func (c *Coordinator) teardown(sessionID string) {
	c.mu.Lock()
	ls, ok := c.live[sessionID]
	if ok {
		delete(c.live, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if ls.timer != nil {
		ls.timer.Stop()
	}
	for _, h := range ls.handles {
		closeHandle(sessionID, h)
	}
}

func closeHandle(sessionID string, h Handle) {
	if err := h.Close(); err != nil {
		logger.Warn("call_handle_close_failed", "session", sessionID, "error", err)
	}
}

// Watch streams session state: the current state immediately, then every
// transition. The channel closes after a terminal state is delivered or
// when ctx is canceled.
func (c *Coordinator) Watch(ctx context.Context, sessionID string) <-chan models.CallSession {
	out := make(chan models.CallSession, 1)
	values := store.WatchKey(ctx, store.SessionKey(sessionID))
	telemetry.OpenSubscriptions.Inc()
	go func() {
		defer telemetry.OpenSubscriptions.Dec()
		defer close(out)
		for raw := range values {
			if raw == nil {
				continue
			}
			var sess models.CallSession
			if err := json.Unmarshal(raw, &sess); err != nil {
				logger.Warn("call_state_decode_failed", "session", sessionID, "error", err)
				continue
			}
			select {
			case out <- sess:
			case <-ctx.Done():
				return
			}
			if sess.State.Terminal() {
				return
			}
		}
	}()
	return out
}

// WatchActive streams the thread's active session for incoming-call
// discovery: an empty-ID session means the slot is clear. The current
// value is delivered immediately.
func (c *Coordinator) WatchActive(ctx context.Context, threadID string) <-chan models.CallSession {
	out := make(chan models.CallSession, 1)
	values := store.WatchKey(ctx, store.ActiveCallKey(threadID))
	go func() {
		defer close(out)
		for raw := range values {
			var sess models.CallSession
			if raw != nil {
				s, err := c.Get(string(raw))
				if err == nil {
					sess = s
				}
			}
			select {
			case out <- sess:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
