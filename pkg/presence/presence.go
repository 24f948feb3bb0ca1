// Package presence tracks per-user last-activity and derives an
// online/offline flag from a staleness window. Presence is best-effort:
// a failed heartbeat is logged, never surfaced, and a stale record only
// means the user shows as offline.
package presence

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

// DefaultWindow is the staleness threshold beyond which a user is
// considered offline. The owning clients heartbeat every two minutes, so
// five minutes tolerates two missed beats.
const DefaultWindow = 5 * time.Minute

// DefaultHeartbeatInterval is the cadence of the background heartbeat.
const DefaultHeartbeatInterval = 120 * time.Second

var windowNanos int64 = int64(DefaultWindow)

// SetWindow overrides the presence window. Zero or negative restores the
// default. Called once during startup from config.
func SetWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultWindow
	}
	atomic.StoreInt64(&windowNanos, int64(d))
}

// Window returns the active presence window.
func Window() time.Duration {
	return time.Duration(atomic.LoadInt64(&windowNanos))
}

// Heartbeat records now as the user's last activity. Idempotent and
// side-effect only; it never fails the caller.
func Heartbeat(userID string) {
	if userID == "" {
		return
	}
	err := store.Update(func(tx *store.Tx) error {
		u := models.User{ID: userID}
		if raw, err := tx.Get(store.UserKey(userID)); err == nil {
			_ = json.Unmarshal(raw, &u)
		}
		u.ID = userID
		u.LastActiveTS = time.Now().UTC().UnixNano()
		b, err := json.Marshal(u)
		if err != nil {
			return err
		}
		tx.Put(store.UserKey(userID), b)
		return nil
	})
	if err != nil {
		logger.Warn("presence_write_failed", "user", userID, "error", err)
	}
}

// SetProfile merges display metadata into the user's presence document.
// Like Heartbeat it also refreshes last activity.
func SetProfile(userID, displayName, avatarRef string) error {
	return store.Update(func(tx *store.Tx) error {
		u := models.User{ID: userID}
		if raw, err := tx.Get(store.UserKey(userID)); err == nil {
			_ = json.Unmarshal(raw, &u)
		}
		u.ID = userID
		if displayName != "" {
			u.DisplayName = displayName
		}
		if avatarRef != "" {
			u.AvatarRef = avatarRef
		}
		u.LastActiveTS = time.Now().UTC().UnixNano()
		b, err := json.Marshal(u)
		if err != nil {
			return err
		}
		tx.Put(store.UserKey(userID), b)
		return nil
	})
}

// Get returns the stored presence document for a user.
func Get(userID string) (models.User, error) {
	var u models.User
	raw, err := store.Get(store.UserKey(userID))
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return u, err
	}
	return u, nil
}

// IsOnline reports whether the user's last activity falls inside the
// presence window. Pure function of the record and now; it never touches
// the store or the network.
func IsOnline(u models.User, now time.Time) bool {
	if u.LastActiveTS == 0 {
		return false
	}
	return now.UTC().UnixNano()-u.LastActiveTS < int64(Window())
}

// RunHeartbeat beats immediately and then every interval until ctx is
// canceled. interval <= 0 uses the default.
func RunHeartbeat(ctx context.Context, userID string, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	Heartbeat(userID)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			Heartbeat(userID)
		}
	}
}
