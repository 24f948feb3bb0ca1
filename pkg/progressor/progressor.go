// Package progressor runs one-shot upgrade work between releases. It
// records the last synced version in the store and backfills fields
// older records are missing.
package progressor

import (
	"context"
	"encoding/json"
	"strings"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

const systemVersionKey = "system:version"

// StoredVersion returns the version recorded by the last Sync, empty
// when the store is fresh.
func StoredVersion() string {
	v, err := store.Get(systemVersionKey)
	if err != nil {
		return ""
	}
	return string(v)
}

// Sync performs upgrade work between versions. Edit in-place for
// migration logic; every step must be idempotent.
func Sync(ctx context.Context, from, to string) error {
	logger.Info("progressor_sync_start", "from", from, "to", to)

	// Backfill: thread documents written before unread tracking carry
	// nil maps. Normalize them so counter updates never hit a nil map.
	kvs, err := store.List("thread:", 0)
	if err != nil {
		logger.Error("progressor_list_threads_failed", "error", err)
		return err
	}
	fixed := 0
	for _, kv := range kvs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !strings.HasSuffix(kv.Key, ":meta") {
			continue
		}
		var t models.Thread
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			logger.Warn("progressor_thread_decode_failed", "key", kv.Key, "error", err)
			continue
		}
		if t.UnreadCounts != nil && t.Profiles != nil {
			continue
		}
		key := kv.Key
		err := store.Update(func(tx *store.Tx) error {
			raw, err := tx.Get(key)
			if err != nil {
				return err
			}
			var cur models.Thread
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if cur.UnreadCounts == nil {
				cur.UnreadCounts = make(map[string]int64, len(cur.Participants))
				for _, p := range cur.Participants {
					cur.UnreadCounts[p] = 0
				}
			}
			if cur.Profiles == nil {
				cur.Profiles = make(map[string]models.Profile)
			}
			b, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			tx.Put(key, b)
			return nil
		})
		if err != nil {
			logger.Error("progressor_backfill_failed", "key", key, "error", err)
			return err
		}
		fixed++
	}

	if err := store.Put(systemVersionKey, []byte(to)); err != nil {
		return err
	}
	logger.Info("progressor_sync_done", "to", to, "backfilled", fixed)
	return nil
}
