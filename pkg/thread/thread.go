// Package thread is the conversation store adapter: deterministic thread
// identity, an append-only message log, and atomic unread counters.
package thread

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

// ErrMutationFailed wraps store-level failures. The mutation did not
// apply at all; callers may retry the identical idempotent call.
var ErrMutationFailed = errors.New("thread mutation failed")

// ErrNotFound is returned when the referenced thread does not exist.
var ErrNotFound = errors.New("thread not found")

// ErrNotParticipant is returned when the acting user does not belong to
// the thread.
var ErrNotParticipant = errors.New("not a thread participant")

// ID returns the deterministic conversation id for two participants.
// Commutative in its arguments, so both clients compute the same id
// before any round-trip and concurrent creation converges.
func ID(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return p[0] + "_" + p[1]
}

// Ensure creates the thread if absent. When the thread already exists the
// call is a no-op merge: counters, history and the creation-time profile
// snapshot are never overwritten (first writer's metadata wins).
func Ensure(threadID string, participants []string, profiles map[string]models.Profile) error {
	if len(participants) != 2 || participants[0] == participants[1] {
		return fmt.Errorf("thread requires exactly two distinct participants")
	}
	if threadID != ID(participants[0], participants[1]) {
		return fmt.Errorf("thread id %q does not match participants", threadID)
	}
	err := store.Update(func(tx *store.Tx) error {
		if _, err := tx.Get(store.ThreadKey(threadID)); err == nil {
			return nil
		} else if err != store.ErrNotFound {
			return err
		}
		sorted := []string{participants[0], participants[1]}
		sort.Strings(sorted)
		t := models.Thread{
			ID:           threadID,
			Participants: sorted,
			Profiles:     profiles,
			UnreadCounts: map[string]int64{sorted[0]: 0, sorted[1]: 0},
			CreatedTS:    time.Now().UTC().UnixNano(),
		}
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		tx.Put(store.ThreadKey(threadID), b)
		logger.Info("thread_created", "thread", threadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}
	return nil
}

// Append adds a message to the thread log and, in the same atomic unit,
// bumps the other participant's unread counter and refreshes the preview
// fields. On failure nothing is applied.
func Append(threadID, senderID, text string, system bool) (models.Message, error) {
	var msg models.Message
	err := store.Update(func(tx *store.Tx) error {
		var err error
		msg, err = AppendTx(tx, threadID, senderID, text, system)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotParticipant) {
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}
	return msg, nil
}

// AppendTx stages a message append, its unread increment and the preview
// update into an already-open transaction. Used by Append and by the call
// coordinator's missed-call bookkeeping so both commit atomically with
// their surrounding writes.
func AppendTx(tx *store.Tx, threadID, senderID, text string, system bool) (models.Message, error) {
	raw, err := tx.Get(store.ThreadKey(threadID))
	if err == store.ErrNotFound {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	var t models.Thread
	if err := json.Unmarshal(raw, &t); err != nil {
		return models.Message{}, err
	}
	if !t.Has(senderID) {
		return models.Message{}, fmt.Errorf("%w: sender %q in %s", ErrNotParticipant, senderID, threadID)
	}

	ts := time.Now().UTC().UnixNano()
	// sentAt is the per-thread ordering key and must strictly increase.
	if ts <= t.LastMessageTS {
		ts = t.LastMessageTS + 1
	}
	msg := models.Message{
		ID:     utils.GenMessageID(),
		Thread: threadID,
		Sender: senderID,
		Text:   text,
		TS:     ts,
		System: system,
	}
	mb, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, err
	}

	t.UnreadCounts[t.Other(senderID)]++
	t.LastMessage = text
	t.LastMessageSender = senderID
	t.LastMessageTS = ts

	tb, err := json.Marshal(t)
	if err != nil {
		return models.Message{}, err
	}
	tx.Put(store.MessagePrefix(threadID)+store.LogKey(ts), mb)
	tx.Put(store.ThreadKey(threadID), tb)
	telemetry.MessagesAppended.Inc()
	return msg, nil
}

// Open atomically resets the reader's unread counter. Idempotent and safe
// to call on every thread-open event.
func Open(threadID, readerID string) error {
	err := store.Update(func(tx *store.Tx) error {
		raw, err := tx.Get(store.ThreadKey(threadID))
		if err == store.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var t models.Thread
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		if !t.Has(readerID) {
			return fmt.Errorf("%w: reader %q in %s", ErrNotParticipant, readerID, threadID)
		}
		if t.UnreadCounts[readerID] == 0 {
			return nil
		}
		t.UnreadCounts[readerID] = 0
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		tx.Put(store.ThreadKey(threadID), b)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotParticipant) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMutationFailed, err)
	}
	return nil
}

// Get returns the current thread state.
func Get(threadID string) (models.Thread, error) {
	var t models.Thread
	raw, err := store.Get(store.ThreadKey(threadID))
	if err == store.ErrNotFound {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, err
	}
	return t, nil
}

// Messages returns the thread's log in sentAt order. limit > 0 keeps only
// the most recent entries.
func Messages(threadID string, limit int) ([]models.Message, error) {
	kvs, err := store.List(store.MessagePrefix(threadID), 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(kvs))
	for _, kv := range kvs {
		var m models.Message
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			logger.Warn("message_decode_failed", "key", kv.Key, "error", err)
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListForParticipant returns every thread the user takes part in, most
// recent activity first.
func ListForParticipant(userID string) ([]models.Thread, error) {
	kvs, err := store.List("thread:", 0)
	if err != nil {
		return nil, err
	}
	var out []models.Thread
	for _, kv := range kvs {
		if !strings.HasSuffix(kv.Key, ":meta") {
			continue
		}
		var t models.Thread
		if err := json.Unmarshal(kv.Value, &t); err != nil {
			continue
		}
		if t.Has(userID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		at, bt := a.LastMessageTS, b.LastMessageTS
		if at == 0 {
			at = a.CreatedTS
		}
		if bt == 0 {
			bt = b.CreatedTS
		}
		return at > bt
	})
	return out, nil
}
