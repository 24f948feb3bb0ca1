package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string

	// commitMu serializes Update transactions so read-modify-write cycles
	// against the same documents cannot interleave. Plain reads do not
	// take it.
	commitMu sync.Mutex
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// KV is one key/value pair returned by List.
type KV struct {
	Key   string
	Value []byte
}

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	resetHub()
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	dbPath = ""
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Get returns a copy of the value stored at key, or ErrNotFound.
func Get(key string) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// Put writes a single key synchronously and notifies watchers.
func Put(key string, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Error("store_put_failed", "key", key, "error", err)
		return err
	}
	publish([]string{key})
	return nil
}

// List returns up to limit key/value pairs under prefix in key order.
// limit <= 0 means no limit.
func List(prefix string, limit int) ([]KV, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	pfx := []byte(prefix)
	var out []KV
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !hasPrefix(k, pfx) {
			break
		}
		out = append(out, KV{
			Key:   string(append([]byte(nil), k...)),
			Value: append([]byte(nil), iter.Value()...),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// ListAfter returns key/value pairs under prefix whose key sorts
// strictly after the given key, in key order. An empty after behaves
// like List.
func ListAfter(prefix, after string, limit int) ([]KV, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	pfx := []byte(prefix)
	start := pfx
	if after != "" && after >= prefix {
		start = append([]byte(after), 0)
	}
	var out []KV
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !hasPrefix(k, pfx) {
			break
		}
		out = append(out, KV{
			Key:   string(append([]byte(nil), k...)),
			Value: append([]byte(nil), iter.Value()...),
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// Count returns the number of keys under prefix.
func Count(prefix string) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	pfx := []byte(prefix)
	n := 0
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !hasPrefix(iter.Key(), pfx) {
			break
		}
		n++
	}
	return n, iter.Error()
}

// Tx stages reads and writes for one atomic Update. Reads observe writes
// staged earlier in the same transaction.
type Tx struct {
	b       *pebble.Batch
	touched []string
}

// Get returns a copy of the value at key as seen by the transaction.
func (tx *Tx) Get(key string) ([]byte, error) {
	v, closer, err := tx.b.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

// Put stages a write.
func (tx *Tx) Put(key string, value []byte) {
	_ = tx.b.Set([]byte(key), value, nil)
	tx.touched = append(tx.touched, key)
}

// Delete stages a deletion.
func (tx *Tx) Delete(key string) {
	_ = tx.b.Delete([]byte(key), nil)
	tx.touched = append(tx.touched, key)
}

// Update runs fn holding the store's commit lock and commits all staged
// writes in one synced batch. If fn returns an error nothing is applied,
// leaving prior state intact. Watchers of every touched key are notified
// after the commit.
func Update(fn func(tx *Tx) error) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	commitMu.Lock()
	defer commitMu.Unlock()

	tx := &Tx{b: db.NewIndexedBatch()}
	if err := fn(tx); err != nil {
		_ = tx.b.Close()
		return err
	}
	if len(tx.touched) == 0 {
		_ = tx.b.Close()
		return nil
	}
	if err := tx.b.Commit(pebble.Sync); err != nil {
		logger.Error("store_commit_failed", "keys", len(tx.touched), "error", err)
		return err
	}
	publish(tx.touched)
	return nil
}

func hasPrefix(b, pfx []byte) bool {
	if len(b) < len(pfx) {
		return false
	}
	for i := range pfx {
		if b[i] != pfx[i] {
			return false
		}
	}
	return true
}
