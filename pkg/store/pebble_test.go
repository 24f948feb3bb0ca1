package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func TestPutGet(t *testing.T) {
	openTestStore(t)
	if err := Put("k1", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := Get("k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("got %q, want v1", v)
	}
	if _, err := Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	openTestStore(t)
	if err := Put("k", []byte("before")); err != nil {
		t.Fatalf("put: %v", err)
	}
	boom := errors.New("boom")
	err := Update(func(tx *Tx) error {
		tx.Put("k", []byte("after"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, err := Get("k")
	if err != nil || string(v) != "before" {
		t.Fatalf("value changed despite rollback: %q %v", v, err)
	}
}

func TestUpdateReadsOwnWrites(t *testing.T) {
	openTestStore(t)
	err := Update(func(tx *Tx) error {
		tx.Put("a", []byte("1"))
		v, err := tx.Get("a")
		if err != nil {
			return err
		}
		if string(v) != "1" {
			t.Fatalf("tx read %q, want 1", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestListAfter(t *testing.T) {
	openTestStore(t)
	for _, k := range []string{"p:001", "p:002", "p:003", "q:001"} {
		if err := Put(k, []byte(k)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	kvs, err := ListAfter("p:", "p:001", 0)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(kvs) != 2 || kvs[0].Key != "p:002" || kvs[1].Key != "p:003" {
		t.Fatalf("unexpected keys: %+v", kvs)
	}
	all, err := ListAfter("p:", "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("empty-after list: %v %d", err, len(all))
	}
}

func TestWatchKeyStreamsChanges(t *testing.T) {
	openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := WatchKey(ctx, "wk")
	select {
	case v := <-ch:
		if v != nil {
			t.Fatalf("expected nil for absent key, got %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial value")
	}

	if err := Put("wk", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	select {
	case v := <-ch:
		if string(v) != "x" {
			t.Fatalf("got %q, want x", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}

func TestWatchPrefixKicks(t *testing.T) {
	openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kicks := WatchPrefix(ctx, "lane:")
	if err := Put("lane:a", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	select {
	case <-kicks:
	case <-time.After(2 * time.Second):
		t.Fatal("no kick for matching prefix")
	}

	if err := Put("other:a", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	select {
	case <-kicks:
		t.Fatal("kick for non-matching prefix")
	case <-time.After(100 * time.Millisecond):
	}
}
