package store

import (
	"sync/atomic"
	"testing"
)

func TestLogKeyFixedWidth(t *testing.T) {
	ts := int64(1700000000000000000)
	a := LogKey(ts)
	b := LogKey(ts)
	if len(a) != len(b) {
		t.Fatalf("key widths differ: %q vs %q", a, b)
	}
	if !(a < b) {
		t.Fatalf("same-timestamp keys out of order: %q then %q", a, b)
	}
}

func TestLogKeyOrderAcrossSeqBoundary(t *testing.T) {
	// a same-nanosecond pair straddling a decimal boundary must still
	// sort by insertion order
	old := atomic.LoadUint64(&seq)
	t.Cleanup(func() { atomic.StoreUint64(&seq, old) })

	ts := int64(1700000000000000000)
	atomic.StoreUint64(&seq, 999_998)
	prev := LogKey(ts)
	for i := 0; i < 3; i++ {
		next := LogKey(ts)
		if len(next) != len(prev) {
			t.Fatalf("key width changed at the boundary: %q vs %q", prev, next)
		}
		if !(prev < next) {
			t.Fatalf("keys out of order at the boundary: %q then %q", prev, next)
		}
		prev = next
	}
}
