package gcpool

import "testing"

func TestHintCacheFindRequiresSizeAndLiveEntry(t *testing.T) {
	base, arena := newArena(256)
	_ = arena

	e := writeHeader(base, 64, NoEntry)
	var h hintCache
	h.add(e, 64)

	if got := h.find(64); got != e {
		t.Fatalf("find(64) = %#x, want %#x", uintptr(got), uintptr(e))
	}
	if got := h.find(128); !got.IsNil() {
		t.Fatalf("find(128) = %#x, want NoEntry (entry too small)", uintptr(got))
	}
}

func TestHintCacheUpdateRetargets(t *testing.T) {
	base, arena := newArena(256)
	_ = arena

	old := writeHeader(base, 64, NoEntry)
	var h hintCache
	h.add(old, 64)

	residual := writeHeader(base.add(16), 48, NoEntry)
	h.update(old, residual)

	if got := h.find(48); got != residual {
		t.Fatalf("find(48) after update = %#x, want %#x", uintptr(got), uintptr(residual))
	}
}

func TestHintCacheRemoveDemotes(t *testing.T) {
	base, arena := newArena(256)
	_ = arena

	e := writeHeader(base, 64, NoEntry)
	var h hintCache
	h.add(e, 64)
	h.remove(e)

	if got := h.find(64); !got.IsNil() {
		t.Fatalf("find(64) after remove = %#x, want NoEntry", uintptr(got))
	}
}

func TestHintCacheCapacityEvictsLRU(t *testing.T) {
	base, arena := newArena(4096)
	_ = arena

	var h hintCache
	entries := make([]FreeEntry, HintCacheCapacity+1)
	for i := range entries {
		e := writeHeader(base.add(uintptr(i)*HeaderSize), HeaderSize, NoEntry)
		entries[i] = e
		h.add(e, HeaderSize)
	}

	// entries[0] was the least recently touched and should have been
	// evicted to make room for the last insert.
	if got := h.find(HeaderSize); got.IsNil() {
		t.Fatalf("find(HeaderSize) = NoEntry, want some surviving entry")
	}
	active := 0
	for _, s := range h.slots {
		if s.active {
			active++
		}
		if s.active && s.entry == entries[0] {
			t.Fatalf("entries[0] still has an active hint, want it evicted as LRU")
		}
	}
	if active != HintCacheCapacity {
		t.Fatalf("active slots = %d, want %d", active, HintCacheCapacity)
	}
}

func TestHintCacheClear(t *testing.T) {
	base, arena := newArena(256)
	_ = arena

	e := writeHeader(base, 64, NoEntry)
	var h hintCache
	h.add(e, 64)
	h.clear()

	for _, s := range h.slots {
		if s.active {
			t.Fatalf("slot still active after clear()")
		}
	}
}
