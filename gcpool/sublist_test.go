package gcpool

import "testing"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FreeListCount = 1
	cfg.MinimumFreeEntrySize = 32
	cfg.VeryLargeObjectThreshold = 4096
	return cfg
}

// TestConsumeForObjectRecyclesResidual is scenario A: allocating less
// than a free entry's full size leaves a recycled residual entry
// behind in the same position.
func TestConsumeForObjectRecyclesResidual(t *testing.T) {
	base, arena := newArena(0x1000)
	_ = arena

	s := newSubList(0, testConfig())
	e := s.connectInner(NoEntry, base, 0x1000)

	residual, hadResidual, discarded := s.consumeForObject(NoEntry, e, 64, 32)
	if !hadResidual {
		t.Fatalf("hadResidual = false, want true")
	}
	if discarded != 0 {
		t.Fatalf("discarded = %d, want 0", discarded)
	}
	if residual.Size() != 0x1000-64 {
		t.Fatalf("residual.Size() = %#x, want %#x", residual.Size(), uintptr(0x1000-64))
	}
	if s.freeSize != 0x1000-64 {
		t.Fatalf("freeSize = %#x, want %#x", s.freeSize, uintptr(0x1000-64))
	}
	if s.freeCount != 1 {
		t.Fatalf("freeCount = %d, want 1", s.freeCount)
	}
	if s.head != residual {
		t.Fatalf("head = %#x, want residual %#x", uintptr(s.head), uintptr(residual))
	}
}

// TestConsumeForObjectDiscardsTinyResidual is scenario B: a residual
// smaller than MinimumFreeEntrySize is abandoned as dark matter, not
// linked back onto the list.
func TestConsumeForObjectDiscardsTinyResidual(t *testing.T) {
	base, arena := newArena(80)
	_ = arena

	s := newSubList(0, testConfig())
	e := s.connectInner(NoEntry, base, 80)

	residual, hadResidual, discarded := s.consumeForObject(NoEntry, e, 64, 32)
	if hadResidual {
		t.Fatalf("hadResidual = true, want false")
	}
	if !residual.IsNil() {
		t.Fatalf("residual = %#x, want NoEntry", uintptr(residual))
	}
	if discarded != 16 {
		t.Fatalf("discarded = %d, want 16", discarded)
	}
	if s.freeSize != 0 {
		t.Fatalf("freeSize = %d, want 0", s.freeSize)
	}
	if s.freeCount != 0 {
		t.Fatalf("freeCount = %d, want 0", s.freeCount)
	}
	if !s.head.IsNil() {
		t.Fatalf("head = %#x, want NoEntry", uintptr(s.head))
	}
}

func TestConsumeForObjectExactFit(t *testing.T) {
	base, arena := newArena(64)
	_ = arena

	s := newSubList(0, testConfig())
	e := s.connectInner(NoEntry, base, 64)

	residual, hadResidual, discarded := s.consumeForObject(NoEntry, e, 64, 32)
	if hadResidual || !residual.IsNil() || discarded != 0 {
		t.Fatalf("exact fit: residual=%#x hadResidual=%v discarded=%d", uintptr(residual), hadResidual, discarded)
	}
	if s.freeCount != 0 || s.freeSize != 0 {
		t.Fatalf("exact fit left freeCount=%d freeSize=%d, want 0,0", s.freeCount, s.freeSize)
	}
}

// TestConsumeForTLHAbsorbsTinyResidual is the TLH-specific contrast
// with consumeForObject: a too-small residual is handed out as part
// of the consumed span instead of discarded.
func TestConsumeForTLHAbsorbsTinyResidual(t *testing.T) {
	base, arena := newArena(80)
	_ = arena

	s := newSubList(0, testConfig())
	e := s.connectInner(NoEntry, base, 80)

	consumed, residual, hadResidual := s.consumeForTLH(NoEntry, e, 64, 32)
	if hadResidual {
		t.Fatalf("hadResidual = true, want false (16-byte residual < minimum 32)")
	}
	if consumed != 80 {
		t.Fatalf("consumed = %d, want 80 (absorbed residual)", consumed)
	}
	if !residual.IsNil() {
		t.Fatalf("residual = %#x, want NoEntry", uintptr(residual))
	}
}

func TestConsumeForTLHSplitsLargeResidual(t *testing.T) {
	base, arena := newArena(0x1000)
	_ = arena

	s := newSubList(0, testConfig())
	e := s.connectInner(NoEntry, base, 0x1000)

	consumed, residual, hadResidual := s.consumeForTLH(NoEntry, e, 256, 32)
	if !hadResidual {
		t.Fatalf("hadResidual = false, want true")
	}
	if consumed != 256 {
		t.Fatalf("consumed = %d, want 256", consumed)
	}
	if residual.Size() != 0x1000-256 {
		t.Fatalf("residual.Size() = %d, want %d", residual.Size(), 0x1000-256)
	}
}

func TestSubListSearchFindsFirstFit(t *testing.T) {
	base, arena := newArena(512)
	_ = arena

	s := newSubList(0, testConfig())
	small := s.connectInner(NoEntry, base, 64)
	_ = small
	big := s.connectInner(small, base.add(64), 128)

	entry, prev, largest := s.search(100, func(FreeEntry) bool { return true })
	if entry != big {
		t.Fatalf("search found %#x, want big entry %#x", uintptr(entry), uintptr(big))
	}
	if prev != small {
		t.Fatalf("search prev = %#x, want %#x", uintptr(prev), uintptr(small))
	}
	if largest < 128 {
		t.Fatalf("largestSeen = %d, want >= 128", largest)
	}
}

func TestSubListSearchSkipPredicate(t *testing.T) {
	base, arena := newArena(512)
	_ = arena

	s := newSubList(0, testConfig())
	reserved := s.connectInner(NoEntry, base, 256)
	_ = reserved

	// Nothing else on the list: a skip predicate that vetoes the only
	// qualifying entry must cause a miss.
	entry, _, _ := s.search(64, func(prev FreeEntry) bool { return prev != NoEntry })
	if !entry.IsNil() {
		t.Fatalf("search with vetoing predicate found %#x, want NoEntry", uintptr(entry))
	}
}

func TestSubListValidateCatchesAdjacentEntries(t *testing.T) {
	base, arena := newArena(256)
	_ = arena

	s := newSubList(0, testConfig())
	first := s.connectInner(NoEntry, base, 64)
	s.connectInner(first, base.add(64), 64)

	if err := s.validate(); err == nil {
		t.Fatalf("validate() = nil, want an error for adjacent uncoalesced entries")
	}
}

func TestSubListRecalculate(t *testing.T) {
	base, arena := newArena(256)
	_ = arena

	s := newSubList(0, testConfig())
	s.connectInner(NoEntry, base, 64)
	s.freeSize = 999 // corrupt on purpose
	s.recalculate()

	if s.freeSize != 64 || s.freeCount != 1 {
		t.Fatalf("recalculate() -> freeSize=%d freeCount=%d, want 64,1", s.freeSize, s.freeCount)
	}
}

func TestSubListGrowShrinkInPlace(t *testing.T) {
	base, arena := newArena(256)
	_ = arena

	s := newSubList(0, testConfig())
	e := s.connectInner(NoEntry, base, 64)

	s.growInPlace(e, 32)
	if e.Size() != 96 || s.freeSize != 96 {
		t.Fatalf("after growInPlace: size=%d freeSize=%d, want 96,96", e.Size(), s.freeSize)
	}

	s.shrinkInPlace(e, 48)
	if e.Size() != 48 || s.freeSize != 48 {
		t.Fatalf("after shrinkInPlace: size=%d freeSize=%d, want 48,48", e.Size(), s.freeSize)
	}
}
