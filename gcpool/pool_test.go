package gcpool

import "testing"

func newTestPool(t *testing.T, variant Variant, n int, threshold uintptr) Pool {
	cfg := DefaultConfig()
	cfg.Variant = variant
	cfg.FreeListCount = n
	cfg.MinimumFreeEntrySize = 32
	cfg.VeryLargeObjectThreshold = threshold
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestAllocateObjectPlainAndResidualRecycle(t *testing.T) {
	for _, variant := range []Variant{VariantSplit, VariantHybrid} {
		base, arena := newArena(0x1000)
		_ = arena

		p := newTestPool(t, variant, 1, 0x10000)
		p.ExpandWithRange(0x1000, base, base.add(0x1000), false)

		got, ok := p.AllocateObject(64)
		if !ok {
			t.Fatalf("[%v] AllocateObject(64) failed", variant)
		}
		if got != base {
			t.Fatalf("[%v] AllocateObject returned %#x, want %#x", variant, uintptr(got), uintptr(base))
		}
		if want := uintptr(0x1000 - 64); p.GetActualFreeMemorySize() != want {
			t.Fatalf("[%v] GetActualFreeMemorySize() = %#x, want %#x", variant, p.GetActualFreeMemorySize(), want)
		}
		if p.GetActualFreeEntryCount() != 1 {
			t.Fatalf("[%v] GetActualFreeEntryCount() = %d, want 1", variant, p.GetActualFreeEntryCount())
		}
	}
}

func TestAllocateObjectDiscardsTinyResidual(t *testing.T) {
	for _, variant := range []Variant{VariantSplit, VariantHybrid} {
		base, arena := newArena(80)
		_ = arena

		p := newTestPool(t, variant, 1, 0x10000)
		p.ExpandWithRange(80, base, base.add(80), false)

		if _, ok := p.AllocateObject(64); !ok {
			t.Fatalf("[%v] AllocateObject(64) failed", variant)
		}
		if p.GetActualFreeMemorySize() != 0 {
			t.Fatalf("[%v] GetActualFreeMemorySize() = %d, want 0", variant, p.GetActualFreeMemorySize())
		}
		if p.GetDarkMatterBytes() != 16 {
			t.Fatalf("[%v] GetDarkMatterBytes() = %d, want 16", variant, p.GetDarkMatterBytes())
		}
	}
}

func TestAllocateObjectFailsWhenNothingFits(t *testing.T) {
	base, arena := newArena(64)
	_ = arena

	p := newTestPool(t, VariantSplit, 1, 0x10000)
	p.ExpandWithRange(64, base, base.add(64), false)

	if _, ok := p.AllocateObject(128); ok {
		t.Fatalf("AllocateObject(128) succeeded against a 64-byte pool")
	}
	if p.GetLargestFreeEntry() != 64 {
		t.Fatalf("GetLargestFreeEntry() = %d, want 64 (recorded on failed search)", p.GetLargestFreeEntry())
	}
}

// TestExpandCoalescesWithTail is scenario C: expanding with a range
// directly adjacent to an existing tail entry grows it in place
// instead of creating a second entry.
func TestExpandCoalescesWithTail(t *testing.T) {
	base, arena := newArena(0x2000)
	_ = arena

	p := newTestPool(t, VariantSplit, 1, 0x10000)
	p.ExpandWithRange(0x1000, base, base.add(0x1000), false)
	p.ExpandWithRange(0x1000, base.add(0x1000), base.add(0x2000), true)

	if p.GetActualFreeEntryCount() != 1 {
		t.Fatalf("GetActualFreeEntryCount() = %d, want 1 (coalesced)", p.GetActualFreeEntryCount())
	}
	if p.GetActualFreeMemorySize() != 0x2000 {
		t.Fatalf("GetActualFreeMemorySize() = %#x, want %#x", p.GetActualFreeMemorySize(), uintptr(0x2000))
	}
}

// TestExpandPromotesToReservedSplit is scenario D for the Split
// variant: an expansion that clears VeryLargeObjectThreshold while no
// reserved entry is designated gets remembered in place.
func TestExpandPromotesToReservedSplit(t *testing.T) {
	base, arena := newArena(0x2000)
	_ = arena

	p := newTestPool(t, VariantSplit, 2, 0x1000)
	p.ExpandWithRange(0x2000, base, base.add(0x2000), false)

	sp := p.(*SplitPool)
	sp.reservedMu.Lock()
	idx, size := sp.reservedFreeListIndex, sp.reservedFreeEntrySize
	sp.reservedMu.Unlock()

	if idx != sp.n()-1 {
		t.Fatalf("reservedFreeListIndex = %d, want %d", idx, sp.n()-1)
	}
	if size != 0x2000 {
		t.Fatalf("reservedFreeEntrySize = %#x, want %#x", size, uintptr(0x2000))
	}
}

// TestExpandPromotesToReservedHybrid is scenario D for the Hybrid
// variant: the qualifying entry is migrated onto the physically
// separate reserved sub-list.
func TestExpandPromotesToReservedHybrid(t *testing.T) {
	base, arena := newArena(0x2000)
	_ = arena

	p := newTestPool(t, VariantHybrid, 2, 0x1000)
	p.ExpandWithRange(0x2000, base, base.add(0x2000), false)

	hp := p.(*HybridPool)
	if hp.reserved.isEmpty() {
		t.Fatalf("reserved sub-list is empty, want the promoted entry")
	}
	if hp.reserved.freeSize != 0x2000 {
		t.Fatalf("reserved.freeSize = %#x, want %#x", hp.reserved.freeSize, uintptr(0x2000))
	}
	last := hp.subLists[hp.n()-1]
	if !last.isEmpty() {
		t.Fatalf("normal sub-list %d still holds the promoted entry", hp.n()-1)
	}
}

// TestAllocateObjectFallsBackToReserved exercises pass 2 of §4.3:
// once every normal sub-list is exhausted, the reserved entry is
// still reachable.
func TestAllocateObjectFallsBackToReserved(t *testing.T) {
	for _, variant := range []Variant{VariantSplit, VariantHybrid} {
		base, arena := newArena(0x2000)
		_ = arena

		p := newTestPool(t, variant, 1, 0x1000)
		p.ExpandWithRange(0x2000, base, base.add(0x2000), false)

		// FreeListCount=1 means the only normal sub-list IS where the
		// Split reserved entry lives; for Split this also validates
		// that pass 1 correctly skips it and pass 2 finds it anyway.
		got, ok := p.AllocateObject(256)
		if !ok {
			t.Fatalf("[%v] AllocateObject(256) via reserved fallback failed", variant)
		}
		if got != base {
			t.Fatalf("[%v] AllocateObject returned %#x, want %#x", variant, uintptr(got), uintptr(base))
		}
	}
}

func TestContractWithRangeShrinksTail(t *testing.T) {
	base, arena := newArena(0x1000)
	_ = arena

	p := newTestPool(t, VariantSplit, 1, 0x10000)
	p.ExpandWithRange(0x1000, base, base.add(0x1000), false)

	freedAt, ok := p.ContractWithRange(0x100, base, base.add(0x1000))
	if !ok {
		t.Fatalf("ContractWithRange failed")
	}
	if freedAt != base.add(0x1000-0x100) {
		t.Fatalf("freedAt = %#x, want %#x", uintptr(freedAt), uintptr(base.add(0x1000-0x100)))
	}
	if p.GetActualFreeMemorySize() != 0x1000-0x100 {
		t.Fatalf("GetActualFreeMemorySize() = %#x, want %#x", p.GetActualFreeMemorySize(), uintptr(0x1000-0x100))
	}
}

func TestGetAvailableContractionSizeForRangeEndingAt(t *testing.T) {
	for _, variant := range []Variant{VariantHybrid, VariantSplit} {
		base, arena := newArena(0x1000)
		_ = arena

		p := newTestPool(t, variant, 1, 0x10000)
		p.ExpandWithRange(0x1000, base, base.add(0x1000), false)
		top := base.add(0x1000)

		if got := p.GetAvailableContractionSizeForRangeEndingAt(0x200, base, top); got != 0x1000-0x200 {
			t.Fatalf("[%v] allocSize=0x200: got %#x, want %#x", variant, got, uintptr(0x1000-0x200))
		}

		if got := p.GetAvailableContractionSizeForRangeEndingAt(0, base, top); got != 0x1000 {
			t.Fatalf("[%v] allocSize=0: got %#x, want %#x", variant, got, uintptr(0x1000))
		}

		if got := p.GetAvailableContractionSizeForRangeEndingAt(0x10000, base, top); got != 0x1000 {
			t.Fatalf("[%v] allocSize larger than entry: got %#x, want %#x", variant, got, uintptr(0x1000))
		}
	}
}

func TestResetClearsEverything(t *testing.T) {
	base, arena := newArena(0x1000)
	_ = arena

	p := newTestPool(t, VariantHybrid, 2, 0x800)
	p.ExpandWithRange(0x1000, base, base.add(0x1000), false)
	p.Reset(CauseAny)

	if p.GetActualFreeMemorySize() != 0 || p.GetActualFreeEntryCount() != 0 {
		t.Fatalf("Reset() left freeSize=%d freeCount=%d, want 0,0", p.GetActualFreeMemorySize(), p.GetActualFreeEntryCount())
	}
	if p.GetLargestFreeEntry() != 0 {
		t.Fatalf("Reset() left GetLargestFreeEntry() = %d, want 0", p.GetLargestFreeEntry())
	}
}

func TestValidateAcceptsWellFormedPool(t *testing.T) {
	base, arena := newArena(0x1000)
	_ = arena

	p := newTestPool(t, VariantSplit, 2, 0x10000)
	p.ExpandWithRange(0x1000, base, base.add(0x1000), false)

	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}
