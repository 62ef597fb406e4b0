package gcpool

import "sync"

// SplitPool is C4's Split-Address-Ordered variant: the reserved entry
// (§4.5) is never detached from its normal sub-list; it stays inline,
// addressed by remembering its predecessor, and pass 1 of a search
// skips exactly that one entry by comparing each candidate's
// predecessor against the remembered one (MemoryPoolSplitAddressOrderedList.cpp's
// _reservedFreeListIndex/_prevReservedFreeListEntry pair,
// DESIGN.md, C4).
type SplitPool struct {
	*poolCore

	reservedMu             sync.Mutex
	reservedFreeListIndex  int // -1 when no reserved entry is designated
	prevReservedFreeEntry  FreeEntry
	reservedFreeEntry      FreeEntry
	reservedFreeEntrySize  uintptr
}

func newSplitPool(core *poolCore) *SplitPool {
	return &SplitPool{poolCore: core, reservedFreeListIndex: -1}
}

func (sp *SplitPool) AllocateObject(size uintptr) (Address, bool) {
	return sp.allocateObject(size, true)
}

func (sp *SplitPool) CollectorAllocate(size uintptr, lockingRequired bool) (Address, bool) {
	return sp.allocateObject(size, lockingRequired)
}

// allocateObject implements §4.3 for the Split variant: pass 1 scans
// every normal sub-list, vetoing only the single entry sitting right
// after prevReservedFreeEntry in reservedFreeListIndex; pass 2, on a
// miss, addresses that entry directly.
func (sp *SplitPool) allocateObject(size uintptr, lockingRequired bool) (Address, bool) {
	_ = lockingRequired
	minimum := sp.cfg.MinimumFreeEntrySize
	startIdx := sp.startingSubList()

	sp.reservedMu.Lock()
	resIdx, resPrev := sp.reservedFreeListIndex, sp.prevReservedFreeEntry
	sp.reservedMu.Unlock()

	skip := func(idx int, prev FreeEntry) bool {
		if idx != resIdx {
			return true
		}
		return prev != resPrev
	}

	var result Address
	ok, largestSeen := sp.tryAllocateCircular(startIdx, size, skip, func(sub *SubList, idx int, entry, prev FreeEntry) {
		_, _, discarded := sub.consumeForObject(prev, entry, size, minimum)
		if discarded > 0 {
			sp.recordDiscard(discarded)
		}
		sp.recordAllocation(idx, size)
		sp.largeObjectAllocateStats.Increment(size)
		sp.largeObjectAllocateStatsForFreeList[idx].Increment(size)
		result = Address(entry)
		sp.debugCheckSubList(sub)
	})
	if ok {
		return result, true
	}

	sp.reservedMu.Lock()
	defer sp.reservedMu.Unlock()
	if sp.reservedFreeListIndex < 0 {
		sp.bumpLargest(largestSeen)
		return 0, false
	}
	sub := sp.subLists[sp.reservedFreeListIndex]
	sub.lock()
	entry := sub.head
	if !sp.prevReservedFreeEntry.IsNil() {
		entry = sp.prevReservedFreeEntry.Next()
	}
	if entry.IsNil() || entry.Size() < size {
		sub.unlock()
		sp.bumpLargest(largestSeen)
		return 0, false
	}
	residual, hadResidual, discarded := sub.consumeForObject(sp.prevReservedFreeEntry, entry, size, minimum)
	sub.unlock()
	if discarded > 0 {
		sp.recordDiscard(discarded)
	}
	sp.recordAllocation(sp.reservedFreeListIndex, size)
	sp.largeObjectAllocateStats.Increment(size)
	sp.largeObjectAllocateStatsForFreeList[sp.n()].Increment(size)
	if hadResidual {
		sp.reservedFreeEntry = residual
		sp.reservedFreeEntrySize = residual.Size()
	} else {
		sp.reservedFreeListIndex = -1
		sp.reservedFreeEntry = NoEntry
		sp.reservedFreeEntrySize = 0
	}
	return Address(entry), true
}

func (sp *SplitPool) AllocateTLH(maxSize uintptr) (Address, Address, bool) {
	return sp.allocateTLH(maxSize, true)
}

func (sp *SplitPool) CollectorAllocateTLH(maxSize uintptr, lockingRequired bool) (Address, Address, bool) {
	return sp.allocateTLH(maxSize, lockingRequired)
}

func (sp *SplitPool) allocateTLH(maxSize uintptr, lockingRequired bool) (Address, Address, bool) {
	_ = lockingRequired
	minimum := sp.cfg.MinimumFreeEntrySize
	req := sp.cfg.TLHMinimumSize
	if req < minimum {
		req = minimum
	}
	startIdx := sp.startingSubList()

	sp.reservedMu.Lock()
	resIdx, resPrev := sp.reservedFreeListIndex, sp.prevReservedFreeEntry
	sp.reservedMu.Unlock()

	skip := func(idx int, prev FreeEntry) bool {
		if idx != resIdx {
			return true
		}
		return prev != resPrev
	}

	var base Address
	var consumedSize uintptr
	ok, largestSeen := sp.tryAllocateCircular(startIdx, req, skip, func(sub *SubList, idx int, entry, prev FreeEntry) {
		consumed, _, _ := sub.consumeForTLH(prev, entry, maxSize, minimum)
		base, consumedSize = Address(entry), consumed
		sp.recordAllocation(idx, consumed)
		sp.tlhStats.Increment(consumed)
	})
	if ok {
		return base, base.add(consumedSize), true
	}

	sp.reservedMu.Lock()
	defer sp.reservedMu.Unlock()
	if sp.reservedFreeListIndex < 0 {
		sp.bumpLargest(largestSeen)
		return 0, 0, false
	}
	sub := sp.subLists[sp.reservedFreeListIndex]
	sub.lock()
	entry := sub.head
	if !sp.prevReservedFreeEntry.IsNil() {
		entry = sp.prevReservedFreeEntry.Next()
	}
	if entry.IsNil() {
		sub.unlock()
		sp.bumpLargest(largestSeen)
		return 0, 0, false
	}
	consumed, residual, hadResidual := sub.consumeForTLH(sp.prevReservedFreeEntry, entry, maxSize, minimum)
	sub.unlock()
	sp.recordAllocation(sp.reservedFreeListIndex, consumed)
	sp.tlhStats.Increment(consumed)
	if hadResidual {
		sp.reservedFreeEntry = residual
		sp.reservedFreeEntrySize = residual.Size()
	} else {
		sp.reservedFreeListIndex = -1
		sp.reservedFreeEntry = NoEntry
		sp.reservedFreeEntrySize = 0
	}
	return Address(entry), Address(entry).add(consumed), true
}

// ExpandWithRange appends (or coalesces) new memory onto the last
// normal sub-list's tail, then — only if no reserved entry is
// currently designated and the resulting entry clears threshold —
// remembers it as the reserved entry in place, without moving it
// anywhere (§4.6, the defining difference from Hybrid's ExpandWithRange).
func (sp *SplitPool) ExpandWithRange(size uintptr, base, top Address, canCoalesce bool) {
	sp.lockAllNormal()
	defer sp.unlockAllNormal()

	last := sp.subLists[sp.n()-1]
	lastIdx := sp.n() - 1

	var entry, prevOfEntry FreeEntry
	if canCoalesce {
		if e, p := last.tail(); !e.IsNil() && e.End() == base {
			last.growInPlace(e, size)
			entry, prevOfEntry = e, p
		}
	}
	if entry.IsNil() {
		tail, _ := last.tail()
		entry = last.connectInner(tail, base, size)
		prevOfEntry = tail
	}
	sp.bumpLargest(entry.Size())

	sp.reservedMu.Lock()
	if sp.reservedFreeListIndex < 0 && entry.Size() >= sp.cfg.VeryLargeObjectThreshold {
		sp.reservedFreeListIndex = lastIdx
		sp.prevReservedFreeEntry = prevOfEntry
		sp.reservedFreeEntry = entry
		sp.reservedFreeEntrySize = entry.Size()
	}
	sp.reservedMu.Unlock()
}

func (sp *SplitPool) ContractWithRange(size uintptr, base, top Address) (Address, bool) {
	sp.lockAllNormal()
	defer sp.unlockAllNormal()

	entry, ok := sp.findFreeEntryEndingAtAddr(top, nil)
	if !ok {
		return 0, false
	}
	avail := uintptr(top - Address(entry))
	if avail > size {
		avail = size
	}
	if avail == 0 {
		return 0, false
	}
	sub, idx := sp.subListOwning(entry)
	if sub == nil {
		return 0, false
	}

	newSize := entry.Size() - avail
	freedAt := top.sub(avail)

	sp.reservedMu.Lock()
	isReserved := idx == sp.reservedFreeListIndex && entry == sp.reservedFreeEntry
	switch {
	case newSize == 0:
		prev := sub.findPredecessor(entry)
		sub.unlink(prev, entry)
		sub.unlinkAccounting(entry)
		if isReserved {
			sp.reservedFreeListIndex = -1
			sp.reservedFreeEntry = NoEntry
			sp.reservedFreeEntrySize = 0
		}
	case newSize >= sp.cfg.MinimumFreeEntrySize:
		sub.shrinkInPlace(entry, avail)
		if isReserved {
			sp.reservedFreeEntrySize = newSize
		}
	default:
		sp.reservedMu.Unlock()
		_ = base
		return 0, false
	}
	sp.reservedMu.Unlock()
	return freedAt, true
}

func (sp *SplitPool) AddFreeEntries(head, tail FreeEntry, count, totalSize uintptr) {
	sp.lockAllNormal()
	defer sp.unlockAllNormal()
	last := sp.subLists[sp.n()-1]
	oldTail, _ := last.tail()
	if oldTail.IsNil() {
		last.head = head
	} else {
		oldTail.setNext(head)
	}
	if !tail.IsNil() {
		tail.setNext(NoEntry)
	}
	last.freeSize += totalSize
	last.freeCount += count
}

func (sp *SplitPool) RemoveFreeEntriesWithinRange(low, high Address, minSize uintptr) (FreeEntry, FreeEntry, uintptr, uintptr) {
	sp.lockAllNormal()
	defer sp.unlockAllNormal()
	return removeWithinRange(sp.subLists, low, high, minSize)
}

func (sp *SplitPool) RebuildFreeListInRegion(base, top Address, previousFreeEntry FreeEntry) FreeEntry {
	return rebuildRegion(base, top, previousFreeEntry, sp.cfg.MinimumFreeEntrySize)
}

func (sp *SplitPool) Lock()   { sp.lockAllNormal() }
func (sp *SplitPool) Unlock() { sp.unlockAllNormal() }

func (sp *SplitPool) Reset(cause Cause) {
	sp.lockAllNormal()
	for _, s := range sp.subLists {
		resetSubList(s)
	}
	sp.unlockAllNormal()
	sp.reservedMu.Lock()
	sp.reservedFreeListIndex = -1
	sp.reservedFreeEntry = NoEntry
	sp.reservedFreeEntrySize = 0
	sp.reservedMu.Unlock()
	sp.setLargest(0)
	sp.aggMu.Lock()
	sp.darkMatterBytes, sp.darkMatterSamples = 0, 0
	sp.aggMu.Unlock()
	_ = cause
}

// PostProcess re-splits sub-list 0 after a sweep (§4.8) and, if no
// reserved entry survived the sweep, designates the largest entry
// found as the new one in place — the Split variant's equivalent of
// Hybrid's migration onto a separate list.
func (sp *SplitPool) PostProcess(cause Cause) {
	sp.lockAllNormal()
	largest, largestPrev, largestIdx := sp.postProcessSplit(sp.sweep.chunks)
	sp.sweep.chunks = nil

	sp.reservedMu.Lock()
	if sp.reservedFreeListIndex < 0 && !largest.IsNil() && largest.Size() >= sp.cfg.VeryLargeObjectThreshold {
		sp.reservedFreeListIndex = largestIdx
		sp.prevReservedFreeEntry = largestPrev
		sp.reservedFreeEntry = largest
		sp.reservedFreeEntrySize = largest.Size()
	}
	sp.reservedMu.Unlock()
	sp.unlockAllNormal()
	_ = cause
}

func (sp *SplitPool) FindAddressAfterFreeSize(sizeRequired, minSize uintptr) (Address, bool) {
	return sp.findAddressAfterFreeSize(sizeRequired, minSize, nil)
}

func (sp *SplitPool) GetAvailableContractionSizeForRangeEndingAt(allocSize uintptr, low, high Address) uintptr {
	return sp.getAvailableContractionSizeForRangeEndingAt(allocSize, low, high, nil)
}

func (sp *SplitPool) FindFreeEntryEndingAtAddr(addr Address) (FreeEntry, bool) {
	return sp.findFreeEntryEndingAtAddr(addr, nil)
}

func (sp *SplitPool) FindFreeEntryTopStartingAtAddr(addr Address) (FreeEntry, bool) {
	return sp.findFreeEntryTopStartingAtAddr(addr, nil)
}

func (sp *SplitPool) GetFirstFreeStartingAddr() Address {
	return sp.firstFreeStartingAddr(nil)
}

func (sp *SplitPool) GetNextFreeStartingAddr(cur Address) Address {
	return sp.nextFreeStartingAddr(cur, nil)
}

func (sp *SplitPool) MoveHeap(srcBase, srcTop, dstBase Address) {
	sp.lockAllNormal()
	defer sp.unlockAllNormal()
	moveHeapLists(sp.subLists, srcBase, srcTop, dstBase)
}

func (sp *SplitPool) Recalculate() { sp.poolCore.recalculate() }

func (sp *SplitPool) Validate() error { return sp.poolCore.validate(nil) }
