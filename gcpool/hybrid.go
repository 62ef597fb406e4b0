package gcpool

// HybridPool is C4's Hybrid variant: the reserved entry (§4.5) is
// detached onto a physically separate sub-list, searched only once
// every normal sub-list has failed a request (§4.3 Pass 2). This
// mirrors MemoryPoolHybrid.cpp keeping its very-large-object entry in
// its own _memorySubSpace-adjacent list rather than threading it
// through the regular address-ordered chain.
type HybridPool struct {
	*poolCore

	// reserved holds at most one entry: the pool's reserved very-large
	// free range, if one is currently designated. Guarded by its own
	// mutex like any other sub-list; lockAllNormal does not take it,
	// so every operation that must see it too locks it explicitly.
	reserved *SubList
}

func newHybridPool(core *poolCore) *HybridPool {
	return &HybridPool{poolCore: core, reserved: newSubList(core.n(), core.cfg)}
}

func (h *HybridPool) AllocateObject(size uintptr) (Address, bool) {
	return h.allocateObject(size, true)
}

func (h *HybridPool) CollectorAllocate(size uintptr, lockingRequired bool) (Address, bool) {
	return h.allocateObject(size, lockingRequired)
}

// allocateObject implements §4.3's two-pass search: pass 1 walks every
// normal sub-list starting from the caller's affinity slot (or
// findGoodStartFreeList's suggestion, if that slot is empty); pass 2,
// only on a pass-1 miss, tries the reserved sub-list.
//
// lockingRequired is honored by always taking the sub-list lock: the
// source's collector-context caller already holds it and skips an
// extra acquisition, but re-acquiring a sub-list's own mutex from the
// same non-reentrant caller would deadlock only if this package
// exposed reentrant locking, which it deliberately does not (§9 open
// question: no caller path needs it twice).
func (h *HybridPool) allocateObject(size uintptr, lockingRequired bool) (Address, bool) {
	_ = lockingRequired
	minimum := h.cfg.MinimumFreeEntrySize
	startIdx := h.startingSubList()

	var result Address
	ok, largestSeen := h.tryAllocateCircular(startIdx, size, allowAll, func(sub *SubList, idx int, entry, prev FreeEntry) {
		_, _, discarded := sub.consumeForObject(prev, entry, size, minimum)
		if discarded > 0 {
			h.recordDiscard(discarded)
		}
		h.recordAllocation(idx, size)
		h.largeObjectAllocateStats.Increment(size)
		h.largeObjectAllocateStatsForFreeList[idx].Increment(size)
		result = Address(entry)
		h.debugCheckSubList(sub)
	})
	if ok {
		return result, true
	}

	h.reserved.lock()
	entry, prev, seen2 := h.reserved.search(size, func(FreeEntry) bool { return true })
	if seen2 > largestSeen {
		largestSeen = seen2
	}
	if entry.IsNil() {
		h.reserved.unlock()
		h.bumpLargest(largestSeen)
		return 0, false
	}
	_, _, discarded := h.reserved.consumeForObject(prev, entry, size, minimum)
	h.reserved.unlock()
	if discarded > 0 {
		h.recordDiscard(discarded)
	}
	h.recordAllocation(h.n(), size)
	h.largeObjectAllocateStats.Increment(size)
	h.largeObjectAllocateStatsForFreeList[h.n()].Increment(size)
	return Address(entry), true
}

func (h *HybridPool) AllocateTLH(maxSize uintptr) (Address, Address, bool) {
	return h.allocateTLH(maxSize, true)
}

func (h *HybridPool) CollectorAllocateTLH(maxSize uintptr, lockingRequired bool) (Address, Address, bool) {
	return h.allocateTLH(maxSize, lockingRequired)
}

func (h *HybridPool) allocateTLH(maxSize uintptr, lockingRequired bool) (Address, Address, bool) {
	_ = lockingRequired
	minimum := h.cfg.MinimumFreeEntrySize
	req := h.cfg.TLHMinimumSize
	if req < minimum {
		req = minimum
	}
	startIdx := h.startingSubList()

	var base Address
	var consumedSize uintptr
	ok, largestSeen := h.tryAllocateCircular(startIdx, req, allowAll, func(sub *SubList, idx int, entry, prev FreeEntry) {
		consumed, _, _ := sub.consumeForTLH(prev, entry, maxSize, minimum)
		base, consumedSize = Address(entry), consumed
		h.recordAllocation(idx, consumed)
		h.tlhStats.Increment(consumed)
	})
	if ok {
		return base, base.add(consumedSize), true
	}

	h.reserved.lock()
	entry, prev, seen2 := h.reserved.search(req, func(FreeEntry) bool { return true })
	if seen2 > largestSeen {
		largestSeen = seen2
	}
	if entry.IsNil() {
		h.reserved.unlock()
		h.bumpLargest(largestSeen)
		return 0, 0, false
	}
	consumed, _, _ := h.reserved.consumeForTLH(prev, entry, maxSize, minimum)
	h.reserved.unlock()
	h.recordAllocation(h.n(), consumed)
	h.tlhStats.Increment(consumed)
	return Address(entry), Address(entry).add(consumed), true
}

// ExpandWithRange implements §4.6 for the Hybrid variant: new memory
// is coalesced onto the reserved list's tail first (it sorts after
// every normal sub-list by construction), then a normal sub-list's
// tail, else appended fresh; a fresh-or-grown entry that newly clears
// VeryLargeObjectThreshold is promoted into the (currently empty)
// reserved list.
func (h *HybridPool) ExpandWithRange(size uintptr, base, top Address, canCoalesce bool) {
	h.lockAllNormal()
	h.reserved.lock()
	defer h.reserved.unlock()
	defer h.unlockAllNormal()

	last := h.subLists[h.n()-1]

	if canCoalesce {
		if e, _ := h.reserved.tail(); !e.IsNil() && e.End() == base {
			h.reserved.growInPlace(e, size)
			h.bumpLargest(e.Size())
			return
		}
		if e, _ := last.tail(); !e.IsNil() && e.End() == base {
			last.growInPlace(e, size)
			h.bumpLargest(e.Size())
			h.maybePromote(last, e)
			return
		}
	}

	tail, _ := last.tail()
	entry := last.connectInner(tail, base, size)
	h.bumpLargest(entry.Size())
	h.maybePromote(last, entry)
}

// maybePromote migrates entry off sub (already locked by the caller)
// onto the reserved list, if no reserved entry is currently designated
// and entry's size clears the threshold (§4.5).
func (h *HybridPool) maybePromote(sub *SubList, entry FreeEntry) {
	if !h.reserved.isEmpty() || entry.Size() < h.cfg.VeryLargeObjectThreshold {
		return
	}
	prev := sub.findPredecessor(entry)
	sub.unlink(prev, entry)
	sub.unlinkAccounting(entry)
	h.reserved.appendAtTail(Address(entry), entry.Size())
}

func (h *HybridPool) ContractWithRange(size uintptr, base, top Address) (Address, bool) {
	h.lockAllNormal()
	h.reserved.lock()
	defer h.reserved.unlock()
	defer h.unlockAllNormal()

	entry, ok := h.findFreeEntryEndingAtAddr(top, h.reserved)
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

	var sub *SubList
	if entry == h.reservedTail() {
		sub = h.reserved
	} else {
		sub, _ = h.subListOwning(entry)
	}
	if sub == nil {
		return 0, false
	}

	newSize := entry.Size() - avail
	freedAt := top.sub(avail)
	switch {
	case newSize == 0:
		prev := sub.findPredecessor(entry)
		sub.unlink(prev, entry)
		sub.unlinkAccounting(entry)
	case newSize >= h.cfg.MinimumFreeEntrySize:
		sub.shrinkInPlace(entry, avail)
	default:
		_ = base
		return 0, false
	}
	return freedAt, true
}

func (h *HybridPool) reservedTail() FreeEntry {
	e, _ := h.reserved.tail()
	return e
}

func (h *HybridPool) AddFreeEntries(head, tail FreeEntry, count, totalSize uintptr) {
	h.lockAllNormal()
	defer h.unlockAllNormal()
	last := h.subLists[h.n()-1]
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

func (h *HybridPool) RemoveFreeEntriesWithinRange(low, high Address, minSize uintptr) (FreeEntry, FreeEntry, uintptr, uintptr) {
	h.lockAllNormal()
	h.reserved.lock()
	defer h.reserved.unlock()
	defer h.unlockAllNormal()

	lists := append(append([]*SubList(nil), h.subLists...), h.reserved)
	return removeWithinRange(lists, low, high, minSize)
}

func (h *HybridPool) RebuildFreeListInRegion(base, top Address, previousFreeEntry FreeEntry) FreeEntry {
	return rebuildRegion(base, top, previousFreeEntry, h.cfg.MinimumFreeEntrySize)
}

func (h *HybridPool) Lock() {
	h.lockAllNormal()
	h.reserved.lock()
}

func (h *HybridPool) Unlock() {
	h.reserved.unlock()
	h.unlockAllNormal()
}

func (h *HybridPool) Reset(cause Cause) {
	h.lockAllNormal()
	for _, s := range h.subLists {
		resetSubList(s)
	}
	h.reserved.lock()
	resetSubList(h.reserved)
	h.reserved.unlock()
	h.unlockAllNormal()
	h.setLargest(0)
	h.aggMu.Lock()
	h.darkMatterBytes, h.darkMatterSamples = 0, 0
	h.aggMu.Unlock()
	_ = cause
}

func (h *HybridPool) PostProcess(cause Cause) {
	h.lockAllNormal()
	largest, largestPrev, largestIdx := h.postProcessSplit(h.sweep.chunks)
	h.sweep.chunks = nil

	h.reserved.lock()
	if h.reserved.isEmpty() && !largest.IsNil() && largest.Size() >= h.cfg.VeryLargeObjectThreshold {
		sub := h.subLists[largestIdx]
		sub.unlink(largestPrev, largest)
		sub.unlinkAccounting(largest)
		h.reserved.appendAtTail(Address(largest), largest.Size())
	}
	h.reserved.unlock()
	h.unlockAllNormal()
	_ = cause
}

func (h *HybridPool) FindAddressAfterFreeSize(sizeRequired, minSize uintptr) (Address, bool) {
	return h.findAddressAfterFreeSize(sizeRequired, minSize, h.reserved)
}

func (h *HybridPool) GetAvailableContractionSizeForRangeEndingAt(allocSize uintptr, low, high Address) uintptr {
	return h.getAvailableContractionSizeForRangeEndingAt(allocSize, low, high, h.reserved)
}

func (h *HybridPool) FindFreeEntryEndingAtAddr(addr Address) (FreeEntry, bool) {
	return h.findFreeEntryEndingAtAddr(addr, h.reserved)
}

func (h *HybridPool) FindFreeEntryTopStartingAtAddr(addr Address) (FreeEntry, bool) {
	return h.findFreeEntryTopStartingAtAddr(addr, h.reserved)
}

func (h *HybridPool) GetFirstFreeStartingAddr() Address {
	return h.firstFreeStartingAddr(h.reserved)
}

func (h *HybridPool) GetNextFreeStartingAddr(cur Address) Address {
	return h.nextFreeStartingAddr(cur, h.reserved)
}

func (h *HybridPool) MoveHeap(srcBase, srcTop, dstBase Address) {
	h.lockAllNormal()
	h.reserved.lock()
	defer h.reserved.unlock()
	defer h.unlockAllNormal()
	lists := append(append([]*SubList(nil), h.subLists...), h.reserved)
	moveHeapLists(lists, srcBase, srcTop, dstBase)
}

func (h *HybridPool) GetActualFreeMemorySize() uintptr {
	total := h.poolCore.GetActualFreeMemorySize()
	h.reserved.lock()
	total += h.reserved.freeSize
	h.reserved.unlock()
	return total
}

func (h *HybridPool) GetActualFreeEntryCount() uintptr {
	total := h.poolCore.GetActualFreeEntryCount()
	h.reserved.lock()
	total += h.reserved.freeCount
	h.reserved.unlock()
	return total
}

func (h *HybridPool) Recalculate() {
	h.poolCore.recalculate()
	h.reserved.recalculate()
}

func (h *HybridPool) Validate() error {
	return h.poolCore.validate(h.reserved)
}
