package gcpool

// This file holds the expand/contract (C6) helpers shared by both
// concrete pool variants: resetting a sub-list's contents, cutting a
// chain of free entries out of an address range, rebuilding a single
// entry over a raw range, and relocating a set of sub-lists' entries
// after the heap itself moves.

// resetSubList clears a sub-list back to empty, the way
// MemoryPool::reset clears each of its sub-spaces.
// Caller holds the sub-list's lock.
func resetSubList(s *SubList) {
	s.head = NoEntry
	s.freeSize, s.freeCount = 0, 0
	s.hints.clear()
	s.freeEntryStats.ResetCurrent()
}

// removeWithinRange detaches every entry at least minSize whose
// address falls in [low, high) from lists, splicing the pieces left
// behind back together, and returns the detached entries as a single
// chain plus their count and total size (§6's
// RemoveFreeEntriesWithinRange). Callers hold every list's lock.
func removeWithinRange(lists []*SubList, low, high Address, minSize uintptr) (head, tail FreeEntry, count, total uintptr) {
	for _, s := range lists {
		var prev FreeEntry
		cur := s.head
		for !cur.IsNil() {
			next := cur.Next()
			if Address(cur) >= low && Address(cur) < high && cur.Size() >= minSize {
				s.unlink(prev, cur)
				s.unlinkAccounting(cur)
				cur.setNext(NoEntry)
				if head.IsNil() {
					head = cur
				} else {
					tail.setNext(cur)
				}
				tail = cur
				count++
				total += cur.Size()
				cur = next
				continue
			}
			prev = cur
			cur = next
		}
	}
	return head, tail, count, total
}

// rebuildRegion installs a single free entry spanning [base, top),
// linked after previousFreeEntry, or abandons the range as dark
// matter if it's smaller than minimum (§6's RebuildFreeListInRegion).
// The caller is responsible for folding the new entry into a
// sub-list's aggregate counters afterward (typically via
// AddFreeEntries), matching the "build the raw chain, then attach it"
// shape the sweep connector already uses.
func rebuildRegion(base, top Address, previousFreeEntry FreeEntry, minimum uintptr) FreeEntry {
	size := uintptr(top - base)
	if size < minimum {
		abandon(base, top)
		return previousFreeEntry
	}
	e := writeHeader(base, size, NoEntry)
	if !previousFreeEntry.IsNil() {
		previousFreeEntry.setNext(e)
	}
	return e
}

// moveHeapLists rewrites every entry in lists at its relocated
// address (offset by dstBase-srcBase for entries within
// [srcBase,srcTop), unchanged otherwise) and relinks each list's head
// chain over the rewritten entries (§6's MoveHeap). This rebuilds the
// full chain rather than patching only the moved entries, trading a
// full-list walk for a much simpler and more obviously correct
// implementation — heap moves are rare, unlike allocation.
func moveHeapLists(lists []*SubList, srcBase, srcTop, dstBase Address) {
	offset := int64(dstBase) - int64(srcBase)
	for _, s := range lists {
		var newHead, prevNew FreeEntry
		for cur := s.head; !cur.IsNil(); {
			next := cur.Next()
			addr := Address(cur)
			if addr >= srcBase && addr < srcTop {
				addr = Address(int64(addr) + offset)
			}
			e := writeHeader(addr, cur.Size(), NoEntry)
			if prevNew.IsNil() {
				newHead = e
			} else {
				prevNew.setNext(e)
			}
			prevNew = e
			cur = next
		}
		s.head = newHead
		s.hints.clear()
	}
}
