package gcpool

import (
	"fmt"
	"strings"
	"sync"
)

// SubList is one address-ordered singly-linked list of free entries,
// plus its mutex, its hint cache, and its aggregate size/count — C3 of
// the design. index is this sub-list's position among the pool's
// subLists (or N for the reserved list in the Hybrid variant); it is
// only used in diagnostic messages.
type SubList struct {
	mu sync.Mutex

	index int

	head FreeEntry

	freeSize  uintptr
	freeCount uintptr

	hints hintCache

	// timesLocked is an observational contention counter, incremented
	// every time a caller takes mu through lock() (§3.3).
	timesLocked uint64

	// freeEntryStats tracks *currently free* bytes by size class; see
	// stats.go for why this can't be a Prometheus histogram.
	freeEntryStats *sizeClassStats
}

func newSubList(index int, cfg Config) *SubList {
	return &SubList{
		index:          index,
		freeEntryStats: newSizeClassStats(cfg.VeryLargeObjectThreshold, cfg.LargeObjectAllocationProfilingSizeClassRatio, cfg.LargeObjectAllocationProfilingTopK),
	}
}

func (s *SubList) lock() {
	s.mu.Lock()
	s.timesLocked++
}

func (s *SubList) unlock() {
	s.mu.Unlock()
}

// connectInner installs newEntry as size bytes at its own address,
// following prev, with a nil next — the shape the sweep connector
// needs when it links a freshly discovered free range onto the tail
// of a sub-list under construction (§4.2).
func (s *SubList) connectInner(prev FreeEntry, addr Address, size uintptr) FreeEntry {
	e := writeHeader(addr, size, NoEntry)
	if prev.IsNil() {
		s.head = e
	} else {
		prev.setNext(e)
	}
	s.freeSize += size
	s.freeCount++
	s.freeEntryStats.Increment(size)
	return e
}

// recycle writes a free entry at [base, top) and splices it between
// prev and next on this sub-list, provided it meets
// MinimumFreeEntrySize. Returns the new entry and true on success; if
// the range is too small to recycle, returns NoEntry, false and the
// caller must abandon() the range and account it as discarded (§4.2).
func (s *SubList) recycle(base, top Address, prev, next FreeEntry, minimumFreeEntrySize uintptr) (FreeEntry, bool) {
	size := uintptr(top - base)
	if size < minimumFreeEntrySize {
		return NoEntry, false
	}
	e := writeHeader(base, size, next)
	if prev.IsNil() {
		s.head = e
	} else {
		prev.setNext(e)
	}
	s.freeSize += size
	s.freeCount++
	s.freeEntryStats.Increment(size)
	return e, true
}

// unlinkAccounting removes entry (already spliced out of the list by
// the caller rewriting prev.next / s.head) from the aggregate counters
// and the hint cache. Used by contraction, range removal and
// reserved-entry promotion; the allocation paths do their own
// accounting.
func (s *SubList) unlinkAccounting(entry FreeEntry) {
	s.freeSize -= entry.Size()
	s.freeCount--
	s.freeEntryStats.Decrement(entry.Size())
	s.hints.remove(entry)
}

// unlink removes entry (linked after prev, or at head if prev is nil)
// from the list structure only, without touching aggregate counters —
// callers either follow it with unlinkAccounting or adjust the
// counters themselves.
func (s *SubList) unlink(prev, entry FreeEntry) {
	if prev.IsNil() {
		s.head = entry.Next()
	} else {
		prev.setNext(entry.Next())
	}
}

// search implements internalAllocateFromList (§4.3): finds the first
// entry on this sub-list (starting from a hint if one qualifies, else
// head) whose size is at least req and whose predecessor is allowed by
// skipReserved (the Split variant's pass-1 skip-the-reserved-entry
// rule; Hybrid passes a predicate that always allows). Returns the
// entry and its predecessor (NoEntry if the match is the head), and
// the largest entry size seen along the way (for callers that fail
// and need to update largestFreeEntry).
func (s *SubList) search(req uintptr, skipReserved func(prev FreeEntry) bool) (entry, prev FreeEntry, largestSeen uintptr) {
	start := s.hints.find(req)
	usedHint := !start.IsNil()

	var cur, before FreeEntry
	if usedHint {
		cur = start
		before = s.findPredecessor(start)
	} else {
		cur = s.head
		before = NoEntry
	}

	walked := 0
	var candidateHintEntry FreeEntry
	var candidateHintSize uintptr

	for !cur.IsNil() {
		sz := cur.Size()
		if sz > largestSeen {
			largestSeen = sz
		}
		if sz >= req && skipReserved(before) {
			if walked > HintMaxWalk || usedHint {
				if candidateHintEntry.IsNil() || candidateHintSize < sz {
					candidateHintEntry, candidateHintSize = cur, sz
				}
				s.hints.add(candidateHintEntry, candidateHintSize)
			}
			return cur, before, largestSeen
		}
		if sz > candidateHintSize && skipReserved(before) {
			candidateHintEntry, candidateHintSize = cur, sz
		}
		before = cur
		cur = cur.Next()
		walked++
	}

	if walked > HintMaxWalk && !candidateHintEntry.IsNil() {
		s.hints.add(candidateHintEntry, candidateHintSize)
	}
	return NoEntry, NoEntry, largestSeen
}

// findPredecessor walks from head to find entry's predecessor, since
// the list is singly linked; used on the hint-start path of search
// and by reserved-entry promotion and contraction.
func (s *SubList) findPredecessor(entry FreeEntry) FreeEntry {
	if s.head == entry {
		return NoEntry
	}
	for cur := s.head; !cur.IsNil(); cur = cur.Next() {
		if cur.Next() == entry {
			return cur
		}
	}
	return NoEntry
}

// appendAtTail links a freshly-formed entry after this list's current
// tail (or as the new head, if the list is empty) — the shape both
// ExpandWithRange and PostProcess's reserved-entry promotion need when
// moving an entry onto a list by address rather than by predecessor.
func (s *SubList) appendAtTail(addr Address, size uintptr) FreeEntry {
	tail, _ := s.tail()
	return s.connectInner(tail, addr, size)
}

// growInPlace extends entry's recorded size by extra bytes without
// moving it or touching its next link — used when expansion finds new
// memory directly adjacent to an existing tail entry (§4.6).
func (s *SubList) growInPlace(entry FreeEntry, extra uintptr) {
	old := entry.Size()
	entry.setSizeUnsafe(old + extra)
	s.freeEntryStats.Decrement(old)
	s.freeEntryStats.Increment(old + extra)
	s.freeSize += extra
}

// shrinkInPlace is growInPlace's inverse, used by contraction to give
// back the tail portion of an entry while keeping its head resident.
func (s *SubList) shrinkInPlace(entry FreeEntry, remove uintptr) {
	old := entry.Size()
	entry.setSizeUnsafe(old - remove)
	s.freeEntryStats.Decrement(old)
	s.freeEntryStats.Increment(old - remove)
	s.freeSize -= remove
}

// consumeForObject implements the consuming half of allocateObject
// (§4.3): entry, preceded by prev, satisfies a request of reqSize
// bytes. The full entry is removed from this list's aggregate
// accounting; whatever residual clears minimum is installed in its
// place, and a too-small residual is abandoned and reported back as
// discarded bytes for the caller to fold into allocDiscardedBytes/dark
// matter (§4.2's discard rule).
func (s *SubList) consumeForObject(prev, entry FreeEntry, reqSize, minimum uintptr) (residual FreeEntry, hadResidual bool, discardedBytes uintptr) {
	entry.assertDead()
	full := entry.Size()
	s.freeCount--
	s.freeEntryStats.Decrement(full)
	s.freeSize -= reqSize

	residualSize := full - reqSize
	if residualSize == 0 {
		s.unlink(prev, entry)
		s.hints.remove(entry)
		return NoEntry, false, 0
	}

	addr := Address(entry).add(reqSize)
	if residualSize >= minimum {
		newEntry := writeHeader(addr, residualSize, entry.Next())
		if prev.IsNil() {
			s.head = newEntry
		} else {
			prev.setNext(newEntry)
		}
		s.freeCount++
		s.freeEntryStats.Increment(residualSize)
		s.hints.update(entry, newEntry)
		return newEntry, true, 0
	}

	s.unlink(prev, entry)
	s.hints.remove(entry)
	s.freeSize -= residualSize
	abandon(addr, addr.add(residualSize))
	return NoEntry, false, residualSize
}

// consumeForTLH implements the consuming half of allocateTLH (§4.4).
// Unlike consumeForObject, a residual smaller than minimum is absorbed
// into the consumed span rather than discarded: the caller simply
// receives a few bytes more than it asked for, never dark matter.
func (s *SubList) consumeForTLH(prev, entry FreeEntry, maxSize, minimum uintptr) (consumed uintptr, residual FreeEntry, hadResidual bool) {
	entry.assertDead()
	full := entry.Size()
	consumed = full
	if maxSize < full && full-maxSize >= minimum {
		consumed = maxSize
	}

	s.freeCount--
	s.freeEntryStats.Decrement(full)
	s.freeSize -= consumed

	residualSize := full - consumed
	if residualSize == 0 {
		s.unlink(prev, entry)
		s.hints.remove(entry)
		return consumed, NoEntry, false
	}

	addr := Address(entry).add(consumed)
	newEntry := writeHeader(addr, residualSize, entry.Next())
	if prev.IsNil() {
		s.head = newEntry
	} else {
		prev.setNext(newEntry)
	}
	s.freeCount++
	s.freeEntryStats.Increment(residualSize)
	s.hints.update(entry, newEntry)
	return consumed, newEntry, true
}

// validate checks invariant 1 and 2 of §8: aggregate agreement and
// strict, non-adjacent address ordering. Returns a descriptive error
// instead of panicking so callers (debug build vs. production) decide
// how to react.
func (s *SubList) validate() error {
	var sawSize, sawCount uintptr
	var prev FreeEntry
	for cur := s.head; !cur.IsNil(); cur = cur.Next() {
		sawSize += cur.Size()
		sawCount++
		if !prev.IsNil() {
			if !(Address(prev) < Address(cur)) {
				return fmt.Errorf("sublist %d: address order broken at %#x -> %#x", s.index, uintptr(prev), uintptr(cur))
			}
			if prev.End() > Address(cur) {
				return fmt.Errorf("sublist %d: entries overlap at %#x/%#x", s.index, uintptr(prev), uintptr(cur))
			}
			if prev.End() == Address(cur) {
				return fmt.Errorf("sublist %d: adjacent uncoalesced entries at %#x/%#x", s.index, uintptr(prev), uintptr(cur))
			}
		}
		prev = cur
	}
	if sawSize != s.freeSize {
		return fmt.Errorf("sublist %d: freeSize %d != actual %d", s.index, s.freeSize, sawSize)
	}
	if sawCount != s.freeCount {
		return fmt.Errorf("sublist %d: freeCount %d != actual %d", s.index, s.freeCount, sawCount)
	}
	return nil
}

// recalculate recomputes freeSize/freeCount from the entries actually
// linked on the list, the way the original's
// recalculateMemoryPoolStatistics rebuilds trust in the aggregates
// after a bulk structural change (SPEC_FULL.md §12).
func (s *SubList) recalculate() {
	var size, count uintptr
	for cur := s.head; !cur.IsNil(); cur = cur.Next() {
		size += cur.Size()
		count++
	}
	s.freeSize, s.freeCount = size, count
}

// String renders the sub-list for debugging (printCurrentFreeList,
// SPEC_FULL.md §12).
func (s *SubList) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sublist[%d] freeSize=%d freeCount=%d:", s.index, s.freeSize, s.freeCount)
	for cur := s.head; !cur.IsNil(); cur = cur.Next() {
		fmt.Fprintf(&b, " [%#x+%d]", uintptr(cur), cur.Size())
	}
	return b.String()
}

func (s *SubList) tail() (entry, prev FreeEntry) {
	prev = NoEntry
	cur := s.head
	for !cur.IsNil() && !cur.Next().IsNil() {
		prev = cur
		cur = cur.Next()
	}
	return cur, prev
}

func (s *SubList) isEmpty() bool { return s.head.IsNil() }
