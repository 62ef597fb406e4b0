package gcpool

// SweepChunk is the external collaborator the sweep machinery hands to
// the pool, one per address-bounded chunk of the heap, in strictly
// ascending address order (§3.5, §6). connectChunk reads these fields
// and writes some back: Projection when it must be propagated forward,
// the leading/trailing candidates as they are consumed or
// reinterpreted, and the split-candidate fields it records for
// postProcess; everything else about how a chunk was produced is out
// of scope (spec §1 non-goals).
type SweepChunk struct {
	Base, Top Address
	Pool      *poolIdentity

	LeadingFreeCandidate     Address
	LeadingFreeCandidateSize uintptr

	TrailingFreeCandidate     Address
	TrailingFreeCandidateSize uintptr

	// Projection is the number of bytes of an object that start in
	// this chunk and continue past Top into the next chunk's address
	// range, shortening that chunk's leading candidate.
	Projection uintptr

	FreeListHead, FreeListTail         FreeEntry
	FreeListHeadSize, FreeListTailSize uintptr
	PreviousFreeListTail               FreeEntry

	FreeBytes, FreeHoles uintptr

	LargestFreeEntry, PreviousLargestFreeEntry uintptr

	DarkMatterBytes, DarkMatterSamples uintptr

	// CoalesceCandidate reports whether this chunk's leading/trailing
	// candidates may be joined with the previous chunk's trailing
	// data; false if, e.g., the previous chunk belongs to a different
	// pool or region.
	CoalesceCandidate bool

	// SplitCandidate fields back postProcess's by-sweep-chunk split
	// algorithm (§4.8). A chunk that recorded one is a candidate
	// sub-list boundary.
	SplitCandidate               FreeEntry
	SplitCandidatePreviousEntry  FreeEntry
	AccumulatedFreeSize          uintptr
	AccumulatedFreeHoles         uintptr
}

// poolIdentity lets two SweepChunks be compared for "same pool"
// without importing the concrete pool type, matching the spec's
// "same pool" test in the connectChunk decision table (§4.7 step 2-4).
type poolIdentity struct{ _ int }

// sweepState is the per-pool state threaded across connectChunk calls
// (§3.5's "connectPreviousChunk" family).
type sweepState struct {
	prevChunk *SweepChunk

	prevFreeEntry             FreeEntry
	prevFreeEntrySize         uintptr
	prevPrevFreeEntry         FreeEntry

	sweepFreeBytes uintptr
	sweepFreeHoles uintptr

	largestFreeEntry         uintptr
	previousLargestFreeEntry uintptr

	// chunks accumulates every chunk connectChunk has folded in since
	// the last PostProcess, in order, so PostProcess's by-sweep-chunk
	// split algorithm (§4.8) can consult their SplitCandidate fields
	// without the caller having to keep its own slice.
	chunks []*SweepChunk
}

// canConnect is the spec's "the joined size meets 'can be connected'"
// test (§4.7 step 3): a candidate is only ever installed as a real
// free entry if it would satisfy MinimumFreeEntrySize.
func canConnect(size, minimum uintptr) bool { return size >= minimum }

// connectChunk folds one sweep chunk into sub-list 0 (sweep always
// populates a single address-ordered list; postProcess splits it
// afterward — §4.8). It implements the decision table of §4.7 in
// order.
func (p *poolCore) connectChunk(chunk *SweepChunk) {
	minimum := p.cfg.MinimumFreeEntrySize
	list := p.subLists[0]
	st := &p.sweep

	// Step 1: projection absorption.
	if st.prevChunk != nil && st.prevChunk.Projection > 0 {
		proj := st.prevChunk.Projection
		if proj >= chunk.LeadingFreeCandidateSize {
			remaining := proj - chunk.LeadingFreeCandidateSize
			chunk.LeadingFreeCandidate = 0
			chunk.LeadingFreeCandidateSize = 0
			chunk.Projection = remaining
		} else {
			chunk.LeadingFreeCandidate = chunk.LeadingFreeCandidate.add(proj)
			chunk.LeadingFreeCandidateSize -= proj
		}
	}

	samePool := st.prevChunk == nil || chunk.Pool == st.prevChunk.Pool

	// Step 2: previous free entry absorbs this chunk's leading candidate.
	if !st.prevFreeEntry.IsNil() && chunk.LeadingFreeCandidateSize > 0 &&
		Address(st.prevFreeEntry)+Address(st.prevFreeEntrySize) == chunk.LeadingFreeCandidate &&
		samePool && chunk.CoalesceCandidate {
		newSize := st.prevFreeEntrySize + chunk.LeadingFreeCandidateSize
		st.prevFreeEntry.setSizeUnsafe(newSize)
		list.freeEntryStats.Decrement(st.prevFreeEntrySize)
		list.freeEntryStats.Increment(newSize)
		st.sweepFreeBytes += chunk.LeadingFreeCandidateSize
		st.prevFreeEntrySize = newSize
		chunk.LeadingFreeCandidate = 0
		chunk.LeadingFreeCandidateSize = 0
	} else if chunk.LeadingFreeCandidateSize > 0 && st.prevChunk != nil &&
		st.prevChunk.TrailingFreeCandidateSize > 0 &&
		st.prevChunk.TrailingFreeCandidate.add(st.prevChunk.TrailingFreeCandidateSize) == chunk.LeadingFreeCandidate &&
		samePool && chunk.CoalesceCandidate &&
		canConnect(st.prevChunk.TrailingFreeCandidateSize+chunk.LeadingFreeCandidateSize, minimum) {
		// Step 3: trailing-of-previous joins leading-of-this.
		joined := st.prevChunk.TrailingFreeCandidateSize + chunk.LeadingFreeCandidateSize
		e := list.connectInner(st.prevFreeEntry, st.prevChunk.TrailingFreeCandidate, joined)
		chunk.LeadingFreeCandidate = 0
		chunk.LeadingFreeCandidateSize = 0
		st.prevPrevFreeEntry = st.prevFreeEntry
		st.prevFreeEntry = e
		st.prevFreeEntrySize = joined
		st.sweepFreeBytes += joined
		st.sweepFreeHoles++
		st.bumpLargest(joined)
	} else if st.prevChunk != nil && st.prevChunk.TrailingFreeCandidateSize > 0 &&
		canConnect(st.prevChunk.TrailingFreeCandidateSize, minimum) {
		// Step 4: trailing-of-previous alone.
		e := list.connectInner(st.prevFreeEntry, st.prevChunk.TrailingFreeCandidate, st.prevChunk.TrailingFreeCandidateSize)
		st.prevPrevFreeEntry = st.prevFreeEntry
		st.prevFreeEntry = e
		st.prevFreeEntrySize = st.prevChunk.TrailingFreeCandidateSize
		st.sweepFreeBytes += st.prevChunk.TrailingFreeCandidateSize
		st.sweepFreeHoles++
		st.bumpLargest(st.prevChunk.TrailingFreeCandidateSize)
	}

	// Step 5/6: leading candidate alone, possibly reinterpreted as a
	// trailing candidate if it spans the whole (possibly
	// projection-shortened) chunk.
	if chunk.LeadingFreeCandidateSize > 0 {
		if canConnect(chunk.LeadingFreeCandidateSize, minimum) {
			if chunk.LeadingFreeCandidate.add(chunk.LeadingFreeCandidateSize) >= chunk.Top {
				chunk.TrailingFreeCandidate = chunk.LeadingFreeCandidate
				chunk.TrailingFreeCandidateSize = chunk.LeadingFreeCandidateSize
				chunk.LeadingFreeCandidate = 0
				chunk.LeadingFreeCandidateSize = 0
			} else {
				e := list.connectInner(st.prevFreeEntry, chunk.LeadingFreeCandidate, chunk.LeadingFreeCandidateSize)
				st.prevPrevFreeEntry = st.prevFreeEntry
				st.prevFreeEntry = e
				st.prevFreeEntrySize = chunk.LeadingFreeCandidateSize
				st.sweepFreeBytes += chunk.LeadingFreeCandidateSize
				st.sweepFreeHoles++
				st.bumpLargest(chunk.LeadingFreeCandidateSize)
			}
		} else {
			abandon(chunk.LeadingFreeCandidate, chunk.LeadingFreeCandidate.add(chunk.LeadingFreeCandidateSize))
			p.addDarkMatter(chunk.LeadingFreeCandidateSize, 1)
		}
	}

	// Step 7: the chunk's own free-list interior.
	if !chunk.FreeListHead.IsNil() {
		if st.prevFreeEntry.IsNil() {
			list.head = chunk.FreeListHead
		} else {
			st.prevFreeEntry.setNext(chunk.FreeListHead)
		}
		chunk.SplitCandidate = chunk.FreeListHead
		chunk.SplitCandidatePreviousEntry = st.prevFreeEntry
		chunk.AccumulatedFreeSize = st.sweepFreeBytes
		chunk.AccumulatedFreeHoles = st.sweepFreeHoles
		st.chunks = append(st.chunks, chunk)
		if chunk.LargestFreeEntry > st.largestFreeEntry {
			st.largestFreeEntry = chunk.LargestFreeEntry
		}
		st.previousLargestFreeEntry = chunk.PreviousLargestFreeEntry
		st.prevPrevFreeEntry = st.prevFreeEntry
		st.prevFreeEntry = chunk.FreeListTail
		st.prevFreeEntrySize = chunk.FreeListTailSize
		st.sweepFreeBytes += chunk.FreeBytes
		st.sweepFreeHoles += chunk.FreeHoles
	}

	// Step 8.
	st.prevChunk = chunk
	p.addDarkMatter(chunk.DarkMatterBytes, chunk.DarkMatterSamples)
}

func (st *sweepState) bumpLargest(size uintptr) {
	if size > st.largestFreeEntry {
		st.largestFreeEntry = size
	}
}

// flushFinalChunk applies connectChunk's step 4 (or an abandon) to the
// very last chunk's trailing candidate, which no subsequent chunk
// will ever claim.
func (p *poolCore) flushFinalChunk() {
	st := &p.sweep
	chunk := st.prevChunk
	if chunk == nil || chunk.TrailingFreeCandidateSize == 0 {
		return
	}
	minimum := p.cfg.MinimumFreeEntrySize
	list := p.subLists[0]
	if canConnect(chunk.TrailingFreeCandidateSize, minimum) {
		e := list.connectInner(st.prevFreeEntry, chunk.TrailingFreeCandidate, chunk.TrailingFreeCandidateSize)
		st.prevPrevFreeEntry = st.prevFreeEntry
		st.prevFreeEntry = e
		st.prevFreeEntrySize = chunk.TrailingFreeCandidateSize
		st.sweepFreeBytes += chunk.TrailingFreeCandidateSize
		st.sweepFreeHoles++
		st.bumpLargest(chunk.TrailingFreeCandidateSize)
	} else {
		abandon(chunk.TrailingFreeCandidate, chunk.TrailingFreeCandidate.add(chunk.TrailingFreeCandidateSize))
		p.addDarkMatter(chunk.TrailingFreeCandidateSize, 1)
	}
}

// connectFinalChunk terminates sub-list 0 and publishes the sweep
// totals onto the pool (§4.7's connectFinalChunk). Callers then invoke
// PostProcess(CauseForSweep) to split the merged list into N sub-lists.
func (p *poolCore) connectFinalChunk() {
	st := &p.sweep
	if !st.prevFreeEntry.IsNil() {
		st.prevFreeEntry.setNext(NoEntry)
	}
	p.subLists[0].freeSize = st.sweepFreeBytes
	p.subLists[0].freeCount = st.sweepFreeHoles
	p.setLargest(st.largestFreeEntry)
}

// setSizeUnsafe rewrites an entry's size word in place, re-stamping
// the dead-object sentinel and leaving its next link alone — used when
// connectChunk/expand grow an existing entry rather than replacing it.
func (e FreeEntry) setSizeUnsafe(size uintptr) {
	storeWord(Address(e), deadObjectSentinel|uint64(size)&sizeMask)
}
