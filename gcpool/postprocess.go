package gcpool

// postProcessSplit implements §4.8: after a sweep (or a bulk load via
// RebuildFreeListInRegion) leaves every free entry linked on sub-list
// 0 in address order, split it into p.n() sub-lists of roughly equal
// free bytes.
//
// When chunks is non-empty, the by-sweep-chunk algorithm is used
// (preferred: cheap, since the sweep already recorded candidate split
// points as it went). Otherwise, the entry-granularity fallback walks
// the merged list directly. Either way this returns the single
// largest free entry found, its predecessor within whichever sub-list
// it landed in, and that sub-list's index — the designation the
// caller (HybridPool or SplitPool) uses to make it the reserved entry
// if its size clears VeryLargeObjectThreshold (§4.5).
func (p *poolCore) postProcessSplit(chunks []*SweepChunk) (largest, largestPrev FreeEntry, largestIdx int) {
	n := p.n()
	merged := p.subLists[0]

	if n <= 1 {
		merged.recalculate()
		return p.largestInSubList(0)
	}

	total := merged.freeSize
	target := total / uintptr(n)

	var cutHeads, cutPrevs []FreeEntry

	usedChunks := false
	if len(chunks) > 0 && target > 0 {
		limit := len(chunks)
		if p.cfg.SplitFreeListNumberChunksPrepared > 0 && p.cfg.SplitFreeListNumberChunksPrepared < limit {
			limit = p.cfg.SplitFreeListNumberChunksPrepared
		}
		accumulatedSoFar := uintptr(0)
		for i := 0; i < limit && len(cutHeads) < n-1; i++ {
			c := chunks[i]
			if c.SplitCandidate.IsNil() {
				continue
			}
			currentSize := c.AccumulatedFreeSize - accumulatedSoFar
			if currentSize >= target {
				cutHeads = append(cutHeads, c.SplitCandidate)
				cutPrevs = append(cutPrevs, c.SplitCandidatePreviousEntry)
				accumulatedSoFar = c.AccumulatedFreeSize
				usedChunks = true
			}
		}
	}

	if !usedChunks && target > 0 {
		var acc uintptr
		for cur := merged.head; !cur.IsNil() && len(cutHeads) < n-1; cur = cur.Next() {
			acc += cur.Size()
			if acc >= target {
				cutHeads = append(cutHeads, cur.Next())
				cutPrevs = append(cutPrevs, cur)
				acc = 0
			}
		}
	}

	heads := make([]FreeEntry, n)
	heads[0] = merged.head
	for i, h := range cutHeads {
		heads[i+1] = h
		if !cutPrevs[i].IsNil() {
			cutPrevs[i].setNext(NoEntry)
		} else {
			heads[i] = NoEntry
		}
	}
	for i := 0; i < n; i++ {
		p.subLists[i].head = heads[i]
		p.subLists[i].recalculate()
	}

	for i := 0; i < n; i++ {
		p.threadAffinity[i].Store(int64(i))
	}

	var bestIdx int
	var best, bestPrev FreeEntry
	for i := 0; i < n; i++ {
		entry, prev, idx := p.largestInSubList(i)
		if entry.IsNil() {
			continue
		}
		if best.IsNil() || entry.Size() > best.Size() {
			best, bestPrev, bestIdx = entry, prev, idx
		}
	}
	return best, bestPrev, bestIdx
}

func (p *poolCore) largestInSubList(idx int) (entry, prev FreeEntry, listIdx int) {
	listIdx = idx
	var before FreeEntry
	for cur := p.subLists[idx].head; !cur.IsNil(); cur = cur.Next() {
		if entry.IsNil() || cur.Size() > entry.Size() {
			entry, prev = cur, before
		}
		before = cur
	}
	return
}
