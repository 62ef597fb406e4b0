package gcpool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Cause names why a structural operation (Reset, PostProcess) is
// happening, mirroring the source's Cause enum (§6, §4.8).
type Cause int

const (
	CauseAny Cause = iota
	CauseForSweep
	CauseForCompact
)

// Pool is the capability set both concrete variants implement —
// design note §9's "polymorphic over {allocateObject, allocateTLH,
// expandWithRange, contractWithRange, reset, postProcess,
// addFreeEntries, removeFreeEntriesWithinRange}" plus the rest of §6's
// external interface, whose logic both variants share through helpers
// on the embedded poolCore.
type Pool interface {
	AllocateObject(size uintptr) (Address, bool)
	AllocateTLH(maxSize uintptr) (base, top Address, ok bool)
	CollectorAllocate(size uintptr, lockingRequired bool) (Address, bool)
	CollectorAllocateTLH(maxSize uintptr, lockingRequired bool) (base, top Address, ok bool)
	ExpandWithRange(size uintptr, base, top Address, canCoalesce bool)
	ContractWithRange(size uintptr, base, top Address) (Address, bool)
	AddFreeEntries(head, tail FreeEntry, count uintptr, totalSize uintptr)
	RemoveFreeEntriesWithinRange(low, high Address, minSize uintptr) (head, tail FreeEntry, count, totalSize uintptr)
	RebuildFreeListInRegion(base, top Address, previousFreeEntry FreeEntry) FreeEntry
	Lock()
	Unlock()
	Reset(cause Cause)
	PostProcess(cause Cause)

	FindAddressAfterFreeSize(sizeRequired, minSize uintptr) (Address, bool)
	GetAvailableContractionSizeForRangeEndingAt(allocSize uintptr, low, high Address) uintptr
	FindFreeEntryEndingAtAddr(addr Address) (FreeEntry, bool)
	FindFreeEntryTopStartingAtAddr(addr Address) (FreeEntry, bool)
	GetFirstFreeStartingAddr() Address
	GetNextFreeStartingAddr(cur Address) Address
	MoveHeap(srcBase, srcTop, dstBase Address)

	GetActualFreeMemorySize() uintptr
	GetActualFreeEntryCount() uintptr
	GetLargestFreeEntry() uintptr
	GetDarkMatterBytes() uintptr
	GetDarkMatterSamples() uintptr

	Recalculate()
	Validate() error
}

// New builds the pool variant named by cfg.Variant.
func New(cfg Config) (Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	core := newPoolCore(cfg)
	switch cfg.Variant {
	case VariantHybrid:
		return newHybridPool(core), nil
	case VariantSplit:
		return newSplitPool(core), nil
	default:
		return nil, fatalConfigError(cfg.Variant)
	}
}

func fatalConfigError(v Variant) error {
	return &configError{v}
}

type configError struct{ v Variant }

func (e *configError) Error() string { return "gcpool: unknown Variant" }

// poolCore is C4's shared base: N normal sub-lists plus the aggregate
// bookkeeping common to both the Hybrid and Split variant. The
// reserved entry itself — a physically separate list in Hybrid, an
// index+predecessor pointer into a normal list in Split — is NOT
// here; it lives in the wrapping HybridPool/SplitPool, which is why
// those types, not poolCore, implement Pool.
type poolCore struct {
	cfg Config

	subLists []*SubList

	threadAffinity []atomic.Int64

	aggMu             sync.Mutex
	largestFreeEntry  uintptr
	darkMatterBytes   uintptr
	darkMatterSamples uintptr

	allocCount          atomic.Uint64
	allocBytes          atomic.Uint64
	allocDiscardedBytes atomic.Uint64

	tlhStats                             *prometheusAllocateStats
	largeObjectAllocateStats             *prometheusAllocateStats
	largeObjectAllocateStatsForFreeList []*prometheusAllocateStats

	sweep sweepState

	// roundRobin stands in for the source's thread-slot identity: Go
	// gives a pool no cheap way to read "which worker am I," so each
	// allocate call draws the next slot from this counter instead of
	// deriving one from the caller (DESIGN.md, C4).
	roundRobin atomic.Uint64
}

func newPoolCore(cfg Config) *poolCore {
	n := cfg.FreeListCount
	pc := &poolCore{
		cfg:                                 cfg,
		subLists:                            make([]*SubList, n),
		threadAffinity:                      make([]atomic.Int64, n),
		tlhStats:                            newPrometheusAllocateStats("gcpool", "tlh_allocate_bytes", "Bytes handed out per TLH allocation.", "aggregate"),
		largeObjectAllocateStats:            newPrometheusAllocateStats("gcpool", "large_object_allocate_bytes", "Bytes handed out per large-object allocation.", "aggregate"),
		largeObjectAllocateStatsForFreeList: make([]*prometheusAllocateStats, n+1),
	}
	for i := 0; i < n; i++ {
		pc.subLists[i] = newSubList(i, cfg)
		pc.threadAffinity[i].Store(int64(i))
		pc.largeObjectAllocateStatsForFreeList[i] = newPrometheusAllocateStats("gcpool", "large_object_allocate_bytes_per_freelist", "Bytes handed out per large-object allocation, by sub-list.", freeListLabel(i))
	}
	pc.largeObjectAllocateStatsForFreeList[n] = newPrometheusAllocateStats("gcpool", "large_object_allocate_bytes_per_freelist", "Bytes handed out per large-object allocation, by sub-list.", freeListLabel(n))
	return pc
}

func freeListLabel(i int) string {
	if i == 0 {
		return "0"
	}
	b := make([]byte, 0, 4)
	n := i
	var digits [4]byte
	d := 0
	for n > 0 {
		digits[d] = byte('0' + n%10)
		n /= 10
		d++
	}
	for d > 0 {
		d--
		b = append(b, digits[d])
	}
	return string(b)
}

// lockAllNormal/unlockAllNormal acquire every normal sub-list mutex in ascending index
// order — the ordering §5 requires for any operation (sweep connect,
// expand, contract, postProcess, Lock/Unlock/Reset) that must see a
// consistent view across sub-list boundaries.
func (p *poolCore) lockAllNormal() {
	for _, s := range p.subLists {
		s.lock()
	}
}

func (p *poolCore) unlockAllNormal() {
	for i := len(p.subLists) - 1; i >= 0; i-- {
		p.subLists[i].unlock()
	}
}

func (p *poolCore) n() int { return len(p.subLists) }

// debugCheckSubList runs a sub-list's cheap invariant check when
// debugValidate is enabled, mirroring the teacher's practice of
// asserting free-list invariants after every structural mutation in
// debug builds only. Caller must already hold sub's lock.
func (p *poolCore) debugCheckSubList(sub *SubList) {
	if !debugValidate {
		return
	}
	if err := sub.validate(); err != nil {
		diag("%v", err)
	}
}

// nextWorkerSlot returns the next slot in round-robin order, the
// entry point into threadAffinity that §4.3 calls "the caller's
// thread slot."
func (p *poolCore) nextWorkerSlot() int {
	n := p.n()
	if n == 0 {
		return 0
	}
	return int(p.roundRobin.Add(1) % uint64(n))
}

// startingSubList resolves a request's starting sub-list index: the
// slot's remembered affinity, or, if that sub-list is empty,
// findGoodStartFreeList's largest-free-size suggestion (§4.3).
func (p *poolCore) startingSubList() int {
	idx := int(p.threadAffinity[p.nextWorkerSlot()%p.n()].Load())
	if p.subLists[idx].isEmpty() {
		idx = p.findGoodStartFreeList()
	}
	return idx
}

// findGoodStartFreeList picks the sub-list currently holding the most
// free bytes, consulted whenever a request's affinity sub-list turns
// out to be empty (§4.3).
func (p *poolCore) findGoodStartFreeList() int {
	best := 0
	var bestSize uintptr
	for i, s := range p.subLists {
		s.lock()
		sz := s.freeSize
		s.unlock()
		if sz > bestSize {
			bestSize, best = sz, i
		}
	}
	return best
}

// tryAllocateCircular walks all N sub-lists once, starting at
// startIdx and wrapping around, searching each under its own lock and
// invoking consume on the first qualifying hit before releasing that
// lock — so a winning entry is never raced between search and
// consumption. skip lets the Split variant veto the one address range
// occupied by its reserved entry on pass 1 (§4.3); Hybrid always
// allows.
func (p *poolCore) tryAllocateCircular(startIdx int, req uintptr, skip func(idx int, prev FreeEntry) bool, consume func(sub *SubList, idx int, entry, prev FreeEntry)) (ok bool, largestSeen uintptr) {
	n := p.n()
	for i := 0; i < n; i++ {
		cur := (startIdx + i) % n
		sub := p.subLists[cur]
		sub.lock()
		e, pr, seen := sub.search(req, func(prev FreeEntry) bool { return skip(cur, prev) })
		if seen > largestSeen {
			largestSeen = seen
		}
		if !e.IsNil() {
			consume(sub, cur, e, pr)
			sub.unlock()
			return true, largestSeen
		}
		sub.unlock()
	}
	return false, largestSeen
}

func allowAll(int, FreeEntry) bool { return true }

// subListOwning finds the normal sub-list currently holding entry, by
// linear scan — used by contraction and reserved-entry bookkeeping,
// both already O(free entries) operations under the all-sub-list lock.
func (p *poolCore) subListOwning(entry FreeEntry) (*SubList, int) {
	for i, s := range p.subLists {
		for cur := s.head; !cur.IsNil(); cur = cur.Next() {
			if cur == entry {
				return s, i
			}
		}
	}
	return nil, -1
}

// recordAllocation updates the aggregate counters common to both
// variants' allocateObject success path (§4.3's "Update aggregate
// counters allocCount += 1, allocBytes += size").
func (p *poolCore) recordAllocation(listIndex int, requestSize uintptr) {
	p.allocCount.Add(1)
	p.allocBytes.Add(uint64(requestSize))
	if listIndex >= 0 && listIndex < p.n() {
		p.threadAffinity[affinitySlot(listIndex, p.n())].Store(int64(listIndex))
	}
}

func affinitySlot(listIndex, n int) int {
	if listIndex < 0 || listIndex >= n {
		return 0
	}
	return listIndex
}

func (p *poolCore) recordDiscard(bytes uintptr) {
	p.allocDiscardedBytes.Add(uint64(bytes))
	p.addDarkMatter(bytes, 1)
}

func (p *poolCore) addDarkMatter(bytes uintptr, samples uintptr) {
	p.aggMu.Lock()
	p.darkMatterBytes += bytes
	p.darkMatterSamples += samples
	p.aggMu.Unlock()
}

func (p *poolCore) bumpLargest(size uintptr) {
	p.aggMu.Lock()
	if size > p.largestFreeEntry {
		p.largestFreeEntry = size
	}
	p.aggMu.Unlock()
}

func (p *poolCore) setLargest(size uintptr) {
	p.aggMu.Lock()
	p.largestFreeEntry = size
	p.aggMu.Unlock()
}

// --- §6 external interface: parts common to both variants ---

func (p *poolCore) GetActualFreeMemorySize() uintptr {
	var total uintptr
	for _, s := range p.subLists {
		s.lock()
		total += s.freeSize
		s.unlock()
	}
	return total
}

func (p *poolCore) GetActualFreeEntryCount() uintptr {
	var total uintptr
	for _, s := range p.subLists {
		s.lock()
		total += s.freeCount
		s.unlock()
	}
	return total
}

func (p *poolCore) GetLargestFreeEntry() uintptr {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	return p.largestFreeEntry
}

func (p *poolCore) GetDarkMatterBytes() uintptr {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	return p.darkMatterBytes
}

func (p *poolCore) GetDarkMatterSamples() uintptr {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	return p.darkMatterSamples
}

// GetFirstFreeStartingAddr/GetNextFreeStartingAddr iterate every
// sub-list's entries in address order, relying on the pool invariant
// that sub-list i's entries all precede sub-list i+1's (§3.4).
// Callers needing the reserved entry included pass it through the
// variant-level override (Split already keeps it inline; Hybrid's
// override additionally walks the reserved list).
func (p *poolCore) firstFreeStartingAddr(extra *SubList) Address {
	for _, s := range p.subLists {
		if !s.isEmpty() {
			return Address(s.head)
		}
	}
	if extra != nil && !extra.isEmpty() {
		return Address(extra.head)
	}
	return 0
}

func (p *poolCore) nextFreeStartingAddr(cur Address, extra *SubList) Address {
	lists := p.subLists
	for i, s := range lists {
		for e := s.head; !e.IsNil(); e = e.Next() {
			if Address(e) == cur {
				if n := e.Next(); !n.IsNil() {
					return Address(n)
				}
				for j := i + 1; j < len(lists); j++ {
					if !lists[j].isEmpty() {
						return Address(lists[j].head)
					}
				}
				if extra != nil && !extra.isEmpty() {
					return Address(extra.head)
				}
				return 0
			}
		}
	}
	if extra != nil {
		for e := extra.head; !e.IsNil(); e = e.Next() {
			if Address(e) == cur {
				return Address(e.Next())
			}
		}
	}
	return 0
}

func (p *poolCore) findFreeEntryEndingAtAddr(addr Address, extra *SubList) (FreeEntry, bool) {
	lists := p.subLists
	if extra != nil {
		lists = append(append([]*SubList(nil), lists...), extra)
	}
	for _, s := range lists {
		for e := s.head; !e.IsNil(); e = e.Next() {
			if e.End() == addr {
				return e, true
			}
		}
	}
	return NoEntry, false
}

func (p *poolCore) findFreeEntryTopStartingAtAddr(addr Address, extra *SubList) (FreeEntry, bool) {
	lists := p.subLists
	if extra != nil {
		lists = append(append([]*SubList(nil), lists...), extra)
	}
	for _, s := range lists {
		for e := s.head; !e.IsNil(); e = e.Next() {
			if Address(e) == addr {
				return e, true
			}
		}
	}
	return NoEntry, false
}

// findAddressAfterFreeSize scans sub-lists in address order,
// accumulating free bytes of entries at least minSize, and returns
// the address at which the running total first reaches sizeRequired.
func (p *poolCore) findAddressAfterFreeSize(sizeRequired, minSize uintptr, extra *SubList) (Address, bool) {
	var acc uintptr
	lists := p.subLists
	if extra != nil {
		lists = append(append([]*SubList(nil), lists...), extra)
	}
	for _, s := range lists {
		for e := s.head; !e.IsNil(); e = e.Next() {
			if e.Size() < minSize {
				continue
			}
			acc += e.Size()
			if acc >= sizeRequired {
				return e.End(), true
			}
		}
	}
	return 0, false
}

func (p *poolCore) getAvailableContractionSizeForRangeEndingAt(allocSize uintptr, low, high Address, extra *SubList) uintptr {
	entry, ok := p.findFreeEntryEndingAtAddr(high, extra)
	if !ok {
		return 0
	}
	available := entry.Size()
	if allocSize != 0 && allocSize <= available {
		available -= allocSize
	}
	_ = low
	return available
}

func (p *poolCore) recalculate() {
	for _, s := range p.subLists {
		s.recalculate()
	}
}

func (p *poolCore) validate(extra *SubList) error {
	lists := p.subLists
	if extra != nil {
		lists = append(append([]*SubList(nil), lists...), extra)
	}
	var largest uintptr
	for _, s := range lists {
		if err := s.validate(); err != nil {
			return err
		}
		for e := s.head; !e.IsNil(); e = e.Next() {
			if e.Size() > largest {
				largest = e.Size()
			}
		}
	}
	if largest > p.largestFreeEntry {
		return fmt.Errorf("gcpool: largestFreeEntry = %d, below actual largest entry %d", p.largestFreeEntry, largest)
	}
	return nil
}
