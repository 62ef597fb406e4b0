package gcpool

import "unsafe"

// Address is the raw machine address of a byte in a heap region the
// pool owns. It is not a Go pointer: the bytes it names live in a region handed to the
// pool by its caller (an arena, an mmap'd range, a big make([]byte, n)
// the owner pins for the pool's lifetime) and are opaque to the Go
// garbage collector. The pool reads and writes free-entry headers
// through it with unsafe.Pointer, exactly as the teacher's allocator
// reads mspan and mheap fields through uintptr-typed page addresses.
type Address uintptr

func (a Address) add(n uintptr) Address { return a + Address(n) }

func (a Address) sub(n uintptr) Address { return a - Address(n) }

func (a Address) ptr() unsafe.Pointer { return unsafe.Pointer(uintptr(a)) }

func loadWord(a Address) uint64 {
	return *(*uint64)(a.ptr())
}

func storeWord(a Address, v uint64) {
	*(*uint64)(a.ptr()) = v
}

// Free entry header layout, laid down in-band inside an otherwise
// unused heap chunk:
//
//	offset 0: tagged size word — high byte is the dead-object
//	          sentinel, low 56 bits are the entry's byte size
//	offset 8: next free entry's address on the same sub-list, or 0
//
// HeaderSize bytes must fit within MinimumFreeEntrySize for any
// configuration; 16 fits every pool configuration the spec allows
// (minimum 16, power-of-2 aligned).
const HeaderSize = 16

const (
	deadObjectSentinel = uint64(0xFA) << 56
	sentinelMask       = uint64(0xFF) << 56
	sizeMask           = ^sentinelMask
)

// FreeEntry views the bytes at an address as a free-list header. The
// zero value, NoEntry, represents "no entry" (a nil link).
type FreeEntry Address

// NoEntry is the sentinel "no free entry" value, used the way the
// teacher uses a nil *mspan.
const NoEntry FreeEntry = 0

func (e FreeEntry) Address() Address { return Address(e) }

func (e FreeEntry) IsNil() bool { return e == NoEntry }

func (e FreeEntry) Size() uintptr {
	return uintptr(loadWord(Address(e)) & sizeMask)
}

func (e FreeEntry) End() Address {
	return Address(e).add(e.Size())
}

func (e FreeEntry) Next() FreeEntry {
	return FreeEntry(loadWord(Address(e).add(8)))
}

func (e FreeEntry) setNext(n FreeEntry) {
	storeWord(Address(e).add(8), uint64(n))
}

// writeHeader installs a free-entry header of the given size at addr,
// stamped with the dead-object sentinel and linked to next. This is
// the only place that creates a free entry; every caller (sweep,
// expansion, residual recycling) routes through it.
func writeHeader(addr Address, size uintptr, next FreeEntry) FreeEntry {
	if size < HeaderSize {
		fatalf("writeHeader: size %d smaller than header %d", size, HeaderSize)
	}
	storeWord(addr, deadObjectSentinel|uint64(size)&sizeMask)
	e := FreeEntry(addr)
	e.setNext(next)
	return e
}

// assertDead panics unless the entry still carries the dead-object
// sentinel a live allocation would have overwritten. The allocator
// calls this immediately before handing a consumed entry's bytes back
// to the caller as raw memory.
func (e FreeEntry) assertDead() {
	if loadWord(Address(e))&sentinelMask != deadObjectSentinel {
		fatalf("free entry at %#x missing dead-object sentinel", uintptr(e))
	}
}

// abandon marks the byte range [base, top) as dead-object padding
// without linking it onto any sub-list. Used when a residual is
// smaller than MinimumFreeEntrySize: too small to ever satisfy a
// request, it becomes unrecoverable "dark matter" instead.
func abandon(base, top Address) {
	n := uintptr(top - base)
	if n == 0 {
		return
	}
	if n >= HeaderSize {
		// Still stamp a sentinel over it so a stray scan recognizes it
		// as dead rather than as a surviving object header.
		storeWord(base, deadObjectSentinel)
	}
}
