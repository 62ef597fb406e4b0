package gcpool

import "unsafe"

// arenas keeps every buffer newArena has handed out referenced for the
// rest of the test binary's run.
var arenas [][]byte

// newArena hands back an Address-addressable byte range for a test to
// build free entries in. The buffer must stay referenced for as long
// as the Address is in use, because the conversion through uintptr is
// exactly the one entry.go's doc comment describes as opaque to the
// garbage collector; newArena keeps it referenced in arenas, so callers
// need not hold on to the returned slice.
func newArena(size uintptr) (Address, []byte) {
	buf := make([]byte, size)
	arenas = append(arenas, buf)
	return Address(uintptr(unsafe.Pointer(&buf[0]))), buf
}
