package gcpool

import "fmt"

// debugValidate turns on the sub-list invariant check that runs after
// each object allocation served from a normal sub-list (pass 1); TLH
// allocations and reserved-entry allocations are not checked.
// Production builds leave it off: validation failures fall back to a
// printed diagnostic instead of a panic.
var debugValidate = false

// fatal mirrors the teacher's throw(): an invariant violation that is
// unconditionally unrecoverable (a free entry smaller than its header,
// a consumed entry missing its dead-object sentinel, or, with
// debugValidate on, a sub-list that fails validation). It always
// panics; callers never try to recover from it.
func fatal(msg string) {
	panic("gcpool: " + msg)
}

// fatalf is fatal with formatting.
func fatalf(format string, args ...any) {
	fatal(fmt.Sprintf(format, args...))
}

// diag reports an invariant violation: with debugValidate set it
// escalates to fatal; otherwise it only prints, in the
// printFreeListValidity style of best-effort continuation. The tests
// leave debugValidate at its default (off).
func diag(format string, args ...any) {
	if debugValidate {
		fatal(fmt.Sprintf(format, args...))
	} else {
		fmt.Printf("gcpool: diagnostic: "+format+"\n", args...)
	}
}
