// Package gcpool implements a split, address-ordered free-list memory
// pool for a garbage-collected heap.
//
// The pool owns a contiguous region of heap memory on behalf of some
// enclosing memory subsystem, tracks every currently free byte range
// within it, and services two kinds of request: exact-sized object
// allocation and larger thread-local-heap (TLH) allocation for
// bump-allocating mutator threads. It absorbs free ranges produced by
// a sweep phase and by heap expansion, and surrenders ranges to heap
// contraction.
//
// The free list is split across N parallel sub-lists (one mutex each)
// for scalable concurrent allocation, plus one additional sub-list (or
// index, depending on variant) that holds a single reserved very-large
// free entry kept out of the normal search path so that large
// allocations have somewhere to go even once the rest of the heap is
// fragmented.
//
// Two concrete pool types share the bulk of their logic by
// composition: Hybrid, where the reserved entry is physically detached
// into its own list, and Split, where it stays in place and is simply
// skipped by address on the fast path. Construct one or the other with
// New.
package gcpool
