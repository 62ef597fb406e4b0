package gcpool

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"
)

// TestConcurrentAllocateObjectIsRaceFree exercises §5's locking
// discipline: many goroutines hammering AllocateObject concurrently
// must never hand out the same address twice, and the pool must still
// pass Validate when they're done.
func TestConcurrentAllocateObjectIsRaceFree(t *testing.T) {
	const (
		arenaSize = 1 << 20
		reqSize   = 256
	)
	base, arena := newArena(arenaSize)
	_ = arena

	cfg := DefaultConfig()
	cfg.Variant = VariantSplit
	cfg.FreeListCount = 4
	cfg.MinimumFreeEntrySize = 32
	cfg.VeryLargeObjectThreshold = 1 << 18
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.ExpandWithRange(arenaSize, base, base.add(arenaSize), false)

	const workers = 16
	results := make(chan Address, workers*64)

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < 64; i++ {
				addr, ok := p.AllocateObject(reqSize)
				if ok {
					results <- addr
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("errgroup.Wait() = %v", err)
	}
	close(results)

	seen := make(map[Address]bool)
	for addr := range results {
		if seen[addr] {
			t.Fatalf("address %#x handed out twice", uintptr(addr))
		}
		seen[addr] = true
	}

	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() after concurrent allocation: %v", err)
	}
}

// TestConcurrentAllocateTLHIsRaceFree exercises the TLH path under
// the same concurrency.
func TestConcurrentAllocateTLHIsRaceFree(t *testing.T) {
	const arenaSize = 1 << 20
	base, arena := newArena(arenaSize)
	_ = arena

	cfg := DefaultConfig()
	cfg.Variant = VariantHybrid
	cfg.FreeListCount = 4
	cfg.MinimumFreeEntrySize = 32
	cfg.TLHMinimumSize = 1024
	cfg.TLHMaximumSize = 4096
	cfg.VeryLargeObjectThreshold = 1 << 18
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.ExpandWithRange(arenaSize, base, base.add(arenaSize), false)

	type span struct{ base, top Address }
	results := make(chan span, 256)

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 16; i++ {
				b, top, ok := p.AllocateTLH(cfg.TLHMaximumSize)
				if ok {
					results <- span{b, top}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("errgroup.Wait() = %v", err)
	}
	close(results)

	var spans []span
	for s := range results {
		spans = append(spans, s)
	}
	for i := range spans {
		for j := range spans {
			if i == j {
				continue
			}
			if spans[i].base < spans[j].top && spans[j].base < spans[i].top {
				t.Fatalf("TLH spans overlap: [%#x,%#x) and [%#x,%#x)",
					uintptr(spans[i].base), uintptr(spans[i].top),
					uintptr(spans[j].base), uintptr(spans[j].top))
			}
		}
	}
}
