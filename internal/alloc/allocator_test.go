package alloc

import (
	"errors"
	"testing"
)

func TestAllocatorAppend(t *testing.T) {
	a := New(1024)

	if addr := a.Alloc(100); addr != 1024 {
		t.Errorf("first allocation: got 0x%x, want 0x%x", addr, 1024)
	}
	if addr := a.Alloc(200); addr != 1124 {
		t.Errorf("second allocation: got 0x%x, want 0x%x", addr, 1124)
	}
	if a.EOFAddr() != 1324 {
		t.Errorf("EOF: got 0x%x, want 0x%x", a.EOFAddr(), 1324)
	}
}

func TestAllocatorZeroSize(t *testing.T) {
	a := New(100)

	if addr := a.Alloc(0); addr != 100 {
		t.Errorf("zero allocation: got 0x%x, want 0x%x", addr, 100)
	}
	if a.EOFAddr() != 100 {
		t.Errorf("EOF after zero alloc: got 0x%x, want 0x%x", a.EOFAddr(), 100)
	}
	if a.Stats().Allocations != 0 {
		t.Errorf("zero allocation should not be counted")
	}
}

func TestAllocatorFreeIsDeferredUntilCommit(t *testing.T) {
	a := New(0)
	first := a.Alloc(100)
	a.Alloc(100)

	a.Free(first, 100)
	if addr := a.Alloc(50); addr != 200 {
		t.Fatalf("allocation before commit reused pending space: got 0x%x", addr)
	}
	if len(a.Pending()) != 1 {
		t.Fatalf("pending: got %d extents, want 1", len(a.Pending()))
	}

	a.Commit()
	if addr := a.Alloc(60); addr != first {
		t.Errorf("allocation after commit: got 0x%x, want 0x%x", addr, first)
	}
	if addr := a.Alloc(40); addr != first+60 {
		t.Errorf("split remainder: got 0x%x, want 0x%x", addr, first+60)
	}
	if got := a.Stats().BytesReused; got != 100 {
		t.Errorf("BytesReused: got %d, want 100", got)
	}
}

func TestAllocatorCommitCoalesces(t *testing.T) {
	a := New(0)
	x := a.Alloc(10)
	y := a.Alloc(20)
	z := a.Alloc(30)
	a.Alloc(5) // keeps the freed run away from EOF

	a.Free(z, 30)
	a.Free(x, 10)
	a.Free(y, 20)
	a.Commit()

	free := a.FreeExtents()
	if len(free) != 1 {
		t.Fatalf("free extents: got %v, want one coalesced extent", free)
	}
	if free[0] != (Extent{Addr: 0, Size: 60}) {
		t.Errorf("coalesced extent: got %+v", free[0])
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestAllocatorCommitReturnsTailToEOF(t *testing.T) {
	a := New(48)
	a.Alloc(100)
	tail := a.Alloc(50)

	a.Free(tail, 50)
	a.Commit()

	if a.EOFAddr() != tail {
		t.Errorf("EOF after freeing tail: got 0x%x, want 0x%x", a.EOFAddr(), tail)
	}
	if len(a.FreeExtents()) != 0 {
		t.Errorf("tail extent should not stay on the free list")
	}
}

func TestAllocatorStats(t *testing.T) {
	a := New(0)
	a.Alloc(100)
	a.Alloc(200)
	a.Alloc(50)
	a.Free(0, 100)

	stats := a.Stats()
	if stats.Allocations != 3 {
		t.Errorf("Allocations: got %d, want 3", stats.Allocations)
	}
	if stats.BytesAlloc != 350 {
		t.Errorf("BytesAlloc: got %d, want 350", stats.BytesAlloc)
	}
	if stats.LargestExtent != 200 {
		t.Errorf("LargestExtent: got %d, want 200", stats.LargestExtent)
	}
	if stats.BytesFreed != 100 {
		t.Errorf("BytesFreed: got %d, want 100", stats.BytesFreed)
	}
}

func TestAllocatorSetEOF(t *testing.T) {
	a := New(48)
	a.SetEOFAddr(4096)
	if addr := a.Alloc(8); addr != 4096 {
		t.Errorf("allocation after SetEOFAddr: got 0x%x, want 0x1000", addr)
	}
	if a.BaseAddr() != 48 {
		t.Errorf("BaseAddr: got %d, want 48", a.BaseAddr())
	}
}

func TestAllocatorAllocWithin(t *testing.T) {
	const limit = 0xFFFF
	a := New(64)

	if _, err := a.AllocWithin(80000, limit); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("oversized request: got %v, want ErrNoSpace", err)
	}
	if a.EOFAddr() != 64 || a.Stats().Allocations != 0 {
		t.Errorf("failed request changed the allocator: EOF 0x%x, %d allocations", a.EOFAddr(), a.Stats().Allocations)
	}

	addr, err := a.AllocWithin(1000, limit)
	if err != nil || addr != 64 {
		t.Fatalf("AllocWithin(1000): got 0x%x, %v", addr, err)
	}

	// The last extent must end strictly below the limit.
	if _, err := a.AllocWithin(limit-1064, limit); !errors.Is(err, ErrNoSpace) {
		t.Errorf("extent ending at the limit: got %v, want ErrNoSpace", err)
	}
	if addr, err := a.AllocWithin(limit-1065, limit); err != nil || addr != 1064 {
		t.Errorf("extent ending below the limit: got 0x%x, %v", addr, err)
	}
	if a.EOFAddr() != limit-1 {
		t.Errorf("EOF: got 0x%x, want 0x%x", a.EOFAddr(), limit-1)
	}
}

func TestAllocatorAllocWithinUsesFreeListBelowLimit(t *testing.T) {
	a := New(0)
	first := a.Alloc(100)
	a.Alloc(10)
	a.Free(first, 100)
	a.Commit()

	if _, err := a.AllocWithin(50, 40); !errors.Is(err, ErrNoSpace) {
		t.Errorf("limit below every extent: got %v, want ErrNoSpace", err)
	}
	if addr, err := a.AllocWithin(50, 60); err != nil || addr != first {
		t.Errorf("free extent below limit: got 0x%x, %v, want 0x%x", addr, err, first)
	}
	if got := a.FreeExtents(); len(got) != 1 || got[0] != (Extent{Addr: 50, Size: 50}) {
		t.Errorf("free list after reuse: %v", got)
	}
}
