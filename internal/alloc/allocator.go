package alloc

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// ErrNoSpace is returned when a request does not fit below the address limit.
var ErrNoSpace = errors.New("no space below address limit")

// Extent is a contiguous range of file space.
type Extent struct {
	Addr uint64
	Size uint64
}

// End returns the first address after the extent.
func (e Extent) End() uint64 { return e.Addr + e.Size }

// Stats contains allocation statistics.
type Stats struct {
	Allocations   uint64 // number of successful Alloc calls
	BytesAlloc    uint64 // total bytes handed out
	BytesReused   uint64 // bytes served from the free list
	BytesFreed    uint64 // total bytes passed to Free
	LargestExtent uint64
}

// Allocator hands out file space. It is safe for concurrent use.
type Allocator struct {
	mu sync.Mutex

	base    uint64
	eof     uint64
	free    []Extent // sorted by address, coalesced
	pending []Extent // freed since the last Commit
	stats   Stats
}

// New creates an allocator whose first allocation is at base.
func New(base uint64) *Allocator {
	return &Allocator{base: base, eof: base}
}

// Alloc reserves size bytes and returns their address. A zero-size request
// returns the current end of file without reserving anything.
func (a *Allocator) Alloc(size uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr, _ := a.allocLocked(size, math.MaxUint64)
	return addr
}

// AllocWithin is Alloc for files whose addresses must stay below limit: the
// returned extent ends before limit. When no such extent exists it returns
// ErrNoSpace and the allocator is unchanged.
func (a *Allocator) AllocWithin(size, limit uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr, ok := a.allocLocked(size, limit)
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes at end of file %d, limit %d", ErrNoSpace, size, a.eof, limit)
	}
	return addr, nil
}

func (a *Allocator) allocLocked(size, limit uint64) (uint64, bool) {
	if size == 0 {
		return a.eof, true
	}

	for i, ext := range a.free {
		if ext.Size < size || ext.Addr >= limit || size >= limit-ext.Addr {
			continue
		}
		if ext.Size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = Extent{Addr: ext.Addr + size, Size: ext.Size - size}
		}
		a.stats.BytesReused += size
		a.count(size)
		return ext.Addr, true
	}

	if limit != math.MaxUint64 && (a.eof >= limit || size >= limit-a.eof) {
		return 0, false
	}
	addr := a.eof
	a.eof += size
	a.count(size)
	return addr, true
}

func (a *Allocator) count(size uint64) {
	a.stats.Allocations++
	a.stats.BytesAlloc += size
	if size > a.stats.LargestExtent {
		a.stats.LargestExtent = size
	}
}

// Free releases an extent. It becomes reusable after the next Commit.
func (a *Allocator) Free(addr, size uint64) {
	if size == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = append(a.pending, Extent{Addr: addr, Size: size})
	a.stats.BytesFreed += size
}

// Commit makes every extent freed since the previous Commit available to
// Alloc. Call it once the metadata that stopped referencing them is durable.
func (a *Allocator) Commit() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return
	}
	merged := append(a.free, a.pending...)
	a.pending = nil
	sort.Slice(merged, func(i, j int) bool { return merged[i].Addr < merged[j].Addr })

	out := merged[:0]
	for _, ext := range merged {
		if n := len(out); n > 0 && out[n-1].End() >= ext.Addr {
			if ext.End() > out[n-1].End() {
				out[n-1].Size = ext.End() - out[n-1].Addr
			}
			continue
		}
		out = append(out, ext)
	}

	// A free tail can be given back to the end of file.
	if n := len(out); n > 0 && out[n-1].End() == a.eof {
		a.eof = out[n-1].Addr
		out = out[:n-1]
	}
	a.free = out
}

// EOFAddr returns the current end-of-file address.
func (a *Allocator) EOFAddr() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eof
}

// SetEOFAddr moves the end of file, used when reopening an existing file.
func (a *Allocator) SetEOFAddr(addr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.eof = addr
}

// BaseAddr returns the lowest allocatable address.
func (a *Allocator) BaseAddr() uint64 {
	return a.base
}

// Stats returns a copy of the allocation statistics.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// FreeExtents returns a copy of the reusable extents.
func (a *Allocator) FreeExtents() []Extent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Extent(nil), a.free...)
}

// Pending returns a copy of the extents waiting for Commit.
func (a *Allocator) Pending() []Extent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Extent(nil), a.pending...)
}

// Validate checks that free extents are ordered, disjoint and inside the
// allocatable range.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, ext := range a.free {
		if ext.Addr < a.base {
			return fmt.Errorf("free extent at 0x%x is before base address 0x%x", ext.Addr, a.base)
		}
		if ext.End() > a.eof {
			return fmt.Errorf("free extent at 0x%x size %d extends past EOF 0x%x", ext.Addr, ext.Size, a.eof)
		}
		if i > 0 && a.free[i-1].End() > ext.Addr {
			return fmt.Errorf("overlapping free extents: [0x%x, size %d] and [0x%x, size %d]",
				a.free[i-1].Addr, a.free[i-1].Size, ext.Addr, ext.Size)
		}
	}
	return nil
}
