package h5io

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool keeps at most one open handle per file path. Handles live in an
// ordered slot array; a closed handle leaves a gap that the next open fills.
// When no slot is free the array grows by a fixed increment.
//
// A Pool is safe for concurrent use. Handles are closed under the pool lock,
// so a Get for a path that is being closed waits until the close has
// written the file. Handles opened with Open directly are not tracked and
// get no mode protection.
type Pool struct {
	mu    sync.Mutex
	slots []*FileHandle
	keys  []string
	index map[string]int
	freed bool
	opts  *poolOptions
}

// NewPool returns an empty pool.
func NewPool(opts ...PoolOption) *Pool {
	o := defaultPoolOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Pool{
		slots: make([]*FileHandle, o.initialCapacity),
		keys:  make([]string, o.initialCapacity),
		index: make(map[string]int),
		opts:  o,
	}
}

func poolKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	return abs, nil
}

// Get returns the handle for path, opening it under mode if the pool holds
// none. It fails with ErrWrongMode if path is open under another mode; that
// handle stays open.
func (p *Pool) Get(path string, mode Mode) (*FileHandle, error) {
	key, err := poolKey(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freed {
		return nil, ErrPoolClosed
	}
	if i, ok := p.index[key]; ok {
		h := p.slots[i]
		if !h.Closed() {
			if h.Mode() != mode {
				poolWrongModes.Inc(1)
				return nil, fmt.Errorf("%w: %s is open as %s, requested %s", ErrWrongMode, path, h.Mode(), mode)
			}
			poolReuses.Inc(1)
			return h, nil
		}
		// Reopen into the slot the path already had.
		p.releaseLocked(i)
		return p.openLocked(i, key, path, mode)
	}

	i := p.freeSlotLocked()
	if i < 0 {
		i = p.growLocked()
	}
	return p.openLocked(i, key, path, mode)
}

// openLocked opens path into empty slot i. The slot stays empty on failure.
func (p *Pool) openLocked(i int, key, path string, mode Mode) (*FileHandle, error) {
	h, err := Open(path, mode, p.opts.handle...)
	if err != nil {
		return nil, err
	}
	p.slots[i] = h
	p.keys[i] = key
	p.index[key] = i
	poolOpens.WithValues(mode.Letter()).Inc(1)
	poolOpen.Inc(1)
	return h, nil
}

// freeSlotLocked returns the lowest empty slot, or -1. Slots whose handle
// was closed outside the pool count as empty.
func (p *Pool) freeSlotLocked() int {
	for i, h := range p.slots {
		if h == nil {
			return i
		}
		if h.Closed() {
			p.releaseLocked(i)
			return i
		}
	}
	return -1
}

// releaseLocked empties slot i without closing its handle.
func (p *Pool) releaseLocked(i int) {
	delete(p.index, p.keys[i])
	p.slots[i] = nil
	p.keys[i] = ""
	poolOpen.Dec(1)
}

// growLocked appends growthIncrement empty slots and returns the first.
func (p *Pool) growLocked() int {
	first := len(p.slots)
	n := first + p.opts.growthIncrement
	slots := make([]*FileHandle, n)
	keys := make([]string, n)
	copy(slots, p.slots)
	copy(keys, p.keys)
	p.slots, p.keys = slots, keys
	poolGrowths.Inc(1)
	return first
}

// CloseFile closes the handle for path and empties its slot. Paths not in
// the pool are ignored.
func (p *Pool) CloseFile(path string) error {
	key, err := poolKey(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[key]
	if !ok {
		return nil
	}
	h := p.slots[i]
	p.releaseLocked(i)
	poolCloses.Inc(1)
	return h.Close()
}

// CloseAll closes every handle in the pool. All handles are closed even if
// some fail; the failures are joined.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeAllLocked()
}

func (p *Pool) closeAllLocked() error {
	var handles []*FileHandle
	for i, h := range p.slots {
		if h != nil {
			handles = append(handles, h)
			p.releaseLocked(i)
		}
	}
	if len(handles) == 0 {
		return nil
	}

	errs := make([]error, len(handles))
	var g errgroup.Group
	g.SetLimit(p.opts.closeConcurrency)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			errs[i] = h.Close()
			return nil
		})
	}
	g.Wait()
	poolCloses.Inc(float64(len(handles)))
	return errors.Join(errs...)
}

// Free closes every handle and releases the slot array. Get fails with
// ErrPoolClosed afterwards. Freeing twice does nothing.
func (p *Pool) Free() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.freed {
		return nil
	}
	p.freed = true
	err := p.closeAllLocked()
	p.slots, p.keys, p.index = nil, nil, nil
	return err
}

// Cap returns the number of slots.
func (p *Pool) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Len returns the number of slots holding an open handle.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, h := range p.slots {
		if h != nil && !h.Closed() {
			n++
		}
	}
	return n
}

// Slot returns the handle in slot i, or nil if the slot is empty or out of
// range.
func (p *Pool) Slot(i int) *FileHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i < 0 || i >= len(p.slots) {
		return nil
	}
	return p.slots[i]
}

// IndexOf returns the slot holding path, or -1.
func (p *Pool) IndexOf(path string) int {
	key, err := poolKey(path)
	if err != nil {
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if i, ok := p.index[key]; ok {
		return i
	}
	return -1
}
