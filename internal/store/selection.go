package store

import (
	"fmt"
	"math/bits"
)

// Hyperslab selects a regular pattern of blocks in N-dimensional space.
//
// Along dimension i it selects Count[i] blocks of Block[i] elements, the
// first starting at Start[i] and each following one Stride[i] further on.
// A nil Stride or Block means all ones. Selected elements are transferred in
// row-major order of their coordinates.
//
// Example: column c of a rows x cols matrix.
//
//	Hyperslab{
//	    Start:  []uint64{0, c},
//	    Stride: []uint64{1, 1},
//	    Count:  []uint64{rows, 1},
//	    Block:  []uint64{1, 1},
//	}
type Hyperslab struct {
	Start  []uint64
	Stride []uint64
	Count  []uint64
	Block  []uint64
}

// Selection is either the whole dataset or a hyperslab.
type Selection struct {
	slab *Hyperslab
}

// All selects every element of the dataset.
func All() Selection { return Selection{} }

// Slab selects a hyperslab.
func Slab(h Hyperslab) Selection { return Selection{slab: &h} }

// IsAll reports whether the selection covers the whole dataset.
func (s Selection) IsAll() bool { return s.slab == nil }

func (s Selection) String() string {
	if s.slab == nil {
		return "all"
	}
	return fmt.Sprintf("slab(start=%v stride=%v count=%v block=%v)",
		s.slab.Start, s.slab.Stride, s.slab.Count, s.slab.Block)
}

// run is a contiguous stretch along the last dimension.
type run struct {
	start uint64
	n     uint64
}

// plan is a resolved selection: the selected coordinates of every leading
// dimension and the runs of the last dimension.
type plan struct {
	lead  [][]uint64
	runs  []run
	total uint64
	all   bool
}

func ones(n int) []uint64 {
	v := make([]uint64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// resolve validates the selection against dims and expands it.
func (s Selection) resolve(dims []uint64) (*plan, error) {
	rank := len(dims)
	if s.slab == nil {
		p := &plan{lead: make([][]uint64, rank-1), all: true}
		p.total = 1
		for i, d := range dims {
			p.total *= d
			if i < rank-1 {
				p.lead[i] = span(0, d)
			}
		}
		if p.total > 0 {
			p.runs = []run{{start: 0, n: dims[rank-1]}}
		}
		return p, nil
	}

	h := *s.slab
	if h.Stride == nil {
		h.Stride = ones(rank)
	}
	if h.Block == nil {
		h.Block = ones(rank)
	}
	for name, v := range map[string][]uint64{"start": h.Start, "stride": h.Stride, "count": h.Count, "block": h.Block} {
		if len(v) != rank {
			return nil, fmt.Errorf("%w: %s has %d dimensions, dataset has %d", ErrSelection, name, len(v), rank)
		}
	}

	p := &plan{lead: make([][]uint64, rank-1), total: 1}
	for i := 0; i < rank; i++ {
		if err := checkDim(h, dims, i); err != nil {
			return nil, err
		}
		hi, n := bits.Mul64(h.Count[i], h.Block[i])
		if hi != 0 {
			return nil, fmt.Errorf("%w: selection too large in dimension %d", ErrSelection, i)
		}
		p.total *= n
		if i < rank-1 {
			p.lead[i] = slabCoords(h, i)
		}
	}

	last := rank - 1
	if h.Stride[last] == h.Block[last] {
		p.runs = []run{{start: h.Start[last], n: h.Count[last] * h.Block[last]}}
	} else {
		p.runs = make([]run, h.Count[last])
		for k := range p.runs {
			p.runs[k] = run{start: h.Start[last] + uint64(k)*h.Stride[last], n: h.Block[last]}
		}
	}
	return p, nil
}

func checkDim(h Hyperslab, dims []uint64, i int) error {
	switch {
	case h.Count[i] == 0:
		return fmt.Errorf("%w: count must be > 0 in dimension %d", ErrSelection, i)
	case h.Stride[i] == 0:
		return fmt.Errorf("%w: stride must be > 0 in dimension %d", ErrSelection, i)
	case h.Block[i] == 0:
		return fmt.Errorf("%w: block must be > 0 in dimension %d", ErrSelection, i)
	case h.Count[i] > 1 && h.Block[i] > h.Stride[i]:
		return fmt.Errorf("%w: blocks overlap in dimension %d (block %d > stride %d)",
			ErrSelection, i, h.Block[i], h.Stride[i])
	}

	// start + (count-1)*stride + block must not exceed the dimension.
	hi, span := bits.Mul64(h.Count[i]-1, h.Stride[i])
	end, carry1 := bits.Add64(h.Start[i], span, 0)
	end, carry2 := bits.Add64(end, h.Block[i], 0)
	if hi != 0 || carry1 != 0 || carry2 != 0 || end > dims[i] {
		return fmt.Errorf("%w: out of bounds in dimension %d: start=%d + (count-1)*stride + block > size=%d",
			ErrSelection, i, h.Start[i], dims[i])
	}
	return nil
}

func span(from, n uint64) []uint64 {
	v := make([]uint64, n)
	for i := range v {
		v[i] = from + uint64(i)
	}
	return v
}

func slabCoords(h Hyperslab, i int) []uint64 {
	v := make([]uint64, 0, h.Count[i]*h.Block[i])
	for k := uint64(0); k < h.Count[i]; k++ {
		base := h.Start[i] + k*h.Stride[i]
		for b := uint64(0); b < h.Block[i]; b++ {
			v = append(v, base+b)
		}
	}
	return v
}

// each calls fn for every run of the plan in row-major order. coord holds
// the leading coordinates followed by the run's start.
func (p *plan) each(fn func(coord []uint64, n uint64) error) error {
	if p.total == 0 {
		return nil
	}
	rank := len(p.lead) + 1
	coord := make([]uint64, rank)
	idx := make([]int, len(p.lead))
	for {
		for i, j := range idx {
			coord[i] = p.lead[i][j]
		}
		for _, r := range p.runs {
			coord[rank-1] = r.start
			if err := fn(coord, r.n); err != nil {
				return err
			}
		}

		// Advance the leading index like an odometer.
		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(p.lead[d]) {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}
