package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type visit struct {
	coord []uint64
	n     uint64
}

func collect(t *testing.T, sel Selection, dims []uint64) (*plan, []visit) {
	t.Helper()
	p, err := sel.resolve(dims)
	require.NoError(t, err)
	var out []visit
	require.NoError(t, p.each(func(coord []uint64, n uint64) error {
		out = append(out, visit{coord: append([]uint64(nil), coord...), n: n})
		return nil
	}))
	return p, out
}

func TestSelectAll(t *testing.T) {
	p, visits := collect(t, All(), []uint64{3, 4})
	assert.True(t, p.all)
	assert.Equal(t, uint64(12), p.total)
	assert.Equal(t, []visit{
		{[]uint64{0, 0}, 4},
		{[]uint64{1, 0}, 4},
		{[]uint64{2, 0}, 4},
	}, visits)
}

func TestSelectAllOneDimension(t *testing.T) {
	p, visits := collect(t, All(), []uint64{7})
	assert.Equal(t, uint64(7), p.total)
	assert.Equal(t, []visit{{[]uint64{0}, 7}}, visits)
}

func TestSelectAllEmpty(t *testing.T) {
	p, visits := collect(t, All(), []uint64{0, 3})
	assert.Equal(t, uint64(0), p.total)
	assert.Empty(t, visits)
}

func TestSelectColumn(t *testing.T) {
	sel := Slab(Hyperslab{
		Start:  []uint64{0, 2},
		Stride: []uint64{1, 1},
		Count:  []uint64{3, 1},
		Block:  []uint64{1, 1},
	})
	p, visits := collect(t, sel, []uint64{3, 4})
	assert.False(t, p.all)
	assert.Equal(t, uint64(3), p.total)
	assert.Equal(t, []visit{
		{[]uint64{0, 2}, 1},
		{[]uint64{1, 2}, 1},
		{[]uint64{2, 2}, 1},
	}, visits)
}

func TestSelectStridedBlocks(t *testing.T) {
	// Rows 1 and 4, two blocks of two columns starting at 0 and 3.
	sel := Slab(Hyperslab{
		Start:  []uint64{1, 0},
		Stride: []uint64{3, 3},
		Count:  []uint64{2, 2},
		Block:  []uint64{1, 2},
	})
	p, visits := collect(t, sel, []uint64{5, 5})
	assert.Equal(t, uint64(8), p.total)
	assert.Equal(t, []visit{
		{[]uint64{1, 0}, 2},
		{[]uint64{1, 3}, 2},
		{[]uint64{4, 0}, 2},
		{[]uint64{4, 3}, 2},
	}, visits)
}

func TestSelectDefaultsMergeRuns(t *testing.T) {
	sel := Slab(Hyperslab{Start: []uint64{0, 1}, Count: []uint64{1, 3}})
	_, visits := collect(t, sel, []uint64{2, 4})
	assert.Equal(t, []visit{{[]uint64{0, 1}, 3}}, visits)
}

func TestSelectValidation(t *testing.T) {
	dims := []uint64{4, 4}
	tests := []struct {
		name string
		h    Hyperslab
	}{
		{"rank mismatch", Hyperslab{Start: []uint64{0}, Count: []uint64{1}}},
		{"zero count", Hyperslab{Start: []uint64{0, 0}, Count: []uint64{0, 1}}},
		{"zero stride", Hyperslab{Start: []uint64{0, 0}, Count: []uint64{1, 1}, Stride: []uint64{0, 1}}},
		{"zero block", Hyperslab{Start: []uint64{0, 0}, Count: []uint64{1, 1}, Block: []uint64{1, 0}}},
		{"out of bounds", Hyperslab{Start: []uint64{0, 4}, Count: []uint64{1, 1}}},
		{"last block past end", Hyperslab{Start: []uint64{0, 0}, Count: []uint64{2, 1}, Stride: []uint64{3, 1}, Block: []uint64{2, 1}}},
		{"overlapping blocks", Hyperslab{Start: []uint64{0, 0}, Count: []uint64{2, 1}, Stride: []uint64{1, 1}, Block: []uint64{2, 1}}},
		{"overflow", Hyperslab{Start: []uint64{0, ^uint64(0)}, Count: []uint64{1, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Slab(tt.h).resolve(dims)
			assert.ErrorIs(t, err, ErrSelection)
		})
	}
}
