package h5io

import (
	"fmt"
	"math"
	"math/bits"
)

// RowMajorMatrix is a matrix stored row after row in one slice:
// element (r, c) is Data[r*Cols+c].
type RowMajorMatrix struct {
	Rows, Cols int
	Data       []float64
}

// ColumnList is a matrix stored as one slice per column, each Rows long.
type ColumnList struct {
	Rows    int
	Columns [][]float64
}

// elementCount returns rows*cols, or ErrOutOfMemory when the product does
// not fit in memory limits.
func elementCount(rows, cols uint64) (int, error) {
	hi, n := bits.Mul64(rows, cols)
	if hi != 0 || n > MaxElements || n > math.MaxInt {
		return 0, fmt.Errorf("%w: %d x %d elements", ErrOutOfMemory, rows, cols)
	}
	return int(n), nil
}

func checkShape(rows, cols int) (int, error) {
	if rows < 1 || cols < 1 {
		return 0, fmt.Errorf("%w: shape %d x %d", ErrInvalidMatrix, rows, cols)
	}
	return elementCount(uint64(rows), uint64(cols))
}

// NewRowMajorMatrix allocates a zeroed rows x cols matrix.
func NewRowMajorMatrix(rows, cols int) (RowMajorMatrix, error) {
	n, err := checkShape(rows, cols)
	if err != nil {
		return RowMajorMatrix{}, err
	}
	return RowMajorMatrix{Rows: rows, Cols: cols, Data: make([]float64, n)}, nil
}

// Validate checks that the shape is positive and matches len(Data).
func (m RowMajorMatrix) Validate() error {
	n, err := checkShape(m.Rows, m.Cols)
	if err != nil {
		return err
	}
	if len(m.Data) != n {
		return fmt.Errorf("%w: %d x %d matrix has %d values", ErrInvalidMatrix, m.Rows, m.Cols, len(m.Data))
	}
	return nil
}

// At returns element (r, c).
func (m RowMajorMatrix) At(r, c int) float64 { return m.Data[r*m.Cols+c] }

// Row returns row r, sharing storage with m.
func (m RowMajorMatrix) Row(r int) []float64 { return m.Data[r*m.Cols : (r+1)*m.Cols] }

// Columns copies m into column form.
func (m RowMajorMatrix) Columns() ColumnList {
	out := ColumnList{Rows: m.Rows, Columns: make([][]float64, m.Cols)}
	for c := range out.Columns {
		col := make([]float64, m.Rows)
		for r := range col {
			col[r] = m.Data[r*m.Cols+c]
		}
		out.Columns[c] = col
	}
	return out
}

// Cols returns the number of columns.
func (l ColumnList) Cols() int { return len(l.Columns) }

// Validate checks that there is at least one column and that every column
// has Rows values.
func (l ColumnList) Validate() error {
	if _, err := checkShape(l.Rows, l.Cols()); err != nil {
		return err
	}
	for c, col := range l.Columns {
		if len(col) != l.Rows {
			return fmt.Errorf("%w: column %d has %d values, want %d", ErrInvalidMatrix, c, len(col), l.Rows)
		}
	}
	return nil
}

// RowMajor copies l into row-major form.
func (l ColumnList) RowMajor() RowMajorMatrix {
	cols := l.Cols()
	m := RowMajorMatrix{Rows: l.Rows, Cols: cols, Data: make([]float64, l.Rows*cols)}
	for c, col := range l.Columns {
		for r, v := range col {
			m.Data[r*cols+c] = v
		}
	}
	return m
}
