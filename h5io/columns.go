package h5io

import (
	"fmt"
	"time"

	"github.com/robert-malhotra/go-h5io/internal/dtype"
	"github.com/robert-malhotra/go-h5io/internal/store"
)

// region is the part of a store dataset the column transfer needs.
type region interface {
	WriteRegion(sel store.Selection, buf []byte) error
	ReadRegion(sel store.Selection, buf []byte) error
}

type direction int

const (
	toStore direction = iota
	fromStore
)

func (d direction) String() string {
	if d == toStore {
		return "write"
	}
	return "read"
}

// columnSelection selects column c of a matrix with rows rows.
func columnSelection(rows int, c int) store.Selection {
	return store.Slab(store.Hyperslab{
		Start:  []uint64{0, uint64(c)},
		Stride: []uint64{1, 1},
		Count:  []uint64{uint64(rows), 1},
		Block:  []uint64{1, 1},
	})
}

// transferColumns moves columns[c] to or from column c of r, for every c in
// [0, len(columns)). Reads fill columns with freshly allocated slices.
// Each column gets its own selection, so none outlives its transfer.
func transferColumns(r region, t dtype.Type, rows int, columns [][]float64, dir direction) error {
	raw, err := allocRaw(t, rows)
	if err != nil {
		return err
	}
	for c := range columns {
		sel := columnSelection(rows, c)
		switch dir {
		case toStore:
			if err := t.Encode(raw, columns[c]); err != nil {
				return fmt.Errorf("column %d: %w", c, err)
			}
			if err := r.WriteRegion(sel, raw); err != nil {
				return fmt.Errorf("column %d: %w", c, err)
			}
		case fromStore:
			if err := r.ReadRegion(sel, raw); err != nil {
				return fmt.Errorf("column %d: %w", c, err)
			}
			col := make([]float64, rows)
			if err := t.Decode(col, raw); err != nil {
				return fmt.Errorf("column %d: %w", c, err)
			}
			columns[c] = col
		}
		datasetBytes.WithValues(dir.String()).Inc(float64(len(raw)))
	}
	return nil
}

// readColumns reads the first n columns of r. On failure every column read
// so far is dropped and a zero ColumnList is returned.
func readColumns(r region, t dtype.Type, rows, n int) (ColumnList, error) {
	columns := make([][]float64, n)
	if err := transferColumns(r, t, rows, columns, fromStore); err != nil {
		clear(columns)
		return ColumnList{}, err
	}
	return ColumnList{Rows: rows, Columns: columns}, nil
}

// WriteArrayOfColumns creates dataset name with l.Rows rows and l.Cols()
// columns and writes it one column at a time. The stored layout is the
// same row-major layout WriteArray produces.
func (h *FileHandle) WriteArrayOfColumns(name string, l ColumnList, opts ...DatasetOption) (err error) {
	defer func(start time.Time) { observe("write_array_of_columns", start, err) }(time.Now())

	if err := l.Validate(); err != nil {
		return h.fail("write_array_of_columns", name, err)
	}
	o, err := h.datasetOptions(opts)
	if err != nil {
		return h.fail("write_array_of_columns", name, err)
	}
	for c, col := range l.Columns {
		if err := o.elemType.Check(col); err != nil {
			return h.fail("write_array_of_columns", name, fmt.Errorf("dataset %q column %d: %w", name, c, err))
		}
	}
	return h.fail("write_array_of_columns", name, h.writeDataset(name, l.Rows, l.Cols(), o, nil, func(ds *store.Dataset) error {
		return transferColumns(ds, o.elemType, l.Rows, l.Columns, toStore)
	}))
}

// ReadArrayOfColumns reads the first min(maxCols, cols) columns of dataset
// name, all of them when maxCols <= 0. It fails with ErrNotFound if the
// dataset does not exist.
func (h *FileHandle) ReadArrayOfColumns(name string, maxCols int, opts ...DatasetOption) (l ColumnList, err error) {
	defer func(start time.Time) { observe("read_array_of_columns", start, err) }(time.Now())

	err = h.readDataset(name, opts, func(ds *store.Dataset, rows, cols int) error {
		n := cols
		if maxCols > 0 && maxCols < cols {
			n = maxCols
		}
		var err error
		l, err = readColumns(ds, ds.Type(), rows, n)
		return err
	})
	if err != nil {
		return ColumnList{}, h.fail("read_array_of_columns", name, err)
	}
	return l, nil
}
