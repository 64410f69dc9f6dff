package h5io

import (
	"fmt"
	"time"

	"github.com/robert-malhotra/go-h5io/internal/store"
)

// ColumnNamesAttribute is the dataset attribute holding table column names.
const ColumnNamesAttribute = "column_names"

// Table is a matrix with one name per column.
type Table struct {
	RowMajorMatrix
	ColumnNames []string
}

// WriteTable writes m as dataset name and stores names as its column names.
// len(names) must equal m.Cols.
func (h *FileHandle) WriteTable(name string, m RowMajorMatrix, names []string, opts ...DatasetOption) (err error) {
	defer func(start time.Time) { observe("write_table", start, err) }(time.Now())

	if err := m.Validate(); err != nil {
		return h.fail("write_table", name, err)
	}
	if len(names) != m.Cols {
		return h.fail("write_table", name, fmt.Errorf("%w: %d column names for %d columns", ErrInvalidMatrix, len(names), m.Cols))
	}
	o, err := h.datasetOptions(opts)
	if err != nil {
		return h.fail("write_table", name, err)
	}
	raw, err := encodeValues(o.elemType, m.Data)
	if err != nil {
		return h.fail("write_table", name, fmt.Errorf("dataset %q: %w", name, err))
	}
	attrs := map[string][]string{ColumnNamesAttribute: names}
	return h.fail("write_table", name, h.writeDataset(name, m.Rows, m.Cols, o, attrs, func(ds *store.Dataset) error {
		return ds.WriteRegion(store.All(), raw)
	}))
}

// ReadTable reads dataset name with its column names. A dataset written
// without names gets c0, c1, and so on.
func (h *FileHandle) ReadTable(name string, opts ...DatasetOption) (t Table, err error) {
	defer func(start time.Time) { observe("read_table", start, err) }(time.Now())

	var names []string
	err = h.readDataset(name, opts, func(ds *store.Dataset, rows, cols int) error {
		m, err := readMatrix(ds, rows, cols)
		if err != nil {
			return err
		}
		t.RowMajorMatrix = m
		names, _ = ds.Attribute(ColumnNamesAttribute)
		return nil
	})
	if err != nil {
		return Table{}, h.fail("read_table", name, err)
	}
	if len(names) != t.Cols {
		names = make([]string, t.Cols)
		for c := range names {
			names[c] = fmt.Sprintf("c%d", c)
		}
	}
	t.ColumnNames = names
	return t, nil
}
