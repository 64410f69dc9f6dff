package h5io

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-h5io/internal/dtype"
	"github.com/robert-malhotra/go-h5io/internal/store"
)

// WriteArray creates dataset name holding m. It fails with ErrExists if the
// name is taken; the existing dataset is left unchanged. Values that the
// element type cannot represent fail with ErrOutOfRange before the dataset
// is created.
func (h *FileHandle) WriteArray(name string, m RowMajorMatrix, opts ...DatasetOption) (err error) {
	defer func(start time.Time) { observe("write_array", start, err) }(time.Now())

	if err := m.Validate(); err != nil {
		return h.fail("write_array", name, err)
	}
	o, err := h.datasetOptions(opts)
	if err != nil {
		return h.fail("write_array", name, err)
	}
	raw, err := encodeValues(o.elemType, m.Data)
	if err != nil {
		return h.fail("write_array", name, fmt.Errorf("dataset %q: %w", name, err))
	}
	return h.fail("write_array", name, h.writeDataset(name, m.Rows, m.Cols, o, nil, func(ds *store.Dataset) error {
		if err := ds.WriteRegion(store.All(), raw); err != nil {
			return err
		}
		datasetBytes.WithValues("write").Inc(float64(len(raw)))
		return nil
	}))
}

// ReadArray reads dataset name whole. It fails with ErrNotFound if the
// dataset does not exist. Only chunk cache options apply.
func (h *FileHandle) ReadArray(name string, opts ...DatasetOption) (m RowMajorMatrix, err error) {
	defer func(start time.Time) { observe("read_array", start, err) }(time.Now())

	err = h.readDataset(name, opts, func(ds *store.Dataset, rows, cols int) error {
		m, err = readMatrix(ds, rows, cols)
		return err
	})
	if err != nil {
		return RowMajorMatrix{}, h.fail("read_array", name, err)
	}
	return m, nil
}

// readMatrix reads all of ds as a rows x cols matrix.
func readMatrix(ds *store.Dataset, rows, cols int) (RowMajorMatrix, error) {
	raw, err := allocRaw(ds.Type(), rows*cols)
	if err != nil {
		return RowMajorMatrix{}, err
	}
	if err := ds.ReadRegion(store.All(), raw); err != nil {
		return RowMajorMatrix{}, err
	}
	datasetBytes.WithValues("read").Inc(float64(len(raw)))

	m := RowMajorMatrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
	if err := ds.Type().Decode(m.Data, raw); err != nil {
		return RowMajorMatrix{}, err
	}
	return m, nil
}

// writeDataset creates a rows x cols dataset, sets attrs, runs fill and
// closes the dataset.
func (h *FileHandle) writeDataset(name string, rows, cols int, o *datasetOptions,
	attrs map[string][]string, fill func(*store.Dataset) error) error {
	f, err := h.storeFile()
	if err != nil {
		return err
	}
	filters, err := o.filters()
	if err != nil {
		return err
	}

	chunkRows := o.chunkRowsFor(rows, cols)
	spec := store.DatasetSpec{
		Dims:      []uint64{uint64(rows), uint64(cols)},
		ChunkDims: []uint64{uint64(chunkRows), uint64(cols)},
		Type:      o.elemType,
		Filters:   filters,
	}
	chunkBytes := uint64(chunkRows) * uint64(cols) * uint64(o.elemType.Size())
	ds, err := f.CreateDataset(name, spec, o.access(chunkBytes))
	if err != nil {
		return err
	}

	for key, values := range attrs {
		if err = ds.SetAttribute(key, values); err != nil {
			break
		}
	}
	if err == nil {
		err = fill(ds)
	}
	if cerr := ds.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err == nil {
		h.log.WithFields(log.Fields{
			"dataset": name,
			"rows":    rows,
			"cols":    cols,
			"type":    o.elemType.String(),
			"chunk":   chunkRows,
		}).Debug("dataset written")
	}
	return err
}

// readDataset opens a rank 2 dataset, runs read and closes the dataset.
func (h *FileHandle) readDataset(name string, opts []DatasetOption,
	read func(ds *store.Dataset, rows, cols int) error) error {
	f, err := h.storeFile()
	if err != nil {
		return err
	}
	o, err := h.datasetOptions(opts)
	if err != nil {
		return err
	}
	info, err := f.Info(name)
	if err != nil {
		return err
	}
	rows, cols, err := matrixShape(name, info.Dims)
	if err != nil {
		return err
	}

	chunkBytes := uint64(info.Type.Size())
	for _, d := range info.ChunkDims {
		chunkBytes *= d
	}
	ds, err := f.OpenDataset(name, o.access(chunkBytes))
	if err != nil {
		return err
	}
	err = read(ds, rows, cols)
	if cerr := ds.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// allocRaw allocates the on-disk encoding of n elements of type t.
func allocRaw(t dtype.Type, n int) ([]byte, error) {
	if n < 0 || n > MaxElements {
		return nil, fmt.Errorf("%w: %d elements", ErrOutOfMemory, n)
	}
	return make([]byte, n*t.Size()), nil
}

// encodeValues converts src to type t, rejecting unrepresentable values.
func encodeValues(t dtype.Type, src []float64) ([]byte, error) {
	raw, err := allocRaw(t, len(src))
	if err != nil {
		return nil, err
	}
	if err := t.Encode(raw, src); err != nil {
		return nil, err
	}
	return raw, nil
}
