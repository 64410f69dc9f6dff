package h5io

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-h5io/internal/store"
)

// FileHandle is an open session on one container file. It is safe for
// concurrent use.
type FileHandle struct {
	mu     sync.Mutex
	path   string
	mode   Mode
	id     uuid.UUID
	file   *store.File
	closed bool

	opts *handleOptions
	log  *log.Entry
}

// Open opens path under mode.
//
//   - ExclusiveCreate fails with ErrExists if path exists.
//   - CreateOrTruncate creates path or truncates it.
//   - ReadOnly fails with ErrNotFound if path is missing.
//   - ReadWriteOrCreate opens path for writing, creating it if missing.
func Open(path string, mode Mode, opts ...HandleOption) (*FileHandle, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	o := defaultHandleOptions()
	for _, opt := range opts {
		opt(o)
	}

	h := &FileHandle{
		path: path,
		mode: mode,
		id:   uuid.New(),
		opts: o,
	}
	h.log = o.logger.WithFields(log.Fields{
		"path": path,
		"mode": mode.Letter(),
		"id":   h.id.String(),
	})

	sopts := store.Options{
		ReportErrors: o.reportErrors,
		Logger:       h.log,
		OffsetSize:   o.offsetSize,
	}
	var err error
	switch mode {
	case ExclusiveCreate:
		h.file, err = store.Open(path, store.CreateExclusive, sopts)
	case CreateOrTruncate:
		h.file, err = store.Open(path, store.CreateTruncate, sopts)
	case ReadOnly:
		h.file, err = store.Open(path, store.OpenReadOnly, sopts)
	case ReadWriteOrCreate:
		h.file, err = openOrCreate(path, sopts)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s (%s): %w", path, mode, err)
	}
	h.log.Debug("file opened")
	return h, nil
}

func openOrCreate(path string, opts store.Options) (*store.File, error) {
	if _, err := os.Stat(path); err == nil {
		return store.Open(path, store.OpenReadWrite, opts)
	}
	f, err := store.Open(path, store.CreateExclusive, opts)
	if errors.Is(err, store.ErrExists) {
		// Created by someone else since the stat.
		return store.Open(path, store.OpenReadWrite, opts)
	}
	return f, err
}

// Close flushes and releases the file. The file is released even when the
// flush fails. Closing a nil or closed handle does nothing.
func (h *FileHandle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.file.Close(); err != nil {
		h.log.WithError(err).Warn("file closed with errors")
		return fmt.Errorf("closing %s: %w", h.path, err)
	}
	h.log.Debug("file closed")
	return nil
}

// Flush writes all pending data and metadata to disk.
func (h *FileHandle) Flush() error {
	f, err := h.storeFile()
	if err != nil {
		return err
	}
	return f.Flush()
}

// Path returns the path the handle was opened with.
func (h *FileHandle) Path() string { return h.path }

// Mode returns the mode the handle was opened under.
func (h *FileHandle) Mode() Mode { return h.mode }

// ID returns the session id, unique to this open.
func (h *FileHandle) ID() uuid.UUID { return h.id }

// Closed reports whether Close has been called.
func (h *FileHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Datasets returns the sorted dataset names.
func (h *FileHandle) Datasets() ([]string, error) {
	f, err := h.storeFile()
	if err != nil {
		return nil, err
	}
	return f.Names(), nil
}

// DatasetInfo describes a stored dataset.
type DatasetInfo struct {
	Name            string
	Rows, Cols      int
	ChunkRows       int
	ElementType     ElementType
	Filters         []string
	Attributes      []string
	ChunksAllocated int
	ChunksTotal     int
	StoredBytes     uint64
}

// RawBytes returns the uncompressed size of the dataset.
func (i DatasetInfo) RawBytes() uint64 {
	return uint64(i.Rows) * uint64(i.Cols) * uint64(i.ElementType.Size())
}

// Info describes the named dataset.
func (h *FileHandle) Info(name string) (DatasetInfo, error) {
	f, err := h.storeFile()
	if err != nil {
		return DatasetInfo{}, err
	}
	si, err := f.Info(name)
	if err != nil {
		return DatasetInfo{}, err
	}
	rows, cols, err := matrixShape(name, si.Dims)
	if err != nil {
		return DatasetInfo{}, err
	}
	info := DatasetInfo{
		Name:            si.Name,
		Rows:            rows,
		Cols:            cols,
		ChunkRows:       int(si.ChunkDims[0]),
		ElementType:     si.Type,
		Attributes:      si.Attributes,
		ChunksAllocated: si.ChunksAllocated,
		ChunksTotal:     si.ChunksTotal,
		StoredBytes:     si.StoredBytes,
	}
	for _, fi := range si.Filters {
		info.Filters = append(info.Filters, fi.Name())
	}
	return info, nil
}

func (h *FileHandle) storeFile() (*store.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("%s: %w", h.path, ErrClosed)
	}
	return h.file, nil
}

// datasetOptions applies the handle defaults and then opts.
func (h *FileHandle) datasetOptions(opts []DatasetOption) (*datasetOptions, error) {
	o := defaultDatasetOptions()
	for _, opt := range h.opts.datasets {
		opt(o)
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// fail logs err when error reporting is on for the handle.
func (h *FileHandle) fail(op, name string, err error) error {
	if err != nil && h.opts.reportErrors {
		h.log.WithError(err).WithFields(log.Fields{"op": op, "dataset": name}).Error("dataset operation failed")
	}
	return err
}

// matrixShape converts stored dimensions to a matrix shape.
func matrixShape(name string, dims []uint64) (int, int, error) {
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("dataset %q: %w: rank %d, want 2", name, store.ErrShape, len(dims))
	}
	if _, err := elementCount(dims[0], dims[1]); err != nil {
		return 0, 0, fmt.Errorf("dataset %q: %w", name, err)
	}
	return int(dims[0]), int(dims[1]), nil
}
