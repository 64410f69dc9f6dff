package store

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	binpkg "github.com/robert-malhotra/go-h5io/internal/binary"
	"github.com/robert-malhotra/go-h5io/internal/cache"
	"github.com/robert-malhotra/go-h5io/internal/dtype"
	"github.com/robert-malhotra/go-h5io/internal/filter"
)

const (
	// MaxChunkBytes bounds the decoded size of one chunk.
	MaxChunkBytes = 1 << 31

	// maxChunks bounds the number of chunks of one dataset.
	maxChunks = 1 << 32

	maxNameLen = math.MaxUint16
)

// DatasetSpec describes a dataset to create.
type DatasetSpec struct {
	Dims      []uint64
	ChunkDims []uint64
	Type      dtype.Type
	Filters   []filter.Info
}

// Access tunes how an open dataset is accessed. It is not persisted.
type Access struct {
	// Cache configures the chunk cache. A zero Bytes selects the default
	// budget; a zero Slots derives a prime slot count from the chunk size.
	Cache cache.Config
}

// Info summarizes a dataset without opening it.
type Info struct {
	Name            string
	Type            dtype.Type
	Dims            []uint64
	ChunkDims       []uint64
	Filters         []filter.Info
	Attributes      []string
	ChunksAllocated int
	ChunksTotal     int
	StoredBytes     uint64
}

// dataset is the state shared by every open handle of one dataset.
type dataset struct {
	meta     *meta
	pipeline *filter.Pipeline
	cache    *cache.Chunk
	spill    *spill
	refs     int
}

// spill holds the one chunk too large for the cache, so that consecutive
// runs into it do not decode and encode it repeatedly.
type spill struct {
	index uint64
	data  []byte
	dirty bool
}

// Dataset is an open handle to a dataset.
type Dataset struct {
	file   *File
	ds     *dataset
	closed bool
}

func validateName(name string) error {
	if name == "" || len(name) > maxNameLen || !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateShape(dims, chunkDims []uint64) error {
	rank := len(dims)
	if rank == 0 || rank > maxRank {
		return fmt.Errorf("%w: rank %d", ErrShape, rank)
	}
	if len(chunkDims) != rank {
		return fmt.Errorf("%w: chunk rank %d, dataset rank %d", ErrShape, len(chunkDims), rank)
	}
	elems, chunks := uint64(1), uint64(1)
	for i, d := range dims {
		c := chunkDims[i]
		if c == 0 {
			return fmt.Errorf("%w: zero chunk size in dimension %d", ErrShape, i)
		}
		var hi uint64
		if hi, elems = bits.Mul64(elems, d); hi != 0 {
			return fmt.Errorf("%w: element count overflows", ErrShape)
		}
		if hi, chunks = bits.Mul64(chunks, (d+c-1)/c); hi != 0 || chunks > maxChunks {
			return fmt.Errorf("%w: too many chunks", ErrShape)
		}
	}
	return nil
}

func validateSpec(spec DatasetSpec) error {
	if err := validateShape(spec.Dims, spec.ChunkDims); err != nil {
		return err
	}
	if !spec.Type.Valid() {
		return fmt.Errorf("%w: %s", dtype.ErrUnknownType, spec.Type)
	}
	chunk := uint64(spec.Type.Size())
	for _, c := range spec.ChunkDims {
		hi, lo := bits.Mul64(chunk, c)
		if hi != 0 || lo > MaxChunkBytes {
			return fmt.Errorf("%w: chunk exceeds %d bytes", ErrShape, MaxChunkBytes)
		}
		chunk = lo
	}
	if len(spec.Filters) > maxFilters {
		return fmt.Errorf("%w: %d filters", ErrUnsupported, len(spec.Filters))
	}
	for _, fi := range spec.Filters {
		if len(fi.ClientData) > maxClientData {
			return fmt.Errorf("%w: %s filter has %d client values", ErrUnsupported, fi.Name(), len(fi.ClientData))
		}
	}
	return nil
}

// CreateDataset adds a dataset and returns an open handle to it. It fails
// with ErrExists if the name is taken.
func (f *File) CreateDataset(name string, spec DatasetSpec, access Access) (*Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds, err := f.createLocked(name, spec, access)
	if err != nil {
		return nil, f.fail("create dataset", err)
	}
	return &Dataset{file: f, ds: ds}, nil
}

func (f *File) createLocked(name string, spec DatasetSpec, access Access) (*dataset, error) {
	switch {
	case f.closed:
		return nil, ErrClosed
	case f.readOnly:
		return nil, ErrReadOnly
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, ok := f.datasets[name]; ok {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrExists)
	}
	if err := validateSpec(spec); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}
	// Reject unknown filters now rather than at the first write-back.
	if _, err := filter.NewPipeline(spec.Filters); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}

	m := &meta{
		Name:       name,
		Type:       spec.Type,
		Dims:       append([]uint64(nil), spec.Dims...),
		ChunkDims:  append([]uint64(nil), spec.ChunkDims...),
		Filters:    append([]filter.Info(nil), spec.Filters...),
		Attributes: make(map[string][]string),
	}
	n := uint64(1)
	for _, g := range m.gridDims() {
		n *= g
	}
	m.Chunks = make([]chunkRef, n)
	undefined := f.cfg.UndefinedOffset()
	for i := range m.Chunks {
		m.Chunks[i].Addr = undefined
	}

	ds, err := f.attachLocked(m, access)
	if err != nil {
		return nil, err
	}
	f.datasets[name] = m
	f.dirty = true
	f.log.WithFields(log.Fields{
		"dataset": name,
		"type":    m.Type.String(),
		"dims":    m.Dims,
		"chunk":   m.ChunkDims,
	}).Debug("dataset created")
	return ds, nil
}

// OpenDataset returns a handle to an existing dataset. It fails with
// ErrNotFound if the name is absent. Handles of the same dataset share one
// chunk cache; the access settings of the first open apply.
func (f *File) OpenDataset(name string, access Access) (*Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, f.fail("open dataset", ErrClosed)
	}
	m, ok := f.datasets[name]
	if !ok {
		return nil, f.fail("open dataset", fmt.Errorf("dataset %q: %w", name, ErrNotFound))
	}
	ds, err := f.attachLocked(m, access)
	if err != nil {
		return nil, f.fail("open dataset", err)
	}
	return &Dataset{file: f, ds: ds}, nil
}

// Info describes a dataset.
func (f *File) Info(name string) (Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Info{}, ErrClosed
	}
	m, ok := f.datasets[name]
	if !ok {
		return Info{}, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	info := Info{
		Name:        m.Name,
		Type:        m.Type,
		Dims:        append([]uint64(nil), m.Dims...),
		ChunkDims:   append([]uint64(nil), m.ChunkDims...),
		Filters:     append([]filter.Info(nil), m.Filters...),
		Attributes:  m.attributeNames(),
		ChunksTotal: len(m.Chunks),
	}
	undefined := f.cfg.UndefinedOffset()
	for _, c := range m.Chunks {
		if c.Addr != undefined {
			info.ChunksAllocated++
			info.StoredBytes += uint64(c.Size)
		}
	}
	return info, nil
}

func (f *File) attachLocked(m *meta, access Access) (*dataset, error) {
	if ds, ok := f.live[m.Name]; ok {
		ds.refs++
		return ds, nil
	}

	pipeline, err := filter.NewPipeline(m.Filters)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", m.Name, err)
	}

	cfg := access.Cache
	if cfg.Bytes == 0 {
		cfg.Bytes = cache.DefaultBytes
		if cfg.W0 == 0 {
			cfg.W0 = cache.DefaultW0
		}
	}
	if cfg.Slots == 0 {
		cfg.Slots = cache.Slots(cfg.Bytes, m.chunkBytes())
	}

	ds := &dataset{meta: m, pipeline: pipeline, refs: 1}
	var writeBack cache.WriteBackFunc
	if !f.readOnly {
		writeBack = func(index uint64, data []byte) error {
			return f.storeChunkLocked(ds, index, data)
		}
	}
	if ds.cache, err = cache.New(cfg, writeBack); err != nil {
		return nil, err
	}
	f.live[m.Name] = ds
	return ds, nil
}

// loadChunkLocked reads and decodes one chunk, or returns zeros for a chunk
// that was never written.
func (f *File) loadChunkLocked(ds *dataset, index uint64) ([]byte, error) {
	m := ds.meta
	size := m.chunkBytes()
	ref := m.Chunks[index]
	if ref.Addr == f.cfg.UndefinedOffset() {
		return make([]byte, size), nil
	}

	raw, err := binpkg.ReadBlock(f.osFile, ref.Addr, int(ref.Size))
	if err != nil {
		return nil, fmt.Errorf("dataset %q chunk %d: %w", m.Name, index, err)
	}
	data, err := ds.pipeline.Decode(raw, ref.Mask)
	if err != nil {
		return nil, fmt.Errorf("dataset %q chunk %d: %w", m.Name, index, err)
	}
	if uint64(len(data)) != size {
		return nil, fmt.Errorf("%w: dataset %q chunk %d decoded to %d bytes, want %d",
			ErrCorrupt, m.Name, index, len(data), size)
	}
	return data, nil
}

// storeChunkLocked encodes a chunk and writes it to newly allocated space.
// The space of the previous version is released at the next flush.
func (f *File) storeChunkLocked(ds *dataset, index uint64, data []byte) error {
	m := ds.meta
	enc, mask, err := ds.pipeline.Encode(data)
	if err != nil {
		return fmt.Errorf("dataset %q chunk %d: %w", m.Name, index, err)
	}
	if uint64(len(enc)) > math.MaxUint32 {
		return fmt.Errorf("dataset %q chunk %d: encoded chunk too large", m.Name, index)
	}

	addr, err := f.allocLocked(uint64(len(enc)))
	if err != nil {
		return fmt.Errorf("dataset %q chunk %d: %w", m.Name, index, err)
	}
	if err := binpkg.WriteBlock(f.osFile, addr, enc); err != nil {
		f.alloc.Free(addr, uint64(len(enc)))
		return fmt.Errorf("dataset %q chunk %d: %w", m.Name, index, err)
	}
	if old := m.Chunks[index]; old.Addr != f.cfg.UndefinedOffset() {
		f.alloc.Free(old.Addr, uint64(old.Size))
	}
	m.Chunks[index] = chunkRef{Addr: addr, Size: uint32(len(enc)), Mask: mask}
	f.dirty = true
	return nil
}

func (f *File) chunkLocked(ds *dataset, index uint64, full bool) ([]byte, error) {
	if sp := ds.spill; sp != nil && sp.index == index {
		return sp.data, nil
	}
	if data, ok := ds.cache.Get(index); ok {
		return data, nil
	}

	data, err := f.loadChunkLocked(ds, index)
	if err != nil {
		return nil, err
	}
	err = ds.cache.Put(index, data, false)
	switch {
	case errors.Is(err, cache.ErrTooLarge):
		if err := f.flushSpillLocked(ds); err != nil {
			return nil, err
		}
		ds.spill = &spill{index: index, data: data}
	case err != nil:
		return nil, err
	case full:
		ds.cache.MarkFull(index)
	}
	return data, nil
}

func (f *File) markDirtyLocked(ds *dataset, index uint64, full bool) {
	if sp := ds.spill; sp != nil && sp.index == index {
		sp.dirty = true
		return
	}
	ds.cache.MarkDirty(index, full)
}

func (f *File) flushSpillLocked(ds *dataset) error {
	sp := ds.spill
	if sp == nil {
		return nil
	}
	if sp.dirty {
		if err := f.storeChunkLocked(ds, sp.index, sp.data); err != nil {
			return err
		}
	}
	ds.spill = nil
	return nil
}

func (f *File) flushDatasetLocked(ds *dataset) error {
	if err := f.flushSpillLocked(ds); err != nil {
		return err
	}
	return ds.cache.Flush()
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.ds.meta.Name }

// Shape returns the dataset dimensions.
func (d *Dataset) Shape() []uint64 { return append([]uint64(nil), d.ds.meta.Dims...) }

// ChunkDims returns the chunk dimensions.
func (d *Dataset) ChunkDims() []uint64 { return append([]uint64(nil), d.ds.meta.ChunkDims...) }

// Type returns the element type.
func (d *Dataset) Type() dtype.Type { return d.ds.meta.Type }

// Filters returns the filter pipeline description.
func (d *Dataset) Filters() []filter.Info { return append([]filter.Info(nil), d.ds.meta.Filters...) }

// CacheStats returns the chunk cache counters.
func (d *Dataset) CacheStats() cache.Stats { return d.ds.cache.Stats() }

// CacheConfig returns the chunk cache tuning in effect.
func (d *Dataset) CacheConfig() cache.Config { return d.ds.cache.Config() }

func (d *Dataset) checkLocked(write bool) error {
	switch {
	case d.closed:
		return fmt.Errorf("dataset %q: %w", d.ds.meta.Name, ErrClosed)
	case d.file.closed:
		return ErrClosed
	case write && d.file.readOnly:
		return ErrReadOnly
	}
	return nil
}

// WriteRegion stores the selected elements from buf, which holds them
// encoded in the dataset's element type, in row-major selection order.
func (d *Dataset) WriteRegion(sel Selection, buf []byte) error {
	return d.transfer(sel, buf, true)
}

// ReadRegion loads the selected elements into buf.
func (d *Dataset) ReadRegion(sel Selection, buf []byte) error {
	return d.transfer(sel, buf, false)
}

func (d *Dataset) transfer(sel Selection, buf []byte, write bool) error {
	f := d.file
	f.mu.Lock()
	defer f.mu.Unlock()

	op := "read region"
	if write {
		op = "write region"
	}
	if err := d.checkLocked(write); err != nil {
		return f.fail(op, err)
	}

	ds := d.ds
	m := ds.meta
	p, err := sel.resolve(m.Dims)
	if err != nil {
		return f.fail(op, fmt.Errorf("dataset %q: %w", m.Name, err))
	}
	esize := uint64(m.Type.Size())
	if uint64(len(buf)) != p.total*esize {
		return f.fail(op, fmt.Errorf("dataset %q: %w: %d bytes for %d elements of %s",
			m.Name, ErrBufferSize, len(buf), p.total, m.Type))
	}

	rank := len(m.Dims)
	grid := m.gridDims()
	within := make([]uint64, rank)
	var off uint64

	err = p.each(func(coord []uint64, n uint64) error {
		for n > 0 {
			var index, pos uint64
			for i := 0; i < rank; i++ {
				index = index*grid[i] + coord[i]/m.ChunkDims[i]
				within[i] = coord[i] % m.ChunkDims[i]
				pos = pos*m.ChunkDims[i] + within[i]
			}
			take := min(n, m.ChunkDims[rank-1]-within[rank-1])

			chunk, err := f.chunkLocked(ds, index, p.all)
			if err != nil {
				return err
			}
			region := chunk[pos*esize : (pos+take)*esize]
			user := buf[off*esize : (off+take)*esize]
			if write {
				copy(region, user)
				f.markDirtyLocked(ds, index, p.all)
			} else {
				copy(user, region)
			}

			off += take
			n -= take
			coord[rank-1] += take
		}
		return nil
	})
	if spillErr := f.flushSpillLocked(ds); err == nil {
		err = spillErr
	}
	return f.fail(op, err)
}

// SetAttribute stores a list of strings under key, replacing any previous
// value.
func (d *Dataset) SetAttribute(key string, values []string) error {
	f := d.file
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := d.checkLocked(true); err != nil {
		return f.fail("set attribute", err)
	}
	if err := validateName(key); err != nil {
		return f.fail("set attribute", err)
	}
	for _, v := range values {
		if len(v) > maxNameLen {
			return f.fail("set attribute", fmt.Errorf("%w: attribute %q value too long", ErrUnsupported, key))
		}
	}
	d.ds.meta.Attributes[key] = append([]string(nil), values...)
	f.dirty = true
	return nil
}

// Attribute returns the strings stored under key.
func (d *Dataset) Attribute(key string) ([]string, bool) {
	d.file.mu.Lock()
	defer d.file.mu.Unlock()

	v, ok := d.ds.meta.Attributes[key]
	if !ok {
		return nil, false
	}
	return append([]string(nil), v...), true
}

// Close writes back the dataset's dirty chunks and releases the handle.
// The directory is written by the next File.Flush or File.Close. Closing
// twice is a no-op.
func (d *Dataset) Close() error {
	f := d.file
	f.mu.Lock()
	defer f.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if f.closed {
		return nil
	}

	ds := d.ds
	var err error
	if !f.readOnly {
		err = f.flushDatasetLocked(ds)
	}
	ds.refs--
	if ds.refs <= 0 && err == nil {
		err = ds.cache.Purge()
		delete(f.live, ds.meta.Name)
	}
	return f.fail("close dataset", err)
}
