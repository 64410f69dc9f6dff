package h5io

import (
	"fmt"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-h5io/config"
	"github.com/robert-malhotra/go-h5io/internal/cache"
	"github.com/robert-malhotra/go-h5io/internal/dtype"
	"github.com/robert-malhotra/go-h5io/internal/filter"
	"github.com/robert-malhotra/go-h5io/internal/store"
)

// ElementType is the on-disk representation of dataset elements.
type ElementType = dtype.Type

// Element types. Values are always float64 in memory.
const (
	Float64      = dtype.Float64
	Float32      = dtype.Float32
	Float16      = dtype.Float16
	Int64        = dtype.Int64
	Int32        = dtype.Int32
	Uint16       = dtype.Uint16
	ScaledUint16 = dtype.ScaledUint16
)

// ParseElementType returns the element type with the given name.
func ParseElementType(name string) (ElementType, error) { return dtype.Parse(name) }

// targetChunkBytes is the raw chunk size aimed for when no chunk row count
// is given.
const targetChunkBytes = 1 << 20

// HandleOption configures a FileHandle.
type HandleOption func(*handleOptions)

type handleOptions struct {
	logger       log.FieldLogger
	reportErrors bool
	offsetSize   int
	datasets     []DatasetOption
}

func defaultHandleOptions() *handleOptions {
	return &handleOptions{logger: log.StandardLogger()}
}

// WithLogger sets the logger for the handle and its store session.
func WithLogger(l log.FieldLogger) HandleOption {
	return func(o *handleOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReportErrors logs every failed operation at error level.
func WithReportErrors(report bool) HandleOption {
	return func(o *handleOptions) {
		o.reportErrors = report
	}
}

// WithOffsetSize sets the file address width for new files (2, 4, or 8).
func WithOffsetSize(size int) HandleOption {
	return func(o *handleOptions) {
		if size == 2 || size == 4 || size == 8 {
			o.offsetSize = size
		}
	}
}

// WithDatasetDefaults sets options applied before the per-call options of
// every dataset operation on the handle.
func WithDatasetDefaults(opts ...DatasetOption) HandleOption {
	return func(o *handleOptions) {
		o.datasets = append(o.datasets, opts...)
	}
}

// DatasetOption configures dataset creation and access.
type DatasetOption func(*datasetOptions)

type datasetOptions struct {
	elemType    dtype.Type
	chunkRows   int
	compression string
	level       int
	shuffle     bool
	fletcher32  bool
	cacheBytes  uint64
	w0          float64
}

func defaultDatasetOptions() *datasetOptions {
	return &datasetOptions{
		elemType:    dtype.Float64,
		compression: "deflate",
		level:       9,
		shuffle:     true,
		cacheBytes:  cache.DefaultBytes,
		w0:          cache.DefaultW0,
	}
}

// WithElementType sets the on-disk element type. Defaults to Float64.
func WithElementType(t ElementType) DatasetOption {
	return func(o *datasetOptions) {
		o.elemType = t
	}
}

// WithQuantization stores values as round(v*10) in unsigned 16-bit
// integers. Reads return u/10, within 0.05 of the written value.
func WithQuantization() DatasetOption {
	return WithElementType(ScaledUint16)
}

// WithChunkRows sets the number of rows per chunk. Chunks always span
// every column.
func WithChunkRows(n int) DatasetOption {
	return func(o *datasetOptions) {
		o.chunkRows = n
	}
}

// WithCompression selects a compressor ("deflate", "lz4", "zstd", or
// "none") and its level. Deflate levels run 0-9, zstd levels 1-22; lz4
// ignores the level.
func WithCompression(name string, level int) DatasetOption {
	return func(o *datasetOptions) {
		o.compression = strings.ToLower(name)
		o.level = level
	}
}

// WithShuffle enables the byte shuffle filter ahead of compression.
func WithShuffle(enabled bool) DatasetOption {
	return func(o *datasetOptions) {
		o.shuffle = enabled
	}
}

// WithFletcher32 appends a Fletcher-32 checksum to every chunk.
func WithFletcher32(enabled bool) DatasetOption {
	return func(o *datasetOptions) {
		o.fletcher32 = enabled
	}
}

// WithChunkCache sets the chunk cache budget in bytes and its preemption
// weight w0 in [0, 1].
func WithChunkCache(bytes uint64, w0 float64) DatasetOption {
	return func(o *datasetOptions) {
		o.cacheBytes = bytes
		o.w0 = w0
	}
}

func (o *datasetOptions) validate() error {
	if !o.elemType.Valid() {
		return fmt.Errorf("%w: element type %s", ErrInvalidOption, o.elemType)
	}
	if o.chunkRows < 0 {
		return fmt.Errorf("%w: chunk rows %d", ErrInvalidOption, o.chunkRows)
	}
	if o.cacheBytes == 0 || o.w0 < 0 || o.w0 > 1 {
		return fmt.Errorf("%w: chunk cache %d bytes, w0 %v", ErrInvalidOption, o.cacheBytes, o.w0)
	}
	return nil
}

// filters builds the pipeline: shuffle, then the compressor, then the
// checksum.
func (o *datasetOptions) filters() ([]filter.Info, error) {
	var infos []filter.Info
	if o.shuffle {
		infos = append(infos, filter.Info{ID: filter.IDShuffle, ClientData: []uint32{uint32(o.elemType.Size())}})
	}

	switch name := o.compression; {
	case name == "" || name == "none":
	case !slices.Contains(filter.Compressors(), name):
		return nil, fmt.Errorf("%w: compression %q", ErrInvalidOption, name)
	default:
		id, _ := filter.Lookup(name)
		info := filter.Info{ID: id}
		switch id {
		case filter.IDDeflate:
			if o.level < 0 || o.level > 9 {
				return nil, fmt.Errorf("%w: deflate level %d", ErrInvalidOption, o.level)
			}
			info.ClientData = []uint32{uint32(o.level)}
		case filter.IDZstd:
			if o.level < 0 || o.level > 22 {
				return nil, fmt.Errorf("%w: zstd level %d", ErrInvalidOption, o.level)
			}
			if o.level > 0 {
				info.ClientData = []uint32{uint32(o.level)}
			}
		}
		infos = append(infos, info)
	}

	if o.fletcher32 {
		infos = append(infos, filter.Info{ID: filter.IDFletcher32})
	}
	return infos, nil
}

// chunkRowsFor returns the configured chunk row count, or enough rows for
// about 1 MiB of raw data, clamped to [1, rows].
func (o *datasetOptions) chunkRowsFor(rows, cols int) int {
	n := o.chunkRows
	if n == 0 {
		n = targetChunkBytes / max(1, cols*o.elemType.Size())
	}
	return min(max(n, 1), max(rows, 1))
}

// access returns the store access tuning for chunks of chunkBytes bytes.
func (o *datasetOptions) access(chunkBytes uint64) store.Access {
	return store.Access{Cache: cache.For(o.cacheBytes, chunkBytes, o.w0)}
}

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	initialCapacity  int
	growthIncrement  int
	closeConcurrency int
	handle           []HandleOption
}

func defaultPoolOptions() *poolOptions {
	return &poolOptions{
		initialCapacity:  5,
		growthIncrement:  5,
		closeConcurrency: 4,
	}
}

// WithInitialCapacity sets the number of slots of a new pool.
func WithInitialCapacity(n int) PoolOption {
	return func(o *poolOptions) {
		if n >= 0 {
			o.initialCapacity = n
		}
	}
}

// WithGrowthIncrement sets the number of slots added when the pool is full.
func WithGrowthIncrement(n int) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.growthIncrement = n
		}
	}
}

// WithCloseConcurrency bounds the number of handles CloseAll closes at once.
func WithCloseConcurrency(n int) PoolOption {
	return func(o *poolOptions) {
		if n > 0 {
			o.closeConcurrency = n
		}
	}
}

// WithHandleOptions sets options for every handle the pool opens.
func WithHandleOptions(opts ...HandleOption) PoolOption {
	return func(o *poolOptions) {
		o.handle = append(o.handle, opts...)
	}
}

// PoolOptionsFromConfig maps the pool and store sections of conf.
func PoolOptionsFromConfig(conf *config.Config) []PoolOption {
	return []PoolOption{
		WithInitialCapacity(conf.Pool.InitialCapacity),
		WithGrowthIncrement(conf.Pool.GrowthIncrement),
		WithCloseConcurrency(conf.Pool.CloseConcurrency),
		WithHandleOptions(WithReportErrors(conf.Store.ReportErrors)),
	}
}

// DatasetOptionsFromConfig maps the dataset and chunk cache sections of conf.
func DatasetOptionsFromConfig(conf *config.Config) ([]DatasetOption, error) {
	t, err := dtype.Parse(conf.Dataset.ElementType)
	if err != nil {
		return nil, err
	}
	cacheBytes, err := conf.CacheBytes()
	if err != nil {
		return nil, err
	}
	return []DatasetOption{
		WithElementType(t),
		WithChunkRows(conf.Dataset.ChunkRows),
		WithCompression(conf.Dataset.Compression, conf.Dataset.CompressionLevel),
		WithShuffle(conf.Dataset.Shuffle),
		WithFletcher32(conf.Dataset.Fletcher32),
		WithChunkCache(cacheBytes, conf.ChunkCache.W0),
	}, nil
}
