// Package store implements the array container: a single file holding named,
// chunked, filtered N-dimensional datasets.
//
// # File layout
//
//	0x00  superblock (signature, version, address width, directory address
//	      and size, end of file, generation, lookup3 checksum)
//	0x40  chunk blobs and directory blocks, allocated by internal/alloc
//
// The directory lists every dataset with its element type, shape, chunk
// shape, filter pipeline, string attributes and chunk index. Metadata is
// never updated in place: Flush writes a new directory, then rewrites the
// superblock to point at it, and only then releases the space of the old
// directory and of any chunks replaced since the previous flush.
//
// # Datasets
//
// Datasets are created once and never deleted. Region reads and writes go
// through a per-dataset chunk cache (internal/cache). Chunks that were never
// written read back as zeros.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-h5io/internal/alloc"
	binpkg "github.com/robert-malhotra/go-h5io/internal/binary"
)

// Flag selects how Open treats an existing or missing file.
type Flag int

const (
	// CreateExclusive creates a new file and fails if the path exists.
	CreateExclusive Flag = iota
	// CreateTruncate creates a new file, discarding any existing one.
	CreateTruncate
	// OpenReadOnly opens an existing file for reading.
	OpenReadOnly
	// OpenReadWrite opens an existing file for reading and writing.
	OpenReadWrite
)

func (fl Flag) String() string {
	switch fl {
	case CreateExclusive:
		return "create-exclusive"
	case CreateTruncate:
		return "create-truncate"
	case OpenReadOnly:
		return "read-only"
	case OpenReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("flag(%d)", int(fl))
}

// Options configures one open session.
type Options struct {
	// ReportErrors logs every failed operation at error level. When false
	// failures are only returned.
	ReportErrors bool

	// Logger receives session logs. Defaults to the standard logger.
	Logger log.FieldLogger

	// OffsetSize is the address width for new files. Defaults to 8.
	OffsetSize int
}

// File is an open container file. It is safe for concurrent use.
type File struct {
	mu sync.Mutex

	path     string
	flag     Flag
	readOnly bool
	closed   bool
	dirty    bool

	osFile *os.File
	cfg    binpkg.Config
	sb     *superblock
	alloc  *alloc.Allocator

	datasets map[string]*meta
	live     map[string]*dataset

	opts Options
	log  log.FieldLogger
}

// Open opens or creates the container at path.
func Open(path string, flag Flag, opts Options) (*File, error) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.OffsetSize == 0 {
		opts.OffsetSize = binpkg.DefaultConfig().OffsetSize
	}
	f := &File{
		path:     path,
		flag:     flag,
		datasets: make(map[string]*meta),
		live:     make(map[string]*dataset),
		opts:     opts,
		log:      opts.Logger.WithFields(log.Fields{"path": path, "flag": flag.String()}),
	}

	var err error
	switch flag {
	case CreateExclusive, CreateTruncate:
		err = f.create()
	case OpenReadOnly, OpenReadWrite:
		err = f.load()
	default:
		err = fmt.Errorf("%w: open flag %d", ErrUnsupported, int(flag))
	}
	if err != nil {
		return nil, f.fail("open", err)
	}
	f.log.Debug("container opened")
	return f, nil
}

func mapOSError(err error, path string) error {
	switch {
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s: %w", ErrExists, path, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}
	return err
}

func (f *File) create() error {
	f.cfg = binpkg.Config{OffsetSize: f.opts.OffsetSize}
	if err := f.cfg.Validate(); err != nil {
		return err
	}

	osFlag := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	if f.flag == CreateExclusive {
		osFlag = os.O_RDWR | os.O_CREATE | os.O_EXCL
	}
	osFile, err := os.OpenFile(f.path, osFlag, 0o644)
	if err != nil {
		return mapOSError(err, f.path)
	}
	f.osFile = osFile
	f.sb = &superblock{Version: formatVersion, OffsetSize: uint8(f.cfg.OffsetSize)}
	f.alloc = alloc.New(superblockReserve)
	f.dirty = true

	if err := f.flushLocked(); err != nil {
		osFile.Close()
		if f.flag == CreateExclusive {
			os.Remove(f.path)
		}
		return err
	}
	return nil
}

func (f *File) load() error {
	osFlag := os.O_RDONLY
	if f.flag == OpenReadWrite {
		osFlag = os.O_RDWR
	}
	f.readOnly = f.flag == OpenReadOnly

	osFile, err := os.OpenFile(f.path, osFlag, 0)
	if err != nil {
		return mapOSError(err, f.path)
	}

	sb, err := readSuperblock(osFile)
	if err != nil {
		osFile.Close()
		return err
	}
	f.cfg = binpkg.Config{OffsetSize: int(sb.OffsetSize)}

	raw, err := binpkg.ReadBlock(osFile, sb.DirAddr, int(sb.DirSize))
	if err != nil {
		osFile.Close()
		return fmt.Errorf("%w: directory: %v", ErrCorrupt, err)
	}
	datasets, err := decodeDirectory(f.cfg, raw)
	if err != nil {
		osFile.Close()
		return err
	}

	f.osFile = osFile
	f.sb = sb
	f.datasets = datasets
	f.alloc = alloc.New(superblockReserve)
	f.alloc.SetEOFAddr(max(sb.EOFAddr, superblockReserve))
	return nil
}

// fail logs err when error reporting is enabled for the session.
func (f *File) fail(op string, err error) error {
	if err != nil && f.opts.ReportErrors {
		f.log.WithError(err).WithField("op", op).Error("container operation failed")
	}
	return err
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// ReadOnly reports whether the file rejects modifications.
func (f *File) ReadOnly() bool { return f.readOnly }

// Names returns the sorted dataset names.
func (f *File) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.datasets))
	for name := range f.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a dataset exists.
func (f *File) Has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.datasets[name]
	return ok
}

// AllocStats returns the file space allocator statistics.
func (f *File) AllocStats() alloc.Stats {
	return f.alloc.Stats()
}

// Flush writes every cached chunk and the directory, then syncs the file.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.fail("flush", ErrClosed)
	}
	if f.readOnly {
		return nil
	}
	return f.fail("flush", f.flushLocked())
}

func (f *File) flushLocked() error {
	var errs []error
	for _, ds := range f.live {
		if err := f.flushDatasetLocked(ds); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if !f.dirty {
		return nil
	}

	dir := encodeDirectory(f.cfg, f.datasets)
	addr, err := f.allocLocked(uint64(len(dir)))
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if err := binpkg.WriteBlock(f.osFile, addr, dir); err != nil {
		f.alloc.Free(addr, uint64(len(dir)))
		return err
	}

	old := *f.sb
	sb := old
	sb.DirAddr = addr
	sb.DirSize = uint32(len(dir))
	sb.EOFAddr = f.alloc.EOFAddr()
	sb.Generation++
	if err := binpkg.WriteBlock(f.osFile, 0, sb.encode()); err != nil {
		f.alloc.Free(addr, uint64(len(dir)))
		return err
	}
	if err := f.osFile.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	f.sb = &sb
	if old.DirSize > 0 {
		f.alloc.Free(old.DirAddr, uint64(old.DirSize))
	}
	f.alloc.Commit()
	f.dirty = false

	f.log.WithFields(log.Fields{
		"generation": sb.Generation,
		"datasets":   len(f.datasets),
		"eof":        sb.EOFAddr,
	}).Debug("container flushed")
	return nil
}

// allocLocked reserves size bytes whose addresses fit the file's offset
// width. The all-ones address is reserved for unallocated chunks.
func (f *File) allocLocked(size uint64) (uint64, error) {
	addr, err := f.alloc.AllocWithin(size, f.cfg.UndefinedOffset())
	if errors.Is(err, alloc.ErrNoSpace) {
		return 0, fmt.Errorf("%w: %d-byte offsets: %v", ErrFileTooLarge, f.cfg.OffsetSize, err)
	}
	return addr, err
}

// Close flushes pending writes and releases the file. The OS file is closed
// even when the flush fails. Closing twice is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	if !f.readOnly {
		if err := f.flushLocked(); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
	}
	for name, ds := range f.live {
		ds.refs = 0
		delete(f.live, name)
	}
	if err := f.osFile.Close(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		f.log.WithError(err).Warn("container closed with errors")
	} else {
		f.log.Debug("container closed")
	}
	return f.fail("close", err)
}
