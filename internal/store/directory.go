package store

import (
	"bytes"
	"fmt"
	"sort"

	binpkg "github.com/robert-malhotra/go-h5io/internal/binary"
	"github.com/robert-malhotra/go-h5io/internal/dtype"
	"github.com/robert-malhotra/go-h5io/internal/filter"
)

var directorySignature = []byte("CDIR")

const (
	maxRank       = 32
	maxFilters    = 32
	maxClientData = 255
)

// chunkRef locates one stored chunk. Addr is the undefined offset for a
// chunk that was never written.
type chunkRef struct {
	Addr uint64
	Size uint32
	Mask uint32
}

// meta is the directory record of one dataset.
type meta struct {
	Name       string
	Type       dtype.Type
	Dims       []uint64
	ChunkDims  []uint64
	Filters    []filter.Info
	Attributes map[string][]string
	Chunks     []chunkRef
}

// gridDims returns the number of chunks along each dimension.
func (m *meta) gridDims() []uint64 {
	grid := make([]uint64, len(m.Dims))
	for i, d := range m.Dims {
		grid[i] = (d + m.ChunkDims[i] - 1) / m.ChunkDims[i]
	}
	return grid
}

// chunkElements returns the number of elements in one full chunk.
func (m *meta) chunkElements() uint64 {
	n := uint64(1)
	for _, c := range m.ChunkDims {
		n *= c
	}
	return n
}

func (m *meta) chunkBytes() uint64 {
	return m.chunkElements() * uint64(m.Type.Size())
}

func (m *meta) attributeNames() []string {
	names := make([]string, 0, len(m.Attributes))
	for k := range m.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func encodeDirectory(cfg binpkg.Config, datasets map[string]*meta) []byte {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	e := binpkg.NewEncoder(cfg, 256)
	e.Raw(directorySignature)
	e.Uint8(formatVersion)
	e.Uint32(uint32(len(names)))
	for _, name := range names {
		m := datasets[name]
		e.String(m.Name)
		e.Uint8(uint8(m.Type))
		e.Uint8(uint8(len(m.Dims)))
		for _, d := range m.Dims {
			e.Uint64(d)
		}
		for _, c := range m.ChunkDims {
			e.Uint64(c)
		}

		e.Uint8(uint8(len(m.Filters)))
		for _, f := range m.Filters {
			e.Uint16(f.ID)
			e.Uint16(f.Flags)
			e.Uint8(uint8(len(f.ClientData)))
			for _, v := range f.ClientData {
				e.Uint32(v)
			}
		}

		attrs := m.attributeNames()
		e.Uint16(uint16(len(attrs)))
		for _, k := range attrs {
			e.String(k)
			e.Uint32(uint32(len(m.Attributes[k])))
			for _, v := range m.Attributes[k] {
				e.String(v)
			}
		}

		e.Uint64(uint64(len(m.Chunks)))
		for _, c := range m.Chunks {
			e.Offset(c.Addr)
			e.Uint32(c.Size)
			e.Uint32(c.Mask)
		}
	}
	e.Checksum()
	return e.Bytes()
}

func decodeDirectory(cfg binpkg.Config, buf []byte) (map[string]*meta, error) {
	if len(buf) < len(directorySignature) || !bytes.Equal(buf[:len(directorySignature)], directorySignature) {
		return nil, fmt.Errorf("%w: bad directory signature", ErrCorrupt)
	}
	d := binpkg.NewDecoder(cfg, buf)
	d.Skip(len(directorySignature))
	if v := d.Uint8(); v != formatVersion {
		return nil, fmt.Errorf("%w: directory version %d", ErrUnsupported, v)
	}

	count := d.Uint32()
	datasets := make(map[string]*meta, min(int(count), 1024))
	for i := uint32(0); i < count && d.Err() == nil; i++ {
		m, err := decodeMeta(d)
		if err != nil {
			return nil, err
		}
		if _, dup := datasets[m.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate dataset %q", ErrCorrupt, m.Name)
		}
		datasets[m.Name] = m
	}
	if !d.VerifyChecksum() {
		if d.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, d.Err())
		}
		return nil, fmt.Errorf("%w: directory checksum mismatch", ErrCorrupt)
	}
	return datasets, nil
}

func decodeMeta(d *binpkg.Decoder) (*meta, error) {
	m := &meta{Name: d.String()}
	code := d.Uint8()
	rank := int(d.Uint8())
	if d.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, d.Err())
	}
	t, err := dtype.FromCode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %v", ErrCorrupt, m.Name, err)
	}
	m.Type = t
	if rank == 0 || rank > maxRank {
		return nil, fmt.Errorf("%w: dataset %q: rank %d", ErrCorrupt, m.Name, rank)
	}

	m.Dims = make([]uint64, rank)
	for i := range m.Dims {
		m.Dims[i] = d.Uint64()
	}
	m.ChunkDims = make([]uint64, rank)
	for i := range m.ChunkDims {
		m.ChunkDims[i] = d.Uint64()
	}

	nf := int(d.Uint8())
	for i := 0; i < nf && d.Err() == nil; i++ {
		info := filter.Info{ID: d.Uint16(), Flags: d.Uint16()}
		ncd := int(d.Uint8())
		for j := 0; j < ncd; j++ {
			info.ClientData = append(info.ClientData, d.Uint32())
		}
		m.Filters = append(m.Filters, info)
	}

	na := int(d.Uint16())
	m.Attributes = make(map[string][]string, na)
	for i := 0; i < na && d.Err() == nil; i++ {
		key := d.String()
		n := d.Uint32()
		if uint64(n) > uint64(d.Remaining()) {
			return nil, fmt.Errorf("%w: dataset %q: attribute %q too long", ErrCorrupt, m.Name, key)
		}
		vals := make([]string, 0, n)
		for j := uint32(0); j < n; j++ {
			vals = append(vals, d.String())
		}
		m.Attributes[key] = vals
	}

	nc := d.Uint64()
	if d.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, d.Err())
	}
	if err := validateShape(m.Dims, m.ChunkDims); err != nil {
		return nil, fmt.Errorf("%w: dataset %q: %v", ErrCorrupt, m.Name, err)
	}
	want := uint64(1)
	for _, g := range m.gridDims() {
		want *= g
	}
	if nc != want || nc > uint64(d.Remaining()) {
		return nil, fmt.Errorf("%w: dataset %q: %d chunk entries, want %d", ErrCorrupt, m.Name, nc, want)
	}
	m.Chunks = make([]chunkRef, nc)
	for i := range m.Chunks {
		m.Chunks[i] = chunkRef{Addr: d.Offset(), Size: d.Uint32(), Mask: d.Uint32()}
	}
	if d.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, d.Err())
	}
	return m, nil
}
