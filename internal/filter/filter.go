// Package filter implements the chunk filter pipeline.
//
// Chunks pass through the filters of a dataset in declaration order when
// written and in reverse order when read. Each stored chunk carries a mask;
// bit i set means filter i was skipped for that chunk and must be skipped
// again when decoding.
package filter

import (
	"errors"
	"fmt"
	"sort"
)

// Filter identifiers. The registered third-party values are used for zstd
// and lz4 so that the ids stay unambiguous.
const (
	IDDeflate    uint16 = 1
	IDShuffle    uint16 = 2
	IDFletcher32 uint16 = 3
	IDLZ4        uint16 = 32004
	IDZstd       uint16 = 32015
)

// FlagOptional marks a filter whose encode failure is tolerated: the chunk is
// stored without it and the mask records the skip.
const FlagOptional uint16 = 0x0001

var (
	// ErrUnknownFilter is returned for ids with no registered implementation.
	ErrUnknownFilter = errors.New("unknown filter")

	// ErrChecksum is returned when a stored checksum does not match the data.
	ErrChecksum = errors.New("checksum mismatch")
)

// Filter transforms chunk bytes in both directions.
type Filter interface {
	ID() uint16
	Encode(input []byte) ([]byte, error)
	Decode(input []byte) ([]byte, error)
}

// Info describes one pipeline stage as stored in the dataset directory.
type Info struct {
	ID         uint16
	Flags      uint16
	ClientData []uint32
}

// IsOptional reports whether the stage may be skipped on encode failure.
func (i Info) IsOptional() bool { return i.Flags&FlagOptional != 0 }

// Name returns the registered name of the stage.
func (i Info) Name() string { return Name(i.ID) }

// Registry maps filter ids to constructors taking the stage's client data.
var Registry = map[uint16]func([]uint32) Filter{
	IDDeflate:    func(cd []uint32) Filter { return NewDeflate(cd) },
	IDShuffle:    func(cd []uint32) Filter { return NewShuffle(cd) },
	IDFletcher32: func(cd []uint32) Filter { return NewFletcher32(cd) },
	IDLZ4:        func(cd []uint32) Filter { return NewLZ4(cd) },
	IDZstd:       func(cd []uint32) Filter { return NewZstd(cd) },
}

var names = map[uint16]string{
	IDDeflate:    "deflate",
	IDShuffle:    "shuffle",
	IDFletcher32: "fletcher32",
	IDLZ4:        "lz4",
	IDZstd:       "zstd",
}

// Name returns the name for id, or "filter-<id>" when unknown.
func Name(id uint16) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("filter-%d", id)
}

// Lookup returns the id registered under name.
func Lookup(name string) (uint16, bool) {
	for id, n := range names {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Compressors lists the names of the compressing filters, sorted.
func Compressors() []string {
	out := []string{names[IDDeflate], names[IDLZ4], names[IDZstd]}
	sort.Strings(out)
	return out
}

// New creates a filter from its directory description.
func New(info Info) (Filter, error) {
	ctor, ok := Registry[info.ID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownFilter, info.ID)
	}
	return ctor(info.ClientData), nil
}
