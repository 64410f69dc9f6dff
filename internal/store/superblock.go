package store

import (
	"bytes"
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-h5io/internal/binary"
)

// Signature opens every container file.
var Signature = []byte{0x89, 'H', '5', 'C', '\r', '\n', 0x1a, '\n'}

const (
	formatVersion = 1

	// superblockReserve is the space kept at the start of the file for the
	// superblock. Data is never allocated below it.
	superblockReserve = 64
)

// superblock points at the current directory. It is rewritten in place
// after every successful flush.
type superblock struct {
	Version    uint8
	OffsetSize uint8
	DirAddr    uint64
	DirSize    uint32
	EOFAddr    uint64
	Generation uint64
}

func (sb *superblock) encode() []byte {
	cfg := binpkg.Config{OffsetSize: int(sb.OffsetSize)}
	e := binpkg.NewEncoder(cfg, superblockReserve)
	e.Raw(Signature)
	e.Uint8(sb.Version)
	e.Uint8(sb.OffsetSize)
	e.Uint16(0) // flags
	e.Offset(sb.DirAddr)
	e.Uint32(sb.DirSize)
	e.Offset(sb.EOFAddr)
	e.Uint64(sb.Generation)
	e.Checksum()
	return e.Bytes()
}

func readSuperblock(r io.ReaderAt) (*superblock, error) {
	buf, err := binpkg.ReadBlock(r, 0, len(Signature)+4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
	}
	if !bytes.Equal(buf[:len(Signature)], Signature) {
		return nil, ErrNotContainer
	}

	sb := &superblock{Version: buf[8], OffsetSize: buf[9]}
	if sb.Version != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrUnsupported, sb.Version)
	}
	cfg := binpkg.Config{OffsetSize: int(sb.OffsetSize)}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	size := len(Signature) + 4 + 2*cfg.OffsetSize + 4 + 8 + 4
	buf, err = binpkg.ReadBlock(r, 0, size)
	if err != nil {
		return nil, fmt.Errorf("%w: superblock: %v", ErrCorrupt, err)
	}
	d := binpkg.NewDecoder(cfg, buf)
	d.Skip(len(Signature) + 4)
	sb.DirAddr = d.Offset()
	sb.DirSize = d.Uint32()
	sb.EOFAddr = d.Offset()
	sb.Generation = d.Uint64()
	if !d.VerifyChecksum() {
		return nil, fmt.Errorf("%w: superblock checksum mismatch", ErrCorrupt)
	}
	return sb, nil
}
