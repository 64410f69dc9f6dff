// Package binary encodes and decodes the fixed-layout metadata blocks of an
// array container file.
//
// All multi-byte integers are little-endian. File addresses and lengths are
// written with a configurable width (2, 4 or 8 bytes) recorded in the
// superblock, so a decoder must be configured from the superblock before it
// reads any address-bearing block.
package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrInvalidSize is returned when an unsupported offset width is configured.
	ErrInvalidSize = errors.New("invalid offset size: must be 2, 4, or 8")

	// ErrShortBuffer is returned when a block ends before a field does.
	ErrShortBuffer = errors.New("block truncated")
)

var order = binary.LittleEndian

// Config describes the address width of a file.
type Config struct {
	OffsetSize int // 2, 4, or 8 bytes
}

// DefaultConfig is used for new files and for the first superblock read.
func DefaultConfig() Config {
	return Config{OffsetSize: 8}
}

// Validate reports whether the configured width is supported.
func (c Config) Validate() error {
	switch c.OffsetSize {
	case 2, 4, 8:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidSize, c.OffsetSize)
}

// UndefinedOffset returns the all-ones address used for "not allocated".
func (c Config) UndefinedOffset() uint64 {
	if c.OffsetSize >= 8 {
		return math.MaxUint64
	}
	return uint64(1)<<(8*uint(c.OffsetSize)) - 1
}

// Encoder appends fields to a growing byte slice.
type Encoder struct {
	cfg Config
	buf []byte
}

// NewEncoder returns an encoder with room for sizeHint bytes.
func NewEncoder(cfg Config, sizeHint int) *Encoder {
	return &Encoder{cfg: cfg, buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) Uint8(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) Uint16(v uint16) { e.buf = order.AppendUint16(e.buf, v) }

func (e *Encoder) Uint32(v uint32) { e.buf = order.AppendUint32(e.buf, v) }

func (e *Encoder) Uint64(v uint64) { e.buf = order.AppendUint64(e.buf, v) }

// Offset writes a file address using the configured width.
func (e *Encoder) Offset(v uint64) {
	for i := 0; i < e.cfg.OffsetSize; i++ {
		e.buf = append(e.buf, byte(v>>(8*uint(i))))
	}
}

// String writes a uint16 length prefix followed by the raw bytes.
func (e *Encoder) String(s string) {
	e.Uint16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) Raw(p []byte) { e.buf = append(e.buf, p...) }

// Zeros appends n zero bytes.
func (e *Encoder) Zeros(n int) {
	for ; n > 0; n-- {
		e.buf = append(e.buf, 0)
	}
}

// Len returns the number of bytes encoded so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Bytes returns the encoded block. The slice aliases the encoder's buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Checksum appends the lookup3 hash of everything encoded so far.
func (e *Encoder) Checksum() {
	e.Uint32(Lookup3(e.buf))
}

// Decoder reads fields from a block. The first short read is sticky: every
// later call returns a zero value and Err reports the failure.
type Decoder struct {
	cfg Config
	buf []byte
	pos int
	err error
}

// NewDecoder returns a decoder over buf.
func NewDecoder(cfg Config, buf []byte) *Decoder {
	return &Decoder{cfg: cfg, buf: buf}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at %d, have %d", ErrShortBuffer, n, d.pos, len(d.buf)-d.pos)
		return nil
	}
	p := d.buf[d.pos : d.pos+n]
	d.pos += n
	return p
}

func (d *Decoder) Uint8() uint8 {
	if p := d.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (d *Decoder) Uint16() uint16 {
	if p := d.take(2); p != nil {
		return order.Uint16(p)
	}
	return 0
}

func (d *Decoder) Uint32() uint32 {
	if p := d.take(4); p != nil {
		return order.Uint32(p)
	}
	return 0
}

func (d *Decoder) Uint64() uint64 {
	if p := d.take(8); p != nil {
		return order.Uint64(p)
	}
	return 0
}

// Offset reads a file address using the configured width.
func (d *Decoder) Offset() uint64 {
	p := d.take(d.cfg.OffsetSize)
	var v uint64
	for i := len(p) - 1; i >= 0; i-- {
		v = v<<8 | uint64(p[i])
	}
	return v
}

// String reads a uint16 length-prefixed string.
func (d *Decoder) String() string {
	n := int(d.Uint16())
	return string(d.take(n))
}

// Raw returns the next n bytes without copying.
func (d *Decoder) Raw(n int) []byte { return d.take(n) }

// Skip advances past n bytes.
func (d *Decoder) Skip(n int) { d.take(n) }

// Pos returns the current read position within the block.
func (d *Decoder) Pos() int { return d.pos }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Err returns the first decoding error, if any.
func (d *Decoder) Err() error { return d.err }

// VerifyChecksum checks the lookup3 hash stored at the current position
// against every byte that precedes it.
func (d *Decoder) VerifyChecksum() bool {
	covered := d.buf[:min(d.pos, len(d.buf))]
	stored := d.Uint32()
	return d.err == nil && stored == Lookup3(covered)
}

// ReadBlock reads exactly n bytes at addr.
func ReadBlock(r io.ReaderAt, addr uint64, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, int64(addr)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %d bytes at 0x%x: %w", n, addr, io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("read %d bytes at 0x%x: %w", n, addr, err)
	}
	return buf, nil
}

// WriteBlock writes p at addr.
func WriteBlock(w io.WriterAt, addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := w.WriteAt(p, int64(addr)); err != nil {
		return fmt.Errorf("write %d bytes at 0x%x: %w", len(p), addr, err)
	}
	return nil
}
