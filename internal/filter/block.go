package filter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Both block compressors frame their output as
// [uncompressed size uint32][compressed size uint32][data]. A compressed
// size of zero means the data is stored raw because compression did not help.
const blockHeaderSize = 8

var errBlockSize = errors.New("decompressed size mismatch")

func frame(raw, compressed []byte) []byte {
	stored := compressed
	if len(compressed) == 0 || len(compressed) >= len(raw) {
		stored = raw
	}
	out := make([]byte, blockHeaderSize, blockHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(raw)))
	if len(compressed) > 0 && len(compressed) < len(raw) {
		binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	}
	return append(out, stored...)
}

// unframe returns the payload, the expected decoded size and whether the
// payload is raw.
func unframe(input []byte) ([]byte, int, bool, error) {
	if len(input) < blockHeaderSize {
		return nil, 0, false, errors.New("block too small for header")
	}
	size := int(binary.LittleEndian.Uint32(input[0:]))
	csize := int(binary.LittleEndian.Uint32(input[4:]))
	payload := input[blockHeaderSize:]
	if csize == 0 {
		if len(payload) < size {
			return nil, 0, false, errors.New("block data too small")
		}
		return payload[:size], size, true, nil
	}
	if len(payload) < csize {
		return nil, 0, false, errors.New("compressed block data too small")
	}
	return payload[:csize], size, false, nil
}

// LZ4 implements lz4 block compression. It takes no client data.
type LZ4 struct{}

// NewLZ4 creates an lz4 filter.
func NewLZ4(clientData []uint32) *LZ4 { return &LZ4{} }

func (f *LZ4) ID() uint16 { return IDLZ4 }

func (f *LZ4) Encode(input []byte) ([]byte, error) {
	if len(input) == 0 {
		return frame(input, nil), nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(input)))
	n, err := lz4.CompressBlock(input, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return frame(input, dst[:n]), nil
}

func (f *LZ4) Decode(input []byte) ([]byte, error) {
	payload, size, raw, err := unframe(input)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if raw {
		return payload, nil
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4: %w", errBlockSize)
	}
	return out, nil
}

// zstd encoders are expensive to build, so they are pooled per level.
var (
	zstdEncoderPools [zstd.SpeedBestCompression + 1]sync.Pool
	zstdDecoderPool  sync.Pool
)

func getZstdEncoder(level zstd.EncoderLevel) (*zstd.Encoder, error) {
	if v := zstdEncoderPools[level].Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Zstd implements zstd compression.
type Zstd struct {
	level zstd.EncoderLevel
}

// NewZstd creates a zstd filter.
// Client data: [0] = zstd level (1-22), mapped to the nearest encoder speed.
func NewZstd(clientData []uint32) *Zstd {
	level := zstd.SpeedDefault
	if len(clientData) > 0 && clientData[0] > 0 {
		level = zstd.EncoderLevelFromZstd(int(clientData[0]))
	}
	return &Zstd{level: level}
}

func (f *Zstd) ID() uint16 { return IDZstd }

func (f *Zstd) Encode(input []byte) ([]byte, error) {
	enc, err := getZstdEncoder(f.level)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer zstdEncoderPools[f.level].Put(enc)
	return frame(input, enc.EncodeAll(input, nil)), nil
}

func (f *Zstd) Decode(input []byte) ([]byte, error) {
	payload, size, raw, err := unframe(input)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	if raw {
		return payload, nil
	}
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zstdDecoderPool.Put(dec)

	out, err := dec.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd: %w", errBlockSize)
	}
	return out, nil
}
