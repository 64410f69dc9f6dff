package filter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultDeflateLevel is used when no level is given in client data.
const DefaultDeflateLevel = 6

// Deflate implements zlib compression.
type Deflate struct {
	level int
}

// NewDeflate creates a deflate filter.
// Client data: [0] = compression level (0-9).
func NewDeflate(clientData []uint32) *Deflate {
	level := DefaultDeflateLevel
	if len(clientData) > 0 && clientData[0] <= 9 {
		level = int(clientData[0])
	}
	return &Deflate{level: level}
}

func (f *Deflate) ID() uint16 { return IDDeflate }

// Level returns the configured compression level.
func (f *Deflate) Level() int { return f.level }

func (f *Deflate) Encode(input []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(input); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *Deflate) Decode(input []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()

	output, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return output, nil
}
