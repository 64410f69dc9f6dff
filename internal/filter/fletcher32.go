package filter

import (
	"encoding/binary"
	"fmt"

	binpkg "github.com/robert-malhotra/go-h5io/internal/binary"
)

// Fletcher32Filter appends a Fletcher-32 checksum to each chunk and verifies
// it on read.
type Fletcher32Filter struct{}

// NewFletcher32 creates a checksum filter. It takes no client data.
func NewFletcher32(clientData []uint32) *Fletcher32Filter {
	return &Fletcher32Filter{}
}

func (f *Fletcher32Filter) ID() uint16 { return IDFletcher32 }

func (f *Fletcher32Filter) Encode(input []byte) ([]byte, error) {
	out := make([]byte, len(input), len(input)+4)
	copy(out, input)
	return binary.LittleEndian.AppendUint32(out, binpkg.Fletcher32(input)), nil
}

// Decode verifies the trailing checksum and strips it.
func (f *Fletcher32Filter) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("fletcher32: input too short for checksum")
	}
	data := input[:len(input)-4]
	stored := binary.LittleEndian.Uint32(input[len(input)-4:])
	if computed := binpkg.Fletcher32(data); stored != computed {
		return nil, fmt.Errorf("fletcher32: %w (stored=0x%08x, computed=0x%08x)", ErrChecksum, stored, computed)
	}
	return data, nil
}
