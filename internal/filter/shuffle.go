package filter

// Shuffle transposes the bytes of fixed-size elements so that byte j of
// every element is stored together. Floating-point chunks compress
// noticeably better after it.
type Shuffle struct {
	elemSize int
}

// NewShuffle creates a shuffle filter.
// Client data: [0] = element size in bytes.
func NewShuffle(clientData []uint32) *Shuffle {
	elemSize := 1
	if len(clientData) > 0 && clientData[0] > 0 {
		elemSize = int(clientData[0])
	}
	return &Shuffle{elemSize: elemSize}
}

func (f *Shuffle) ID() uint16 { return IDShuffle }

// Encode groups byte j of every element at offset j*n. Trailing bytes that
// do not form a whole element are copied unchanged.
func (f *Shuffle) Encode(input []byte) ([]byte, error) {
	n := len(input) / f.elemSize
	if f.elemSize <= 1 || n <= 1 {
		return input, nil
	}
	out := make([]byte, len(input))
	for i := 0; i < n; i++ {
		for j := 0; j < f.elemSize; j++ {
			out[j*n+i] = input[i*f.elemSize+j]
		}
	}
	copy(out[n*f.elemSize:], input[n*f.elemSize:])
	return out, nil
}

// Decode reverses Encode.
func (f *Shuffle) Decode(input []byte) ([]byte, error) {
	n := len(input) / f.elemSize
	if f.elemSize <= 1 || n <= 1 {
		return input, nil
	}
	out := make([]byte, len(input))
	for i := 0; i < n; i++ {
		for j := 0; j < f.elemSize; j++ {
			out[i*f.elemSize+j] = input[j*n+i]
		}
	}
	copy(out[n*f.elemSize:], input[n*f.elemSize:])
	return out, nil
}
