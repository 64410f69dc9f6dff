// Package dtype defines the on-disk element types of array datasets and
// converts between them and the float64 values the public API works with.
//
// Every type is stored little-endian. ScaledUint16 is a lossy encoding for
// non-negative values with one decimal digit of precision: the stored word is
// round(v*10) and reads back as word/10.
package dtype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

// Type identifies an element encoding.
type Type uint8

const (
	Invalid Type = iota
	Float64
	Float32
	Float16
	Int64
	Int32
	Uint16
	ScaledUint16
)

// QuantizationScale is the factor applied by ScaledUint16.
const QuantizationScale = 10

// MaxFloat16 is the largest finite half precision value.
const MaxFloat16 = 65504

var (
	// ErrOutOfRange is returned when a value cannot be represented in the
	// target type.
	ErrOutOfRange = errors.New("value out of range for element type")

	// ErrUnknownType is returned for unrecognized type names or codes.
	ErrUnknownType = errors.New("unknown element type")

	// ErrLength is returned when source and destination lengths disagree.
	ErrLength = errors.New("buffer length mismatch")
)

var typeNames = [...]string{
	Invalid:      "invalid",
	Float64:      "float64",
	Float32:      "float32",
	Float16:      "float16",
	Int64:        "int64",
	Int32:        "int32",
	Uint16:       "uint16",
	ScaledUint16: "scaled-uint16",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Valid reports whether t is a known storable type.
func (t Type) Valid() bool {
	return t > Invalid && t <= ScaledUint16
}

// Size returns the element size in bytes.
func (t Type) Size() int {
	switch t {
	case Float64, Int64:
		return 8
	case Float32, Int32:
		return 4
	case Float16, Uint16, ScaledUint16:
		return 2
	}
	return 0
}

// Quantized reports whether the type loses precision beyond float rounding.
func (t Type) Quantized() bool { return t == ScaledUint16 }

// Parse returns the type for a name such as "float64" or "scaled-uint16".
// "quantized" is accepted as an alias for scaled-uint16.
func Parse(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "quantized" {
		return ScaledUint16, nil
	}
	for i, n := range typeNames {
		if n == name && Type(i).Valid() {
			return Type(i), nil
		}
	}
	return Invalid, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// FromCode validates a type code read from a file.
func FromCode(code uint8) (Type, error) {
	t := Type(code)
	if !t.Valid() {
		return Invalid, fmt.Errorf("%w: code %d", ErrUnknownType, code)
	}
	return t, nil
}

// Check reports the first value in src that t cannot store.
func (t Type) Check(src []float64) error {
	for i, v := range src {
		if err := t.check(v); err != nil {
			return fmt.Errorf("element %d (%v): %w", i, v, err)
		}
	}
	return nil
}

func (t Type) check(v float64) error {
	switch t {
	case Float64:
		return nil
	case Float32:
		return checkFloat(v, math.MaxFloat32)
	case Float16:
		return checkFloat(v, MaxFloat16)
	case Int64:
		return checkInt(v, math.MinInt64, math.MaxInt64)
	case Int32:
		return checkInt(v, math.MinInt32, math.MaxInt32)
	case Uint16:
		return checkInt(v, 0, math.MaxUint16)
	case ScaledUint16:
		s := math.Round(v * QuantizationScale)
		if math.IsNaN(s) || s < 0 || s > math.MaxUint16 {
			return ErrOutOfRange
		}
		return nil
	}
	return ErrUnknownType
}

// checkFloat rejects finite values that would overflow to infinity. NaN and
// the infinities are stored as they are.
func checkFloat(v, limit float64) error {
	if math.Abs(v) > limit && !math.IsInf(v, 0) {
		return ErrOutOfRange
	}
	return nil
}

// checkInt compares against hi+1 so that float64(math.MaxInt64), which
// rounds up to 2^63, is rejected.
func checkInt(v, lo, hi float64) error {
	if math.IsNaN(v) || v != math.Trunc(v) || v < lo || v >= hi+1 {
		return ErrOutOfRange
	}
	return nil
}

// Encode writes src into dst in type t. dst must hold exactly
// len(src)*t.Size() bytes. Nothing is written when any value is out of range.
func (t Type) Encode(dst []byte, src []float64) error {
	size := t.Size()
	if size == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if len(dst) != len(src)*size {
		return fmt.Errorf("%w: %d bytes for %d %s elements", ErrLength, len(dst), len(src), t)
	}
	if err := t.Check(src); err != nil {
		return err
	}

	le := binary.LittleEndian
	for i, v := range src {
		p := dst[i*size:]
		switch t {
		case Float64:
			le.PutUint64(p, math.Float64bits(v))
		case Float32:
			le.PutUint32(p, math.Float32bits(float32(v)))
		case Float16:
			le.PutUint16(p, float16.Fromfloat32(float32(v)).Bits())
		case Int64:
			le.PutUint64(p, uint64(int64(v)))
		case Int32:
			le.PutUint32(p, uint32(int32(v)))
		case Uint16:
			le.PutUint16(p, uint16(v))
		case ScaledUint16:
			le.PutUint16(p, uint16(math.Round(v*QuantizationScale)))
		}
	}
	return nil
}

// Decode reads len(dst) elements of type t from src.
func (t Type) Decode(dst []float64, src []byte) error {
	size := t.Size()
	if size == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	if len(src) != len(dst)*size {
		return fmt.Errorf("%w: %d bytes for %d %s elements", ErrLength, len(src), len(dst), t)
	}

	le := binary.LittleEndian
	for i := range dst {
		p := src[i*size:]
		switch t {
		case Float64:
			dst[i] = math.Float64frombits(le.Uint64(p))
		case Float32:
			dst[i] = float64(math.Float32frombits(le.Uint32(p)))
		case Float16:
			dst[i] = float64(float16.Frombits(le.Uint16(p)).Float32())
		case Int64:
			dst[i] = float64(int64(le.Uint64(p)))
		case Int32:
			dst[i] = float64(int32(le.Uint32(p)))
		case Uint16:
			dst[i] = float64(le.Uint16(p))
		case ScaledUint16:
			dst[i] = float64(le.Uint16(p)) / QuantizationScale
		}
	}
	return nil
}
