package dtype

import (
	"errors"
	"math"
	"testing"
)

func roundtrip(t *testing.T, typ Type, in []float64) []float64 {
	t.Helper()
	buf := make([]byte, len(in)*typ.Size())
	if err := typ.Encode(buf, in); err != nil {
		t.Fatalf("%s Encode failed: %v", typ, err)
	}
	out := make([]float64, len(in))
	if err := typ.Decode(out, buf); err != nil {
		t.Fatalf("%s Decode failed: %v", typ, err)
	}
	return out
}

func TestSizes(t *testing.T) {
	tests := []struct {
		typ  Type
		size int
	}{
		{Float64, 8}, {Float32, 4}, {Float16, 2}, {Int64, 8},
		{Int32, 4}, {Uint16, 2}, {ScaledUint16, 2}, {Invalid, 0},
	}
	for _, tt := range tests {
		if got := tt.typ.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.typ, got, tt.size)
		}
	}
}

func TestFloat64PreservesSpecialBits(t *testing.T) {
	payloadNaN := math.Float64frombits(0x7ff8dead0000beef)
	in := []float64{0, math.Copysign(0, -1), math.Inf(1), math.Inf(-1), payloadNaN, math.SmallestNonzeroFloat64, math.MaxFloat64}

	out := roundtrip(t, Float64, in)
	for i := range in {
		if math.Float64bits(out[i]) != math.Float64bits(in[i]) {
			t.Errorf("element %d: bits 0x%x, want 0x%x", i, math.Float64bits(out[i]), math.Float64bits(in[i]))
		}
	}
}

func TestFloat16Precision(t *testing.T) {
	in := []float64{0, 1, -2.5, 0.1, 1000.25, 1.9990234375}
	out := roundtrip(t, Float16, in)
	for i := range in {
		tol := math.Abs(in[i]) * math.Pow(2, -10)
		if math.Abs(out[i]-in[i]) > tol {
			t.Errorf("element %d: got %v, want %v within %v", i, out[i], in[i], tol)
		}
	}

	special := roundtrip(t, Float16, []float64{math.Inf(1), math.Inf(-1), MaxFloat16, math.NaN()})
	if !math.IsInf(special[0], 1) || !math.IsInf(special[1], -1) || special[2] != MaxFloat16 || !math.IsNaN(special[3]) {
		t.Errorf("special values: got %v", special)
	}
}

func TestNarrowFloatsRejectOverflow(t *testing.T) {
	tests := []struct {
		typ Type
		v   float64
	}{
		{Float16, 70000},
		{Float16, -65505},
		{Float16, 1e6},
		{Float32, 1e300},
		{Float32, -math.MaxFloat64},
	}
	for _, tt := range tests {
		buf := []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}
		err := tt.typ.Encode(buf[:2*tt.typ.Size()], []float64{1, tt.v})
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("%s.Encode(%v): got %v, want ErrOutOfRange", tt.typ, tt.v, err)
		}
		if buf[0] != 0xaa {
			t.Errorf("%s.Encode(%v) wrote into dst before failing", tt.typ, tt.v)
		}
	}

	out := roundtrip(t, Float32, []float64{math.MaxFloat32, math.Inf(-1)})
	if out[0] != math.MaxFloat32 || !math.IsInf(out[1], -1) {
		t.Errorf("Float32 limits: got %v", out)
	}
}

func TestScaledUint16(t *testing.T) {
	in := []float64{0, 0.04, 0.05, 1.23, 42.0, 6553.5}
	want := []float64{0, 0, 0.1, 1.2, 42.0, 6553.5}

	out := roundtrip(t, ScaledUint16, in)
	for i := range in {
		if math.Abs(out[i]-want[i]) > 1e-9 {
			t.Errorf("element %d: got %v, want %v", i, out[i], want[i])
		}
		if math.Abs(out[i]-in[i]) > 0.05+1e-9 {
			t.Errorf("element %d: error %v exceeds quantization bound", i, math.Abs(out[i]-in[i]))
		}
	}
}

func TestScaledUint16RejectsUnrepresentable(t *testing.T) {
	for _, v := range []float64{-1, 6553.6, math.NaN(), math.Inf(1)} {
		buf := []byte{0xaa, 0xaa, 0xaa, 0xaa}
		err := ScaledUint16.Encode(buf, []float64{1, v})
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Encode(%v): got %v, want ErrOutOfRange", v, err)
		}
		if buf[0] != 0xaa {
			t.Errorf("Encode(%v) wrote into dst before failing", v)
		}
	}
}

func TestIntegerTypes(t *testing.T) {
	out := roundtrip(t, Int32, []float64{-7, 0, math.MaxInt32})
	if out[0] != -7 || out[2] != math.MaxInt32 {
		t.Errorf("Int32 roundtrip: %v", out)
	}
	out = roundtrip(t, Int64, []float64{-1 << 52, 1 << 52})
	if out[0] != -1<<52 || out[1] != 1<<52 {
		t.Errorf("Int64 roundtrip: %v", out)
	}

	tests := []struct {
		typ Type
		v   float64
	}{
		{Int32, 0.5},
		{Int32, math.MaxInt32 + 1},
		{Int64, math.MaxInt64},
		{Uint16, -1},
		{Uint16, 65536},
		{Int64, math.NaN()},
	}
	for _, tt := range tests {
		if err := tt.typ.Check([]float64{tt.v}); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("%s.Check(%v): got %v, want ErrOutOfRange", tt.typ, tt.v, err)
		}
	}
}

func TestLengthMismatch(t *testing.T) {
	if err := Float64.Encode(make([]byte, 7), []float64{1}); !errors.Is(err, ErrLength) {
		t.Errorf("Encode: got %v, want ErrLength", err)
	}
	if err := Float32.Decode(make([]float64, 2), make([]byte, 4)); !errors.Is(err, ErrLength) {
		t.Errorf("Decode: got %v, want ErrLength", err)
	}
	if err := Invalid.Encode(nil, nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Invalid.Encode: got %v, want ErrUnknownType", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"float64", Float64},
		{" Float32 ", Float32},
		{"float16", Float16},
		{"scaled-uint16", ScaledUint16},
		{"quantized", ScaledUint16},
		{"int32", Int32},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("Parse(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"", "invalid", "complex128"} {
		if _, err := Parse(bad); !errors.Is(err, ErrUnknownType) {
			t.Errorf("Parse(%q): got %v, want ErrUnknownType", bad, err)
		}
	}
	if _, err := FromCode(uint8(ScaledUint16) + 1); err == nil {
		t.Error("FromCode past the last type should fail")
	}
}
