package filter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"
)

// sampleChunk returns float64 data with enough structure to compress.
func sampleChunk(n int) []byte {
	out := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(float64(i%97)*0.5))
	}
	return out
}

func TestFiltersRoundtrip(t *testing.T) {
	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)

	inputs := map[string][]byte{
		"empty":    {},
		"tiny":     []byte("abc"),
		"floats":   sampleChunk(2048),
		"random":   random,
		"odd tail": append(sampleChunk(31), 0x01, 0x02, 0x03),
	}
	filters := []Filter{
		NewDeflate(nil),
		NewDeflate([]uint32{9}),
		NewShuffle([]uint32{8}),
		NewFletcher32(nil),
		NewLZ4(nil),
		NewZstd(nil),
		NewZstd([]uint32{19}),
	}

	for _, f := range filters {
		for name, in := range inputs {
			t.Run(Name(f.ID())+"/"+name, func(t *testing.T) {
				enc, err := f.Encode(in)
				if err != nil {
					t.Fatalf("Encode failed: %v", err)
				}
				dec, err := f.Decode(enc)
				if err != nil {
					t.Fatalf("Decode failed: %v", err)
				}
				if !bytes.Equal(dec, in) {
					t.Errorf("roundtrip mismatch: got %d bytes, want %d", len(dec), len(in))
				}
			})
		}
	}
}

func TestCompressorsShrinkStructuredData(t *testing.T) {
	in := sampleChunk(8192)
	for _, f := range []Filter{NewDeflate([]uint32{9}), NewLZ4(nil), NewZstd(nil)} {
		enc, err := f.Encode(in)
		if err != nil {
			t.Fatalf("%s Encode failed: %v", Name(f.ID()), err)
		}
		if len(enc) >= len(in) {
			t.Errorf("%s did not compress: %d >= %d", Name(f.ID()), len(enc), len(in))
		}
	}
}

func TestShuffleLayout(t *testing.T) {
	original := []byte{
		0x01, 0x02, 0x03, 0x04,
		0x11, 0x12, 0x13, 0x14,
		0x21, 0x22, 0x23, 0x24,
		0x31, 0x32, 0x33, 0x34,
	}
	shuffled := []byte{
		0x01, 0x11, 0x21, 0x31,
		0x02, 0x12, 0x22, 0x32,
		0x03, 0x13, 0x23, 0x33,
		0x04, 0x14, 0x24, 0x34,
	}

	f := NewShuffle([]uint32{4})
	got, err := f.Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(got, shuffled) {
		t.Errorf("Encode:\ngot:  %v\nwant: %v", got, shuffled)
	}
}

func TestFletcher32DetectsCorruption(t *testing.T) {
	f := NewFletcher32(nil)
	enc, err := f.Encode([]byte("test data for checksum"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	enc[0] ^= 0xff

	if _, err := f.Decode(enc); !errors.Is(err, ErrChecksum) {
		t.Errorf("Decode of corrupted chunk: got %v, want ErrChecksum", err)
	}
	if _, err := f.Decode([]byte{1, 2}); err == nil {
		t.Error("expected error for input shorter than the checksum")
	}
}

func TestNewUnknownFilter(t *testing.T) {
	_, err := New(Info{ID: 4})
	if !errors.Is(err, ErrUnknownFilter) {
		t.Errorf("New(4): got %v, want ErrUnknownFilter", err)
	}
	if _, err := NewPipeline([]Info{{ID: IDDeflate}, {ID: 999}}); err == nil {
		t.Error("NewPipeline with unknown id should fail")
	}
}

func TestLookupAndNames(t *testing.T) {
	for _, name := range Compressors() {
		id, ok := Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) failed", name)
		}
		if Name(id) != name {
			t.Errorf("Name(%d) = %q, want %q", id, Name(id), name)
		}
	}
	if _, ok := Lookup("szip"); ok {
		t.Error("Lookup(szip) should fail")
	}
	if got := Name(7); got != "filter-7" {
		t.Errorf("Name(7) = %q", got)
	}
}

func TestPipelineEmpty(t *testing.T) {
	p, err := NewPipeline(nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if !p.Empty() {
		t.Error("expected empty pipeline")
	}

	data := []byte("unchanged")
	enc, mask, err := p.Encode(data)
	if err != nil || mask != 0 {
		t.Fatalf("Encode: mask %d err %v", mask, err)
	}
	dec, err := p.Decode(enc, mask)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Error("empty pipeline should pass data through unchanged")
	}
}

func TestPipelineRoundtrip(t *testing.T) {
	p, err := NewPipeline([]Info{
		{ID: IDShuffle, ClientData: []uint32{8}},
		{ID: IDDeflate, ClientData: []uint32{9}},
		{ID: IDFletcher32},
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 filters, got %d", p.Len())
	}

	in := sampleChunk(1000)
	enc, mask, err := p.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if mask != 0 {
		t.Errorf("mask = %b, want 0", mask)
	}
	out, err := p.Decode(enc, mask)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Error("pipeline roundtrip mismatch")
	}
}

type failingFilter struct{}

func (failingFilter) ID() uint16                     { return 60000 }
func (failingFilter) Encode([]byte) ([]byte, error) { return nil, errors.New("no space") }
func (failingFilter) Decode(b []byte) ([]byte, error) {
	return nil, errors.New("must be skipped")
}

func TestPipelineOptionalFilterSetsMask(t *testing.T) {
	Registry[60000] = func([]uint32) Filter { return failingFilter{} }
	defer delete(Registry, 60000)

	p, err := NewPipeline([]Info{
		{ID: IDShuffle, ClientData: []uint32{4}},
		{ID: 60000, Flags: FlagOptional},
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	in := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	enc, mask, err := p.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if mask != 0b10 {
		t.Fatalf("mask = %b, want 10", mask)
	}
	out, err := p.Decode(enc, mask)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("got %v, want %v", out, in)
	}

	p, _ = NewPipeline([]Info{{ID: 60000}})
	if _, _, err := p.Encode(in); err == nil {
		t.Error("required filter failure should fail the pipeline")
	}
}
