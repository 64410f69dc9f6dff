package binary

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncoderDecoderFields(t *testing.T) {
	for _, size := range []int{2, 4, 8} {
		cfg := Config{OffsetSize: size}
		e := NewEncoder(cfg, 64)
		e.Uint8(0x7f)
		e.Uint16(0xbeef)
		e.Uint32(0xdeadbeef)
		e.Uint64(0x0102030405060708)
		e.Offset(0x1234)
		e.String("/results/run 1")
		e.Zeros(3)
		e.Checksum()

		d := NewDecoder(cfg, e.Bytes())
		if got := d.Uint8(); got != 0x7f {
			t.Errorf("size %d: Uint8 = 0x%x", size, got)
		}
		if got := d.Uint16(); got != 0xbeef {
			t.Errorf("size %d: Uint16 = 0x%x", size, got)
		}
		if got := d.Uint32(); got != 0xdeadbeef {
			t.Errorf("size %d: Uint32 = 0x%x", size, got)
		}
		if got := d.Uint64(); got != 0x0102030405060708 {
			t.Errorf("size %d: Uint64 = 0x%x", size, got)
		}
		if got := d.Offset(); got != 0x1234 {
			t.Errorf("size %d: Offset = 0x%x", size, got)
		}
		if got := d.String(); got != "/results/run 1" {
			t.Errorf("size %d: String = %q", size, got)
		}
		d.Skip(3)
		if !d.VerifyChecksum() {
			t.Errorf("size %d: checksum mismatch", size)
		}
		if d.Remaining() != 0 || d.Err() != nil {
			t.Errorf("size %d: remaining %d err %v", size, d.Remaining(), d.Err())
		}
	}
}

func TestDecoderShortBufferIsSticky(t *testing.T) {
	d := NewDecoder(DefaultConfig(), []byte{1, 2, 3})
	if got := d.Uint32(); got != 0 {
		t.Errorf("Uint32 on short buffer = %d, want 0", got)
	}
	if !errors.Is(d.Err(), ErrShortBuffer) {
		t.Fatalf("Err = %v, want ErrShortBuffer", d.Err())
	}
	// A read that would fit still fails once the decoder is poisoned.
	if got := d.Uint8(); got != 0 {
		t.Errorf("Uint8 after failure = %d, want 0", got)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	e := NewEncoder(DefaultConfig(), 32)
	e.String("dataset")
	e.Uint64(42)
	e.Checksum()
	block := bytes.Clone(e.Bytes())
	block[3] ^= 0x01

	d := NewDecoder(DefaultConfig(), block)
	_ = d.String()
	d.Uint64()
	if d.VerifyChecksum() {
		t.Error("expected checksum mismatch after flipping a bit")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		size int
		ok   bool
	}{
		{2, true}, {4, true}, {8, true}, {0, false}, {3, false}, {16, false},
	}
	for _, tt := range tests {
		err := Config{OffsetSize: tt.size}.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%d) = %v", tt.size, err)
		}
	}
}

func TestUndefinedOffset(t *testing.T) {
	tests := []struct {
		size int
		want uint64
	}{
		{2, 0xffff},
		{4, 0xffffffff},
		{8, 0xffffffffffffffff},
	}
	for _, tt := range tests {
		if got := (Config{OffsetSize: tt.size}).UndefinedOffset(); got != tt.want {
			t.Errorf("UndefinedOffset(%d) = 0x%x, want 0x%x", tt.size, got, tt.want)
		}
	}
}

func TestReadWriteBlock(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "block.bin"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	payload := []byte("chunk payload")
	if err := WriteBlock(f, 100, payload); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	got, err := ReadBlock(f, 100, len(payload))
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadBlock = %q, want %q", got, payload)
	}

	if _, err := ReadBlock(f, 100, 64); err == nil {
		t.Error("expected error reading past end of file")
	}
}
