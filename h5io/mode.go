package h5io

import (
	"fmt"
	"strings"
)

// Mode is the access mode a file is opened under.
type Mode uint8

const (
	// ExclusiveCreate creates a new file and fails if it exists.
	ExclusiveCreate Mode = iota
	// CreateOrTruncate creates a file, replacing any existing one.
	CreateOrTruncate
	// ReadOnly opens an existing file for reading.
	ReadOnly
	// ReadWriteOrCreate opens a file for writing, creating it if missing.
	ReadWriteOrCreate
)

var modeNames = [...]struct{ letter, name string }{
	ExclusiveCreate:   {"x", "exclusive-create"},
	CreateOrTruncate:  {"w", "create-or-truncate"},
	ReadOnly:          {"r", "read-only"},
	ReadWriteOrCreate: {"a", "read-write-or-create"},
}

func (m Mode) valid() bool { return int(m) < len(modeNames) }

// Letter returns the one-letter form: x, w, r or a.
func (m Mode) Letter() string {
	if !m.valid() {
		return "?"
	}
	return modeNames[m].letter
}

func (m Mode) String() string {
	if !m.valid() {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return modeNames[m].name
}

// ParseMode accepts a mode letter or its long name.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range modeNames {
		if s == n.letter || s == n.name {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
