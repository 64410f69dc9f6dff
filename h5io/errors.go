// Package h5io pools open array container files and moves matrices in and
// out of their datasets, either whole or one column at a time.
package h5io

import (
	"errors"
	"io/fs"

	"github.com/robert-malhotra/go-h5io/internal/dtype"
	"github.com/robert-malhotra/go-h5io/internal/store"
)

// Errors returned by this package. Store failures are passed through wrapped
// and can be matched with errors.Is against the aliases below.
var (
	ErrWrongMode     = errors.New("file already open in another mode")
	ErrOutOfMemory   = errors.New("buffer too large")
	ErrPoolClosed    = errors.New("pool is closed")
	ErrInvalidMatrix = errors.New("invalid matrix")
	ErrInvalidOption = errors.New("invalid option")
	ErrInvalidMode   = errors.New("invalid mode")

	ErrExists     = store.ErrExists
	ErrNotFound   = store.ErrNotFound
	ErrClosed     = store.ErrClosed
	ErrReadOnly   = store.ErrReadOnly
	ErrOutOfRange = dtype.ErrOutOfRange

	// ErrFileTooLarge means a write would place data past the highest
	// address the file's offset width can hold. See WithOffsetSize.
	ErrFileTooLarge = store.ErrFileTooLarge
)

// MaxElements bounds the number of elements of one matrix.
const MaxElements = 1 << 31

// Code classifies an error for callers that branch on outcome rather than
// inspect error chains.
type Code int

const (
	Success       Code = 0
	Failure       Code = -1
	WrongMode     Code = -2
	OutOfMemory   Code = -3
	AlreadyExists Code = -4
	NotFound      Code = -5
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case WrongMode:
		return "wrong mode"
	case OutOfMemory:
		return "out of memory"
	case AlreadyExists:
		return "already exists"
	case NotFound:
		return "not found"
	}
	return "unknown"
}

// CodeOf returns the code for err. A nil error is Success and anything not
// otherwise classified is Failure.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrWrongMode):
		return WrongMode
	case errors.Is(err, ErrOutOfMemory):
		return OutOfMemory
	case errors.Is(err, store.ErrExists), errors.Is(err, fs.ErrExist):
		return AlreadyExists
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return NotFound
	}
	return Failure
}
