package store

import "errors"

var (
	ErrNotContainer = errors.New("not an array container file")
	ErrCorrupt      = errors.New("container metadata is corrupt")
	ErrExists       = errors.New("already exists")
	ErrNotFound     = errors.New("not found")
	ErrReadOnly     = errors.New("file is read-only")
	ErrClosed       = errors.New("file is closed")
	ErrInvalidName  = errors.New("invalid dataset name")
	ErrShape        = errors.New("invalid dataset shape")
	ErrSelection    = errors.New("invalid selection")
	ErrBufferSize   = errors.New("buffer size does not match selection")
	ErrUnsupported  = errors.New("unsupported feature")
	ErrFileTooLarge = errors.New("file exceeds its address width")
)
