package fs

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/inode"
	"github.com/mit-pdos/go-floppy/super"
)

var (
	ErrNameTooLong   = inode.ErrNameTooLong
	ErrInvalidName   = inode.ErrInvalidName
	ErrTableFull     = inode.ErrTableFull
	ErrDuplicateName = inode.ErrDuplicateName
	ErrNoSpace       = inode.ErrNoSpace
	ErrCorruptTable  = inode.ErrCorrupt
	ErrNotFormatted  = super.ErrNoSignature
	ErrIO            = disk.ErrIO

	ErrNotFound          = errors.New("file not found")
	ErrOutOfBounds       = errors.New("offset out of bounds")
	ErrStaleHandle       = errors.New("stale handle")
	ErrReadOnly          = errors.New("filesystem is read-only")
	ErrWriteVerifyFailed = errors.New("signature read-back does not match")
)

// PathError records an error and the operation and file that caused it.
type PathError struct {
	Op   string
	Name string
	Err  error
}

func (e *PathError) Error() string {
	if e.Name == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Name + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

func pathErr(op string, name string, err error) error {
	return &PathError{Op: op, Name: name, Err: err}
}

// ioErr marks a block store failure; the store's own error stays in the
// chain.
func ioErr(err error) error {
	if errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
