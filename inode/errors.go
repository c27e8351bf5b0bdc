package inode

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-floppy/common"
)

var (
	ErrCorrupt       = errors.New("corrupt inode table")
	ErrTableFull     = errors.New("inode table full")
	ErrNoSpace       = errors.New("no free extent large enough")
	ErrNameTooLong   = errors.New("name too long")
	ErrInvalidName   = errors.New("invalid name")
	ErrDuplicateName = errors.New("name already exists")
	ErrNoInode       = errors.New("no such inode")
)

// CorruptError describes the first inconsistency found while loading a
// table.
type CorruptError struct {
	Inum   common.Inum
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%v: inode %d: %s", ErrCorrupt, e.Inum, e.Reason)
}

func (e *CorruptError) Unwrap() error { return ErrCorrupt }

func corrupt(inum common.Inum, format string, a ...interface{}) error {
	return &CorruptError{Inum: inum, Reason: fmt.Sprintf(format, a...)}
}
