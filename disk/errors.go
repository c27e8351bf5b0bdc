package disk

import (
	"errors"
	"fmt"
)

var (
	ErrIO         = errors.New("i/o error")
	ErrReadOnly   = errors.New("medium is read-only")
	ErrOutOfRange = errors.New("block address out of range")
	ErrBadBlock   = errors.New("buffer is not block-sized")
)

// Error records a failed block operation.
type Error struct {
	Op   string
	Addr uint64
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func MkError(op string, a uint64, err error) error {
	return &Error{Op: op, Addr: a, Err: err}
}

func checkAddr(op string, a uint64, n uint64) error {
	if a >= n {
		return MkError(op, a, ErrOutOfRange)
	}
	return nil
}

func checkBlock(op string, a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		return MkError(op, a, fmt.Errorf("%w (%d bytes)", ErrBadBlock, len(v)))
	}
	return nil
}
