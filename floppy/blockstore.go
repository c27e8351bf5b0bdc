package floppy

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-floppy/disk"
)

// toDiskError maps driver errors onto the block store's errors. Drive
// faults stay in the chain behind disk.ErrIO so callers can still tell
// a faulted drive from other I/O failures.
func toDiskError(op string, a uint64, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOutOfRange):
		return disk.MkError(op, a, disk.ErrOutOfRange)
	case errors.Is(err, ErrBadBuffer):
		return disk.MkError(op, a, disk.ErrBadBlock)
	case errors.Is(err, ErrWriteProtected):
		return disk.MkError(op, a, disk.ErrReadOnly)
	}
	return disk.MkError(op, a, fmt.Errorf("%w: %w", disk.ErrIO, err))
}

func (d *Driver) ReadBlock(a uint64) (disk.Block, error) {
	v, err := d.ReadSector(a)
	return v, toDiskError("read", a, err)
}

func (d *Driver) WriteBlock(a uint64, v disk.Block) error {
	return toDiskError("write", a, d.WriteSector(a, v))
}

func (d *Driver) BlockCount() uint64 {
	return d.geo.TotalSectors()
}
