package floppy

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-floppy/fdc"
)

var (
	ErrDriveFault       = errors.New("drive fault")
	ErrSeekTimeout      = errors.New("seek timeout")
	ErrNotReady         = fdc.ErrNotReady
	ErrChecksumMismatch = fdc.ErrCRC
	ErrWriteProtected   = fdc.ErrWriteProtected
	ErrOutOfRange       = errors.New("lba out of range")
	ErrBadBuffer        = errors.New("buffer is not sector-sized")
	ErrUnsupported      = errors.New("unsupported controller")
	ErrGeometry         = errors.New("geometry does not match drive")
)

// FaultError is returned once the driver gives up on an operation. It
// matches both ErrDriveFault and the last underlying failure.
type FaultError struct {
	Op       string
	LBA      uint64
	Attempts uint64
	Err      error
}

func (e *FaultError) Error() string {
	if e.Op == "reset" {
		return fmt.Sprintf("%v: reset: %v", ErrDriveFault, e.Err)
	}
	return fmt.Sprintf("%v: %s lba %d after %d attempts: %v", ErrDriveFault,
		e.Op, e.LBA, e.Attempts, e.Err)
}

func (e *FaultError) Unwrap() []error {
	return []error{ErrDriveFault, e.Err}
}

// stuck reports failures after which the controller may be mid-command and
// needs a reset before it accepts another one.
func stuck(err error) bool {
	return errors.Is(err, fdc.ErrTimeout) || errors.Is(err, fdc.ErrLockup) ||
		errors.Is(err, fdc.ErrOverrun)
}
