package fdc

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout        = errors.New("controller not ready")
	ErrNotReady       = errors.New("drive not ready")
	ErrCRC            = errors.New("crc error")
	ErrWriteProtected = errors.New("medium is write protected")
	ErrNoData         = errors.New("sector not found")
	ErrCylinder       = errors.New("wrong or bad cylinder")
	ErrEndOfCylinder  = errors.New("end of cylinder")
	ErrNoAddressMark  = errors.New("missing address mark")
	ErrOverrun        = errors.New("data overrun")
	ErrAbnormal       = errors.New("abnormal termination")
	ErrSeek           = errors.New("seek did not complete")
	ErrLockup         = errors.New("controller lockup")
	ErrReset          = errors.New("controller reset failed")
)

// StatusError carries the result bytes of a failed transfer.
type StatusError struct {
	ST0, ST1, ST2 byte
	Err           error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (st0 %#02x st1 %#02x st2 %#02x)", e.Err, e.ST0, e.ST1, e.ST2)
}

func (e *StatusError) Unwrap() error { return e.Err }

// DecodeStatus maps the first three result bytes of a read or write to an
// error, or nil on normal termination.
func DecodeStatus(st0, st1, st2 byte) error {
	var err error
	switch {
	case st1&ST1_NW != 0:
		err = ErrWriteProtected
	case st0&ST0_IC == ST0_RESET:
		err = ErrAbnormal
	case st0&ST0_NR != 0:
		err = ErrNotReady
	// a wrong cylinder also sets ND; the ID field tells them apart
	case st2&(ST2_BC|ST2_WC) != 0:
		err = ErrCylinder
	case st1&ST1_ND != 0:
		err = ErrNoData
	case st1&ST1_OR != 0:
		err = ErrOverrun
	case st1&ST1_EN != 0:
		err = ErrEndOfCylinder
	case st1&ST1_DE != 0 || st2&ST2_DD != 0:
		err = ErrCRC
	case st1&ST1_MA != 0:
		err = ErrNoAddressMark
	case st0&ST0_IC == ST0_INVALID:
		err = ErrLockup
	case st0&ST0_IC != 0:
		err = ErrAbnormal
	default:
		return nil
	}
	return &StatusError{ST0: st0, ST1: st1, ST2: st2, Err: err}
}
