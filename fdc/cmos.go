package fdc

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/util"
)

// CMOS_FLOPPY_REG is the CMOS register describing the first two drives:
// the high nibble is the drive on the primary controller, the low nibble
// the one on the secondary.
const CMOS_FLOPPY_REG byte = 0x10

var ErrNoDrive = errors.New("no floppy drive")

type DriveType byte

const (
	DriveNone DriveType = iota
	Drive360K
	Drive1200K
	Drive720K
	Drive1440K
	Drive2880K
)

var driveTypes = map[DriveType]struct {
	name   string
	inches string
}{
	Drive360K:  {"360K", "5.25"},
	Drive1200K: {"1.2M", "5.25"},
	Drive720K:  {"720K", "3.5"},
	Drive1440K: {"1.44M", "3.5"},
	Drive2880K: {"2.88M", "3.5"},
}

func (t DriveType) String() string {
	if dt, ok := driveTypes[t]; ok {
		return dt.name + " " + dt.inches + "\""
	}
	if t == DriveNone {
		return "none"
	}
	return fmt.Sprintf("type %d", byte(t))
}

// Geometry is the standard medium for the drive type.
func (t DriveType) Geometry() (common.Geometry, bool) {
	dt, ok := driveTypes[t]
	if !ok {
		return common.Geometry{}, false
	}
	return common.NamedGeometry(dt.name)
}

// FromCMOS sets opts' controller, drive and geometry from the CMOS floppy
// register. The drive on the primary controller is used when there is
// one; otherwise drive 1 on the secondary.
func FromCMOS(reg byte, opts Options) (Options, error) {
	main, second := DriveType(reg>>4), DriveType(reg&0xF)
	if geo, ok := main.Geometry(); ok {
		opts.Base, opts.Drive, opts.Geometry = PRIMARY, 0, geo
		return opts, nil
	}
	if main != DriveNone {
		util.Log.Warn().Stringer("drive", main).Msg("fdc: unknown drive on primary controller")
	}
	if geo, ok := second.Geometry(); ok {
		opts.Base, opts.Drive, opts.Geometry = SECONDARY, 1, geo
		return opts, nil
	}
	return opts, fmt.Errorf("%w: cmos %#02x", ErrNoDrive, reg)
}
