package floppy

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/fdc"
	"github.com/mit-pdos/go-floppy/super"
	"github.com/mit-pdos/go-floppy/util"
)

type Options struct {
	// MaxRetries is how many times a failed seek or transfer is repeated
	// before the driver faults.
	MaxRetries  uint64
	TableBlocks uint64 // inode table size written by Format
	VolumeName  string // name written by Format; empty means the default
}

func DefaultOptions() Options {
	return Options{MaxRetries: common.MAXRETRIES, TableBlocks: common.NTABLEBLK}
}

// Driver owns a controller and serves sector reads and writes from it,
// one at a time. It is created once at boot and passed to whoever needs
// the disk; it is not safe for concurrent use.
type Driver struct {
	ctrl  *fdc.Controller
	geo   common.Geometry
	opts  Options
	state State
	stats Stats

	headKnown bool
	cyl       uint64
}

var _ disk.BlockStore = (*Driver)(nil)

// Init checks the controller version, resets it and recalibrates the
// drive. Statistics start from zero.
func Init(ctrl *fdc.Controller, opts Options) (*Driver, error) {
	if opts.TableBlocks == 0 {
		opts.TableBlocks = common.NTABLEBLK
	}
	d := &Driver{
		ctrl:  ctrl,
		geo:   ctrl.Geometry(),
		opts:  opts,
		state: State{Kind: Idle},
	}
	v, err := ctrl.Version()
	if err != nil {
		return nil, fmt.Errorf("reading controller version: %w", err)
	}
	if v != fdc.VERSION_82077 {
		return nil, fmt.Errorf("%w: version %#x", ErrUnsupported, v)
	}
	if err := d.reset(); err != nil {
		return nil, err
	}
	defer ctrl.MotorRelease()
	if err := d.seek(0, 0); err != nil {
		return nil, err
	}
	d.state = State{Kind: Idle}
	d.stats = Stats{}
	util.DPrintf(1, "floppy: %v drive ready\n", d.geo)
	return d, nil
}

// Park stops the drive motor without waiting out its idle time.
func (d *Driver) Park() {
	d.ctrl.MotorOff()
}

func (d *Driver) State() State {
	return d.state
}

func (d *Driver) Stats() Stats {
	return d.stats
}

func (d *Driver) Geometry() common.Geometry {
	return d.geo
}

func (d *Driver) reset() error {
	d.state = State{Kind: Resetting}
	d.headKnown = false
	if err := d.ctrl.Reset(); err != nil {
		d.state = State{Kind: Faulted}
		return &FaultError{Op: "reset", Err: err}
	}
	d.state = State{Kind: Idle}
	return nil
}

// Reset returns the driver to Idle from any state, including Faulted.
func (d *Driver) Reset() error {
	d.stats.Resets++
	err := d.reset()
	if err != nil {
		d.stats.Errors++
		util.Log.Error().Err(err).Msg("floppy: reset failed")
	}
	return err
}

// recover resets a controller that may be stuck mid-command, without
// leaving the current operation.
func (d *Driver) recover() {
	d.stats.Resets++
	d.headKnown = false
	if err := d.ctrl.Reset(); err != nil {
		util.DPrintf(1, "floppy: recovery reset: %v\n", err)
	}
}

func (d *Driver) retryPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, d.opts.MaxRetries)
}

// seek puts the head over cyl, recalibrating first if its position is
// unknown. It does nothing if the head is already there.
func (d *Driver) seek(cyl uint64, head uint64) error {
	if d.headKnown && d.cyl == cyl {
		return nil
	}
	var attempts uint64
	op := func() error {
		attempts++
		d.state = State{Kind: Seeking, Cylinder: cyl}
		if !d.headKnown {
			if err := d.ctrl.Recalibrate(); err != nil {
				return err
			}
			d.headKnown = true
			d.cyl = 0
		}
		if d.cyl == cyl {
			return nil
		}
		if err := d.ctrl.Seek(cyl, head); err != nil {
			d.headKnown = false
			return err
		}
		d.cyl = cyl
		return nil
	}
	notify := func(err error, _ time.Duration) {
		d.stats.Retries++
		util.DPrintf(1, "floppy: seek to %d: %v, retrying\n", cyl, err)
		if stuck(err) {
			d.recover()
		}
	}
	err := backoff.RetryNotify(op, d.retryPolicy(), notify)
	if err != nil {
		d.headKnown = false
		return &FaultError{Op: "seek", LBA: cyl * d.geo.SectorsPerCylinder(),
			Attempts: attempts, Err: fmt.Errorf("%w: %v", ErrSeekTimeout, err)}
	}
	return nil
}

func (d *Driver) transfer(dir fdc.Direction, lba uint64, data []byte) error {
	if d.state.Kind == Faulted {
		return fmt.Errorf("%w: reset required", ErrDriveFault)
	}
	chs, ok := d.geo.ToCHS(lba)
	if !ok {
		return fmt.Errorf("%w: %d", ErrOutOfRange, lba)
	}
	if uint64(len(data)) != disk.BlockSize {
		return fmt.Errorf("%w (%d bytes)", ErrBadBuffer, len(data))
	}
	defer d.ctrl.MotorRelease()
	var retry uint64
	op := func() error {
		if err := d.seek(chs.Cylinder, chs.Head); err != nil {
			return backoff.Permanent(err)
		}
		d.state = State{Kind: Transferring, Dir: dir, LBA: lba, Retry: retry}
		err := d.ctrl.Transfer(dir, chs, data)
		if errors.Is(err, fdc.ErrWriteProtected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		retry++
		d.stats.Retries++
		util.DPrintf(1, "floppy: %v lba %d (%v): %v, retry %d\n", dir, lba, chs, err, retry)
		if stuck(err) {
			d.recover()
		} else if errors.Is(err, fdc.ErrCylinder) || errors.Is(err, fdc.ErrNoData) {
			d.headKnown = false
		}
	}
	err := backoff.RetryNotify(op, d.retryPolicy(), notify)
	if err == nil {
		d.state = State{Kind: Idle}
		return nil
	}
	d.stats.Errors++
	if errors.Is(err, fdc.ErrWriteProtected) {
		d.state = State{Kind: Idle}
		return err
	}
	d.state = State{Kind: Faulted}
	var ferr *FaultError
	if !errors.As(err, &ferr) {
		err = &FaultError{Op: dir.String(), LBA: lba, Attempts: retry + 1, Err: err}
	}
	util.Log.Error().Err(err).Uint64("lba", lba).Msg("floppy: drive fault")
	return err
}

func (d *Driver) ReadSector(lba uint64) (disk.Block, error) {
	buf := make(disk.Block, disk.BlockSize)
	if err := d.transfer(fdc.FromController, lba, buf); err != nil {
		return nil, err
	}
	d.stats.Reads++
	d.stats.BytesRead += disk.BlockSize
	return buf, nil
}

func (d *Driver) WriteSector(lba uint64, data disk.Block) error {
	if err := d.transfer(fdc.ToController, lba, data); err != nil {
		return err
	}
	d.stats.Writes++
	d.stats.BytesWritten += disk.BlockSize
	return nil
}

// Format wipes the signature and inode table and writes a fresh
// superblock. It always finishes with Reset, whether or not the format
// itself succeeded, so the controller is left Idle. A format counts as
// one reset in Stats.
func (d *Driver) Format(geo common.Geometry) (err error) {
	defer func() {
		rerr := d.Reset()
		if err == nil {
			err = rerr
		}
	}()
	if geo != d.geo {
		return fmt.Errorf("%w: %v on %v drive", ErrGeometry, geo, d.geo)
	}
	if d.state.Kind == Faulted {
		// counted by the deferred Reset
		if err := d.reset(); err != nil {
			return err
		}
	}
	_, err = super.FormatNamed(d, d.opts.TableBlocks, d.opts.VolumeName)
	return err
}
