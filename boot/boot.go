// Package boot brings up the emulated drive, its driver, and the
// filesystem on it, once.
package boot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mit-pdos/go-floppy/config"
	"github.com/mit-pdos/go-floppy/fdc"
	"github.com/mit-pdos/go-floppy/floppy"
	"github.com/mit-pdos/go-floppy/fs"
	"github.com/mit-pdos/go-floppy/util"
)

// System is everything Boot creates. Its Driver is the only owner of the
// controller; pass the System (or the Fs) around rather than building a
// second one over the same image.
type System struct {
	Config   *config.Config
	Emulator *fdc.Emulator
	Driver   *floppy.Driver
	Fs       *fs.Fs
	Registry *prometheus.Registry
}

// Boot initializes the drive described by cfg and mounts its filesystem.
// A blank medium is formatted when cfg.FormatIfBlank is set; otherwise
// it, like a damaged one, yields a read-only Fs (see Fs.ReadOnly).
func Boot(cfg *config.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var e *fdc.Emulator
	if cfg.Image == "" {
		e = fdc.NewMemEmulator(cfg.Geometry)
	} else {
		var err error
		e, err = fdc.NewFileEmulator(cfg.Image, cfg.Geometry)
		if err != nil {
			return nil, fmt.Errorf("opening image %s: %w", cfg.Image, err)
		}
	}
	e.SetWriteProtected(cfg.WriteProtect)
	opts := cfg.ControllerOptions()
	if err := e.Attach(opts.Base, opts.Drive); err != nil {
		e.Close()
		return nil, err
	}

	ctrl := fdc.MkController(e, cfg.Delay(), opts)
	ctrl.SetIRQ(e)
	drv, err := floppy.Init(ctrl, cfg.DriverOptions())
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("initializing drive: %w", err)
	}
	s := &System{Config: cfg, Emulator: e, Driver: drv, Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(floppy.NewCollector(drv))

	f, err := fs.Mount(drv, cfg.FsOptions())
	if errors.Is(err, fs.ErrNotFormatted) && cfg.FormatIfBlank {
		util.DPrintf(0, "boot: blank medium, formatting %v\n", cfg.Geometry)
		if err := drv.Format(cfg.Geometry); err != nil {
			e.Close()
			return nil, fmt.Errorf("formatting: %w", err)
		}
		f, err = fs.Mount(drv, cfg.FsOptions())
	}
	if f == nil {
		e.Close()
		return nil, err
	}
	if err != nil {
		util.DPrintf(0, "boot: %v; mounted read-only\n", err)
	}
	s.Fs = f
	return s, nil
}

// Close stops the drive and flushes the medium to its image.
func (s *System) Close() {
	s.Driver.Park()
	s.Emulator.Close()
}

// Sequencer boots a configuration at most once, however many callers ask
// for the System.
type Sequencer struct {
	cfg  *config.Config
	once sync.Once
	sys  *System
	err  error
}

func NewSequencer(cfg *config.Config) *Sequencer {
	return &Sequencer{cfg: cfg}
}

// System boots on first use and returns the same System (or error) after.
func (q *Sequencer) System() (*System, error) {
	q.once.Do(func() {
		q.sys, q.err = Boot(q.cfg)
	})
	return q.sys, q.err
}
