package fdc

import (
	"runtime"
	"time"
)

// Ports is byte-wide access to the I/O port space.
type Ports interface {
	In(port uint16) byte
	Out(port uint16, v byte)
}

// Delay gives up the processor until something may have changed.
type Delay interface {
	Pause()
}

// IRQ reports the controller's interrupt line. Raised acknowledges the
// interrupt it reports.
type IRQ interface {
	Raised() bool
}

type yieldDelay struct{}

func (yieldDelay) Pause() { runtime.Gosched() }

// Yield pauses by yielding to the scheduler.
var Yield Delay = yieldDelay{}

type sleepDelay time.Duration

func (d sleepDelay) Pause() { time.Sleep(time.Duration(d)) }

func Sleep(d time.Duration) Delay {
	return sleepDelay(d)
}

type nopDelay struct{}

func (nopDelay) Pause() {}

// NopDelay never waits; for deterministic tests.
var NopDelay Delay = nopDelay{}
