package floppy

import (
	"fmt"

	"github.com/mit-pdos/go-floppy/fdc"
)

type StateKind int

const (
	Idle StateKind = iota
	Seeking
	Transferring
	Resetting
	Faulted
)

func (k StateKind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Seeking:
		return "seeking"
	case Transferring:
		return "transferring"
	case Resetting:
		return "resetting"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int(k))
}

// State is a snapshot of the driver. Cylinder is meaningful while Seeking;
// Dir, LBA and Retry while Transferring.
type State struct {
	Kind     StateKind
	Cylinder uint64
	Dir      fdc.Direction
	LBA      uint64
	Retry    uint64
}

func (s State) String() string {
	switch s.Kind {
	case Seeking:
		return fmt.Sprintf("seeking(%d)", s.Cylinder)
	case Transferring:
		return fmt.Sprintf("transferring(%v, %d, %d)", s.Dir, s.LBA, s.Retry)
	}
	return s.Kind.String()
}

// Stats are counters since Init. They only grow.
type Stats struct {
	Reads        uint64
	Writes       uint64
	Resets       uint64
	Errors       uint64
	Retries      uint64
	BytesRead    uint64
	BytesWritten uint64
}
