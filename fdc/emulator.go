package fdc

import (
	"fmt"

	gdisk "github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/util"
)

const sectorsPerMediumBlock = gdisk.BlockSize / disk.BlockSize

type FaultKind int

const (
	FaultChecksum FaultKind = iota // data CRC error
	FaultNotReady
	FaultNoData
	FaultSeek   // seek ends abnormally
	FaultLockup // FIFO never becomes ready until reset
)

func (k FaultKind) String() string {
	switch k {
	case FaultChecksum:
		return "checksum"
	case FaultNotReady:
		return "not-ready"
	case FaultNoData:
		return "no-data"
	case FaultSeek:
		return "seek"
	case FaultLockup:
		return "lockup"
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

type FaultOp int

const (
	OpAny FaultOp = iota // any read or write
	OpRead
	OpWrite
	OpSeek // seek and recalibrate
)

// Fault fails the next Count matching operations; Count < 0 never runs
// out.
type Fault struct {
	Op    FaultOp
	Kind  FaultKind
	Count int
}

type phase int

const (
	phaseCommand phase = iota
	phaseExec
	phaseResult
)

type senseResult struct {
	st0 byte
	pcn byte
}

// Emulator is an 82077AA-compatible controller with one drive, seen
// through its I/O ports. Sectors are kept on a goose disk, eight to a
// block. The controller sits at PRIMARY with drive 0 unless Attach moves
// it.
type Emulator struct {
	medium gdisk.Disk
	geo    common.Geometry
	base   uint16
	drive  byte

	dor     byte
	ccr     byte
	phase   phase
	cmd     []byte
	result  []byte
	data    []byte
	dataPos int
	lba     uint64
	writing bool

	cyl      uint64
	pending  []senseResult
	irq      bool
	locked   bool
	wp       bool
	faults   []Fault
	specify  []byte
	dataRate byte

	// DummyWrites counts writes to PORT_DUMMY; Accesses counts every
	// other port access.
	DummyWrites uint64
	Accesses    uint64
	Resets      uint64
}

var _ Ports = (*Emulator)(nil)
var _ IRQ = (*Emulator)(nil)

func NewEmulator(medium gdisk.Disk, geo common.Geometry) (*Emulator, error) {
	need := util.RoundUp(geo.TotalSectors(), sectorsPerMediumBlock)
	if medium.Size() < need {
		return nil, fmt.Errorf("medium has %d blocks, %v needs %d",
			medium.Size(), geo, need)
	}
	return &Emulator{medium: medium, geo: geo, base: PRIMARY, dor: DOR_NRESET}, nil
}

func NewMemEmulator(geo common.Geometry) *Emulator {
	e, err := NewEmulator(gdisk.NewMemDisk(util.RoundUp(geo.TotalSectors(), sectorsPerMediumBlock)), geo)
	if err != nil {
		panic(err)
	}
	return e
}

// NewFileEmulator keeps the medium in an image file at path.
func NewFileEmulator(path string, geo common.Geometry) (*Emulator, error) {
	d, err := gdisk.NewFileDisk(path, util.RoundUp(geo.TotalSectors(), sectorsPerMediumBlock))
	if err != nil {
		return nil, err
	}
	return NewEmulator(d, geo)
}

func (e *Emulator) Close() {
	e.medium.Barrier()
	e.medium.Close()
}

// Attach puts the controller at base and the drive at number drive.
func (e *Emulator) Attach(base uint16, drive uint8) error {
	if base != PRIMARY && base != SECONDARY {
		return fmt.Errorf("no controller at %#x", base)
	}
	if drive > 3 {
		return fmt.Errorf("drive %d out of range", drive)
	}
	e.base = base
	e.drive = drive
	return nil
}

func (e *Emulator) SetWriteProtected(wp bool) {
	e.wp = wp
}

func (e *Emulator) InjectFault(f Fault) {
	e.faults = append(e.faults, f)
}

func (e *Emulator) ClearFaults() {
	e.faults = nil
}

// Cylinder is the head position.
func (e *Emulator) Cylinder() uint64 {
	return e.cyl
}

func (e *Emulator) Locked() bool {
	return e.locked
}

// fault consumes the first fault matching op.
func (e *Emulator) fault(op FaultOp) (FaultKind, bool) {
	for i, f := range e.faults {
		if f.Op != op && (f.Op != OpAny || op == OpSeek) {
			continue
		}
		if f.Count > 0 {
			e.faults[i].Count--
			if e.faults[i].Count == 0 {
				e.faults = append(e.faults[:i], e.faults[i+1:]...)
			}
		}
		return f.Kind, true
	}
	return 0, false
}

func (e *Emulator) Raised() bool {
	r := e.irq
	e.irq = false
	return r
}

func (e *Emulator) inReset() bool {
	return e.dor&DOR_NRESET == 0
}

func (e *Emulator) msr() byte {
	if e.inReset() || e.locked {
		return 0
	}
	switch e.phase {
	case phaseExec:
		if e.writing {
			return MSR_RQM | MSR_NDMA | MSR_CB
		}
		return MSR_RQM | MSR_DIO | MSR_NDMA | MSR_CB
	case phaseResult:
		return MSR_RQM | MSR_DIO | MSR_CB
	}
	if len(e.cmd) > 0 {
		return MSR_RQM | MSR_CB
	}
	return MSR_RQM
}

func (e *Emulator) In(port uint16) byte {
	e.Accesses++
	switch port {
	case e.base + REG_MSR:
		return e.msr()
	case e.base + REG_DOR:
		return e.dor
	case e.base + REG_FIFO:
		return e.readFifo()
	}
	return 0xFF
}

func (e *Emulator) Out(port uint16, v byte) {
	if port == PORT_DUMMY {
		e.DummyWrites++
		return
	}
	e.Accesses++
	switch port {
	case e.base + REG_DOR:
		e.writeDor(v)
	case e.base + REG_CCR:
		e.dataRate = v & 3
	case e.base + REG_FIFO:
		e.writeFifo(v)
	}
}

func (e *Emulator) writeDor(v byte) {
	wasReset := e.inReset()
	e.dor = v
	if wasReset && !e.inReset() {
		e.Resets++
		e.phase = phaseCommand
		e.cmd = nil
		e.result = nil
		e.data = nil
		e.locked = false
		e.pending = make([]senseResult, 4)
		for i := range e.pending {
			e.pending[i] = senseResult{st0: ST0_RESET | byte(i)}
		}
		e.pending[e.drive].pcn = byte(e.cyl)
		e.irq = true
	}
}

func (e *Emulator) motorOn(drive byte) bool {
	return e.dor&(DOR_MOTOR0<<drive) != 0
}

func (e *Emulator) readFifo() byte {
	if e.inReset() || e.locked {
		return 0
	}
	switch e.phase {
	case phaseResult:
		if len(e.result) == 0 {
			e.phase = phaseCommand
			return 0
		}
		b := e.result[0]
		e.result = e.result[1:]
		if len(e.result) == 0 {
			e.phase = phaseCommand
		}
		return b
	case phaseExec:
		if e.writing {
			return 0
		}
		b := e.data[e.dataPos]
		e.dataPos++
		if e.dataPos == len(e.data) {
			e.finishTransfer()
		}
		return b
	}
	return 0
}

func (e *Emulator) writeFifo(v byte) {
	if e.inReset() || e.locked {
		return
	}
	switch e.phase {
	case phaseCommand:
		e.cmd = append(e.cmd, v)
		if len(e.cmd) == cmdLen(e.cmd[0]) {
			cmd := e.cmd
			e.cmd = nil
			e.execute(cmd)
		}
	case phaseExec:
		if !e.writing {
			return
		}
		e.data[e.dataPos] = v
		e.dataPos++
		if e.dataPos == len(e.data) {
			e.finishTransfer()
		}
	}
}

func cmdLen(cmd byte) int {
	switch cmd & 0x1F {
	case CMD_SPECIFY:
		return 3
	case CMD_READ & 0x1F, CMD_WRITE & 0x1F:
		return 9
	case CMD_RECALIBRATE:
		return 2
	case CMD_SEEK:
		return 3
	case CMD_CONFIGURE:
		return 4
	}
	return 1
}

func (e *Emulator) respond(res ...byte) {
	e.result = res
	e.phase = phaseResult
}

func (e *Emulator) execute(cmd []byte) {
	switch {
	case cmd[0] == CMD_VERSION:
		e.respond(VERSION_82077)
	case cmd[0] == CMD_CONFIGURE:
	case cmd[0] == CMD_SPECIFY:
		e.specify = append([]byte(nil), cmd[1:]...)
	case cmd[0] == CMD_SENSEI:
		if len(e.pending) == 0 {
			e.respond(ST0_INVALID)
			return
		}
		s := e.pending[0]
		e.pending = e.pending[1:]
		e.respond(s.st0, s.pcn)
	case cmd[0] == CMD_RECALIBRATE:
		e.seek(cmd[1]&3, 0)
	case cmd[0] == CMD_SEEK:
		e.seek(cmd[1]&3, uint64(cmd[2]))
	case cmd[0]&0x1F == CMD_READ&0x1F:
		e.startTransfer(cmd, false)
	case cmd[0]&0x1F == CMD_WRITE&0x1F:
		e.startTransfer(cmd, true)
	default:
		e.respond(ST0_INVALID)
	}
}

func (e *Emulator) seek(drive byte, cyl uint64) {
	e.irq = true
	if kind, ok := e.fault(OpSeek); ok {
		if kind == FaultLockup {
			e.locked = true
			return
		}
		e.pending = append(e.pending, senseResult{ST0_ABNORMAL | ST0_SEEK_END | drive, byte(e.cyl)})
		return
	}
	if drive != e.drive || !e.motorOn(drive) || cyl >= e.geo.Cylinders {
		e.pending = append(e.pending, senseResult{ST0_ABNORMAL | ST0_SEEK_END | ST0_NR | drive, byte(e.cyl)})
		return
	}
	e.cyl = cyl
	e.pending = append(e.pending, senseResult{ST0_SEEK_END | drive, byte(cyl)})
}

func (e *Emulator) endWith(st0, st1, st2 byte, cmd []byte) {
	e.irq = true
	e.respond(st0, st1, st2, cmd[2], cmd[3], cmd[4], cmd[5])
}

func (e *Emulator) startTransfer(cmd []byte, write bool) {
	drive := cmd[1] & 3
	head := (cmd[1] >> 2) & 1
	st0 := drive | head<<2
	op := OpRead
	if write {
		op = OpWrite
	}
	if kind, ok := e.fault(op); ok {
		switch kind {
		case FaultLockup:
			e.locked = true
		case FaultNotReady:
			e.endWith(st0|ST0_ABNORMAL|ST0_NR, 0, 0, cmd)
		case FaultNoData:
			e.endWith(st0|ST0_ABNORMAL, ST1_ND, 0, cmd)
		case FaultSeek:
			e.endWith(st0|ST0_ABNORMAL, 0, ST2_WC, cmd)
		case FaultChecksum:
			e.endWith(st0|ST0_ABNORMAL, ST1_DE, ST2_DD, cmd)
		}
		return
	}
	if drive != e.drive || !e.motorOn(drive) {
		e.endWith(st0|ST0_ABNORMAL|ST0_NR, 0, 0, cmd)
		return
	}
	if uint64(cmd[2]) != e.cyl {
		e.endWith(st0|ST0_ABNORMAL, ST1_ND, ST2_WC, cmd)
		return
	}
	lba, ok := e.geo.ToLBA(common.CHS{
		Cylinder: uint64(cmd[2]), Head: uint64(cmd[3]), Sector: uint64(cmd[4]),
	})
	if !ok || cmd[5] != SECTOR_CODE || uint64(cmd[3]) != uint64(head) {
		e.endWith(st0|ST0_ABNORMAL, ST1_ND, 0, cmd)
		return
	}
	if write && e.wp {
		e.endWith(st0|ST0_ABNORMAL, ST1_NW, 0, cmd)
		return
	}
	e.lba = lba
	e.writing = write
	e.dataPos = 0
	if write {
		e.data = make([]byte, disk.BlockSize)
	} else {
		e.data = e.readSector(lba)
	}
	e.phase = phaseExec
	e.cmd = cmd
}

func (e *Emulator) finishTransfer() {
	if e.writing {
		e.writeSector(e.lba, e.data)
	}
	cmd := e.cmd
	e.cmd = nil
	e.data = nil
	e.endWith(cmd[1]&7, 0, 0, cmd)
}

func (e *Emulator) readSector(lba uint64) []byte {
	blk := e.medium.Read(lba / sectorsPerMediumBlock)
	off := (lba % sectorsPerMediumBlock) * disk.BlockSize
	return util.CloneByteSlice(blk[off : off+disk.BlockSize])
}

func (e *Emulator) writeSector(lba uint64, data []byte) {
	a := lba / sectorsPerMediumBlock
	blk := e.medium.Read(a)
	off := (lba % sectorsPerMediumBlock) * disk.BlockSize
	copy(blk[off:off+disk.BlockSize], data)
	e.medium.Write(a, blk)
}

// Sector reads a sector directly, bypassing the controller.
func (e *Emulator) Sector(lba uint64) []byte {
	return e.readSector(lba)
}

// DataRate is the last CCR value written.
func (e *Emulator) DataRate() byte {
	return e.dataRate
}

// Specified returns the parameters of the last Specify command.
func (e *Emulator) Specified() []byte {
	return e.specify
}
