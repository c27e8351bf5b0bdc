package fdc

import (
	"fmt"
	"time"

	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/util"
)

const (
	DEFAULT_POLL_LIMIT  uint64 = 1000
	DEFAULT_DUMMY_WAITS uint64 = 4
	DEFAULT_SPIN_UP     uint64 = 50
)

type Options struct {
	Base      uint16
	Drive     uint8
	PollLimit uint64 // MSR polls before giving up on a byte
	// DummyWaits is the number of writes to PORT_DUMMY that precede every
	// register access. It is never zero.
	DummyWaits uint64
	Geometry   common.Geometry
	// SpinUp is the number of pauses after switching the motor on, before
	// the drive is used.
	SpinUp uint64
	// MotorIdle is how long a released motor keeps spinning. A command
	// within that time needs no spin-up; zero stops the motor on release.
	MotorIdle time.Duration
}

func DefaultOptions() Options {
	return Options{
		Base:       PRIMARY,
		Drive:      0,
		PollLimit:  DEFAULT_POLL_LIMIT,
		DummyWaits: DEFAULT_DUMMY_WAITS,
		Geometry:   common.HD144,
		SpinUp:     DEFAULT_SPIN_UP,
	}
}

type Direction int

const (
	ToController Direction = iota
	FromController
)

func (d Direction) String() string {
	if d == ToController {
		return "write"
	}
	return "read"
}

// Controller drives one drive on an 82077AA-compatible controller using
// programmed I/O. It has a single owner; nothing in it is safe for
// concurrent use.
type Controller struct {
	ports Ports
	delay Delay
	irq   IRQ
	opts  Options
	motor bool
	// idleAt is when a released motor stops; zero while it is in use.
	idleAt time.Time
	now    func() time.Time
}

func MkController(ports Ports, delay Delay, opts Options) *Controller {
	if opts.DummyWaits == 0 {
		opts.DummyWaits = DEFAULT_DUMMY_WAITS
	}
	if opts.PollLimit == 0 {
		opts.PollLimit = DEFAULT_POLL_LIMIT
	}
	if opts.Base == 0 {
		opts.Base = PRIMARY
	}
	if !opts.Geometry.Valid() {
		opts.Geometry = common.HD144
	}
	if delay == nil {
		delay = Yield
	}
	return &Controller{ports: ports, delay: delay, opts: opts, now: time.Now}
}

// SetIRQ makes the controller wait for the interrupt line after seeks and
// resets instead of assuming completion.
func (c *Controller) SetIRQ(irq IRQ) {
	c.irq = irq
}

func (c *Controller) Options() Options {
	return c.opts
}

func (c *Controller) Geometry() common.Geometry {
	return c.opts.Geometry
}

func (c *Controller) dummyWait() {
	for i := uint64(0); i < c.opts.DummyWaits; i++ {
		c.ports.Out(PORT_DUMMY, 0)
	}
}

func (c *Controller) in(reg uint16) byte {
	c.dummyWait()
	return c.ports.In(c.opts.Base + reg)
}

func (c *Controller) out(reg uint16, v byte) {
	c.dummyWait()
	c.ports.Out(c.opts.Base+reg, v)
}

func (c *Controller) waitRQM() (byte, error) {
	for i := uint64(0); i < c.opts.PollLimit; i++ {
		msr := c.in(REG_MSR)
		if msr&MSR_RQM != 0 {
			return msr, nil
		}
		c.delay.Pause()
	}
	return 0, ErrTimeout
}

// WaitReady polls the main status register until the FIFO is ready to move
// a byte in direction dir.
func (c *Controller) WaitReady(dir Direction) error {
	for i := uint64(0); i < c.opts.PollLimit; i++ {
		msr := c.in(REG_MSR)
		if msr&MSR_RQM != 0 && (msr&MSR_DIO != 0) == (dir == FromController) {
			return nil
		}
		c.delay.Pause()
	}
	return fmt.Errorf("%w for %v", ErrTimeout, dir)
}

func (c *Controller) SendByte(b byte) error {
	if err := c.WaitReady(ToController); err != nil {
		return err
	}
	c.out(REG_FIFO, b)
	return nil
}

func (c *Controller) ReadByte() (byte, error) {
	if err := c.WaitReady(FromController); err != nil {
		return 0, err
	}
	return c.in(REG_FIFO), nil
}

func (c *Controller) SendCommand(cmd byte, params ...byte) error {
	util.DPrintf(10, "fdc: cmd %#x %v\n", cmd, params)
	if err := c.SendByte(cmd); err != nil {
		return fmt.Errorf("command %#x: %w", cmd, err)
	}
	for i, p := range params {
		if err := c.SendByte(p); err != nil {
			return fmt.Errorf("command %#x param %d: %w", cmd, i, err)
		}
	}
	return nil
}

func (c *Controller) ReadResult(n int) ([]byte, error) {
	res := make([]byte, n)
	for i := range res {
		b, err := c.ReadByte()
		if err != nil {
			return res[:i], fmt.Errorf("result byte %d: %w", i, err)
		}
		res[i] = b
	}
	return res, nil
}

// IssueCommand runs a command without an execution phase and returns its
// nresult result bytes.
func (c *Controller) IssueCommand(cmd byte, params []byte, nresult int) ([]byte, error) {
	if err := c.SendCommand(cmd, params...); err != nil {
		return nil, err
	}
	return c.ReadResult(nresult)
}

// ReadData drains the execution phase of a read into buf. It returns the
// number of bytes the controller offered.
func (c *Controller) ReadData(buf []byte) (int, error) {
	n := 0
	for {
		msr, err := c.waitRQM()
		if err != nil {
			return n, err
		}
		if msr&MSR_NDMA == 0 {
			return n, nil
		}
		if n >= len(buf) {
			return n, ErrOverrun
		}
		buf[n] = c.in(REG_FIFO)
		n++
	}
}

// WriteData feeds buf to the execution phase of a write.
func (c *Controller) WriteData(buf []byte) (int, error) {
	n := 0
	for {
		msr, err := c.waitRQM()
		if err != nil {
			return n, err
		}
		if msr&MSR_NDMA == 0 {
			return n, nil
		}
		if n >= len(buf) {
			return n, ErrOverrun
		}
		c.out(REG_FIFO, buf[n])
		n++
	}
}

func (c *Controller) waitInterrupt() error {
	if c.irq == nil {
		return nil
	}
	for i := uint64(0); i < c.opts.PollLimit; i++ {
		if c.irq.Raised() {
			return nil
		}
		c.delay.Pause()
	}
	return fmt.Errorf("%w: no interrupt", ErrTimeout)
}

// ackIRQ consumes the interrupt that ends a transfer. Completion is
// already known from the result phase, so whether it was raised is
// irrelevant here.
func (c *Controller) ackIRQ() {
	if c.irq != nil {
		_ = c.irq.Raised()
	}
}

func (c *Controller) dor(motor bool) byte {
	v := DOR_NRESET | c.opts.Drive
	if c.irq != nil {
		v |= DOR_IRQ
	}
	if motor {
		v |= DOR_MOTOR0 << c.opts.Drive
	}
	return v
}

// MotorOn starts the drive motor and waits for it to spin up. A motor
// still inside its idle grace period is reclaimed without waiting.
func (c *Controller) MotorOn() {
	c.MotorTick()
	if c.motor {
		c.idleAt = time.Time{}
		return
	}
	c.out(REG_DOR, c.dor(true))
	c.motor = true
	c.idleAt = time.Time{}
	for i := uint64(0); i < c.opts.SpinUp; i++ {
		c.delay.Pause()
	}
}

// MotorRelease marks the motor unused. It stops now, or once MotorIdle
// has passed with no command needing it.
func (c *Controller) MotorRelease() {
	if !c.motor {
		return
	}
	if c.opts.MotorIdle <= 0 {
		c.MotorOff()
		return
	}
	c.idleAt = c.now().Add(c.opts.MotorIdle)
}

// MotorTick stops a released motor whose grace period has run out.
func (c *Controller) MotorTick() {
	if c.motor && !c.idleAt.IsZero() && !c.now().Before(c.idleAt) {
		util.DPrintf(5, "fdc: motor idle\n")
		c.MotorOff()
	}
}

// MotorOff stops the motor immediately.
func (c *Controller) MotorOff() {
	if c.motor {
		c.out(REG_DOR, c.dor(false))
		c.motor = false
	}
	c.idleAt = time.Time{}
}

// MotorRunning reports whether the controller has the motor switched on.
func (c *Controller) MotorRunning() bool {
	return c.motor
}

func (c *Controller) Version() (byte, error) {
	res, err := c.IssueCommand(CMD_VERSION, nil, 1)
	if err != nil {
		return 0, err
	}
	return res[0], nil
}

// Configure enables the FIFO with a threshold of 8 and disables drive
// polling.
func (c *Controller) Configure() error {
	return c.SendCommand(CMD_CONFIGURE, 0, (1<<6)|(0<<5)|(1<<4)|7, 0)
}

func (c *Controller) dataRate() (ccr byte, rate uint64) {
	if c.opts.Geometry.Sectors >= 36 {
		return 3, 1000000
	}
	return 0, 500000
}

// Specify sets step rate and head load time for the data rate, and selects
// non-DMA mode.
func (c *Controller) Specify() error {
	_, rate := c.dataRate()
	srt := byte(16 - (8 * rate / 500000))
	hlt := byte(10 * rate / 1000000)
	return c.SendCommand(CMD_SPECIFY, (srt<<4)|HUT, (hlt<<1)|1)
}

// SenseInterrupt returns st0 and the present cylinder. An invalid-command
// st0 (nothing to sense) comes back alone.
func (c *Controller) SenseInterrupt() (st0 byte, pcn byte, err error) {
	if err := c.SendCommand(CMD_SENSEI); err != nil {
		return 0, 0, err
	}
	st0, err = c.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if st0 == ST0_INVALID {
		return st0, 0, nil
	}
	pcn, err = c.ReadByte()
	return st0, pcn, err
}

func (c *Controller) seekEnd(cyl uint64) error {
	if err := c.waitInterrupt(); err != nil {
		return err
	}
	st0, pcn, err := c.SenseInterrupt()
	if err != nil {
		return err
	}
	switch {
	case st0 == ST0_INVALID:
		return ErrLockup
	case st0&ST0_IC != 0:
		return fmt.Errorf("%w: st0 %#x", ErrSeek, st0)
	case st0&ST0_SEEK_END == 0 || st0&3 != c.opts.Drive || uint64(pcn) != cyl:
		return fmt.Errorf("%w: st0 %#x at cylinder %d, want %d", ErrSeek, st0, pcn, cyl)
	}
	return nil
}

// Recalibrate moves the head to cylinder 0.
func (c *Controller) Recalibrate() error {
	c.MotorOn()
	if err := c.SendCommand(CMD_RECALIBRATE, c.opts.Drive); err != nil {
		return err
	}
	return c.seekEnd(0)
}

func (c *Controller) Seek(cyl uint64, head uint64) error {
	c.MotorOn()
	if err := c.SendCommand(CMD_SEEK, byte(head<<2)|c.opts.Drive, byte(cyl)); err != nil {
		return err
	}
	return c.seekEnd(cyl)
}

// Reset pulses the reset line and reprograms the controller. It can be
// called in any controller state, including a locked-up one.
func (c *Controller) Reset() error {
	util.DPrintf(1, "fdc: reset\n")
	c.out(REG_DOR, 0)
	c.delay.Pause()
	c.motor = false
	c.idleAt = time.Time{}
	c.out(REG_DOR, c.dor(false))
	if err := c.waitInterrupt(); err != nil {
		return fmt.Errorf("%w: %v", ErrReset, err)
	}
	for i := byte(0); i < 4; i++ {
		st0, _, err := c.SenseInterrupt()
		if err != nil {
			return fmt.Errorf("%w: sense %d: %v", ErrReset, i, err)
		}
		if st0 == ST0_INVALID {
			return fmt.Errorf("%w: %v during sense %d", ErrReset, ErrLockup, i)
		}
		if i == c.opts.Drive && st0 != ST0_RESET|i {
			return fmt.Errorf("%w: st0 %#x for drive %d", ErrReset, st0, i)
		}
	}
	if err := c.Configure(); err != nil {
		return fmt.Errorf("%w: configure: %v", ErrReset, err)
	}
	ccr, _ := c.dataRate()
	c.out(REG_CCR, ccr)
	if err := c.Specify(); err != nil {
		return fmt.Errorf("%w: specify: %v", ErrReset, err)
	}
	return nil
}

// Transfer moves one sector at chs in direction dir. The head must already
// be on chs.Cylinder.
func (c *Controller) Transfer(dir Direction, chs common.CHS, data []byte) error {
	cmd := CMD_READ
	if dir == ToController {
		cmd = CMD_WRITE
	}
	c.MotorOn()
	err := c.SendCommand(cmd,
		byte(chs.Head<<2)|c.opts.Drive,
		byte(chs.Cylinder), byte(chs.Head), byte(chs.Sector),
		SECTOR_CODE, byte(c.opts.Geometry.Sectors), GAP3, DTL)
	if err != nil {
		return err
	}
	var n int
	if dir == ToController {
		n, err = c.WriteData(data)
	} else {
		n, err = c.ReadData(data)
	}
	if err != nil {
		return err
	}
	res, err := c.ReadResult(7)
	if err != nil {
		return err
	}
	c.ackIRQ()
	if err := DecodeStatus(res[0], res[1], res[2]); err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d of %d bytes moved", ErrAbnormal, n, len(data))
	}
	return nil
}
