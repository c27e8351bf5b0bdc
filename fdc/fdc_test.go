package fdc

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
)

type countDelay struct {
	n uint64
}

func (d *countDelay) Pause() { d.n++ }

type FdcSuite struct {
	suite.Suite
	e     *Emulator
	delay *countDelay
	c     *Controller
}

func (suite *FdcSuite) SetupTest() {
	suite.e = NewMemEmulator(common.HD144)
	suite.delay = &countDelay{}
	opts := DefaultOptions()
	opts.PollLimit = 50
	suite.c = MkController(suite.e, suite.delay, opts)
}

func TestFdc(t *testing.T) {
	suite.Run(t, new(FdcSuite))
}

func sector(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, int(disk.BlockSize))
}

func (suite *FdcSuite) TestVersion() {
	v, err := suite.c.Version()
	suite.NoError(err)
	suite.Equal(VERSION_82077, v)
}

func (suite *FdcSuite) TestDummyWaitPairing() {
	suite.Require().NoError(suite.c.Reset())
	suite.Require().NoError(suite.c.Recalibrate())
	suite.Require().NoError(suite.c.Transfer(ToController, common.CHS{Cylinder: 0, Head: 0, Sector: 1}, sector(1)))
	suite.Greater(suite.e.Accesses, uint64(0))
	suite.Equal(suite.e.Accesses*DEFAULT_DUMMY_WAITS, suite.e.DummyWrites,
		"every register access is preceded by its dummy wait")
}

func (suite *FdcSuite) TestDummyWaitNeverZero() {
	opts := DefaultOptions()
	opts.DummyWaits = 0
	c := MkController(suite.e, NopDelay, opts)
	suite.Equal(DEFAULT_DUMMY_WAITS, c.Options().DummyWaits)
	_, err := c.Version()
	suite.NoError(err)
	suite.Equal(suite.e.Accesses*DEFAULT_DUMMY_WAITS, suite.e.DummyWrites)
}

func (suite *FdcSuite) TestReset() {
	suite.Require().NoError(suite.c.Reset())
	suite.Equal(uint64(1), suite.e.Resets)
	suite.Equal(byte(0), suite.e.DataRate(), "500kbps")
	suite.Equal([]byte{0x80, 0x0B}, suite.e.Specified())

	st0, _, err := suite.c.SenseInterrupt()
	suite.NoError(err)
	suite.Equal(ST0_INVALID, st0, "all four reset interrupts were sensed")
}

func (suite *FdcSuite) TestTransferRoundTrip() {
	suite.Require().NoError(suite.c.Reset())
	suite.Require().NoError(suite.c.Recalibrate())
	suite.Require().NoError(suite.c.Seek(1, 1))
	suite.Equal(uint64(1), suite.e.Cylinder())

	chs := common.CHS{Cylinder: 1, Head: 1, Sector: 3}
	suite.Require().NoError(suite.c.Transfer(ToController, chs, sector(0xA5)))
	lba, _ := common.HD144.ToLBA(chs)
	suite.Equal(sector(0xA5), suite.e.Sector(lba))
	suite.Equal(sector(0), suite.e.Sector(lba+1), "neighbour untouched")

	got := make([]byte, disk.BlockSize)
	suite.Require().NoError(suite.c.Transfer(FromController, chs, got))
	suite.Equal(sector(0xA5), got)
}

func (suite *FdcSuite) TestWrongCylinder() {
	suite.Require().NoError(suite.c.Reset())
	suite.Require().NoError(suite.c.Recalibrate())
	err := suite.c.Transfer(FromController, common.CHS{Cylinder: 2, Head: 0, Sector: 1}, make([]byte, disk.BlockSize))
	suite.True(errors.Is(err, ErrCylinder), "got %v", err)
	var serr *StatusError
	suite.True(errors.As(err, &serr))
}

func (suite *FdcSuite) TestWriteProtected() {
	suite.Require().NoError(suite.c.Recalibrate())
	suite.e.SetWriteProtected(true)
	err := suite.c.Transfer(ToController, common.CHS{Cylinder: 0, Head: 0, Sector: 1}, sector(1))
	suite.True(errors.Is(err, ErrWriteProtected))
	suite.Equal(sector(0), suite.e.Sector(0))
}

func (suite *FdcSuite) TestChecksumFault() {
	suite.Require().NoError(suite.c.Recalibrate())
	suite.e.InjectFault(Fault{Op: OpRead, Kind: FaultChecksum, Count: 1})
	buf := make([]byte, disk.BlockSize)
	err := suite.c.Transfer(FromController, common.CHS{Cylinder: 0, Head: 0, Sector: 1}, buf)
	suite.True(errors.Is(err, ErrCRC))
	suite.NoError(suite.c.Transfer(FromController, common.CHS{Cylinder: 0, Head: 0, Sector: 1}, buf), "fault used up")
}

func (suite *FdcSuite) TestLockupTimesOutAndResetRecovers() {
	suite.Require().NoError(suite.c.Recalibrate())
	suite.e.InjectFault(Fault{Op: OpWrite, Kind: FaultLockup, Count: 1})
	err := suite.c.Transfer(ToController, common.CHS{Cylinder: 0, Head: 0, Sector: 1}, sector(3))
	suite.True(errors.Is(err, ErrTimeout), "got %v", err)
	suite.True(suite.e.Locked())
	suite.Greater(suite.delay.n, uint64(0), "waiting yields")

	_, err = suite.c.Version()
	suite.True(errors.Is(err, ErrTimeout), "still locked")

	suite.Require().NoError(suite.c.Reset())
	suite.False(suite.e.Locked())
	suite.Require().NoError(suite.c.Recalibrate())
	suite.NoError(suite.c.Transfer(ToController, common.CHS{Cylinder: 0, Head: 0, Sector: 1}, sector(3)))
}

func (suite *FdcSuite) TestSeekFault() {
	suite.e.InjectFault(Fault{Op: OpSeek, Kind: FaultSeek, Count: 1})
	err := suite.c.Recalibrate()
	suite.True(errors.Is(err, ErrSeek))
	suite.NoError(suite.c.Recalibrate())
	err = suite.c.Seek(80, 0)
	suite.True(errors.Is(err, ErrSeek), "past last cylinder")
}

func (suite *FdcSuite) TestIRQ() {
	suite.c.SetIRQ(suite.e)
	suite.Require().NoError(suite.c.Reset())
	suite.NoError(suite.c.Recalibrate())
	suite.NoError(suite.c.Transfer(ToController, common.CHS{Cylinder: 0, Head: 0, Sector: 2}, sector(9)))
	suite.False(suite.e.Raised(), "transfer interrupt acknowledged")
}

func (suite *FdcSuite) motorBit() bool {
	return suite.e.In(PRIMARY+REG_DOR)&DOR_MOTOR0 != 0
}

func (suite *FdcSuite) TestMotorSpinUp() {
	suite.Require().NoError(suite.c.Reset())
	suite.False(suite.motorBit())
	before := suite.delay.n
	suite.c.MotorOn()
	suite.True(suite.motorBit())
	suite.Equal(before+DEFAULT_SPIN_UP, suite.delay.n, "spin-up wait")

	before = suite.delay.n
	suite.c.MotorOn()
	suite.Equal(before, suite.delay.n, "already spinning")

	suite.c.MotorRelease()
	suite.False(suite.motorBit(), "no idle time: off on release")
	suite.False(suite.c.MotorRunning())
}

func (suite *FdcSuite) TestMotorIdleGrace() {
	opts := DefaultOptions()
	opts.MotorIdle = time.Second
	c := MkController(suite.e, suite.delay, opts)
	now := time.Unix(100, 0)
	c.now = func() time.Time { return now }
	suite.Require().NoError(c.Reset())

	c.MotorOn()
	c.MotorRelease()
	suite.True(suite.motorBit(), "still spinning during grace")
	now = now.Add(500 * time.Millisecond)
	before := suite.delay.n
	c.MotorOn()
	suite.Equal(before, suite.delay.n, "reclaimed without spin-up")

	c.MotorRelease()
	now = now.Add(999 * time.Millisecond)
	c.MotorTick()
	suite.True(suite.motorBit())
	now = now.Add(time.Millisecond)
	c.MotorTick()
	suite.False(suite.motorBit(), "grace expired")

	before = suite.delay.n
	c.MotorOn()
	suite.Equal(before+DEFAULT_SPIN_UP, suite.delay.n, "spins up again")
	c.MotorOff()
	suite.False(suite.motorBit(), "forced off")
}

func (suite *FdcSuite) TestMotorRequired() {
	suite.Require().NoError(suite.c.Recalibrate())
	suite.c.MotorOff()
	err := suite.c.Transfer(FromController, common.CHS{Cylinder: 0, Head: 0, Sector: 1}, make([]byte, disk.BlockSize))
	suite.NoError(err, "transfer switches the motor on")
	suite.True(suite.motorBit())
}

func TestSecondaryController(t *testing.T) {
	e := NewMemEmulator(common.HD144)
	require.NoError(t, e.Attach(SECONDARY, 1))
	opts := DefaultOptions()
	opts.Base = SECONDARY
	opts.Drive = 1
	c := MkController(e, NopDelay, opts)
	require.NoError(t, c.Reset())
	require.NoError(t, c.Recalibrate())
	require.NoError(t, c.Seek(3, 0))
	require.NoError(t, c.Transfer(ToController, common.CHS{Cylinder: 3, Head: 0, Sector: 1}, sector(7)))
	lba, _ := common.HD144.ToLBA(common.CHS{Cylinder: 3, Head: 0, Sector: 1})
	assert.Equal(t, sector(7), e.Sector(lba))
	assert.Equal(t, DOR_MOTOR0<<1, e.In(SECONDARY+REG_DOR)&(DOR_MOTOR0<<1))
	assert.Equal(t, byte(0xFF), e.In(PRIMARY+REG_MSR), "nothing at the primary base")

	wrong := MkController(e, NopDelay, DefaultOptions())
	_, err := wrong.Version()
	assert.True(t, errors.Is(err, ErrTimeout))

	assert.Error(t, e.Attach(0x1F0, 0))
	assert.Error(t, e.Attach(PRIMARY, 4))
}

func TestFromCMOS(t *testing.T) {
	cases := []struct {
		reg   byte
		base  uint16
		drive uint8
		geo   string
	}{
		{0x40, PRIMARY, 0, "1.44M"},
		{0x44, PRIMARY, 0, "1.44M"},
		{0x13, PRIMARY, 0, "360K"},
		{0x20, PRIMARY, 0, "1.2M"},
		{0x05, SECONDARY, 1, "2.88M"},
		{0x03, SECONDARY, 1, "720K"},
		{0x93, SECONDARY, 1, "720K"},
	}
	for _, tc := range cases {
		opts, err := FromCMOS(tc.reg, DefaultOptions())
		if assert.NoError(t, err, "cmos %#x", tc.reg) {
			geo, _ := common.NamedGeometry(tc.geo)
			assert.Equal(t, tc.base, opts.Base, "cmos %#x", tc.reg)
			assert.Equal(t, tc.drive, opts.Drive, "cmos %#x", tc.reg)
			assert.Equal(t, geo, opts.Geometry, "cmos %#x", tc.reg)
			assert.Equal(t, DEFAULT_POLL_LIMIT, opts.PollLimit, "other options kept")
		}
	}
	_, err := FromCMOS(0x00, DefaultOptions())
	assert.True(t, errors.Is(err, ErrNoDrive))
	_, err = FromCMOS(0x96, DefaultOptions())
	assert.True(t, errors.Is(err, ErrNoDrive))
	assert.Equal(t, "1.44M 3.5\"", Drive1440K.String())
}

func TestDecodeStatus(t *testing.T) {
	assert := assert.New(t)
	assert.NoError(DecodeStatus(0x04, 0, 0))
	cases := []struct {
		st0, st1, st2 byte
		err           error
	}{
		{0x40, ST1_NW, 0, ErrWriteProtected},
		{0xC0, 0, 0, ErrAbnormal},
		{0x48, 0, 0, ErrNotReady},
		{0x40, ST1_ND, 0, ErrNoData},
		{0x40, ST1_OR, 0, ErrOverrun},
		{0x40, ST1_EN, 0, ErrEndOfCylinder},
		{0x40, ST1_DE, 0, ErrCRC},
		{0x40, 0, ST2_DD, ErrCRC},
		{0x40, 0, ST2_BC, ErrCylinder},
		{0x40, 0, ST2_WC, ErrCylinder},
		{0x40, ST1_ND, ST2_WC, ErrCylinder},
		{0x40, ST1_MA, 0, ErrNoAddressMark},
		{0x80, 0, 0, ErrLockup},
		{0x40, 0, 0, ErrAbnormal},
	}
	for _, c := range cases {
		err := DecodeStatus(c.st0, c.st1, c.st2)
		assert.True(errors.Is(err, c.err), "%#x %#x %#x: got %v", c.st0, c.st1, c.st2, err)
	}
}
