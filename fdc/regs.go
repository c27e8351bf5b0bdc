package fdc

// I/O ports of an 82077AA-compatible controller, relative to its base.
const (
	PRIMARY    uint16 = 0x3F0
	SECONDARY  uint16 = 0x370
	PORT_DUMMY uint16 = 0x80 // unused POST port, written to burn time

	REG_DOR  uint16 = 2 // digital output
	REG_MSR  uint16 = 4 // main status
	REG_FIFO uint16 = 5
	REG_CCR  uint16 = 7 // configuration control (data rate)
)

// main status register
const (
	MSR_RQM  byte = 0x80 // FIFO ready for a byte
	MSR_DIO  byte = 0x40 // set: controller to host
	MSR_NDMA byte = 0x20 // non-DMA execution phase
	MSR_CB   byte = 0x10 // command busy
)

// digital output register
const (
	DOR_NRESET byte = 0x04
	DOR_IRQ    byte = 0x08 // IRQ/DMA gate
	DOR_MOTOR0 byte = 0x10 // motor of drive n is DOR_MOTOR0 << n
)

const (
	CMD_SPECIFY     byte = 0x03
	CMD_WRITE       byte = 0x05 | MFM
	CMD_READ        byte = 0x06 | MFM
	CMD_RECALIBRATE byte = 0x07
	CMD_SENSEI      byte = 0x08
	CMD_SEEK        byte = 0x0F
	CMD_VERSION     byte = 0x10
	CMD_CONFIGURE   byte = 0x13

	MFM byte = 0x40
)

const (
	VERSION_82077 byte = 0x90

	SECTOR_CODE byte = 2 // 128 << 2 = 512 bytes
	GAP3        byte = 0x1B
	DTL         byte = 0xFF
	HUT         byte = 0 // max head unload time
)

// result status bits
const (
	ST0_IC       byte = 0xC0 // interrupt code
	ST0_ABNORMAL byte = 0x40
	ST0_INVALID  byte = 0x80
	ST0_RESET    byte = 0xC0
	ST0_SEEK_END byte = 0x20
	ST0_NR       byte = 0x08

	ST1_EN byte = 0x80 // end of cylinder
	ST1_DE byte = 0x20 // data CRC
	ST1_OR byte = 0x10 // overrun
	ST1_ND byte = 0x04 // no data
	ST1_NW byte = 0x02 // not writable
	ST1_MA byte = 0x01 // missing address mark

	ST2_DD byte = 0x20 // data CRC
	ST2_WC byte = 0x10 // wrong cylinder
	ST2_BC byte = 0x02 // bad cylinder
)
