package super

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/mit-pdos/go-floppy/addr"
	"github.com/mit-pdos/go-floppy/buf"
	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/util"
)

const VERSION uint64 = 1

// RELEASE stamps the software that formatted a medium: the low 10 bits
// are a day of the year, the high 6 the years since 2025.
const RELEASE uint64 = 0<<10 | 326

// Feature bits recorded at format time.
const (
	FEATURE_FLOPPY uint64 = 1 << 0
)

const (
	NAMELEN      uint64 = 16
	DEFAULT_NAME        = "floppy drive"
)

// Signature marks a formatted medium. It occupies the first 8 bytes of the
// superblock.
var Signature = [8]byte{0xFD, 'S', 'F', 'K', 0x86, 0x64, 'F', 'D'}

// superblock field offsets
const (
	offSig        uint64 = 0
	offVersion    uint64 = 8
	offNBlock     uint64 = 10
	offTableStart uint64 = 14
	offTableLen   uint64 = 18
	offRelease    uint64 = 22
	offFeatures   uint64 = 24
	offName       uint64 = 32
	superSz       uint64 = offName + NAMELEN
)

var (
	ErrNoSignature = errors.New("no filesystem signature")
	ErrBadLayout   = errors.New("inconsistent superblock layout")
	ErrTooSmall    = errors.New("medium too small for filesystem")
	ErrVolumeName  = errors.New("invalid volume name")
)

// ErrBadVersion is returned for a superblock written by another format
// version.
type ErrBadVersion struct {
	Found uint64
}

func (e *ErrBadVersion) Error() string {
	return fmt.Sprintf("unsupported format version %d (want %d)", e.Found, VERSION)
}

type FsSuper struct {
	Version    uint64
	NBlock     uint64
	TableStart common.Bnum
	TableLen   uint64
	Release    Release
	Features   uint64
	Name       string
}

func MkFsSuper(nblock uint64, tableLen uint64) *FsSuper {
	return &FsSuper{
		Version:    VERSION,
		NBlock:     nblock,
		TableStart: common.TABLESTART,
		TableLen:   tableLen,
		Release:    Release(RELEASE),
		Features:   FEATURE_FLOPPY,
		Name:       DEFAULT_NAME,
	}
}

type Release uint64

func (r Release) Day() uint64  { return uint64(r) & 0x3FF }
func (r Release) Year() uint64 { return 2025 + uint64(r)>>10 }

func (r Release) String() string {
	return fmt.Sprintf("day %d of %d", r.Day(), r.Year())
}

// ValidateName checks that name fits the superblock's name field.
func ValidateName(name string) error {
	if uint64(len(name)) > NAMELEN || strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%w: %q", ErrVolumeName, name)
	}
	return nil
}

func (fs *FsSuper) NInode() uint64 {
	return fs.TableLen * common.INODEBLK
}

func (fs *FsSuper) DataStart() common.Bnum {
	return fs.TableStart + fs.TableLen
}

func (fs *FsSuper) NDataBlock() uint64 {
	return fs.NBlock - fs.DataStart()
}

func (fs *FsSuper) String() string {
	return fmt.Sprintf("%q v%d %d blocks, table %d+%d", fs.Name, fs.Version,
		fs.NBlock, fs.TableStart, fs.TableLen)
}

// Validate checks the layout against a medium of nblock blocks.
func (fs *FsSuper) Validate(nblock uint64) error {
	if fs.Version != VERSION {
		return &ErrBadVersion{Found: fs.Version}
	}
	if fs.NBlock != nblock {
		return fmt.Errorf("%w: %d blocks recorded, medium has %d",
			ErrBadLayout, fs.NBlock, nblock)
	}
	if fs.TableStart <= common.SUPERBLK || fs.TableLen == 0 ||
		util.SumOverflows(fs.TableStart, fs.TableLen) ||
		fs.DataStart() >= fs.NBlock {
		return fmt.Errorf("%w: table %d+%d in %d blocks",
			ErrBadLayout, fs.TableStart, fs.TableLen, fs.NBlock)
	}
	return nil
}

func (fs *FsSuper) Encode() disk.Block {
	blk := make(disk.Block, disk.BlockSize)
	b := buf.MkBufLoad(addr.MkAddr(common.SUPERBLK, 0), superSz, blk)
	copy(b.Data[offSig:offSig+8], Signature[:])
	b.UintPut(offVersion, 2, fs.Version)
	b.UintPut(offNBlock, 4, fs.NBlock)
	b.UintPut(offTableStart, 4, fs.TableStart)
	b.UintPut(offTableLen, 4, fs.TableLen)
	b.UintPut(offRelease, 2, uint64(fs.Release))
	b.UintPut(offFeatures, 8, fs.Features)
	copy(b.Data[offName:offName+NAMELEN], fs.Name)
	return blk
}

func HasSignature(blk disk.Block) bool {
	return uint64(len(blk)) >= offSig+8 && bytes.Equal(blk[offSig:offSig+8], Signature[:])
}

func Decode(blk disk.Block) (*FsSuper, error) {
	if !HasSignature(blk) {
		return nil, ErrNoSignature
	}
	b := buf.MkBufLoad(addr.MkAddr(common.SUPERBLK, 0), superSz, blk)
	name := b.Data[offName : offName+NAMELEN]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return &FsSuper{
		Version:    b.UintGet(offVersion, 2),
		NBlock:     b.UintGet(offNBlock, 4),
		TableStart: b.UintGet(offTableStart, 4),
		TableLen:   b.UintGet(offTableLen, 4),
		Release:    Release(b.UintGet(offRelease, 2)),
		Features:   b.UintGet(offFeatures, 8),
		Name:       string(name),
	}, nil
}

// Format lays out a fresh superblock and a zero-filled inode table of
// tableLen blocks on d. The old signature is wiped first, so a format that
// fails part way leaves an unformatted medium. Data blocks are not touched.
func Format(d disk.BlockStore, tableLen uint64) (*FsSuper, error) {
	return FormatNamed(d, tableLen, DEFAULT_NAME)
}

// FormatNamed is Format with a volume name; empty means DEFAULT_NAME.
func FormatNamed(d disk.BlockStore, tableLen uint64, name string) (*FsSuper, error) {
	if name == "" {
		name = DEFAULT_NAME
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	fs := MkFsSuper(d.BlockCount(), tableLen)
	fs.Name = name
	if d.BlockCount() <= common.TABLESTART+tableLen || tableLen == 0 {
		return nil, fmt.Errorf("%w: %d blocks, table of %d",
			ErrTooSmall, d.BlockCount(), tableLen)
	}
	zero := make(disk.Block, disk.BlockSize)
	err := d.WriteBlock(common.SUPERBLK, zero)
	if err != nil {
		return nil, fmt.Errorf("wiping signature: %w", err)
	}
	for i := uint64(0); i < fs.TableLen; i++ {
		err := d.WriteBlock(fs.TableStart+i, zero)
		if err != nil {
			return nil, fmt.Errorf("zeroing inode table: %w", err)
		}
	}
	err = d.WriteBlock(common.SUPERBLK, fs.Encode())
	if err != nil {
		return nil, fmt.Errorf("writing superblock: %w", err)
	}
	util.DPrintf(1, "format: %v\n", fs)
	return fs, nil
}

// Load reads and validates the superblock of d.
func Load(d disk.BlockStore) (*FsSuper, error) {
	blk, err := d.ReadBlock(common.SUPERBLK)
	if err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	fs, err := Decode(blk)
	if err != nil {
		return nil, err
	}
	if err := fs.Validate(d.BlockCount()); err != nil {
		return nil, err
	}
	if fs.Release > Release(RELEASE) {
		util.Log.Warn().Stringer("release", fs.Release).
			Msg("filesystem is from a newer release; some features may not be supported")
	}
	return fs, nil
}
