package fs

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/inode"
	"github.com/mit-pdos/go-floppy/super"
	"github.com/mit-pdos/go-floppy/util"
)

// Handle names an open inode. Inum is its table index; Id tells a reused
// index apart from the inode the handle was opened on.
type Handle struct {
	Inum common.Inum
	Id   uint64
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.Inum, h.Id)
}

// FileSystem is the flat file store seen by callers. Implementations work
// over any disk.BlockStore.
type FileSystem interface {
	Create(name string, kind inode.Kind) (Handle, error)
	Open(name string) (Handle, error)
	Read(h Handle, off uint64, n uint64) ([]byte, error)
	Write(h Handle, off uint64, data []byte) (uint64, error)
	Remove(name string) error
}

type Options struct {
	TableBlocks       uint64
	DefaultFileBlocks uint64 // extent given to files by Create
	VolumeName        string // written by Init; empty means super.DEFAULT_NAME
}

func DefaultOptions() Options {
	return Options{TableBlocks: common.NTABLEBLK, DefaultFileBlocks: common.NDEFAULTBLK}
}

// Fs is a flat filesystem: a superblock, a fixed inode table, and one
// contiguous extent per file.
type Fs struct {
	d     disk.BlockStore
	opts  Options
	super *super.FsSuper
	tbl   *inode.Table
	// roErr says why the filesystem refuses changes; nil if it does not.
	roErr error
}

var _ FileSystem = (*Fs)(nil)

func fillOptions(opts Options) Options {
	def := DefaultOptions()
	if opts.TableBlocks == 0 {
		opts.TableBlocks = def.TableBlocks
	}
	if opts.DefaultFileBlocks == 0 {
		opts.DefaultFileBlocks = def.DefaultFileBlocks
	}
	return opts
}

// Init formats d, checks that the signature reads back, and mounts the
// result.
func Init(d disk.BlockStore, opts Options) (*Fs, error) {
	opts = fillOptions(opts)
	sup, err := super.FormatNamed(d, opts.TableBlocks, opts.VolumeName)
	if err != nil {
		if errors.Is(err, super.ErrTooSmall) || errors.Is(err, super.ErrVolumeName) {
			return nil, pathErr("init", "", err)
		}
		return nil, pathErr("init", "", ioErr(err))
	}
	blk, err := d.ReadBlock(common.SUPERBLK)
	if err != nil {
		return nil, pathErr("init", "", ioErr(err))
	}
	got, err := super.Decode(blk)
	if err != nil || *got != *sup {
		return nil, pathErr("init", "", ErrWriteVerifyFailed)
	}
	return Mount(d, opts)
}

// Mount loads the filesystem on d. If the superblock or inode table is
// damaged, Mount returns the error together with a read-only Fs that can
// still serve ReadRawBlock.
func Mount(d disk.BlockStore, opts Options) (*Fs, error) {
	opts = fillOptions(opts)
	f := &Fs{d: d, opts: opts}
	sup, err := super.Load(d)
	if err != nil {
		if errors.Is(err, ErrIO) || errors.Is(err, disk.ErrOutOfRange) {
			return nil, pathErr("mount", "", ioErr(err))
		}
		if !errors.Is(err, ErrNotFormatted) {
			err = fmt.Errorf("%w: %w", ErrCorruptTable, err)
		}
		f.roErr = err
		return f, pathErr("mount", "", err)
	}
	f.super = sup
	tbl, err := inode.Load(d, sup)
	if err != nil {
		if !errors.Is(err, ErrCorruptTable) {
			return nil, pathErr("mount", "", ioErr(err))
		}
		f.roErr = err
		util.DPrintf(0, "mount: %v; read-only\n", err)
		return f, pathErr("mount", "", err)
	}
	f.tbl = tbl
	util.DPrintf(1, "mount: %v\n", sup)
	return f, nil
}

// ReadOnly returns why the filesystem refuses changes, or nil.
func (f *Fs) ReadOnly() error {
	return f.roErr
}

func (f *Fs) Super() *super.FsSuper {
	return f.super
}

func (f *Fs) readable() error {
	if f.tbl == nil {
		return f.roErr
	}
	return nil
}

// writable checks the posture and then that the signature is still on the
// medium.
func (f *Fs) writable() error {
	if f.roErr != nil {
		return fmt.Errorf("%w: %w", ErrReadOnly, f.roErr)
	}
	blk, err := f.d.ReadBlock(common.SUPERBLK)
	if err != nil {
		return ioErr(err)
	}
	if !super.HasSignature(blk) {
		f.roErr = ErrNotFormatted
		return fmt.Errorf("%w: %w", ErrReadOnly, ErrNotFormatted)
	}
	return nil
}

func (f *Fs) resolve(h Handle) (inode.Inode, error) {
	ip, err := f.tbl.Get(h.Inum)
	if err != nil || ip.IsFree() || ip.Id != h.Id {
		return inode.Inode{}, ErrStaleHandle
	}
	return ip, nil
}

func (f *Fs) Create(name string, kind inode.Kind) (Handle, error) {
	var nblocks uint64
	if kind == inode.File {
		nblocks = f.opts.DefaultFileBlocks
	}
	return f.CreateSized(name, kind, nblocks)
}

// CreateSized is Create with an explicit extent of nblocks blocks.
func (f *Fs) CreateSized(name string, kind inode.Kind, nblocks uint64) (Handle, error) {
	if err := f.writable(); err != nil {
		return Handle{}, pathErr("create", name, err)
	}
	ip, err := f.tbl.Alloc(name, kind, nblocks)
	if err != nil {
		if errors.Is(err, disk.ErrIO) || errors.Is(err, disk.ErrReadOnly) {
			err = ioErr(err)
		}
		return Handle{}, pathErr("create", name, err)
	}
	util.DPrintf(1, "create %v\n", ip)
	return Handle{Inum: ip.Inum, Id: ip.Id}, nil
}

// Recreate is CreateSized for a name that may already exist: the old
// inode, if any, is swapped for an empty one in a single table update.
// If that fails the old file is left as it was.
func (f *Fs) Recreate(name string, kind inode.Kind, nblocks uint64) (Handle, error) {
	if err := f.writable(); err != nil {
		return Handle{}, pathErr("recreate", name, err)
	}
	ip, err := f.tbl.Replace(name, kind, nblocks)
	if err != nil {
		if errors.Is(err, disk.ErrIO) || errors.Is(err, disk.ErrReadOnly) {
			err = ioErr(err)
		}
		return Handle{}, pathErr("recreate", name, err)
	}
	util.DPrintf(1, "recreate %v\n", ip)
	return Handle{Inum: ip.Inum, Id: ip.Id}, nil
}

func (f *Fs) Open(name string) (Handle, error) {
	if err := f.readable(); err != nil {
		return Handle{}, pathErr("open", name, err)
	}
	ip, ok := f.tbl.Lookup(name)
	if !ok {
		return Handle{}, pathErr("open", name, ErrNotFound)
	}
	return Handle{Inum: ip.Inum, Id: ip.Id}, nil
}

func (f *Fs) Stat(h Handle) (inode.Inode, error) {
	if err := f.readable(); err != nil {
		return inode.Inode{}, pathErr("stat", h.String(), err)
	}
	ip, err := f.resolve(h)
	if err != nil {
		return inode.Inode{}, pathErr("stat", h.String(), err)
	}
	return ip, nil
}

// Read returns exactly n bytes at off; the range must lie within the file.
func (f *Fs) Read(h Handle, off uint64, n uint64) ([]byte, error) {
	if err := f.readable(); err != nil {
		return nil, pathErr("read", h.String(), err)
	}
	ip, err := f.resolve(h)
	if err != nil {
		return nil, pathErr("read", h.String(), err)
	}
	if util.SumOverflows(off, n) || off+n > ip.Size {
		return nil, pathErr("read", ip.Name, ErrOutOfBounds)
	}
	data := make([]byte, 0, n)
	for pos := off; pos < off+n; {
		blk, err := f.d.ReadBlock(ip.Bnum(pos))
		if err != nil {
			return nil, pathErr("read", ip.Name, ioErr(err))
		}
		boff := pos % disk.BlockSize
		m := util.Min(disk.BlockSize-boff, off+n-pos)
		data = append(data, blk[boff:boff+m]...)
		pos += m
	}
	return data, nil
}

// Write stores data at off and returns the number of bytes written. A
// write may start at most at the current size and may grow the file up to
// its capacity, never beyond.
func (f *Fs) Write(h Handle, off uint64, data []byte) (uint64, error) {
	if err := f.writable(); err != nil {
		return 0, pathErr("write", h.String(), err)
	}
	ip, err := f.resolve(h)
	if err != nil {
		return 0, pathErr("write", h.String(), err)
	}
	n := uint64(len(data))
	if off > ip.Size || util.SumOverflows(off, n) || off+n > ip.Capacity() {
		return 0, pathErr("write", ip.Name, ErrOutOfBounds)
	}
	for pos := off; pos < off+n; {
		bn := ip.Bnum(pos)
		boff := pos % disk.BlockSize
		m := util.Min(disk.BlockSize-boff, off+n-pos)
		var blk disk.Block
		if m == disk.BlockSize {
			blk = data[pos-off : pos-off+m]
		} else {
			blk, err = f.d.ReadBlock(bn)
			if err != nil {
				return 0, pathErr("write", ip.Name, ioErr(err))
			}
			copy(blk[boff:boff+m], data[pos-off:pos-off+m])
		}
		if err := f.d.WriteBlock(bn, blk); err != nil {
			return 0, pathErr("write", ip.Name, ioErr(err))
		}
		pos += m
	}
	if off+n > ip.Size {
		if err := f.tbl.SetSize(ip.Inum, off+n); err != nil {
			return 0, pathErr("write", ip.Name, ioErr(err))
		}
	}
	return n, nil
}

// Remove frees name's inode and blocks. Handles to it go stale.
func (f *Fs) Remove(name string) error {
	if err := f.writable(); err != nil {
		return pathErr("remove", name, err)
	}
	ip, ok := f.tbl.Lookup(name)
	if !ok {
		return pathErr("remove", name, ErrNotFound)
	}
	if err := f.tbl.Free(ip.Inum); err != nil {
		return pathErr("remove", name, ioErr(err))
	}
	util.DPrintf(1, "remove %v\n", ip)
	return nil
}

// List returns the live inodes in table order.
func (f *Fs) List() ([]inode.Inode, error) {
	if err := f.readable(); err != nil {
		return nil, pathErr("list", "", err)
	}
	return f.tbl.Live(), nil
}

type FsInfo struct {
	Name          string
	Release       super.Release
	Blocks        uint64
	DataStart     common.Bnum
	FreeBlocks    uint64
	LargestExtent uint64
	Inodes        uint64
	FreeInodes    uint64
}

func (f *Fs) StatFS() (FsInfo, error) {
	if err := f.readable(); err != nil {
		return FsInfo{}, pathErr("statfs", "", err)
	}
	return FsInfo{
		Name:          f.super.Name,
		Release:       f.super.Release,
		Blocks:        f.super.NBlock,
		DataStart:     f.super.DataStart(),
		FreeBlocks:    f.tbl.NumFreeBlocks(),
		LargestExtent: f.tbl.LargestFreeExtent(),
		Inodes:        f.tbl.NInode(),
		FreeInodes:    f.tbl.NumFreeInodes(),
	}, nil
}

// ReadRawBlock reads a block with no filesystem checks; it works on a
// read-only or unmountable filesystem, for recovery.
func (f *Fs) ReadRawBlock(a uint64) (disk.Block, error) {
	blk, err := f.d.ReadBlock(a)
	if err != nil {
		return nil, pathErr("readraw", "", ioErr(err))
	}
	return blk, nil
}
