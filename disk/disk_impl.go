package disk

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var _ BlockStore = (*FileDisk)(nil)

// FileDisk is a raw sector image, one BlockSize block per sector.
type FileDisk struct {
	fd        int
	numBlocks uint64
	readOnly  bool
}

// NewFileDisk opens (creating if needed) an image of numBlocks blocks,
// resizing a regular file that has the wrong length.
func NewFileDisk(path string, numBlocks uint64) (*FileDisk, error) {
	d, size, err := openFileDisk(path, unix.O_RDWR|unix.O_CREAT)
	if err != nil {
		return nil, err
	}
	if size >= 0 && uint64(size) != numBlocks*BlockSize {
		if err := unix.Ftruncate(d.fd, int64(numBlocks*BlockSize)); err != nil {
			d.Close()
			return nil, fmt.Errorf("resizing %s: %w", path, err)
		}
	}
	d.numBlocks = numBlocks
	return d, nil
}

// OpenFileDiskReadOnly opens an existing image without modifying it; the
// block count is taken from the file size.
func OpenFileDiskReadOnly(path string) (*FileDisk, error) {
	d, size, err := openFileDisk(path, unix.O_RDONLY)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		d.Close()
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	d.numBlocks = uint64(size) / BlockSize
	d.readOnly = true
	return d, nil
}

// openFileDisk returns the size of path, or -1 if it is not a regular file.
func openFileDisk(path string, mode int) (*FileDisk, int64, error) {
	fd, err := unix.Open(path, mode, 0666)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := stat.Size
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		size = -1
	}
	return &FileDisk{fd: fd}, size, nil
}

func (d *FileDisk) ReadBlock(a uint64) (Block, error) {
	if err := checkAddr("read", a, d.numBlocks); err != nil {
		return nil, err
	}
	buf := make(Block, BlockSize)
	n, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return nil, MkError("read", a, fmt.Errorf("%w: %v", ErrIO, err))
	}
	if uint64(n) != BlockSize {
		return nil, MkError("read", a, fmt.Errorf("%w: short read (%d bytes)", ErrIO, n))
	}
	return buf, nil
}

func (d *FileDisk) WriteBlock(a uint64, v Block) error {
	if d.readOnly {
		return MkError("write", a, ErrReadOnly)
	}
	if err := checkBlock("write", a, v); err != nil {
		return err
	}
	if err := checkAddr("write", a, d.numBlocks); err != nil {
		return err
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		return MkError("write", a, fmt.Errorf("%w: %v", ErrIO, err))
	}
	return nil
}

func (d *FileDisk) BlockCount() uint64 {
	return d.numBlocks
}

func (d *FileDisk) Barrier() error {
	return unix.Fsync(d.fd)
}

func (d *FileDisk) Close() error {
	return unix.Close(d.fd)
}

var _ BlockStore = (*MemDisk)(nil)

type MemDisk struct {
	l      *sync.RWMutex
	blocks [][BlockSize]byte
}

func NewMemDisk(numBlocks uint64) *MemDisk {
	blocks := make([][BlockSize]byte, numBlocks)
	return &MemDisk{l: new(sync.RWMutex), blocks: blocks}
}

func (d *MemDisk) ReadBlock(a uint64) (Block, error) {
	d.l.RLock()
	defer d.l.RUnlock()
	if err := checkAddr("read", a, uint64(len(d.blocks))); err != nil {
		return nil, err
	}
	buf := make(Block, BlockSize)
	copy(buf, d.blocks[a][:])
	return buf, nil
}

func (d *MemDisk) WriteBlock(a uint64, v Block) error {
	if err := checkBlock("write", a, v); err != nil {
		return err
	}
	d.l.Lock()
	defer d.l.Unlock()
	if err := checkAddr("write", a, uint64(len(d.blocks))); err != nil {
		return err
	}
	copy(d.blocks[a][:], v)
	return nil
}

func (d *MemDisk) BlockCount() uint64 {
	return uint64(len(d.blocks))
}
