// buf manages sub-block disk objects, to be packed into disk blocks
package buf

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-floppy/addr"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/util"
)

// A Buf is a write to a disk object (an inode record or a whole block)
type Buf struct {
	Addr  addr.Addr
	Sz    uint64 // number of bytes
	Data  []byte
	dirty bool // has this object been written to?
}

func MkBuf(addr addr.Addr, sz uint64, data []byte) *Buf {
	b := &Buf{
		Addr:  addr,
		Sz:    sz,
		Data:  data,
		dirty: false,
	}
	return b
}

// Load the bytes of a disk block into a new buf, as specified by addr
func MkBufLoad(addr addr.Addr, sz uint64, blk disk.Block) *Buf {
	data := blk[addr.Off : addr.Off+sz]
	b := &Buf{
		Addr:  addr,
		Sz:    sz,
		Data:  data,
		dirty: false,
	}
	return b
}

// Install the bytes from buf into blk.
func (buf *Buf) Install(blk disk.Block) {
	if buf.Addr.Off+buf.Sz > uint64(len(blk)) {
		panic("Install past end of block\n")
	}
	util.DPrintf(10, "%v: install\n", buf.Addr)
	copy(blk[buf.Addr.Off:buf.Addr.Off+buf.Sz], buf.Data[:buf.Sz])
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

// WriteDirect writes buf to d right away, merging it into the block that
// holds it unless it covers the whole block.
func (buf *Buf) WriteDirect(d disk.BlockStore) error {
	buf.SetDirty()
	var blk disk.Block
	if buf.Sz == disk.BlockSize {
		blk = buf.Data
	} else {
		var err error
		blk, err = d.ReadBlock(uint64(buf.Addr.Blkno))
		if err != nil {
			return err
		}
		buf.Install(blk)
	}
	err := d.WriteBlock(uint64(buf.Addr.Blkno), blk)
	if err != nil {
		return err
	}
	buf.dirty = false
	return nil
}

// UintGet decodes the little-endian unsigned integer of width bytes at off.
func (buf *Buf) UintGet(off uint64, width uint64) uint64 {
	return GetUint(buf.Data[off:off+width], width)
}

func (buf *Buf) UintPut(off uint64, width uint64, v uint64) {
	PutUint(buf.Data[off:off+width], width, v)
	buf.SetDirty()
}

// GetUint decodes a little-endian integer of width bytes (at most 8).
func GetUint(b []byte, width uint64) uint64 {
	var word [8]byte
	copy(word[:], b[:width])
	dec := marshal.NewDec(word[:])
	return dec.GetInt()
}

// PutUint stores the low width bytes of v, little-endian.
func PutUint(b []byte, width uint64, v uint64) {
	enc := marshal.NewEnc(8)
	enc.PutInt(v)
	copy(b[:width], enc.Finish())
}
