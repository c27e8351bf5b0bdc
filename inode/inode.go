package inode

import (
	"bytes"
	"fmt"

	"github.com/mit-pdos/go-floppy/addr"
	"github.com/mit-pdos/go-floppy/buf"
	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
)

type Kind uint8

const (
	Free      Kind = 0
	File      Kind = 1
	Directory Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Free:
		return "free"
	case File:
		return "file"
	case Directory:
		return "dir"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// record field offsets
const (
	offId    uint64 = 0
	offKind  uint64 = 4
	offName  uint64 = 5
	offStart uint64 = offName + common.NAMELEN
	offCount uint64 = offStart + 4
	offSize  uint64 = offCount + 4
)

type Inode struct {
	Inum  common.Inum
	Id    uint64
	Kind  Kind
	Name  string
	Start common.Bnum
	Count uint64 // blocks
	Size  uint64 // bytes
}

func (ip Inode) String() string {
	return fmt.Sprintf("# %d id %d %v %q [%d+%d] sz %d", ip.Inum, ip.Id,
		ip.Kind, ip.Name, ip.Start, ip.Count, ip.Size)
}

func (ip Inode) IsFree() bool {
	return ip.Kind == Free
}

// Capacity is the largest size the inode can grow to.
func (ip Inode) Capacity() uint64 {
	return ip.Count * disk.BlockSize
}

// Bnum returns the block holding byte off of the inode's data.
func (ip Inode) Bnum(off uint64) common.Bnum {
	return ip.Start + off/disk.BlockSize
}

func (ip Inode) Encode() []byte {
	data := make([]byte, common.INODESZ)
	b := buf.MkBuf(addr.MkInodeAddr(common.TABLESTART, ip.Inum), common.INODESZ, data)
	b.UintPut(offId, 4, ip.Id)
	b.Data[offKind] = byte(ip.Kind)
	copy(b.Data[offName:offName+common.NAMELEN], ip.Name)
	b.UintPut(offStart, 4, ip.Start)
	b.UintPut(offCount, 4, ip.Count)
	b.UintPut(offSize, 4, ip.Size)
	return data
}

// decode parses a record; rawName is the full name field, so that callers
// can check the zero padding.
func decode(inum common.Inum, b *buf.Buf) (ip Inode, rawName []byte) {
	rawName = b.Data[offName : offName+common.NAMELEN]
	name := rawName
	if i := bytes.IndexByte(rawName, 0); i >= 0 {
		name = rawName[:i]
	}
	ip = Inode{
		Inum:  inum,
		Id:    b.UintGet(offId, 4),
		Kind:  Kind(b.Data[offKind]),
		Name:  string(name),
		Start: b.UintGet(offStart, 4),
		Count: b.UintGet(offCount, 4),
		Size:  b.UintGet(offSize, 4),
	}
	return ip, rawName
}

func Decode(inum common.Inum, data []byte) Inode {
	ip, _ := decode(inum, buf.MkBuf(addr.MkInodeAddr(common.TABLESTART, inum),
		common.INODESZ, data))
	return ip
}

func ValidateName(name string) error {
	if name == "" || bytes.IndexByte([]byte(name), 0) >= 0 {
		return ErrInvalidName
	}
	if uint64(len(name)) > common.NAMELEN {
		return ErrNameTooLong
	}
	return nil
}
