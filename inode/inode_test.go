package inode

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-floppy/addr"
	"github.com/mit-pdos/go-floppy/buf"
	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/super"
)

type TableSuite struct {
	suite.Suite
	d   *disk.MemDisk
	sup *super.FsSuper
	t   *Table
}

func (suite *TableSuite) SetupTest() {
	suite.d = disk.NewMemDisk(common.HD144.TotalSectors())
	sup, err := super.Format(suite.d, common.NTABLEBLK)
	suite.Require().NoError(err)
	suite.sup = sup
	suite.t = suite.load()
}

func (suite *TableSuite) load() *Table {
	t, err := Load(suite.d, suite.sup)
	suite.Require().NoError(err)
	return t
}

// putRecord writes ip straight to the medium, bypassing the table.
func (suite *TableSuite) putRecord(ip Inode) {
	b := buf.MkBuf(addr.MkInodeAddr(suite.sup.TableStart, ip.Inum), common.INODESZ, ip.Encode())
	suite.Require().NoError(b.WriteDirect(suite.d))
}

func (suite *TableSuite) checkNoOverlap(t *Table) {
	used := make(map[common.Bnum]common.Inum)
	for _, ip := range t.Live() {
		for b := ip.Start; b < ip.Start+ip.Count; b++ {
			other, ok := used[b]
			suite.False(ok, "block %d shared by %d and %d", b, other, ip.Inum)
			used[b] = ip.Inum
		}
	}
}

func TestTable(t *testing.T) {
	suite.Run(t, new(TableSuite))
}

func (suite *TableSuite) TestEmpty() {
	suite.Equal(uint64(280), suite.t.NInode())
	suite.Equal(uint64(280), suite.t.NumFreeInodes())
	suite.Equal(uint64(2880-36), suite.t.NumFreeBlocks())
	suite.Empty(suite.t.Live())
}

func (suite *TableSuite) TestEncodeLayout() {
	ip := Inode{Inum: 3, Id: 0x0102, Kind: File, Name: "ab", Start: 36, Count: 8, Size: 2}
	data := ip.Encode()
	suite.Equal(int(common.INODESZ), len(data))
	suite.Equal([]byte{0x02, 0x01, 0, 0}, data[0:4])
	suite.Equal(byte(1), data[4])
	suite.Equal([]byte("ab"), data[5:7])
	suite.Equal(make([]byte, 45), data[7:52])
	suite.Equal([]byte{36, 0, 0, 0}, data[52:56])
	suite.Equal([]byte{8, 0, 0, 0}, data[56:60])
	suite.Equal([]byte{2, 0, 0, 0}, data[60:64])
	suite.Equal(ip, Decode(3, data))
}

func (suite *TableSuite) TestAllocFirstFree() {
	a, err := suite.t.Alloc("a", File, common.NDEFAULTBLK)
	suite.Require().NoError(err)
	suite.Equal(common.Inum(0), a.Inum)
	suite.Equal(uint64(1), a.Id)
	suite.Equal(suite.sup.DataStart(), a.Start)

	b, err := suite.t.Alloc("b", Directory, 0)
	suite.Require().NoError(err)
	suite.Equal(common.Inum(1), b.Inum)
	suite.Equal(uint64(2), b.Id)
	suite.Equal(common.NULLBNUM, b.Start)

	suite.Require().NoError(suite.t.Free(a.Inum))
	c, err := suite.t.Alloc("c", File, 1)
	suite.Require().NoError(err)
	suite.Equal(common.Inum(0), c.Inum, "freed slot reused")
	suite.Equal(uint64(3), c.Id, "ids are never reused")
	suite.Equal(suite.sup.DataStart(), c.Start, "freed blocks reused first-fit")
}

func (suite *TableSuite) TestAllocErrors() {
	_, err := suite.t.Alloc(strings.Repeat("x", 48), File, 1)
	suite.Equal(ErrNameTooLong, err)
	_, err = suite.t.Alloc(strings.Repeat("x", 47), File, 1)
	suite.NoError(err)
	_, err = suite.t.Alloc("", File, 1)
	suite.Equal(ErrInvalidName, err)
	_, err = suite.t.Alloc("a\x00b", File, 1)
	suite.Equal(ErrInvalidName, err)

	_, err = suite.t.Alloc("dup", File, 1)
	suite.NoError(err)
	_, err = suite.t.Alloc("dup", Directory, 0)
	suite.Equal(ErrDuplicateName, err)

	_, err = suite.t.Alloc("huge", File, suite.t.NumFreeBlocks()+1)
	suite.Equal(ErrNoSpace, err)
	_, ok := suite.t.Lookup("huge")
	suite.False(ok)
}

func (suite *TableSuite) TestTableFull() {
	for i := uint64(0); i < suite.t.NInode(); i++ {
		_, err := suite.t.Alloc(fmt.Sprintf("f%d", i), Directory, 0)
		suite.Require().NoError(err)
	}
	before := suite.t.Live()
	_, err := suite.t.Alloc("one-more", File, 1)
	suite.Equal(ErrTableFull, err)
	_, err = suite.t.Alloc("one-more", File, 1)
	suite.Equal(ErrTableFull, err, "deterministic")
	suite.Equal(before, suite.t.Live(), "nothing evicted")
	suite.Equal(before, suite.load().Live(), "nothing overwritten on disk")
}

func (suite *TableSuite) TestPersistence() {
	a, _ := suite.t.Alloc("a", File, 3)
	_, _ = suite.t.Alloc("b", File, 2)
	suite.Require().NoError(suite.t.SetSize(a.Inum, 1000))
	suite.Require().NoError(suite.t.Free(common.Inum(1)))

	t2 := suite.load()
	a2, ok := t2.Lookup("a")
	suite.True(ok)
	suite.Equal(uint64(1000), a2.Size)
	_, ok = t2.Lookup("b")
	suite.False(ok)
	suite.Equal(suite.t.NumFreeBlocks(), t2.NumFreeBlocks(), "usage rebuilt from table")

	c, err := t2.Alloc("c", File, 1)
	suite.NoError(err)
	suite.Equal(uint64(2), c.Id, "next id derived from live ids")
}

func (suite *TableSuite) TestRandomNoOverlap() {
	r := rand.New(rand.NewSource(1))
	var live []string
	for i := 0; i < 500; i++ {
		if len(live) > 0 && r.Intn(3) == 0 {
			k := r.Intn(len(live))
			ip, _ := suite.t.Lookup(live[k])
			suite.Require().NoError(suite.t.Free(ip.Inum))
			live = append(live[:k], live[k+1:]...)
			continue
		}
		name := fmt.Sprintf("n%d", i)
		_, err := suite.t.Alloc(name, File, uint64(r.Intn(40)+1))
		if err == nil {
			live = append(live, name)
		} else {
			suite.True(errors.Is(err, ErrNoSpace) || errors.Is(err, ErrTableFull))
		}
		suite.checkNoOverlap(suite.t)
	}
	suite.checkNoOverlap(suite.load())
}

func (suite *TableSuite) expectCorrupt(ip Inode) {
	suite.putRecord(ip)
	_, err := Load(suite.d, suite.sup)
	suite.True(errors.Is(err, ErrCorrupt), "expected corrupt table for %v, got %v", ip, err)
	var cerr *CorruptError
	if suite.True(errors.As(err, &cerr)) {
		suite.Equal(ip.Inum, cerr.Inum)
	}
	suite.putRecord(Inode{Inum: ip.Inum})
}

func (suite *TableSuite) TestLoadValidation() {
	suite.putRecord(Inode{Inum: 0, Id: 5, Kind: File, Name: "ok", Start: 40, Count: 4, Size: 10})
	suite.load()

	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: 3, Name: "k"})
	suite.expectCorrupt(Inode{Inum: 1, Id: 0, Kind: File, Name: "zero"})
	suite.expectCorrupt(Inode{Inum: 1, Id: 5, Kind: File, Name: "dupid"})
	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: File, Name: "ok"})
	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: File, Name: ""})
	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: File, Name: "ov", Start: 43, Count: 2})
	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: File, Name: "meta", Start: 20, Count: 2})
	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: File, Name: "end", Start: 2879, Count: 2})
	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: File, Name: "big", Start: 100, Count: 1, Size: 513})
	suite.expectCorrupt(Inode{Inum: 1, Id: 6, Kind: Directory, Name: "nul", Start: 100})

	suite.load()
}

func (suite *TableSuite) TestLoadBadPadding() {
	data := Inode{Inum: 2, Id: 1, Kind: File, Name: "ab"}.Encode()
	data[10] = 'z'
	b := buf.MkBuf(addr.MkInodeAddr(suite.sup.TableStart, 2), common.INODESZ, data)
	suite.Require().NoError(b.WriteDirect(suite.d))
	_, err := Load(suite.d, suite.sup)
	suite.True(errors.Is(err, ErrCorrupt))
}

func (suite *TableSuite) TestFreeTwice() {
	a, _ := suite.t.Alloc("a", File, 1)
	suite.NoError(suite.t.Free(a.Inum))
	suite.Equal(ErrNoInode, suite.t.Free(a.Inum))
	_, err := suite.t.Get(common.Inum(suite.t.NInode()))
	suite.Equal(ErrNoInode, err)
}

func (suite *TableSuite) TestReplace() {
	a, err := suite.t.Alloc("a", File, 4)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.t.SetSize(a.Inum, 100))
	_, _ = suite.t.Alloc("b", File, 1)
	free := suite.t.NumFreeBlocks()

	a2, err := suite.t.Replace("a", File, 2)
	suite.Require().NoError(err)
	suite.Equal(a.Inum, a2.Inum, "same record")
	suite.Equal(uint64(3), a2.Id, "fresh id")
	suite.Equal(uint64(0), a2.Size)
	suite.Equal(a.Start, a2.Start, "old blocks reused first-fit")
	suite.Equal(free+2, suite.t.NumFreeBlocks())
	suite.checkNoOverlap(suite.t)

	got, ok := suite.load().Lookup("a")
	suite.True(ok)
	suite.Equal(a2, got)

	c, err := suite.t.Replace("c", Directory, 0)
	suite.NoError(err, "missing name is allocated")
	suite.Equal(common.Inum(2), c.Inum)
}

func (suite *TableSuite) TestReplaceNoSpaceKeepsOld() {
	a, err := suite.t.Alloc("a", File, 4)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.t.SetSize(a.Inum, 100))
	free := suite.t.NumFreeBlocks()

	_, err = suite.t.Replace("a", File, free+5)
	suite.Equal(ErrNoSpace, err)
	got, ok := suite.t.Lookup("a")
	suite.True(ok)
	suite.Equal(a.Id, got.Id)
	suite.Equal(uint64(100), got.Size)
	suite.Equal(free, suite.t.NumFreeBlocks(), "old extent still claimed")
	_, err = suite.t.Alloc("b", File, free)
	suite.NoError(err)
	suite.checkNoOverlap(suite.t)
}

// refuseWrites fails every write with an I/O error.
type refuseWrites struct {
	*disk.MemDisk
}

func (d refuseWrites) WriteBlock(a uint64, v disk.Block) error {
	return disk.MkError("write", a, disk.ErrIO)
}

func (suite *TableSuite) TestReplaceWriteFailureKeepsOld() {
	a, err := suite.t.Alloc("a", File, 4)
	suite.Require().NoError(err)
	t, err := Load(refuseWrites{suite.d}, suite.sup)
	suite.Require().NoError(err)
	free := t.NumFreeBlocks()

	_, err = t.Replace("a", File, 8)
	suite.True(errors.Is(err, disk.ErrIO))
	got, ok := t.Lookup("a")
	suite.True(ok)
	suite.Equal(a, got)
	suite.Equal(free, t.NumFreeBlocks())
	suite.Equal(a, suite.load().Live()[0], "record on disk untouched")
}
