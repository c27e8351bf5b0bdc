package inode

import (
	"bytes"
	"fmt"

	"github.com/mit-pdos/go-floppy/addr"
	"github.com/mit-pdos/go-floppy/alloc"
	"github.com/mit-pdos/go-floppy/buf"
	"github.com/mit-pdos/go-floppy/common"
	"github.com/mit-pdos/go-floppy/disk"
	"github.com/mit-pdos/go-floppy/super"
	"github.com/mit-pdos/go-floppy/util"
)

const maxId uint64 = 1<<32 - 1

// Table is the in-memory copy of the on-disk inode table. Records are
// written through to the medium on every change; block usage is never
// stored and is rebuilt from the live records by Load.
type Table struct {
	d      disk.BlockStore
	super  *super.FsSuper
	inodes []Inode
	names  map[string]common.Inum
	nextId uint64
	alloc  *alloc.Alloc
}

// Load reads every table block and checks each record. Any inconsistency
// yields a *CorruptError; a failure to read yields the block store's error.
func Load(d disk.BlockStore, sup *super.FsSuper) (*Table, error) {
	t := &Table{
		d:      d,
		super:  sup,
		inodes: make([]Inode, 0, sup.NInode()),
		names:  make(map[string]common.Inum),
		nextId: 1,
		alloc:  alloc.MkAlloc(sup.DataStart(), sup.NDataBlock()),
	}
	ids := make(map[uint64]common.Inum)
	for i := uint64(0); i < sup.TableLen; i++ {
		blk, err := d.ReadBlock(sup.TableStart + i)
		if err != nil {
			return nil, fmt.Errorf("reading inode table: %w", err)
		}
		for j := uint64(0); j < common.INODEBLK; j++ {
			inum := common.Inum(i*common.INODEBLK + j)
			a := addr.MkInodeAddr(sup.TableStart, inum)
			ip, raw := decode(inum, buf.MkBufLoad(a, common.INODESZ, blk))
			if err := t.check(ip, raw, ids); err != nil {
				return nil, err
			}
			t.inodes = append(t.inodes, ip)
		}
	}
	util.DPrintf(1, "load: %d live inodes, %d free blocks\n", len(t.names),
		t.alloc.NumFree())
	return t, nil
}

func (t *Table) check(ip Inode, raw []byte, ids map[uint64]common.Inum) error {
	if ip.Kind > Directory {
		return corrupt(ip.Inum, "unknown kind %d", uint8(ip.Kind))
	}
	if ip.IsFree() {
		return nil
	}
	if ip.Id == 0 {
		return corrupt(ip.Inum, "live inode with id 0")
	}
	if other, ok := ids[ip.Id]; ok {
		return corrupt(ip.Inum, "id %d already used by inode %d", ip.Id, other)
	}
	if err := ValidateName(ip.Name); err != nil {
		return corrupt(ip.Inum, "name %q: %v", ip.Name, err)
	}
	if !bytes.Equal(raw[len(ip.Name):], make([]byte, len(raw)-len(ip.Name))) {
		return corrupt(ip.Inum, "name %q not zero padded", ip.Name)
	}
	if other, ok := t.names[ip.Name]; ok {
		return corrupt(ip.Inum, "name %q already used by inode %d", ip.Name, other)
	}
	if ip.Count == 0 && ip.Start != common.NULLBNUM {
		return corrupt(ip.Inum, "empty extent at %d", ip.Start)
	}
	if ip.Count > 0 && !t.alloc.MarkUsed(ip.Start, ip.Count) {
		return corrupt(ip.Inum, "extent [%d+%d] out of bounds or overlapping",
			ip.Start, ip.Count)
	}
	if ip.Size > ip.Capacity() {
		return corrupt(ip.Inum, "size %d exceeds capacity %d", ip.Size, ip.Capacity())
	}
	ids[ip.Id] = ip.Inum
	t.names[ip.Name] = ip.Inum
	if ip.Id >= t.nextId {
		t.nextId = ip.Id + 1
	}
	return nil
}

func (t *Table) Super() *super.FsSuper {
	return t.super
}

func (t *Table) NInode() uint64 {
	return uint64(len(t.inodes))
}

// Get returns a copy of record inum.
func (t *Table) Get(inum common.Inum) (Inode, error) {
	if uint64(inum) >= t.NInode() {
		return Inode{}, ErrNoInode
	}
	return t.inodes[inum], nil
}

func (t *Table) Lookup(name string) (Inode, bool) {
	inum, ok := t.names[name]
	if !ok {
		return Inode{}, false
	}
	return t.inodes[inum], true
}

// Live returns the non-free inodes in table order.
func (t *Table) Live() []Inode {
	var live []Inode
	for _, ip := range t.inodes {
		if !ip.IsFree() {
			live = append(live, ip)
		}
	}
	return live
}

func (t *Table) NumFreeInodes() uint64 {
	return t.NInode() - uint64(len(t.names))
}

func (t *Table) NumFreeBlocks() uint64 {
	return t.alloc.NumFree()
}

func (t *Table) LargestFreeExtent() uint64 {
	return t.alloc.LargestFree()
}

func (t *Table) writeInode(ip Inode) error {
	b := buf.MkBuf(addr.MkInodeAddr(t.super.TableStart, ip.Inum), common.INODESZ, ip.Encode())
	return b.WriteDirect(t.d)
}

// Alloc takes the first free record for a new inode of nblocks contiguous
// blocks.
func (t *Table) Alloc(name string, kind Kind, nblocks uint64) (Inode, error) {
	if err := ValidateName(name); err != nil {
		return Inode{}, err
	}
	if kind != File && kind != Directory {
		return Inode{}, fmt.Errorf("%w: cannot create %v", ErrInvalidName, kind)
	}
	if _, ok := t.names[name]; ok {
		return Inode{}, ErrDuplicateName
	}
	var slot *Inode
	for i := range t.inodes {
		if t.inodes[i].IsFree() {
			slot = &t.inodes[i]
			break
		}
	}
	if slot == nil {
		return Inode{}, ErrTableFull
	}
	if t.nextId > maxId {
		return Inode{}, fmt.Errorf("%w: ids exhausted", ErrTableFull)
	}
	var start common.Bnum = common.NULLBNUM
	if nblocks > 0 {
		bn, ok := t.alloc.AllocExtent(nblocks)
		if !ok {
			return Inode{}, ErrNoSpace
		}
		start = bn
	}
	ip := Inode{
		Inum:  slot.Inum,
		Id:    t.nextId,
		Kind:  kind,
		Name:  name,
		Start: start,
		Count: nblocks,
	}
	if err := t.writeInode(ip); err != nil {
		if nblocks > 0 {
			t.alloc.FreeExtent(start, nblocks)
		}
		return Inode{}, err
	}
	*slot = ip
	t.names[name] = ip.Inum
	t.nextId++
	util.DPrintf(5, "alloc %v\n", ip)
	return ip, nil
}

// Replace gives name a fresh, empty inode of nblocks blocks in place of
// its current one. The old record is overwritten by a single record
// write, so on any failure the old inode survives unchanged. Handles to
// the old inode go stale. A name with no inode is allocated as by Alloc.
func (t *Table) Replace(name string, kind Kind, nblocks uint64) (Inode, error) {
	inum, ok := t.names[name]
	if !ok {
		return t.Alloc(name, kind, nblocks)
	}
	if kind != File && kind != Directory {
		return Inode{}, fmt.Errorf("%w: cannot create %v", ErrInvalidName, kind)
	}
	if t.nextId > maxId {
		return Inode{}, fmt.Errorf("%w: ids exhausted", ErrTableFull)
	}
	old := t.inodes[inum]
	if old.Count > 0 {
		t.alloc.FreeExtent(old.Start, old.Count)
	}
	restore := func() {
		if old.Count > 0 {
			t.alloc.MarkUsed(old.Start, old.Count)
		}
	}
	var start common.Bnum = common.NULLBNUM
	if nblocks > 0 {
		bn, ok := t.alloc.AllocExtent(nblocks)
		if !ok {
			restore()
			return Inode{}, ErrNoSpace
		}
		start = bn
	}
	ip := Inode{
		Inum:  inum,
		Id:    t.nextId,
		Kind:  kind,
		Name:  name,
		Start: start,
		Count: nblocks,
	}
	if err := t.writeInode(ip); err != nil {
		if nblocks > 0 {
			t.alloc.FreeExtent(start, nblocks)
		}
		restore()
		return Inode{}, err
	}
	t.inodes[inum] = ip
	t.nextId++
	util.DPrintf(5, "replace %v with %v\n", old, ip)
	return ip, nil
}

// Free returns record inum and its blocks. Blocks are only released once
// the record is durably free.
func (t *Table) Free(inum common.Inum) error {
	ip, err := t.Get(inum)
	if err != nil {
		return err
	}
	if ip.IsFree() {
		return ErrNoInode
	}
	if err := t.writeInode(Inode{Inum: inum}); err != nil {
		return err
	}
	if ip.Count > 0 {
		t.alloc.FreeExtent(ip.Start, ip.Count)
	}
	delete(t.names, ip.Name)
	t.inodes[inum] = Inode{Inum: inum}
	util.DPrintf(5, "free %v\n", ip)
	return nil
}

// SetSize records a new size for inum; it never exceeds the capacity.
func (t *Table) SetSize(inum common.Inum, size uint64) error {
	ip, err := t.Get(inum)
	if err != nil {
		return err
	}
	if ip.IsFree() {
		return ErrNoInode
	}
	if size > ip.Capacity() {
		panic("SetSize past capacity")
	}
	ip.Size = size
	if err := t.writeInode(ip); err != nil {
		return err
	}
	t.inodes[inum] = ip
	return nil
}
