package alloc

import (
	"github.com/mit-pdos/go-floppy/util"
)

// Alloc tracks which blocks in [start, start+len) hold file data, as a bit
// map kept only in memory. Bit 0 corresponds to block start, bit 1 to
// start+1, and so on. The map is rebuilt from the inode table at mount.
type Alloc struct {
	start  uint64
	len    uint64
	bitmap []byte
}

func MkAlloc(start uint64, len uint64) *Alloc {
	a := &Alloc{
		start:  start,
		len:    len,
		bitmap: make([]byte, util.RoundUp(len, 8)),
	}
	return a
}

func (a *Alloc) Start() uint64 { return a.start }
func (a *Alloc) Len() uint64   { return a.len }

func (a *Alloc) inRange(bn uint64, n uint64) bool {
	return bn >= a.start && !util.SumOverflows(bn, n) && bn+n <= a.start+a.len
}

func (a *Alloc) used(i uint64) bool {
	return a.bitmap[i/8]&(1<<(i%8)) != 0
}

func (a *Alloc) set(i uint64, v bool) {
	if v {
		a.bitmap[i/8] = a.bitmap[i/8] | (1 << (i % 8))
	} else {
		a.bitmap[i/8] = a.bitmap[i/8] & ^(1 << (i % 8))
	}
}

func (a *Alloc) IsUsed(bn uint64) bool {
	if !a.inRange(bn, 1) {
		return false
	}
	return a.used(bn - a.start)
}

// MarkUsed claims [bn, bn+n). It claims nothing and returns false if the
// range leaves the region or overlaps a block that is already used.
func (a *Alloc) MarkUsed(bn uint64, n uint64) bool {
	if !a.inRange(bn, n) {
		return false
	}
	for i := bn - a.start; i < bn-a.start+n; i++ {
		if a.used(i) {
			return false
		}
	}
	for i := bn - a.start; i < bn-a.start+n; i++ {
		a.set(i, true)
	}
	return true
}

// AllocExtent finds the first run of n free blocks and claims it.
func (a *Alloc) AllocExtent(n uint64) (uint64, bool) {
	if n == 0 || n > a.len {
		return 0, false
	}
	var run uint64 = 0
	for i := uint64(0); i < a.len; i++ {
		if a.used(i) {
			run = 0
			continue
		}
		run = run + 1
		if run == n {
			first := i + 1 - n
			for j := first; j <= i; j++ {
				a.set(j, true)
			}
			util.DPrintf(5, "AllocExtent: %d blocks at %d\n", n, a.start+first)
			return a.start + first, true
		}
	}
	return 0, false
}

func (a *Alloc) FreeExtent(bn uint64, n uint64) {
	if !a.inRange(bn, n) {
		panic("FreeExtent")
	}
	for i := bn - a.start; i < bn-a.start+n; i++ {
		a.set(i, false)
	}
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

func (a *Alloc) NumFree() uint64 {
	var used uint64
	for _, b := range a.bitmap {
		used += popCnt(b)
	}
	return a.len - used
}

// LargestFree reports the longest run of free blocks.
func (a *Alloc) LargestFree() uint64 {
	var best, run uint64
	for i := uint64(0); i < a.len; i++ {
		if a.used(i) {
			run = 0
			continue
		}
		run++
		if run > best {
			best = run
		}
	}
	return best
}
