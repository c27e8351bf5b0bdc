package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mit-pdos/go-floppy/disk"
)

const (
	INODESZ  uint64 = 64 // on-disk size
	INODEBLK uint64 = disk.BlockSize / INODESZ
	NAMELEN  uint64 = 47

	SUPERBLK   Bnum   = 0
	TABLESTART Bnum   = 1
	NTABLEBLK  uint64 = 35 // superblock + table fill cylinder 0

	NDEFAULTBLK uint64 = 8 // extent handed to a new file

	MAXRETRIES uint64 = 5
)

// Inum is the index of an inode record within the table.
type Inum uint64
type Bnum = uint64

const (
	NULLBNUM Bnum = 0
)

// Geometry describes the physical layout of a medium.
type Geometry struct {
	Cylinders uint64 `yaml:"cylinders"`
	Heads     uint64 `yaml:"heads"`
	Sectors   uint64 `yaml:"sectors"` // per track
}

// HD144 is a 3.5" high-density diskette.
var HD144 = Geometry{Cylinders: 80, Heads: 2, Sectors: 18}

var namedGeometry = map[string]Geometry{
	"1.44M": HD144,
	"1.2M":  {Cylinders: 80, Heads: 2, Sectors: 15},
	"720K":  {Cylinders: 80, Heads: 2, Sectors: 9},
	"360K":  {Cylinders: 40, Heads: 2, Sectors: 9},
	"2.88M": {Cylinders: 80, Heads: 2, Sectors: 36},
}

// NamedGeometry looks up a standard medium by its size, e.g. "720K".
func NamedGeometry(name string) (Geometry, bool) {
	g, ok := namedGeometry[name]
	return g, ok
}

// CHS addresses one sector; Sector counts from 1.
type CHS struct {
	Cylinder uint64
	Head     uint64
	Sector   uint64
}

func (c CHS) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Cylinder, c.Head, c.Sector)
}

func (g Geometry) TotalSectors() uint64 {
	return g.Cylinders * g.Heads * g.Sectors
}

func (g Geometry) SectorsPerCylinder() uint64 {
	return g.Heads * g.Sectors
}

func (g Geometry) Valid() bool {
	return g.Cylinders > 0 && g.Heads > 0 && g.Sectors > 0 &&
		g.Cylinders <= 256 && g.Heads <= 2 && g.Sectors <= 255
}

// ToCHS translates lba; ok is false when lba is past the end of the medium.
func (g Geometry) ToCHS(lba uint64) (CHS, bool) {
	if lba >= g.TotalSectors() {
		return CHS{}, false
	}
	return CHS{
		Cylinder: lba / g.SectorsPerCylinder(),
		Head:     (lba % g.SectorsPerCylinder()) / g.Sectors,
		Sector:   lba%g.Sectors + 1,
	}, true
}

func (g Geometry) ToLBA(c CHS) (uint64, bool) {
	if c.Cylinder >= g.Cylinders || c.Head >= g.Heads ||
		c.Sector == 0 || c.Sector > g.Sectors {
		return 0, false
	}
	return (c.Cylinder*g.Heads+c.Head)*g.Sectors + (c.Sector - 1), true
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Cylinders, g.Heads, g.Sectors)
}

// Decode parses a geometry written as CxHxS ("80x2x18") or as one of the
// format names 1.44M, 1.2M, 720K, 360K.
func (g *Geometry) Decode(value string) error {
	if ng, ok := namedGeometry[value]; ok {
		*g = ng
		return nil
	}
	parts := strings.Split(value, "x")
	if len(parts) != 3 {
		return fmt.Errorf("geometry %q: want CxHxS", value)
	}
	var n [3]uint64
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return fmt.Errorf("geometry %q: %w", value, err)
		}
		n[i] = v
	}
	ng := Geometry{Cylinders: n[0], Heads: n[1], Sectors: n[2]}
	if !ng.Valid() {
		return fmt.Errorf("geometry %q out of range", value)
	}
	*g = ng
	return nil
}
