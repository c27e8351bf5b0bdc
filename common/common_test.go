package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeometryBijection(t *testing.T) {
	assert := assert.New(t)
	g := HD144
	assert.Equal(uint64(2880), g.TotalSectors())
	for lba := uint64(0); lba < g.TotalSectors(); lba++ {
		chs, ok := g.ToCHS(lba)
		assert.True(ok)
		back, ok := g.ToLBA(chs)
		assert.True(ok)
		assert.Equal(lba, back, "round trip through %v", chs)
	}
}

func TestGeometryCorners(t *testing.T) {
	assert := assert.New(t)
	g := HD144

	chs, _ := g.ToCHS(0)
	assert.Equal(CHS{0, 0, 1}, chs)
	chs, _ = g.ToCHS(17)
	assert.Equal(CHS{0, 0, 18}, chs)
	chs, _ = g.ToCHS(18)
	assert.Equal(CHS{0, 1, 1}, chs, "second head of cylinder 0")
	chs, _ = g.ToCHS(36)
	assert.Equal(CHS{1, 0, 1}, chs)
	chs, _ = g.ToCHS(2879)
	assert.Equal(CHS{79, 1, 18}, chs)

	_, ok := g.ToCHS(2880)
	assert.False(ok, "past the end")
	_, ok = g.ToLBA(CHS{0, 0, 0})
	assert.False(ok, "sectors count from 1")
	_, ok = g.ToLBA(CHS{80, 0, 1})
	assert.False(ok)
}

func TestLayoutFitsCylinderZero(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(8), INODEBLK)
	assert.Equal(HD144.SectorsPerCylinder(), 1+NTABLEBLK)
	assert.Equal(uint64(64), 4+1+NAMELEN+4+4+4)
}

func TestGeometryDecode(t *testing.T) {
	assert := assert.New(t)
	var g Geometry
	assert.NoError(g.Decode("80x2x18"))
	assert.Equal(HD144, g)
	assert.NoError(g.Decode("720K"))
	assert.Equal(Geometry{80, 2, 9}, g)
	assert.Equal("80x2x9", g.String())

	assert.Error(g.Decode("80x2"))
	assert.Error(g.Decode("80x3x18"), "at most two heads")
	assert.Error(g.Decode("ax2x18"))
	assert.Equal(Geometry{80, 2, 9}, g, "unchanged on error")
}
