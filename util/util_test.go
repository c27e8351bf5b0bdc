package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMin(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(2), Min(2, 3))
	assert.Equal(uint64(2), Min(3, 2))
	assert.Equal(uint64(2), Min(2, 2))
}

func TestRoundUp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(4), RoundUp(10, 3))
	assert.Equal(uint64(3), RoundUp(9, 3), "exact division")
	assert.Equal(uint64(0), RoundUp(0, 3))
	assert.Equal(uint64(5), RoundUp(512*4+511, 512))
	assert.Equal(uint64(5), RoundUp(512*4+1, 512), "round up by sz-1")
}

func TestSumOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(false, SumOverflows(1<<31, 1<<31))
	assert.Equal(false, SumOverflows(1<<64-2, 1))
	assert.Equal(false, SumOverflows(1, 1<<64-2))
	assert.Equal(false, SumOverflows(1<<32, 1<<32))

	assert.Equal(true, SumOverflows(1, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<64-1, 1))
	assert.Equal(true, SumOverflows(2, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<63, 1<<63))
}

func TestDPrintfLevel(t *testing.T) {
	assert := assert.New(t)
	var out bytes.Buffer
	old, oldDebug := Log, Debug
	defer func() { Log, Debug = old, oldDebug }()
	SetOutput(&out)

	Debug = 1
	DPrintf(1, "seek to %d", 3)
	DPrintf(2, "too chatty")
	assert.Contains(out.String(), "seek to 3")
	assert.NotContains(out.String(), "too chatty")
}

func TestCloneByteSlice(t *testing.T) {
	s := []byte{1, 2, 3}
	c := CloneByteSlice(s)
	s[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, c)
}

func TestSetLevel(t *testing.T) {
	assert := assert.New(t)
	var out bytes.Buffer
	old, oldDebug := Log, Debug
	defer func() { Log, Debug = old, oldDebug }()
	SetOutput(&out)
	Debug = 1

	assert.NoError(SetLevel("info"))
	DPrintf(1, "hidden")
	DPrintf(0, "shown")
	assert.NotContains(out.String(), "hidden")
	assert.Contains(out.String(), "shown")

	assert.Error(SetLevel("loud"))
}

func TestDPrintfZeroIsWarning(t *testing.T) {
	var out bytes.Buffer
	old := Log
	defer func() { Log = old }()
	SetOutput(&out)

	DPrintf(0, "mounted read-only")
	assert.Contains(t, out.String(), `"level":"warn"`)
}
