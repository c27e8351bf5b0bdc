package util

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var Debug uint64 = 0

// Log is the logger behind DPrintf.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

func SetOutput(w io.Writer) {
	Log = Log.Output(w)
}

// SetLevel drops messages below the named zerolog level ("info",
// "debug", ...).
func SetLevel(name string) error {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return err
	}
	Log = Log.Level(lvl)
	return nil
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		Log.WithLevel(zerologLevel(level)).Msgf(format, a...)
	}
}

func zerologLevel(level uint64) zerolog.Level {
	switch {
	case level == 0:
		return zerolog.WarnLevel
	case level <= 5:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// returns n+m>=2^64 (if it were computed at infinite precision)
func SumOverflows(n uint64, m uint64) bool {
	return n+m < n
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
