package disk

// Block is a 512-byte buffer
type Block = []byte

const BlockSize uint64 = 512

// BlockStore provides access to a logical block-based medium.
//
// Implementations translate their own failures into the errors in this
// package, so callers never see device-specific errors.
type BlockStore interface {
	// ReadBlock reads a block by address
	//
	// Fails with ErrOutOfRange unless a < BlockCount().
	ReadBlock(a uint64) (Block, error)

	// WriteBlock updates a block by address
	//
	// v must be exactly BlockSize bytes.
	WriteBlock(a uint64, v Block) error

	// BlockCount reports how big the medium is, in blocks
	BlockCount() uint64
}
