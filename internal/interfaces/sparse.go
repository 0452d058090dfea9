// File: internal/interfaces/sparse.go
package interfaces

import "github.com/deploymenttheory/go-droidimg/internal/types"

// SparseHeaderReader provides methods for reading an Android sparse file header
type SparseHeaderReader interface {
	// Header returns the parsed header
	Header() *types.SparseHeader

	// BlockSize returns the output block size
	BlockSize() uint32

	// TotalBlocks returns the number of output blocks
	TotalBlocks() uint32

	// TotalChunks returns the number of chunks that follow the header
	TotalChunks() uint32

	// RawSize returns the size of the expanded image
	RawSize() int64

	// ExtraHeaderBytes returns how many bytes beyond the standard header precede the first chunk
	ExtraHeaderBytes() int

	// ExtraChunkHeaderBytes returns how many bytes beyond the standard chunk header follow each chunk header
	ExtraChunkHeaderBytes() int
}
