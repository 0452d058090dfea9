package types

// Android sparse image constants
const (
	SparseMagic           = 0xED26FF3A
	SparseMajorVersion    = 1
	SparseMinorVersion    = 0
	SparseHeaderSize      = 28
	SparseChunkHeaderSize = 12
	SparseDefaultBlock    = 4096

	SparseChunkRaw      = 0xCAC1
	SparseChunkFill     = 0xCAC2
	SparseChunkDontCare = 0xCAC3
	SparseChunkCRC32    = 0xCAC4
)

// SparseHeader is the sparse file header
type SparseHeader struct {
	Magic           uint32
	MajorVersion    uint16
	MinorVersion    uint16
	FileHeaderSize  uint16
	ChunkHeaderSize uint16
	BlockSize       uint32
	TotalBlocks     uint32
	TotalChunks     uint32
	ImageChecksum   uint32
}

// RawSize returns the size of the expanded image
func (h *SparseHeader) RawSize() int64 {
	return int64(h.TotalBlocks) * int64(h.BlockSize)
}

// SparseChunkHeader precedes every chunk payload
type SparseChunkHeader struct {
	ChunkType uint16
	Reserved  uint16
	ChunkSize uint32
	TotalSize uint32
}

// SparseChunkTypeName returns a label for a chunk type
func SparseChunkTypeName(t uint16) string {
	switch t {
	case SparseChunkRaw:
		return "RAW"
	case SparseChunkFill:
		return "FILL"
	case SparseChunkDontCare:
		return "DONT_CARE"
	case SparseChunkCRC32:
		return "CRC32"
	default:
		return "UNKNOWN"
	}
}

// SparseDecodeResult summarises a decode run
type SparseDecodeResult struct {
	Header         SparseHeader
	RawChunks      int
	FillChunks     int
	DontCareChunks int
	CRCChunks      int
	BytesWritten   int64
}
