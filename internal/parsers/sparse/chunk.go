package sparse

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// ParseChunkHeader parses a 12 byte chunk header and checks that its
// declared total size agrees with the chunk type
func ParseChunkHeader(data []byte, blockSize uint32, chunkHeaderSize uint16, endian binary.ByteOrder) (*types.SparseChunkHeader, error) {
	const op = "read sparse chunk"

	if len(data) < types.SparseChunkHeaderSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "data too small for chunk header: %d bytes", len(data))
	}

	ch := &types.SparseChunkHeader{
		ChunkType: endian.Uint16(data[0:2]),
		Reserved:  endian.Uint16(data[2:4]),
		ChunkSize: endian.Uint32(data[4:8]),
		TotalSize: endian.Uint32(data[8:12]),
	}

	payload := int64(ch.TotalSize) - int64(chunkHeaderSize)
	var want int64
	switch ch.ChunkType {
	case types.SparseChunkRaw:
		want = int64(ch.ChunkSize) * int64(blockSize)
	case types.SparseChunkFill, types.SparseChunkCRC32:
		want = 4
	case types.SparseChunkDontCare:
		want = 0
	default:
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "unknown chunk type 0x%04X", ch.ChunkType)
	}
	if payload != want {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "%s chunk payload is %d bytes, want %d",
			types.SparseChunkTypeName(ch.ChunkType), payload, want)
	}

	return ch, nil
}

// PayloadSize returns the number of payload bytes following a chunk header
func PayloadSize(ch *types.SparseChunkHeader, chunkHeaderSize uint16) int64 {
	return int64(ch.TotalSize) - int64(chunkHeaderSize)
}

// MarshalSparseHeader builds the 28 byte file header
func MarshalSparseHeader(h *types.SparseHeader, endian binary.ByteOrder) []byte {
	data := make([]byte, types.SparseHeaderSize)
	endian.PutUint32(data[0:4], types.SparseMagic)
	endian.PutUint16(data[4:6], types.SparseMajorVersion)
	endian.PutUint16(data[6:8], h.MinorVersion)
	endian.PutUint16(data[8:10], types.SparseHeaderSize)
	endian.PutUint16(data[10:12], types.SparseChunkHeaderSize)
	endian.PutUint32(data[12:16], h.BlockSize)
	endian.PutUint32(data[16:20], h.TotalBlocks)
	endian.PutUint32(data[20:24], h.TotalChunks)
	endian.PutUint32(data[24:28], h.ImageChecksum)
	return data
}

// MarshalChunkHeader builds a 12 byte chunk header. TotalSize is derived
// from the chunk type.
func MarshalChunkHeader(chunkType uint16, blocks, blockSize uint32, endian binary.ByteOrder) []byte {
	total := uint32(types.SparseChunkHeaderSize)
	switch chunkType {
	case types.SparseChunkRaw:
		total += blocks * blockSize
	case types.SparseChunkFill, types.SparseChunkCRC32:
		total += 4
	}

	data := make([]byte, types.SparseChunkHeaderSize)
	endian.PutUint16(data[0:2], chunkType)
	endian.PutUint32(data[4:8], blocks)
	endian.PutUint32(data[8:12], total)
	return data
}
