package sparse

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// sparseHeaderReader implements the SparseHeaderReader interface
type sparseHeaderReader struct {
	header *types.SparseHeader
}

// NewSparseHeaderReader validates and parses the 28 byte file header
func NewSparseHeaderReader(data []byte, endian binary.ByteOrder) (interfaces.SparseHeaderReader, error) {
	const op = "read sparse header"

	if len(data) < types.SparseHeaderSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "data too small for sparse header: %d bytes", len(data))
	}

	header := parseSparseHeader(data, endian)

	if header.Magic != types.SparseMagic {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "invalid sparse magic: 0x%08X", header.Magic)
	}
	if header.MajorVersion != types.SparseMajorVersion {
		return nil, types.Errorf(types.ErrKindUnsupported, op, "unsupported sparse major version %d", header.MajorVersion)
	}
	if header.FileHeaderSize < types.SparseHeaderSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "file header size %d below %d", header.FileHeaderSize, types.SparseHeaderSize)
	}
	if header.ChunkHeaderSize < types.SparseChunkHeaderSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "chunk header size %d below %d", header.ChunkHeaderSize, types.SparseChunkHeaderSize)
	}
	if header.BlockSize == 0 || header.BlockSize%4 != 0 {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "invalid block size %d", header.BlockSize)
	}

	return &sparseHeaderReader{header: header}, nil
}

// parseSparseHeader parses raw bytes into a SparseHeader structure
func parseSparseHeader(data []byte, endian binary.ByteOrder) *types.SparseHeader {
	return &types.SparseHeader{
		Magic:           endian.Uint32(data[0:4]),
		MajorVersion:    endian.Uint16(data[4:6]),
		MinorVersion:    endian.Uint16(data[6:8]),
		FileHeaderSize:  endian.Uint16(data[8:10]),
		ChunkHeaderSize: endian.Uint16(data[10:12]),
		BlockSize:       endian.Uint32(data[12:16]),
		TotalBlocks:     endian.Uint32(data[16:20]),
		TotalChunks:     endian.Uint32(data[20:24]),
		ImageChecksum:   endian.Uint32(data[24:28]),
	}
}

// Header returns the parsed header
func (r *sparseHeaderReader) Header() *types.SparseHeader {
	return r.header
}

// BlockSize returns the output block size
func (r *sparseHeaderReader) BlockSize() uint32 {
	return r.header.BlockSize
}

// TotalBlocks returns the number of output blocks
func (r *sparseHeaderReader) TotalBlocks() uint32 {
	return r.header.TotalBlocks
}

// TotalChunks returns the chunk count
func (r *sparseHeaderReader) TotalChunks() uint32 {
	return r.header.TotalChunks
}

// RawSize returns the expanded image size
func (r *sparseHeaderReader) RawSize() int64 {
	return r.header.RawSize()
}

// ExtraHeaderBytes returns the bytes to skip after the standard header
func (r *sparseHeaderReader) ExtraHeaderBytes() int {
	return int(r.header.FileHeaderSize) - types.SparseHeaderSize
}

// ExtraChunkHeaderBytes returns the bytes to skip after each chunk header
func (r *sparseHeaderReader) ExtraChunkHeaderBytes() int {
	return int(r.header.ChunkHeaderSize) - types.SparseChunkHeaderSize
}
