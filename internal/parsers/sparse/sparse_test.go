package sparse

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

func createTestSparseHeader(blockSize, totalBlocks, totalChunks uint32) []byte {
	return MarshalSparseHeader(&types.SparseHeader{
		BlockSize:   blockSize,
		TotalBlocks: totalBlocks,
		TotalChunks: totalChunks,
	}, binary.LittleEndian)
}

func TestSparseHeaderReader(t *testing.T) {
	data := createTestSparseHeader(4096, 100, 3)
	reader, err := NewSparseHeaderReader(data, binary.LittleEndian)
	require.NoError(t, err)

	assert.Equal(t, uint32(4096), reader.BlockSize())
	assert.Equal(t, uint32(100), reader.TotalBlocks())
	assert.Equal(t, uint32(3), reader.TotalChunks())
	assert.Equal(t, int64(409600), reader.RawSize())
	assert.Equal(t, 0, reader.ExtraHeaderBytes())
	assert.Equal(t, 0, reader.ExtraChunkHeaderBytes())
}

func TestSparseHeaderReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]byte)
		wantErr error
	}{
		{"bad magic", func(b []byte) { binary.LittleEndian.PutUint32(b[0:4], 0xDEADBEEF) }, types.ErrFormatInvalid},
		{"major version 2", func(b []byte) { binary.LittleEndian.PutUint16(b[4:6], 2) }, types.ErrUnsupported},
		{"short file header", func(b []byte) { binary.LittleEndian.PutUint16(b[8:10], 20) }, types.ErrFormatInvalid},
		{"short chunk header", func(b []byte) { binary.LittleEndian.PutUint16(b[10:12], 8) }, types.ErrFormatInvalid},
		{"zero block size", func(b []byte) { binary.LittleEndian.PutUint32(b[12:16], 0) }, types.ErrFormatInvalid},
		{"unaligned block size", func(b []byte) { binary.LittleEndian.PutUint32(b[12:16], 4097) }, types.ErrFormatInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := createTestSparseHeader(4096, 1, 1)
			tt.mutate(data)
			_, err := NewSparseHeaderReader(data, binary.LittleEndian)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := NewSparseHeaderReader(make([]byte, 10), binary.LittleEndian)
	assert.ErrorIs(t, err, types.ErrFormatInvalid)
}

func TestParseChunkHeader(t *testing.T) {
	tests := []struct {
		name        string
		chunkType   uint16
		blocks      uint32
		wantPayload int64
	}{
		{"raw", types.SparseChunkRaw, 3, 3 * 4096},
		{"fill", types.SparseChunkFill, 10, 4},
		{"dont care", types.SparseChunkDontCare, 7, 0},
		{"crc", types.SparseChunkCRC32, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalChunkHeader(tt.chunkType, tt.blocks, 4096, binary.LittleEndian)
			ch, err := ParseChunkHeader(data, 4096, types.SparseChunkHeaderSize, binary.LittleEndian)
			require.NoError(t, err)
			assert.Equal(t, tt.chunkType, ch.ChunkType)
			assert.Equal(t, tt.blocks, ch.ChunkSize)
			assert.Equal(t, tt.wantPayload, PayloadSize(ch, types.SparseChunkHeaderSize))
		})
	}
}

func TestParseChunkHeaderRejectsUnknownType(t *testing.T) {
	data := MarshalChunkHeader(0xCAC9, 1, 4096, binary.LittleEndian)
	_, err := ParseChunkHeader(data, 4096, types.SparseChunkHeaderSize, binary.LittleEndian)
	assert.ErrorIs(t, err, types.ErrFormatInvalid)
}

func TestParseChunkHeaderRejectsSizeMismatch(t *testing.T) {
	data := MarshalChunkHeader(types.SparseChunkRaw, 2, 4096, binary.LittleEndian)
	binary.LittleEndian.PutUint32(data[8:12], 12+4096)
	_, err := ParseChunkHeader(data, 4096, types.SparseChunkHeaderSize, binary.LittleEndian)
	assert.ErrorIs(t, err, types.ErrFormatInvalid)
}
