package gpt

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// gptHeaderReader implements the GPTHeaderReader interface
type gptHeaderReader struct {
	header   *types.GPTHeader
	crcValid bool
	endian   binary.ByteOrder
}

// NewGPTHeaderReader creates a new GPTHeaderReader from the header sector
// (LBA 1). Only the signature and sizes are enforced; a stale CRC is
// reported through CRCValid rather than rejected.
func NewGPTHeaderReader(data []byte, endian binary.ByteOrder) (interfaces.GPTHeaderReader, error) {
	const op = "read gpt header"

	if len(data) < types.GPTHeaderSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "data too small for GPT header: %d bytes", len(data))
	}

	if string(data[0:8]) != types.GPTSignature {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "invalid GPT signature: got %q, want %q", data[0:8], types.GPTSignature)
	}

	header := parseGPTHeader(data, endian)

	if header.HeaderSize < types.GPTHeaderSize || int(header.HeaderSize) > len(data) {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "invalid GPT header size %d", header.HeaderSize)
	}
	if header.PartitionEntrySize < 128 || header.PartitionEntrySize%8 != 0 {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "invalid partition entry size %d", header.PartitionEntrySize)
	}

	return &gptHeaderReader{
		header:   header,
		crcValid: HeaderCRC(data[:header.HeaderSize], endian) == header.HeaderCRC32,
		endian:   endian,
	}, nil
}

// parseGPTHeader parses raw bytes into a GPTHeader structure
func parseGPTHeader(data []byte, endian binary.ByteOrder) *types.GPTHeader {
	h := &types.GPTHeader{}

	copy(h.Signature[:], data[0:8])
	h.Revision = endian.Uint32(data[8:12])
	h.HeaderSize = endian.Uint32(data[12:16])
	h.HeaderCRC32 = endian.Uint32(data[16:20])
	h.Reserved = endian.Uint32(data[20:24])
	h.CurrentLBA = endian.Uint64(data[24:32])
	h.BackupLBA = endian.Uint64(data[32:40])
	h.FirstUsableLBA = endian.Uint64(data[40:48])
	h.LastUsableLBA = endian.Uint64(data[48:56])
	copy(h.DiskGUID[:], data[56:72])
	h.PartitionEntriesLBA = endian.Uint64(data[72:80])
	h.NumberOfPartitionEntries = endian.Uint32(data[80:84])
	h.PartitionEntrySize = endian.Uint32(data[84:88])
	h.PartitionEntriesCRC32 = endian.Uint32(data[88:92])

	return h
}

// HeaderCRC computes the header CRC32 over data with the CRC field zeroed
func HeaderCRC(data []byte, endian binary.ByteOrder) uint32 {
	buf := make([]byte, len(data))
	copy(buf, data)
	endian.PutUint32(buf[16:20], 0)
	return crc32.ChecksumIEEE(buf)
}

// Header returns the parsed header
func (r *gptHeaderReader) Header() *types.GPTHeader {
	return r.header
}

// DiskGUID returns the disk GUID
func (r *gptHeaderReader) DiskGUID() types.GUID {
	return r.header.DiskGUID
}

// UsableRange returns the first and last usable LBA
func (r *gptHeaderReader) UsableRange() (uint64, uint64) {
	return r.header.FirstUsableLBA, r.header.LastUsableLBA
}

// EntriesLBA returns the LBA of the partition entry array
func (r *gptHeaderReader) EntriesLBA() uint64 {
	return r.header.PartitionEntriesLBA
}

// EntryCount returns the number of partition entry slots
func (r *gptHeaderReader) EntryCount() uint32 {
	return r.header.NumberOfPartitionEntries
}

// EntrySize returns the size of one partition entry
func (r *gptHeaderReader) EntrySize() uint32 {
	return r.header.PartitionEntrySize
}

// EntriesSize returns the size of the entry array in bytes
func (r *gptHeaderReader) EntriesSize() int64 {
	return int64(r.header.NumberOfPartitionEntries) * int64(r.header.PartitionEntrySize)
}

// CRCValid reports whether the stored header CRC matches
func (r *gptHeaderReader) CRCValid() bool {
	return r.crcValid
}
