package gpt

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-droidimg/internal/helpers"
	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

const partitionEntryMinSize = 128

// gptPartitionReader implements the GPTPartitionReader interface
type gptPartitionReader struct {
	partition *types.GPTPartition
}

// NewGPTPartitionReader parses a single partition entry
func NewGPTPartitionReader(data []byte, endian binary.ByteOrder) (interfaces.GPTPartitionReader, error) {
	if len(data) < partitionEntryMinSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "read gpt entry", "data too small for partition entry: %d bytes", len(data))
	}
	return &gptPartitionReader{partition: parsePartitionEntry(data, endian)}, nil
}

// ParsePartitionEntries decodes an entry array and returns the used slots in
// table order. Index holds each entry's slot number.
func ParsePartitionEntries(data []byte, count, entrySize uint32, endian binary.ByteOrder) ([]types.GPTPartition, error) {
	if entrySize < partitionEntryMinSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "read gpt entries", "invalid partition entry size %d", entrySize)
	}
	need := int64(count) * int64(entrySize)
	if int64(len(data)) < need {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "read gpt entries", "entry array truncated: %d bytes, need %d", len(data), need)
	}

	var partitions []types.GPTPartition
	for i := uint32(0); i < count; i++ {
		start := int64(i) * int64(entrySize)
		p := parsePartitionEntry(data[start:start+int64(entrySize)], endian)
		if p.TypeGUID.IsZero() {
			continue
		}
		p.Index = int(i)
		partitions = append(partitions, *p)
	}
	return partitions, nil
}

// parsePartitionEntry parses raw bytes into a GPTPartition structure
func parsePartitionEntry(data []byte, endian binary.ByteOrder) *types.GPTPartition {
	p := &types.GPTPartition{}
	copy(p.TypeGUID[:], data[0:16])
	copy(p.UniqueGUID[:], data[16:32])
	p.FirstLBA = endian.Uint64(data[32:40])
	p.LastLBA = endian.Uint64(data[40:48])
	p.Attributes = endian.Uint64(data[48:56])
	p.Name = helpers.DecodeUTF16LE(data[56 : 56+types.GPTPartitionNameSize])
	return p
}

// Partition returns the parsed entry
func (r *gptPartitionReader) Partition() *types.GPTPartition {
	return r.partition
}

// IsUsed reports whether the slot holds a partition
func (r *gptPartitionReader) IsUsed() bool {
	return !r.partition.TypeGUID.IsZero()
}

// TypeLabel returns a human label for the type GUID
func (r *gptPartitionReader) TypeLabel() string {
	return TypeLabel(r.partition.TypeGUID)
}
