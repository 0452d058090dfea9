package gpt

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/deploymenttheory/go-droidimg/internal/helpers"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// MarshalProtectiveMBR builds sector 0 with a single 0xEE partition
// covering the disk (capped at 0xFFFFFFFF sectors)
func MarshalProtectiveMBR(totalSectors uint64) []byte {
	mbr := make([]byte, types.SectorSize)

	entry := mbr[types.MBRPartitionTableOffset : types.MBRPartitionTableOffset+16]
	// Status 0x00 (not bootable), CHS start 0/0/2, CHS end saturated
	entry[0] = 0x00
	entry[1], entry[2], entry[3] = 0x00, 0x02, 0x00
	entry[4] = types.MBRProtectivePartitionID
	entry[5], entry[6], entry[7] = 0xFF, 0xFF, 0xFF

	size := totalSectors - 1
	if size > 0xFFFFFFFF {
		size = 0xFFFFFFFF
	}
	binary.LittleEndian.PutUint32(entry[8:12], 1)
	binary.LittleEndian.PutUint32(entry[12:16], uint32(size))

	copy(mbr[types.MBRSignatureOffset:], types.MBRSignature)
	return mbr
}

// MarshalGPTHeader builds a header sector. HeaderCRC32 is computed and
// stored back into h; PartitionEntriesCRC32 must already be set.
func MarshalGPTHeader(h *types.GPTHeader, endian binary.ByteOrder) []byte {
	sector := make([]byte, types.SectorSize)
	if h.HeaderSize == 0 {
		h.HeaderSize = types.GPTHeaderSize
	}

	copy(sector[0:8], types.GPTSignature)
	endian.PutUint32(sector[8:12], h.Revision)
	endian.PutUint32(sector[12:16], h.HeaderSize)
	endian.PutUint32(sector[20:24], 0)
	endian.PutUint64(sector[24:32], h.CurrentLBA)
	endian.PutUint64(sector[32:40], h.BackupLBA)
	endian.PutUint64(sector[40:48], h.FirstUsableLBA)
	endian.PutUint64(sector[48:56], h.LastUsableLBA)
	copy(sector[56:72], h.DiskGUID[:])
	endian.PutUint64(sector[72:80], h.PartitionEntriesLBA)
	endian.PutUint32(sector[80:84], h.NumberOfPartitionEntries)
	endian.PutUint32(sector[84:88], h.PartitionEntrySize)
	endian.PutUint32(sector[88:92], h.PartitionEntriesCRC32)

	copy(h.Signature[:], types.GPTSignature)
	h.HeaderCRC32 = HeaderCRC(sector[:h.HeaderSize], endian)
	endian.PutUint32(sector[16:20], h.HeaderCRC32)
	return sector
}

// MarshalPartitionEntries builds the entry array for count slots of
// entrySize bytes, placing each partition at its Index slot
func MarshalPartitionEntries(partitions []types.GPTPartition, count, entrySize uint32, endian binary.ByteOrder) []byte {
	data := make([]byte, int(count)*int(entrySize))
	for _, p := range partitions {
		if p.Index < 0 || uint32(p.Index) >= count {
			continue
		}
		entry := data[p.Index*int(entrySize) : (p.Index+1)*int(entrySize)]
		copy(entry[0:16], p.TypeGUID[:])
		copy(entry[16:32], p.UniqueGUID[:])
		endian.PutUint64(entry[32:40], p.FirstLBA)
		endian.PutUint64(entry[40:48], p.LastLBA)
		endian.PutUint64(entry[48:56], p.Attributes)
		copy(entry[56:56+types.GPTPartitionNameSize], helpers.EncodeUTF16LE(p.Name, types.GPTPartitionNameSize))
	}
	return data
}

// EntriesCRC computes the CRC32 of a partition entry array
func EntriesCRC(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// IsProtectiveMBR reports whether sector 0 carries the boot signature and a
// 0xEE partition type
func IsProtectiveMBR(sector []byte) bool {
	if len(sector) < types.SectorSize {
		return false
	}
	return sector[types.MBRSignatureOffset] == types.MBRSignature[0] &&
		sector[types.MBRSignatureOffset+1] == types.MBRSignature[1] &&
		sector[types.MBRPartitionTypeOffset] == types.MBRProtectivePartitionID
}
