// File: internal/interfaces/gpt.go
package interfaces

import "github.com/deploymenttheory/go-droidimg/internal/types"

// GPTHeaderReader provides methods for reading a GPT header sector
type GPTHeaderReader interface {
	// Header returns the parsed header
	Header() *types.GPTHeader

	// DiskGUID returns the disk GUID
	DiskGUID() types.GUID

	// UsableRange returns the first and last usable LBA
	UsableRange() (first, last uint64)

	// EntriesLBA returns the LBA of the partition entry array
	EntriesLBA() uint64

	// EntryCount returns the number of partition entry slots
	EntryCount() uint32

	// EntrySize returns the size of one partition entry
	EntrySize() uint32

	// EntriesSize returns the size of the whole entry array in bytes
	EntriesSize() int64

	// CRCValid reports whether the stored header CRC32 matches the header bytes
	CRCValid() bool
}

// GPTPartitionReader provides methods for reading a single partition entry
type GPTPartitionReader interface {
	// Partition returns the parsed entry
	Partition() *types.GPTPartition

	// IsUsed reports whether the type GUID is non-zero
	IsUsed() bool

	// TypeLabel returns a human label for the partition type GUID
	TypeLabel() string
}
