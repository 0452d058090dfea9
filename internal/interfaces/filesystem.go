// File: internal/interfaces/filesystem.go
package interfaces

import "github.com/deploymenttheory/go-droidimg/internal/types"

// SuperblockReader provides a format-neutral view of a filesystem superblock
type SuperblockReader interface {
	// Type returns the filesystem type
	Type() types.FsType

	// IsValid reports whether the magic matched; other accessors are untrusted otherwise
	IsValid() bool

	// BlockSize returns the filesystem block size in bytes
	BlockSize() uint32

	// BlockCount returns the number of filesystem blocks
	BlockCount() uint64

	// InodeCount returns the number of inodes, zero when the format does not record it
	InodeCount() uint64

	// TotalSize returns BlockCount times BlockSize
	TotalSize() uint64

	// VolumeName returns the volume label
	VolumeName() string

	// UUID returns the volume UUID
	UUID() [16]byte

	// Info returns a summary of the superblock
	Info() types.FilesystemInfo
}
