package superblock

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-droidimg/internal/helpers"
	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

const ext4MinSuperblockSize = 0x160

// ext4SuperblockReader implements the SuperblockReader interface for ext2/3/4
type ext4SuperblockReader struct {
	superblock *types.Ext4Superblock
}

// NewExt4SuperblockReader parses the superblock found 1024 bytes into the
// volume. A magic mismatch is not an error; IsValid reports it.
func NewExt4SuperblockReader(data []byte, endian binary.ByteOrder) (interfaces.SuperblockReader, error) {
	if len(data) < ext4MinSuperblockSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "read ext4 superblock", "data too small for ext4 superblock: %d bytes", len(data))
	}
	return &ext4SuperblockReader{superblock: parseExt4Superblock(data, endian)}, nil
}

// parseExt4Superblock parses raw bytes into an Ext4Superblock structure
func parseExt4Superblock(data []byte, endian binary.ByteOrder) *types.Ext4Superblock {
	sb := &types.Ext4Superblock{}

	sb.InodesCount = endian.Uint32(data[0:4])
	sb.BlocksCount = uint64(endian.Uint32(data[4:8]))
	sb.FreeBlocksCount = uint64(endian.Uint32(data[12:16]))
	sb.FirstDataBlock = endian.Uint32(data[20:24])
	sb.LogBlockSize = endian.Uint32(data[24:28])
	sb.BlocksPerGroup = endian.Uint32(data[32:36])
	sb.InodesPerGroup = endian.Uint32(data[40:44])
	sb.Magic = endian.Uint16(data[56:58])
	sb.State = endian.Uint16(data[58:60])
	sb.RevLevel = endian.Uint32(data[76:80])
	sb.InodeSize = endian.Uint16(data[88:90])
	sb.FeatureCompat = endian.Uint32(data[92:96])
	sb.FeatureIncompat = endian.Uint32(data[96:100])
	sb.FeatureRoCompat = endian.Uint32(data[100:104])
	copy(sb.UUID[:], data[104:120])
	sb.VolumeName = helpers.CString(data[120:136])
	sb.LastMounted = helpers.CString(data[136:200])

	if sb.FeatureIncompat&types.Ext4Feature64Bit != 0 {
		sb.BlocksCount |= uint64(endian.Uint32(data[0x150:0x154])) << 32
		sb.FreeBlocksCount |= uint64(endian.Uint32(data[0x158:0x15C])) << 32
	}

	return sb
}

// Superblock returns the parsed superblock
func (r *ext4SuperblockReader) Superblock() *types.Ext4Superblock {
	return r.superblock
}

// Type returns EXT4
func (r *ext4SuperblockReader) Type() types.FsType {
	return types.FsTypeExt4
}

// IsValid reports whether the magic matched
func (r *ext4SuperblockReader) IsValid() bool {
	return r.superblock.IsValid()
}

// BlockSize returns the block size
func (r *ext4SuperblockReader) BlockSize() uint32 {
	return r.superblock.BlockSize()
}

// BlockCount returns the block count
func (r *ext4SuperblockReader) BlockCount() uint64 {
	return r.superblock.BlocksCount
}

// InodeCount returns the inode count
func (r *ext4SuperblockReader) InodeCount() uint64 {
	return uint64(r.superblock.InodesCount)
}

// TotalSize returns the volume size in bytes
func (r *ext4SuperblockReader) TotalSize() uint64 {
	return r.superblock.TotalSize()
}

// VolumeName returns the volume label
func (r *ext4SuperblockReader) VolumeName() string {
	return r.superblock.VolumeName
}

// UUID returns the volume UUID
func (r *ext4SuperblockReader) UUID() [16]byte {
	return r.superblock.UUID
}

// Info returns a summary of the superblock
func (r *ext4SuperblockReader) Info() types.FilesystemInfo {
	return summarize(r)
}

// summarize builds a FilesystemInfo from any SuperblockReader
func summarize(r interfaces.SuperblockReader) types.FilesystemInfo {
	return types.FilesystemInfo{
		Type:       r.Type(),
		BlockSize:  r.BlockSize(),
		BlockCount: r.BlockCount(),
		InodeCount: r.InodeCount(),
		TotalSize:  r.TotalSize(),
		VolumeName: r.VolumeName(),
		UUID:       uuid.UUID(r.UUID()).String(),
	}
}
