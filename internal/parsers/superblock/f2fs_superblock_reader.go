package superblock

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-droidimg/internal/helpers"
	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// Volume name is 512 UTF-16 units starting at 124
const f2fsMinSuperblockSize = 124 + types.F2FSVolumeNameUnits*2

// f2fsSuperblockReader implements the SuperblockReader interface for F2FS
type f2fsSuperblockReader struct {
	superblock *types.F2FSSuperblock
}

// NewF2FSSuperblockReader parses the primary F2FS superblock at offset 1024
func NewF2FSSuperblockReader(data []byte, endian binary.ByteOrder) (interfaces.SuperblockReader, error) {
	if len(data) < f2fsMinSuperblockSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "read f2fs superblock", "data too small for f2fs superblock: %d bytes", len(data))
	}
	return &f2fsSuperblockReader{superblock: parseF2FSSuperblock(data, endian)}, nil
}

// parseF2FSSuperblock parses raw bytes into an F2FSSuperblock structure
func parseF2FSSuperblock(data []byte, endian binary.ByteOrder) *types.F2FSSuperblock {
	sb := &types.F2FSSuperblock{}

	sb.Magic = endian.Uint32(data[0:4])
	sb.MajorVersion = endian.Uint16(data[4:6])
	sb.MinorVersion = endian.Uint16(data[6:8])
	sb.LogSectorSize = endian.Uint32(data[8:12])
	sb.LogBlockSize = endian.Uint32(data[16:20])
	sb.LogBlocksPerSeg = endian.Uint32(data[20:24])
	sb.BlockCount = endian.Uint64(data[36:44])
	sb.SectionCount = endian.Uint32(data[44:48])
	sb.SegmentCount = endian.Uint32(data[48:52])
	sb.SegmentCountMain = endian.Uint32(data[68:72])
	sb.Segment0BlkAddr = endian.Uint32(data[72:76])
	sb.CheckpointBlkAddr = endian.Uint32(data[76:80])
	sb.RootIno = endian.Uint32(data[96:100])
	copy(sb.UUID[:], data[108:124])
	sb.VolumeName = helpers.DecodeUTF16LE(data[124:f2fsMinSuperblockSize])

	return sb
}

// Superblock returns the parsed superblock
func (r *f2fsSuperblockReader) Superblock() *types.F2FSSuperblock {
	return r.superblock
}

func (r *f2fsSuperblockReader) Type() types.FsType {
	return types.FsTypeF2FS
}

func (r *f2fsSuperblockReader) IsValid() bool {
	return r.superblock.IsValid()
}

func (r *f2fsSuperblockReader) BlockSize() uint32 {
	return r.superblock.BlockSize()
}

func (r *f2fsSuperblockReader) BlockCount() uint64 {
	return r.superblock.BlockCount
}

// InodeCount is always zero; F2FS keeps no inode total in its superblock
func (r *f2fsSuperblockReader) InodeCount() uint64 {
	return 0
}

func (r *f2fsSuperblockReader) TotalSize() uint64 {
	return r.superblock.TotalSize()
}

func (r *f2fsSuperblockReader) VolumeName() string {
	return r.superblock.VolumeName
}

func (r *f2fsSuperblockReader) UUID() [16]byte {
	return r.superblock.UUID
}

func (r *f2fsSuperblockReader) Info() types.FilesystemInfo {
	return summarize(r)
}
