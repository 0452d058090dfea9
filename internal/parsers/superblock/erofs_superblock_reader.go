package superblock

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-droidimg/internal/helpers"
	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// erofsSuperblockReader implements the SuperblockReader interface for EROFS
type erofsSuperblockReader struct {
	superblock *types.EROFSSuperblock
}

// NewEROFSSuperblockReader parses the EROFS superblock at offset 1024
func NewEROFSSuperblockReader(data []byte, endian binary.ByteOrder) (interfaces.SuperblockReader, error) {
	if len(data) < types.EROFSSuperblockSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "read erofs superblock", "data too small for erofs superblock: %d bytes", len(data))
	}
	return &erofsSuperblockReader{superblock: parseEROFSSuperblock(data, endian)}, nil
}

// parseEROFSSuperblock parses raw bytes into an EROFSSuperblock structure
func parseEROFSSuperblock(data []byte, endian binary.ByteOrder) *types.EROFSSuperblock {
	sb := &types.EROFSSuperblock{}

	sb.Magic = endian.Uint32(data[0:4])
	sb.Checksum = endian.Uint32(data[4:8])
	sb.FeatureCompat = endian.Uint32(data[8:12])
	sb.BlkSzBits = data[12]
	sb.RootNid = endian.Uint16(data[14:16])
	sb.Inodes = endian.Uint64(data[16:24])
	sb.BuildTime = endian.Uint64(data[24:32])
	sb.Blocks = endian.Uint32(data[36:40])
	sb.MetaBlkAddr = endian.Uint32(data[40:44])
	copy(sb.UUID[:], data[48:64])
	sb.VolumeName = helpers.CString(data[64:80])
	sb.FeatureIncompat = endian.Uint32(data[80:84])

	return sb
}

// Superblock returns the parsed superblock
func (r *erofsSuperblockReader) Superblock() *types.EROFSSuperblock {
	return r.superblock
}

func (r *erofsSuperblockReader) Type() types.FsType {
	return types.FsTypeEROFS
}

func (r *erofsSuperblockReader) IsValid() bool {
	return r.superblock.IsValid()
}

func (r *erofsSuperblockReader) BlockSize() uint32 {
	return r.superblock.BlockSize()
}

func (r *erofsSuperblockReader) BlockCount() uint64 {
	return uint64(r.superblock.Blocks)
}

func (r *erofsSuperblockReader) InodeCount() uint64 {
	return r.superblock.Inodes
}

func (r *erofsSuperblockReader) TotalSize() uint64 {
	return r.superblock.TotalSize()
}

func (r *erofsSuperblockReader) VolumeName() string {
	return r.superblock.VolumeName
}

func (r *erofsSuperblockReader) UUID() [16]byte {
	return r.superblock.UUID
}

func (r *erofsSuperblockReader) Info() types.FilesystemInfo {
	return summarize(r)
}
