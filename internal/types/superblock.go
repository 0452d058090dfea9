package types

// Filesystem signature constants
const (
	SuperblockOffset = 1024

	Ext4Magic            = 0xEF53
	Ext4MagicOffset      = 56
	Ext4SuperblockSize   = 1024
	Ext4Feature64Bit     = 0x80
	Ext4BaseBlockSize    = 1024
	F2FSMagic            = 0xF2F52010
	F2FSSuperblockSize   = 3072
	F2FSVolumeNameUnits  = 512
	EROFSMagic           = 0xE0F5E1E2
	EROFSSuperblockSize  = 128
	GPTSignatureOffset   = SectorSize
	SparseMagicOffset    = 0
	SignatureProbeLength = SuperblockOffset + 128
)

// FsType is the result of signature probing
type FsType string

const (
	FsTypeExt4    FsType = "EXT4"
	FsTypeF2FS    FsType = "F2FS"
	FsTypeEROFS   FsType = "EROFS"
	FsTypeSparse  FsType = "SPARSE"
	FsTypeGPT     FsType = "GPT"
	FsTypeUnknown FsType = "UNKNOWN"
)

// Ext4Superblock holds the ext4 superblock fields this engine reads
type Ext4Superblock struct {
	InodesCount     uint32
	BlocksCount     uint64
	FreeBlocksCount uint64
	FirstDataBlock  uint32
	LogBlockSize    uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	Magic           uint16
	State           uint16
	RevLevel        uint32
	InodeSize       uint16
	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureRoCompat uint32
	UUID            [16]byte
	VolumeName      string
	LastMounted     string
}

// IsValid reports whether the magic matched. Other fields are untrusted otherwise.
func (sb *Ext4Superblock) IsValid() bool {
	return sb.Magic == Ext4Magic
}

// BlockSize returns 1024 << s_log_block_size
func (sb *Ext4Superblock) BlockSize() uint32 {
	return Ext4BaseBlockSize << sb.LogBlockSize
}

// TotalSize returns blocks times block size
func (sb *Ext4Superblock) TotalSize() uint64 {
	return sb.BlocksCount * uint64(sb.BlockSize())
}

// F2FSSuperblock holds the f2fs superblock fields this engine reads
type F2FSSuperblock struct {
	Magic             uint32
	MajorVersion      uint16
	MinorVersion      uint16
	LogSectorSize     uint32
	LogBlockSize      uint32
	LogBlocksPerSeg   uint32
	BlockCount        uint64
	SectionCount      uint32
	SegmentCount      uint32
	SegmentCountMain  uint32
	Segment0BlkAddr   uint32
	CheckpointBlkAddr uint32
	RootIno           uint32
	UUID              [16]byte
	VolumeName        string
}

// IsValid reports whether the magic matched
func (sb *F2FSSuperblock) IsValid() bool {
	return sb.Magic == F2FSMagic
}

// BlockSize returns 1 << log_blocksize
func (sb *F2FSSuperblock) BlockSize() uint32 {
	return 1 << sb.LogBlockSize
}

// TotalSize returns blocks times block size
func (sb *F2FSSuperblock) TotalSize() uint64 {
	return sb.BlockCount * uint64(sb.BlockSize())
}

// EROFSSuperblock holds the erofs superblock fields this engine reads
type EROFSSuperblock struct {
	Magic           uint32
	Checksum        uint32
	FeatureCompat   uint32
	BlkSzBits       uint8
	RootNid         uint16
	Inodes          uint64
	BuildTime       uint64
	Blocks          uint32
	MetaBlkAddr     uint32
	UUID            [16]byte
	VolumeName      string
	FeatureIncompat uint32
}

// IsValid reports whether the magic matched
func (sb *EROFSSuperblock) IsValid() bool {
	return sb.Magic == EROFSMagic
}

// BlockSize returns 1 << blkszbits
func (sb *EROFSSuperblock) BlockSize() uint32 {
	return 1 << sb.BlkSzBits
}

// TotalSize returns blocks times block size
func (sb *EROFSSuperblock) TotalSize() uint64 {
	return uint64(sb.Blocks) * uint64(sb.BlockSize())
}

// FilesystemInfo is the format-neutral summary returned by the prober
type FilesystemInfo struct {
	Type       FsType `json:"type" yaml:"type"`
	BlockSize  uint32 `json:"block_size" yaml:"block_size"`
	BlockCount uint64 `json:"block_count" yaml:"block_count"`
	InodeCount uint64 `json:"inode_count" yaml:"inode_count"`
	TotalSize  uint64 `json:"total_size" yaml:"total_size"`
	VolumeName string `json:"volume_name" yaml:"volume_name"`
	UUID       string `json:"uuid" yaml:"uuid"`
	// Container is set when the filesystem was found inside another format
	Container FsType `json:"container,omitempty" yaml:"container,omitempty"`
}
