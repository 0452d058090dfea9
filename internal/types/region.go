package types

// FileType is the classifier's verdict for a whole file
type FileType string

const (
	FileTypeBootImage   FileType = "BOOT_IMAGE"
	FileTypeSparseImage FileType = "SPARSE_IMAGE"
	FileTypeGPTDisk     FileType = "GPT_DISK"
	FileTypeExt4        FileType = "EXT4"
	FileTypeF2FS        FileType = "F2FS"
	FileTypeEROFS       FileType = "EROFS"
	FileTypeCpio        FileType = "CPIO"
	FileTypeCompressed  FileType = "COMPRESSED"
	FileTypeDTB         FileType = "DTB"
	FileTypeVBMeta      FileType = "VBMETA"
	FileTypeELF         FileType = "ELF"
	FileTypeZip         FileType = "ZIP"
	FileTypeUnknown     FileType = "UNKNOWN"
)

// Region type tags
const (
	RegionHeader     = "header"
	RegionPadding    = "padding"
	RegionKernel     = "kernel"
	RegionRamdisk    = "ramdisk"
	RegionSecond     = "second"
	RegionDtbo       = "recovery_dtbo"
	RegionDtb        = "dtb"
	RegionSignature  = "signature"
	RegionMBR        = "mbr"
	RegionGPTHeader  = "gpt_header"
	RegionGPTEntries = "gpt_entries"
	RegionPartition  = "partition"
	RegionSuperblock = "superblock"
	RegionMetadata   = "metadata"
	RegionChunk      = "chunk"
	RegionData       = "data"
	RegionTrailing   = "trailing"
)

// FileRegion is a labelled byte range [Start, End)
type FileRegion struct {
	Start       int64  `json:"start" yaml:"start"`
	End         int64  `json:"end" yaml:"end"`
	Description string `json:"description" yaml:"description"`
	Type        string `json:"type" yaml:"type"`
	Speculative bool   `json:"speculative,omitempty" yaml:"speculative,omitempty"`
}

// Size returns the region length
func (r FileRegion) Size() int64 {
	return r.End - r.Start
}

// FileClassification is the classifier output
type FileClassification struct {
	Path        string            `json:"path" yaml:"path"`
	Size        int64             `json:"size" yaml:"size"`
	Type        FileType          `json:"type" yaml:"type"`
	Compression CompressionFormat `json:"-" yaml:"-"`
	Description string            `json:"description" yaml:"description"`
	Regions     []FileRegion      `json:"regions" yaml:"regions"`
}
