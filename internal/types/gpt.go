package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GPT constants
const (
	SectorSize               = 512
	GPTSignature             = "EFI PART"
	GPTRevision1             = 0x00010000
	GPTHeaderSize            = 92
	GPTHeaderLBA             = 1
	GPTEntriesLBA            = 2
	GPTDefaultEntryCount     = 128
	GPTDefaultEntrySize      = 128
	GPTFirstUsableLBA        = 34
	GPTPartitionNameUnits    = 36
	GPTPartitionNameSize     = GPTPartitionNameUnits * 2
	MBRSignatureOffset       = 510
	MBRPartitionTableOffset  = 446
	MBRPartitionTypeOffset   = 450
	MBRProtectivePartitionID = 0xEE
)

// MBRSignature is the boot signature stored at bytes 510-511
var MBRSignature = []byte{0x55, 0xAA}

// GUID is a GUID in GPT on-disk byte order (first three groups little endian)
type GUID [16]byte

// IsZero reports whether every byte of the GUID is zero
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// String formats the GUID in the canonical mixed-endian string form
func (g GUID) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		g[3], g[2], g[1], g[0],
		g[5], g[4],
		g[7], g[6],
		g[8], g[9],
		g[10], g[11], g[12], g[13], g[14], g[15])
}

// UUID converts the GUID to RFC 4122 byte order
func (g GUID) UUID() uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = g[3], g[2], g[1], g[0]
	u[4], u[5] = g[5], g[4]
	u[6], u[7] = g[7], g[6]
	copy(u[8:], g[8:])
	return u
}

// GUIDFromUUID converts an RFC 4122 UUID into GPT byte order
func GUIDFromUUID(u uuid.UUID) GUID {
	var g GUID
	g[0], g[1], g[2], g[3] = u[3], u[2], u[1], u[0]
	g[4], g[5] = u[5], u[4]
	g[6], g[7] = u[7], u[6]
	copy(g[8:], u[8:])
	return g
}

// ParseGUID parses a GUID string such as "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return GUID{}, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return GUIDFromUUID(u), nil
}

// MarshalText renders the canonical string form
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText parses the canonical string form
func (g *GUID) UnmarshalText(text []byte) error {
	parsed, err := ParseGUID(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// NewRandomGUID returns a random (version 4) GUID
func NewRandomGUID() GUID {
	return GUIDFromUUID(uuid.New())
}

// GPTHeader is the GUID partition table header
type GPTHeader struct {
	Signature                [8]byte
	Revision                 uint32
	HeaderSize               uint32
	HeaderCRC32              uint32
	Reserved                 uint32
	CurrentLBA               uint64
	BackupLBA                uint64
	FirstUsableLBA           uint64
	LastUsableLBA            uint64
	DiskGUID                 GUID
	PartitionEntriesLBA      uint64
	NumberOfPartitionEntries uint32
	PartitionEntrySize       uint32
	PartitionEntriesCRC32    uint32
}

// GPTPartition is one used partition entry
type GPTPartition struct {
	Index      int
	TypeGUID   GUID
	UniqueGUID GUID
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       string
}

// SizeBytes returns the partition size in bytes
func (p *GPTPartition) SizeBytes() uint64 {
	if p.LastLBA < p.FirstLBA {
		return 0
	}
	return (p.LastLBA - p.FirstLBA + 1) * SectorSize
}

// StartOffset returns the byte offset of the first sector
func (p *GPTPartition) StartOffset() int64 {
	return int64(p.FirstLBA) * SectorSize
}

// GPTTable is a parsed partition table with checksum status
type GPTTable struct {
	Header          GPTHeader
	Partitions      []GPTPartition
	HeaderCRCValid  bool
	EntriesCRCValid bool
}

// FindPartition returns the partition with the given name
func (t *GPTTable) FindPartition(name string) (*GPTPartition, bool) {
	for i := range t.Partitions {
		if t.Partitions[i].Name == name {
			return &t.Partitions[i], true
		}
	}
	return nil, false
}

// PartitionSpec describes a partition to create. FirstLBA zero means the next
// free sector. TypeGUID zero defaults to the Linux filesystem data type.
type PartitionSpec struct {
	Name       string
	Size       uint64
	TypeGUID   GUID
	FirstLBA   uint64
	Attributes uint64
}

// PartitionUsage is the trailing fill analysis of a partition
type PartitionUsage struct {
	Name       string
	Size       uint64
	UsedBytes  uint64
	SlackBytes uint64
	FillByte   byte
	Empty      bool
}

// ExtractedPartition records one partition written by a batch extraction
type ExtractedPartition struct {
	Name  string
	Path  string
	Bytes int64
}
