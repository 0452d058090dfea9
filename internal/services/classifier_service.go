package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/helpers"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/bootimg"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/cpio"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/sparse"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/superblock"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// Leading magics for formats the classifier labels without decoding
var (
	elfMagic    = []byte{0x7f, 'E', 'L', 'F'}
	zipMagic    = []byte{'P', 'K', 0x03, 0x04}
	dtbMagic    = []byte{0xd0, 0x0d, 0xfe, 0xed}
	vbmetaMagic = []byte("AVB0")
)

const (
	dtbHeaderSize    = 40
	vbmetaHeaderSize = 256
	// maxChunkRegions bounds the per-chunk or per-entry regions listed
	maxChunkRegions = 1024
)

// ClassifierService identifies a file and maps its byte ranges
type ClassifierService struct {
	cfg         *config.Config
	compression *CompressionService
	gpt         *GPTService
}

// NewClassifierService creates a new classifier
func NewClassifierService(cfg *config.Config) *ClassifierService {
	return &ClassifierService{
		cfg:         cfg,
		compression: NewCompressionService(),
		gpt:         NewGPTService(cfg),
	}
}

// Classify maps the file at path read-only and classifies it
func (s *ClassifierService) Classify(ctx context.Context, path string) (*types.FileClassification, error) {
	const op = "classify"

	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	if info.Size() == 0 {
		return &types.FileClassification{Path: path, Type: types.FileTypeUnknown, Description: "Empty file"}, nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, types.WrapIOError(op, path, fmt.Errorf("failed to map file: %w", err))
	}
	defer data.Unmap()

	result, err := s.ClassifyBytes(ctx, data)
	if err != nil {
		return nil, withPath(err, path)
	}
	result.Path = path

	log.WithFields(log.Fields{
		"path":    path,
		"type":    result.Type,
		"regions": len(result.Regions),
	}).Debug("file classified")
	return result, nil
}

// ClassifyBytes classifies an in-memory image
func (s *ClassifierService) ClassifyBytes(ctx context.Context, data []byte) (*types.FileClassification, error) {
	if err := checkContext(ctx, "classify"); err != nil {
		return nil, err
	}

	result := &types.FileClassification{Size: int64(len(data)), Type: types.FileTypeUnknown}
	rb := &regionBuilder{size: int64(len(data))}

	var err error
	switch {
	case bytes.HasPrefix(data, []byte(types.BootMagic)):
		err = s.mapBootImage(data, result, rb)
	case bytes.HasPrefix(data, vbmetaMagic):
		mapVBMeta(data, result, rb)
	case bytes.HasPrefix(data, dtbMagic):
		mapDTB(data, result, rb)
	case bytes.HasPrefix(data, elfMagic):
		mapELF(data, result, rb)
	case bytes.HasPrefix(data, zipMagic):
		result.Type = types.FileTypeZip
		result.Description = "ZIP archive"
		rb.add(0, rb.size, types.RegionData, "ZIP archive", false)
	case cpio.HasMagic(data):
		err = mapCpio(ctx, data, result, rb)
	default:
		err = s.mapByProbe(ctx, data, result, rb)
	}
	if err != nil {
		return nil, err
	}

	result.Regions = rb.finish(data)
	return result, nil
}

// mapByProbe handles the formats found by superblock signature probing, then
// falls back to bare compressed streams
func (s *ClassifierService) mapByProbe(ctx context.Context, data []byte, result *types.FileClassification, rb *regionBuilder) error {
	switch superblock.DetectTypeBytes(data) {
	case types.FsTypeExt4:
		mapFilesystem(data, types.FsTypeExt4, types.FileTypeExt4, result, rb)
		return nil
	case types.FsTypeF2FS:
		mapFilesystem(data, types.FsTypeF2FS, types.FileTypeF2FS, result, rb)
		return nil
	case types.FsTypeEROFS:
		mapFilesystem(data, types.FsTypeEROFS, types.FileTypeEROFS, result, rb)
		return nil
	case types.FsTypeSparse:
		return mapSparse(ctx, data, result, rb)
	case types.FsTypeGPT:
		return s.mapGPT(data, result, rb)
	}

	if format := s.compression.Detect(data); format.IsCompressed() {
		result.Type = types.FileTypeCompressed
		result.Compression = format
		result.Description = fmt.Sprintf("%s compressed stream", format)
		rb.add(0, rb.size, types.RegionData, result.Description, false)
		return nil
	}

	result.Description = "Unrecognized data"
	return nil
}

func (s *ClassifierService) mapBootImage(data []byte, result *types.FileClassification, rb *regionBuilder) error {
	result.Type = types.FileTypeBootImage
	reader, err := bootimg.NewBootHeaderReader(data, binary.LittleEndian)
	if err != nil {
		log.WithError(err).Debug("boot magic present but header unreadable")
		result.Description = "Android boot image with an unreadable header"
		rb.add(0, types.BootMagicSize, types.RegionHeader, "Boot magic", false)
		return nil
	}
	h := reader.Header()
	layout := reader.Layout()

	result.Description = fmt.Sprintf("Android boot image v%d, page size %d", h.HeaderVersion, layout.PageSize)

	rb.add(0, int64(layout.HeaderSize), types.RegionHeader, fmt.Sprintf("Boot header v%d", h.HeaderVersion), false)

	components := []struct {
		offset int64
		size   uint32
		tag    string
		label  string
	}{
		{layout.KernelOffset, h.KernelSize, types.RegionKernel, "Kernel"},
		{layout.RamdiskOffset, h.RamdiskSize, types.RegionRamdisk, "Ramdisk"},
		{layout.SecondOffset, h.SecondSize, types.RegionSecond, "Second stage"},
		{layout.RecoveryDtboOffset, h.RecoveryDtboSize, types.RegionDtbo, "Recovery DTBO"},
		{layout.DtbOffset, h.DtbSize, types.RegionDtb, "DTB"},
		{layout.SignatureOffset, h.SignatureSize, types.RegionSignature, "Boot signature"},
	}
	for _, c := range components {
		if c.size == 0 {
			continue
		}
		label := fmt.Sprintf("%s (%s)", c.label, humanize.IBytes(uint64(c.size)))
		if c.tag == types.RegionRamdisk && c.offset+4 <= rb.size {
			format := s.compression.Detect(data[c.offset:])
			if format == types.CompressionNone && cpio.HasMagic(data[c.offset:]) {
				label += ", cpio"
			} else {
				label += ", " + format.String()
			}
		}
		rb.add(c.offset, c.offset+int64(c.size), c.tag, label, false)
	}
	return nil
}

func (s *ClassifierService) mapGPT(data []byte, result *types.FileClassification, rb *regionBuilder) error {
	result.Type = types.FileTypeGPTDisk
	table, err := s.gpt.ReadTableFrom(bytes.NewReader(data))
	if err != nil {
		log.WithError(err).Debug("gpt signature present but table unreadable")
		result.Description = "GPT disk with an unreadable partition table"
		rb.add(types.SectorSize, 2*types.SectorSize, types.RegionGPTHeader, "GPT header", true)
		return nil
	}

	result.Description = fmt.Sprintf("GPT disk with %d partitions", len(table.Partitions))

	h := table.Header
	entriesSize := int64(h.NumberOfPartitionEntries) * int64(h.PartitionEntrySize)
	rb.add(0, types.SectorSize, types.RegionMBR, "Protective MBR", false)
	rb.add(int64(h.CurrentLBA)*types.SectorSize, int64(h.CurrentLBA+1)*types.SectorSize, types.RegionGPTHeader, "Primary GPT header", false)
	entriesOff := int64(h.PartitionEntriesLBA) * types.SectorSize
	rb.add(entriesOff, entriesOff+entriesSize, types.RegionGPTEntries, fmt.Sprintf("Partition entries (%d slots)", h.NumberOfPartitionEntries), false)

	parts := append([]types.GPTPartition(nil), table.Partitions...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].FirstLBA < parts[j].FirstLBA })
	for _, p := range parts {
		start := p.StartOffset()
		rb.add(start, start+int64(p.SizeBytes()), types.RegionPartition,
			fmt.Sprintf("Partition %q (%s)", p.Name, humanize.IBytes(p.SizeBytes())), false)
	}

	// Backup structures are only labelled when the image is long enough to hold them
	backupHeader := int64(h.BackupLBA) * types.SectorSize
	if h.BackupLBA > h.CurrentLBA && backupHeader+types.SectorSize <= rb.size {
		backupEntries := backupHeader - entriesSize
		rb.add(backupEntries, backupHeader, types.RegionGPTEntries, "Backup partition entries", true)
		rb.add(backupHeader, backupHeader+types.SectorSize, types.RegionGPTHeader, "Backup GPT header", true)
	}
	return nil
}

func mapSparse(ctx context.Context, data []byte, result *types.FileClassification, rb *regionBuilder) error {
	result.Type = types.FileTypeSparseImage
	hr, err := sparse.NewSparseHeaderReader(data, binary.LittleEndian)
	if err != nil {
		log.WithError(err).Debug("sparse magic present but header invalid")
		result.Description = "Android sparse image with an invalid header"
		return nil
	}
	h := hr.Header()
	result.Description = fmt.Sprintf("Android sparse image, %d chunks expanding to %s", h.TotalChunks, humanize.IBytes(uint64(h.RawSize())))
	rb.add(0, int64(h.FileHeaderSize), types.RegionHeader, "Sparse header", false)

	off := int64(h.FileHeaderSize)
	var outBlock uint64
	for i := uint32(0); i < h.TotalChunks; i++ {
		if err := checkContext(ctx, "classify"); err != nil {
			return err
		}
		if off+int64(h.ChunkHeaderSize) > rb.size {
			break
		}
		ch, err := sparse.ParseChunkHeader(data[off:], h.BlockSize, h.ChunkHeaderSize, binary.LittleEndian)
		if err != nil {
			log.WithError(err).WithField("chunk", i).Debug("classifier stopped at bad sparse chunk")
			break
		}
		end := off + int64(ch.TotalSize)
		if i < maxChunkRegions {
			rb.add(off, end, types.RegionChunk, fmt.Sprintf("%s chunk: %d blocks at output block %d",
				types.SparseChunkTypeName(ch.ChunkType), ch.ChunkSize, outBlock), false)
		} else if i == maxChunkRegions {
			rb.add(off, rb.size, types.RegionChunk, fmt.Sprintf("%d further chunks", h.TotalChunks-i), false)
		}
		if ch.ChunkType != types.SparseChunkCRC32 {
			outBlock += uint64(ch.ChunkSize)
		}
		off = end
	}
	return nil
}

func mapFilesystem(data []byte, fsType types.FsType, fileType types.FileType, result *types.FileClassification, rb *regionBuilder) {
	result.Type = fileType
	reader, err := superblock.ReadSuperblock(bytes.NewReader(data), fsType)
	if err != nil || !reader.IsValid() {
		result.Description = fmt.Sprintf("%s signature with an unreadable superblock", fsType)
		rb.add(types.SuperblockOffset, types.SuperblockOffset+4, types.RegionSuperblock, "Superblock magic", true)
		return
	}

	name := reader.VolumeName()
	if name == "" {
		name = "unnamed"
	}
	result.Description = fmt.Sprintf("%s filesystem %q, %s", fsType, name, humanize.IBytes(reader.TotalSize()))

	var sbSize int64
	switch fsType {
	case types.FsTypeExt4:
		sbSize = types.Ext4SuperblockSize
	case types.FsTypeF2FS:
		sbSize = types.F2FSSuperblockSize
	default:
		sbSize = types.EROFSSuperblockSize
	}
	rb.add(0, types.SuperblockOffset, types.RegionPadding, "Boot block", true)
	rb.add(types.SuperblockOffset, types.SuperblockOffset+sbSize, types.RegionSuperblock,
		fmt.Sprintf("%s superblock (%d blocks of %d bytes)", fsType, reader.BlockCount(), reader.BlockSize()), true)
	rb.add(types.SuperblockOffset+sbSize, int64(reader.TotalSize()), types.RegionData, "Filesystem data", true)
}

func mapCpio(ctx context.Context, data []byte, result *types.FileClassification, rb *regionBuilder) error {
	r := cpio.NewReader(bytes.NewReader(data))
	var prevEnd int64
	count := 0
	for {
		if err := checkContext(ctx, "classify"); err != nil {
			return err
		}
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		end := r.Offset() + int64(entry.FileSize)
		end += (4 - end%4) % 4
		if count < maxChunkRegions {
			rb.add(prevEnd, end, types.RegionData, fmt.Sprintf("%s (%s)", entry.Name, humanize.IBytes(uint64(entry.FileSize))), false)
		}
		count++
		prevEnd = end
	}
	if r.Offset() > prevEnd {
		rb.add(prevEnd, r.Offset(), types.RegionMetadata, types.CpioTrailerName, false)
	}

	result.Type = types.FileTypeCpio
	result.Description = fmt.Sprintf("newc cpio archive with %d entries", count)
	return nil
}

func mapDTB(data []byte, result *types.FileClassification, rb *regionBuilder) {
	result.Type = types.FileTypeDTB

	count := 0
	off := int64(0)
	for off+dtbHeaderSize <= rb.size && bytes.HasPrefix(data[off:], dtbMagic) {
		total := int64(binary.BigEndian.Uint32(data[off+4:]))
		version := binary.BigEndian.Uint32(data[off+20:])
		if total < dtbHeaderSize {
			break
		}
		rb.add(off, off+dtbHeaderSize, types.RegionHeader, fmt.Sprintf("FDT header v%d", version), false)
		rb.add(off+dtbHeaderSize, off+total, types.RegionDtb, "Device tree structure", false)
		count++
		// Concatenated blobs are usually packed back to back
		off += total
	}
	result.Description = fmt.Sprintf("Flattened device tree (%d blobs)", count)
}

func mapVBMeta(data []byte, result *types.FileClassification, rb *regionBuilder) {
	result.Type = types.FileTypeVBMeta
	result.Description = "AVB vbmeta image"
	rb.add(0, vbmetaHeaderSize, types.RegionHeader, "vbmeta header", false)
	if rb.size < vbmetaHeaderSize {
		return
	}

	// Block sizes are untrusted; clamp them to the bytes actually present
	remaining := uint64(rb.size - vbmetaHeaderSize)
	auth, authClamped := clampSize(binary.BigEndian.Uint64(data[12:20]), remaining)
	aux, auxClamped := clampSize(binary.BigEndian.Uint64(data[20:28]), remaining-auth)
	result.Description = fmt.Sprintf("AVB vbmeta image v%d.%d", binary.BigEndian.Uint32(data[4:8]), binary.BigEndian.Uint32(data[8:12]))

	authEnd := vbmetaHeaderSize + int64(auth)
	rb.add(vbmetaHeaderSize, authEnd, types.RegionMetadata, truncatedLabel("Authentication data block", authClamped), false)
	rb.add(authEnd, authEnd+int64(aux), types.RegionMetadata, truncatedLabel("Auxiliary data block", auxClamped), false)
}

func clampSize(size, limit uint64) (uint64, bool) {
	if size > limit {
		return limit, true
	}
	return size, false
}

func truncatedLabel(label string, truncated bool) string {
	if truncated {
		return label + " (truncated)"
	}
	return label
}

func mapELF(data []byte, result *types.FileClassification, rb *regionBuilder) {
	result.Type = types.FileTypeELF

	headerSize, class := int64(52), "ELF32"
	if len(data) > 4 && data[4] == 2 {
		headerSize, class = 64, "ELF64"
	}
	result.Description = class + " executable"
	rb.add(0, headerSize, types.RegionHeader, class+" header", false)
	rb.add(headerSize, rb.size, types.RegionData, "ELF sections", false)
}

// regionBuilder collects regions in ascending order, clamps them to the
// file and fills the gaps between them
type regionBuilder struct {
	size    int64
	regions []types.FileRegion
}

func (b *regionBuilder) add(start, end int64, tag, desc string, speculative bool) {
	if start >= b.size || end <= start {
		return
	}
	if end > b.size {
		end = b.size
		desc += " (truncated)"
	}
	b.regions = append(b.regions, types.FileRegion{
		Start:       start,
		End:         end,
		Description: desc,
		Type:        tag,
		Speculative: speculative,
	})
}

// finish sorts the regions and labels every uncovered range
func (b *regionBuilder) finish(data []byte) []types.FileRegion {
	sort.SliceStable(b.regions, func(i, j int) bool { return b.regions[i].Start < b.regions[j].Start })

	var out []types.FileRegion
	var cursor int64
	for _, r := range b.regions {
		if r.Start > cursor {
			out = append(out, gapRegion(data, cursor, r.Start, types.RegionPadding))
		}
		out = append(out, r)
		if r.End > cursor {
			cursor = r.End
		}
	}
	switch {
	case cursor == 0 && b.size > 0:
		out = append(out, gapRegion(data, 0, b.size, types.RegionData))
	case cursor < b.size:
		out = append(out, gapRegion(data, cursor, b.size, types.RegionTrailing))
	}
	return out
}

func gapRegion(data []byte, start, end int64, tag string) types.FileRegion {
	desc := "Unmapped data"
	switch {
	case helpers.IsFilled(data[start:end], 0x00):
		desc = "Zero padding"
	case helpers.IsFilled(data[start:end], 0xFF):
		desc = "0xFF padding"
	}
	if tag == types.RegionTrailing {
		desc = "Trailing data: " + desc
	}
	return types.FileRegion{Start: start, End: end, Description: desc, Type: tag}
}
