package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/device"
	"github.com/deploymenttheory/go-droidimg/internal/helpers"
	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/gpt"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// Entry arrays above this size are treated as corrupt
const maxEntryArraySize = 4 << 20

// GPTService reads, builds and extracts from GPT partitioned disk images
type GPTService struct {
	cfg *config.Config
}

// NewGPTService creates a new GPT service
func NewGPTService(cfg *config.Config) *GPTService {
	return &GPTService{cfg: cfg}
}

// ReadHeader parses the primary GPT header of the image at path
func (s *GPTService) ReadHeader(path string) (interfaces.GPTHeaderReader, error) {
	dev, err := device.Open(path, s.cfg)
	if err != nil {
		return nil, types.WrapIOError("read gpt header", path, err)
	}
	defer dev.Close()

	return s.readHeader(dev)
}

func (s *GPTService) readHeader(r io.ReaderAt) (interfaces.GPTHeaderReader, error) {
	sector, err := readUpTo(r, types.GPTHeaderLBA*types.SectorSize, types.SectorSize)
	if err != nil {
		return nil, err
	}
	return gpt.NewGPTHeaderReader(sector, binary.LittleEndian)
}

// ReadTable parses the primary header and entry array of the image at path
func (s *GPTService) ReadTable(path string) (*types.GPTTable, error) {
	dev, err := device.Open(path, s.cfg)
	if err != nil {
		return nil, types.WrapIOError("read gpt", path, err)
	}
	defer dev.Close()

	table, err := s.ReadTableFrom(dev)
	if err != nil {
		return nil, withPath(err, path)
	}
	return table, nil
}

// ReadTableFrom parses a GPT from any random access source. CRC mismatches
// are logged and reported on the table but never rejected.
func (s *GPTService) ReadTableFrom(r io.ReaderAt) (*types.GPTTable, error) {
	const op = "read gpt"

	header, err := s.readHeader(r)
	if err != nil {
		return nil, err
	}

	size := header.EntriesSize()
	if size > maxEntryArraySize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "partition entry array of %d bytes is implausible", size)
	}
	entries, err := readUpTo(r, int64(header.EntriesLBA())*types.SectorSize, int(size))
	if err != nil {
		return nil, err
	}

	partitions, err := gpt.ParsePartitionEntries(entries, header.EntryCount(), header.EntrySize(), binary.LittleEndian)
	if err != nil {
		return nil, err
	}

	table := &types.GPTTable{
		Header:          *header.Header(),
		Partitions:      partitions,
		HeaderCRCValid:  header.CRCValid(),
		EntriesCRCValid: gpt.EntriesCRC(entries) == header.Header().PartitionEntriesCRC32,
	}
	if !table.HeaderCRCValid {
		log.WithField("stored", fmt.Sprintf("0x%08X", table.Header.HeaderCRC32)).Warn("gpt header CRC32 mismatch")
	}
	if !table.EntriesCRCValid {
		log.WithField("stored", fmt.Sprintf("0x%08X", table.Header.PartitionEntriesCRC32)).Warn("gpt partition entries CRC32 mismatch")
	}
	return table, nil
}

// ReadPartitions returns the used partition entries of the image at path
func (s *GPTService) ReadPartitions(path string) ([]types.GPTPartition, error) {
	table, err := s.ReadTable(path)
	if err != nil {
		return nil, err
	}
	return table.Partitions, nil
}

// ExtractPartition copies the named partition's sectors to outPath
func (s *GPTService) ExtractPartition(ctx context.Context, image, name, outPath string, progress types.ProgressFunc) (int64, error) {
	const op = "extract partition"

	table, err := s.ReadTable(image)
	if err != nil {
		return 0, err
	}
	part, ok := table.FindPartition(name)
	if !ok {
		return 0, types.NewCodecError(types.ErrKindNotFound, op, image, fmt.Errorf("no partition named %q", name))
	}

	f, err := os.Open(image)
	if err != nil {
		return 0, types.WrapIOError(op, image, err)
	}
	defer f.Close()

	return s.extractRange(ctx, f, part, outPath, newProgressTracker(progress, int64(part.SizeBytes())))
}

func (s *GPTService) extractRange(ctx context.Context, f *os.File, part *types.GPTPartition, outPath string, tracker *progressTracker) (int64, error) {
	const op = "extract partition"

	info, err := f.Stat()
	if err != nil {
		return 0, types.WrapIOError(op, f.Name(), err)
	}
	start, length := part.StartOffset(), int64(part.SizeBytes())
	if start+length > info.Size() {
		return 0, types.NewCodecError(types.ErrKindFormatInvalid, op, f.Name(),
			fmt.Errorf("partition %q [%d, %d) extends past end of image (%d bytes)", part.Name, start, start+length, info.Size()))
	}

	var copied int64
	err = writeFileAtomic(outPath, func(out *os.File) error {
		var err error
		copied, err = copyRange(ctx, out, f, start, length, s.cfg.ChunkSize, tracker)
		return err
	})
	if err != nil {
		return copied, err
	}

	log.WithFields(log.Fields{
		"partition": part.Name,
		"bytes":     copied,
		"output":    outPath,
	}).Info("partition extracted")
	return copied, nil
}

// ExtractAll extracts every partition into outDir as <name>.img. Up to
// ExtractWorkers partitions are copied at once, each with its own handle.
func (s *GPTService) ExtractAll(ctx context.Context, image, outDir string, progress types.ProgressFunc) ([]types.ExtractedPartition, error) {
	const op = "extract partitions"

	table, err := s.ReadTable(image)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, types.WrapIOError(op, outDir, err)
	}

	var total int64
	for _, p := range table.Partitions {
		total += int64(p.SizeBytes())
	}
	shared := &sharedProgress{tracker: newProgressTracker(progress, total)}

	results := make([]types.ExtractedPartition, len(table.Partitions))
	names := outputNames(table.Partitions)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ExtractWorkers)
	for i := range table.Partitions {
		i, part := i, table.Partitions[i]
		g.Go(func() error {
			f, err := os.Open(image)
			if err != nil {
				return types.WrapIOError(op, image, err)
			}
			defer f.Close()

			outPath := filepath.Join(outDir, names[i])
			n, err := s.extractRange(gctx, f, &part, outPath, shared.child(int64(part.SizeBytes())))
			if err != nil {
				return err
			}
			results[i] = types.ExtractedPartition{Name: part.Name, Path: outPath, Bytes: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	shared.finish()
	return results, nil
}

// outputNames assigns a unique file name to every partition
func outputNames(parts []types.GPTPartition) []string {
	names := make([]string, len(parts))
	seen := make(map[string]bool)
	for i, p := range parts {
		base := p.Name
		if base == "" {
			base = fmt.Sprintf("partition%d", p.Index)
		}
		name := base + ".img"
		if seen[name] {
			name = fmt.Sprintf("%s_%d.img", base, p.Index)
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

// sharedProgress aggregates byte counts from concurrent copies
type sharedProgress struct {
	mu      sync.Mutex
	done    int64
	tracker *progressTracker
}

// child returns a tracker for one copy of size bytes
func (sp *sharedProgress) child(size int64) *progressTracker {
	var last int64
	return &progressTracker{
		total: size,
		sink: func(n int64) {
			sp.mu.Lock()
			defer sp.mu.Unlock()
			sp.done += n - last
			last = n
			sp.tracker.update(sp.done)
		},
	}
}

func (sp *sharedProgress) finish() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.tracker.finish()
}

// CreateImage writes a new disk image of totalSize bytes holding a
// protective MBR, primary and backup GPT headers, and the partitions
// described by specs placed in order from LBA 34
func (s *GPTService) CreateImage(ctx context.Context, path string, totalSize int64, specs []types.PartitionSpec) (*types.GPTTable, error) {
	const op = "create gpt image"

	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}

	const metaSectors = 1 + types.GPTDefaultEntryCount*types.GPTDefaultEntrySize/types.SectorSize
	if totalSize%types.SectorSize != 0 {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "size %d is not a multiple of %d", totalSize, types.SectorSize)
	}
	totalSectors := uint64(totalSize / types.SectorSize)
	if totalSectors < types.GPTFirstUsableLBA+metaSectors+1 {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "size %d is too small for a GPT disk", totalSize)
	}
	if len(specs) > types.GPTDefaultEntryCount {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "%d partitions exceed the %d entry table", len(specs), types.GPTDefaultEntryCount)
	}

	firstUsable := uint64(types.GPTFirstUsableLBA)
	lastUsable := totalSectors - 1 - metaSectors

	partitions, err := placePartitions(specs, firstUsable, lastUsable)
	if err != nil {
		return nil, err
	}

	entries := gpt.MarshalPartitionEntries(partitions, types.GPTDefaultEntryCount, types.GPTDefaultEntrySize, binary.LittleEndian)
	primary := types.GPTHeader{
		Revision:                 types.GPTRevision1,
		HeaderSize:               types.GPTHeaderSize,
		CurrentLBA:               types.GPTHeaderLBA,
		BackupLBA:                totalSectors - 1,
		FirstUsableLBA:           firstUsable,
		LastUsableLBA:            lastUsable,
		DiskGUID:                 types.NewRandomGUID(),
		PartitionEntriesLBA:      types.GPTEntriesLBA,
		NumberOfPartitionEntries: types.GPTDefaultEntryCount,
		PartitionEntrySize:       types.GPTDefaultEntrySize,
		PartitionEntriesCRC32:    gpt.EntriesCRC(entries),
	}
	backup := primary
	backup.CurrentLBA, backup.BackupLBA = primary.BackupLBA, primary.CurrentLBA
	backup.PartitionEntriesLBA = totalSectors - metaSectors

	primarySector := gpt.MarshalGPTHeader(&primary, binary.LittleEndian)
	backupSector := gpt.MarshalGPTHeader(&backup, binary.LittleEndian)

	err = writeFileAtomic(path, func(f *os.File) error {
		if err := f.Truncate(totalSize); err != nil {
			return types.WrapIOError(op, path, err)
		}
		writes := []struct {
			lba  uint64
			data []byte
		}{
			{0, gpt.MarshalProtectiveMBR(totalSectors)},
			{types.GPTHeaderLBA, primarySector},
			{types.GPTEntriesLBA, entries},
			{backup.PartitionEntriesLBA, entries},
			{backup.CurrentLBA, backupSector},
		}
		for _, w := range writes {
			if _, err := f.WriteAt(w.data, int64(w.lba)*types.SectorSize); err != nil {
				return types.WrapIOError(op, path, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"path":       path,
		"sectors":    totalSectors,
		"partitions": len(partitions),
	}).Info("gpt image created")

	return &types.GPTTable{
		Header:          primary,
		Partitions:      partitions,
		HeaderCRCValid:  true,
		EntriesCRCValid: true,
	}, nil
}

// placePartitions lays specs out sequentially. A spec with FirstLBA set
// starts there; a zero Size takes the rest of the usable space.
func placePartitions(specs []types.PartitionSpec, firstUsable, lastUsable uint64) ([]types.GPTPartition, error) {
	const op = "create gpt image"

	defaultType, err := gpt.ParseTypeGUID(gpt.TypeLinuxData)
	if err != nil {
		return nil, err
	}

	partitions := make([]types.GPTPartition, 0, len(specs))
	cursor := firstUsable
	for i, spec := range specs {
		if helpers.DecodeUTF16LE(helpers.EncodeUTF16LE(spec.Name, types.GPTPartitionNameSize)) != spec.Name {
			return nil, types.Errorf(types.ErrKindInvalidInput, op, "partition name %q exceeds %d UTF-16 units", spec.Name, types.GPTPartitionNameUnits)
		}

		first := cursor
		if spec.FirstLBA != 0 {
			if spec.FirstLBA < cursor {
				return nil, types.Errorf(types.ErrKindInvalidInput, op, "partition %q at LBA %d overlaps the previous partition ending before %d", spec.Name, spec.FirstLBA, cursor)
			}
			first = spec.FirstLBA
		}
		if first > lastUsable {
			return nil, types.Errorf(types.ErrKindInvalidInput, op, "no space left for partition %q", spec.Name)
		}

		var last uint64
		if spec.Size == 0 {
			if i != len(specs)-1 {
				return nil, types.Errorf(types.ErrKindInvalidInput, op, "only the last partition may omit its size")
			}
			last = lastUsable
		} else {
			sectors := (spec.Size + types.SectorSize - 1) / types.SectorSize
			last = first + sectors - 1
			if last > lastUsable {
				return nil, types.Errorf(types.ErrKindInvalidInput, op, "partition %q ends at LBA %d beyond last usable LBA %d", spec.Name, last, lastUsable)
			}
		}

		typeGUID := spec.TypeGUID
		if typeGUID.IsZero() {
			typeGUID = defaultType
		}
		partitions = append(partitions, types.GPTPartition{
			Index:      i,
			TypeGUID:   typeGUID,
			UniqueGUID: types.NewRandomGUID(),
			FirstLBA:   first,
			LastLBA:    last,
			Attributes: spec.Attributes,
			Name:       spec.Name,
		})
		cursor = last + 1
	}
	return partitions, nil
}

// AnalyzeUsage reports, for every partition, how much of its tail is a
// run of 0x00 or 0xFF fill bytes
func (s *GPTService) AnalyzeUsage(ctx context.Context, image string) ([]types.PartitionUsage, error) {
	const op = "analyze partition usage"

	table, err := s.ReadTable(image)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(image)
	if err != nil {
		return nil, types.WrapIOError(op, image, err)
	}
	defer f.Close()

	usage := make([]types.PartitionUsage, 0, len(table.Partitions))
	buf := make([]byte, s.cfg.ChunkSize)
	for _, p := range table.Partitions {
		size := int64(p.SizeBytes())
		start := p.StartOffset()
		if size <= 0 {
			log.WithFields(log.Fields{
				"partition": p.Name,
				"first_lba": p.FirstLBA,
				"last_lba":  p.LastLBA,
			}).Debug("skipping partition with no usable extent")
			continue
		}

		// Fill byte is whatever the last byte holds, if it is 0x00 or 0xFF
		last, err := readUpTo(f, start+size-1, 1)
		if err != nil {
			return nil, err
		}
		u := types.PartitionUsage{Name: p.Name, Size: uint64(size)}
		if len(last) == 0 || (last[0] != 0x00 && last[0] != 0xFF) {
			u.UsedBytes = uint64(size)
			usage = append(usage, u)
			continue
		}
		u.FillByte = last[0]

		// Walk backwards chunk by chunk until a non-fill byte appears
		used := int64(0)
		for end := start + size; end > start; {
			if err := checkContext(ctx, op); err != nil {
				return nil, err
			}
			chunkStart := end - int64(len(buf))
			if chunkStart < start {
				chunkStart = start
			}
			chunk := buf[:end-chunkStart]
			if _, err := f.ReadAt(chunk, chunkStart); err != nil && err != io.EOF {
				return nil, types.WrapIOError(op, image, err)
			}
			if helpers.IsFilled(chunk, u.FillByte) {
				end = chunkStart
				continue
			}
			for i := len(chunk) - 1; i >= 0; i-- {
				if chunk[i] != u.FillByte {
					used = chunkStart + int64(i) + 1 - start
					break
				}
			}
			break
		}

		u.UsedBytes = uint64(used)
		u.SlackBytes = uint64(size - used)
		u.Empty = used == 0
		usage = append(usage, u)
	}
	return usage, nil
}
