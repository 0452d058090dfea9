package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/gpt"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

const testDiskSize = 64 << 20

// createTestGPTImage builds a 64 MiB disk with boot, system and userdata
// partitions, each filled with a distinct byte followed by zero slack
func createTestGPTImage(t *testing.T) (string, *types.GPTTable) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")

	bootType, err := gpt.ParseTypeGUID(gpt.TypeAndroidBoot)
	require.NoError(t, err)

	svc := NewGPTService(config.Default())
	table, err := svc.CreateImage(context.Background(), path, testDiskSize, []types.PartitionSpec{
		{Name: "boot", Size: 1 << 20, TypeGUID: bootType, FirstLBA: 2048},
		{Name: "system", Size: 4 << 20},
		{Name: "userdata"},
	})
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	fills := map[string]byte{"boot": 0xB0, "system": 0x5C}
	for _, p := range table.Partitions {
		if b, ok := fills[p.Name]; ok {
			_, err := f.WriteAt(bytes.Repeat([]byte{b}, 4096), p.StartOffset())
			require.NoError(t, err)
		}
	}
	return path, table
}

func TestCreateImageLayout(t *testing.T) {
	path, table := createTestGPTImage(t)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(testDiskSize), info.Size())

	totalSectors := uint64(testDiskSize / types.SectorSize)
	require.Len(t, table.Partitions, 3)
	assert.Equal(t, uint64(2048), table.Partitions[0].FirstLBA)
	assert.Equal(t, uint64(4095), table.Partitions[0].LastLBA)
	assert.Equal(t, uint64(4096), table.Partitions[1].FirstLBA)
	assert.Equal(t, uint64(4096+8192-1), table.Partitions[1].LastLBA)
	assert.Equal(t, totalSectors-34, table.Partitions[2].LastLBA)
	assert.Equal(t, gpt.TypeLinuxData, table.Partitions[1].TypeGUID.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, gpt.IsProtectiveMBR(data[:512]))

	// Backup header lives in the last sector and points back at LBA 1
	backup, err := gpt.NewGPTHeaderReader(data[len(data)-512:], binary.LittleEndian)
	require.NoError(t, err)
	assert.True(t, backup.CRCValid())
	assert.Equal(t, totalSectors-1, backup.Header().CurrentLBA)
	assert.Equal(t, uint64(1), backup.Header().BackupLBA)
	assert.Equal(t, totalSectors-33, backup.EntriesLBA())

	entriesOff := int64(backup.EntriesLBA()) * types.SectorSize
	assert.Equal(t, data[1024:1024+16384], data[entriesOff:entriesOff+16384])
}

func TestReadTable(t *testing.T) {
	path, created := createTestGPTImage(t)

	table, err := NewGPTService(config.Default()).ReadTable(path)
	require.NoError(t, err)
	assert.True(t, table.HeaderCRCValid)
	assert.True(t, table.EntriesCRCValid)
	assert.Equal(t, created.Header.DiskGUID, table.Header.DiskGUID)

	names := make([]string, 0, len(table.Partitions))
	for _, p := range table.Partitions {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"boot", "system", "userdata"}, names)
	assert.Equal(t, "Android boot", gpt.TypeLabel(table.Partitions[0].TypeGUID))
}

func TestReadTableWarnsOnCRCMismatch(t *testing.T) {
	path, _ := createTestGPTImage(t)

	// Rename the first partition in place without refreshing either CRC
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{'B', 0}, 1024+56)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	handler := memory.New()
	log.SetHandler(handler)
	defer log.SetHandler(memory.New())

	table, err := NewGPTService(config.Default()).ReadTable(path)
	require.NoError(t, err)
	assert.True(t, table.HeaderCRCValid)
	assert.False(t, table.EntriesCRCValid)
	assert.Equal(t, "Boot", table.Partitions[0].Name)

	var warned bool
	for _, e := range handler.Entries {
		if e.Level == log.WarnLevel && e.Message == "gpt partition entries CRC32 mismatch" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestReadTableErrors(t *testing.T) {
	svc := NewGPTService(config.Default())

	_, err := svc.ReadTable(filepath.Join(t.TempDir(), "missing.img"))
	assert.ErrorIs(t, err, types.ErrNotFound)

	blank := filepath.Join(t.TempDir(), "blank.img")
	require.NoError(t, os.WriteFile(blank, make([]byte, 64*1024), 0o644))
	_, err = svc.ReadTable(blank)
	assert.ErrorIs(t, err, types.ErrFormatInvalid)
}

func TestExtractPartition(t *testing.T) {
	path, table := createTestGPTImage(t)
	boot, ok := table.FindPartition("boot")
	require.True(t, ok)
	require.Equal(t, uint64(2048), boot.FirstLBA)
	require.Equal(t, uint64(4095), boot.LastLBA)

	// Non-zero body with marker sectors on both sides of the partition
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(testPattern(int(boot.SizeBytes())), boot.StartOffset())
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{0xEE}, types.SectorSize), boot.StartOffset()-types.SectorSize)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{0xDD}, types.SectorSize), int64(boot.LastLBA+1)*types.SectorSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	image, err := os.ReadFile(path)
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "boot.img")

	var percents []int
	n, err := NewGPTService(config.Default()).ExtractPartition(context.Background(), path, "boot", out, func(p int) {
		percents = append(percents, p)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, data, 1048576)
	assert.True(t, bytes.Equal(image[2048*512:(boot.LastLBA+1)*512], data), "extracted bytes differ from the partition range")
	assert.NotEqual(t, byte(0xEE), data[0])
	assert.NotEqual(t, byte(0xDD), data[len(data)-1])
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestExtractPartitionErrors(t *testing.T) {
	path, _ := createTestGPTImage(t)
	svc := NewGPTService(config.Default())
	out := filepath.Join(t.TempDir(), "x.img")

	t.Run("unknown name", func(t *testing.T) {
		_, err := svc.ExtractPartition(context.Background(), path, "vendor", out, nil)
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.NoFileExists(t, out)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := svc.ExtractPartition(ctx, path, "system", out, nil)
		assert.ErrorIs(t, err, types.ErrCancelled)
		assert.NoFileExists(t, out)
	})

	t.Run("partition past end of image", func(t *testing.T) {
		truncated := filepath.Join(t.TempDir(), "short.img")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(truncated, data[:3<<20], 0o644))

		_, err = svc.ExtractPartition(context.Background(), truncated, "system", out, nil)
		assert.ErrorIs(t, err, types.ErrFormatInvalid)
	})
}

func TestExtractAll(t *testing.T) {
	path, table := createTestGPTImage(t)
	outDir := filepath.Join(t.TempDir(), "parts")

	cfg := config.Default()
	cfg.ExtractWorkers = 2

	var mu sync.Mutex
	var last int
	results, err := NewGPTService(cfg).ExtractAll(context.Background(), path, outDir, func(p int) {
		mu.Lock()
		defer mu.Unlock()
		assert.GreaterOrEqual(t, p, last)
		last = p
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 100, last)

	for i, r := range results {
		assert.Equal(t, table.Partitions[i].Name, r.Name)
		assert.Equal(t, filepath.Join(outDir, r.Name+".img"), r.Path)
		assert.Equal(t, int64(table.Partitions[i].SizeBytes()), r.Bytes)

		info, err := os.Stat(r.Path)
		require.NoError(t, err)
		assert.Equal(t, r.Bytes, info.Size())
	}
}

func TestOutputNames(t *testing.T) {
	names := outputNames([]types.GPTPartition{
		{Index: 0, Name: "boot"},
		{Index: 1, Name: ""},
		{Index: 2, Name: "boot"},
	})
	assert.Equal(t, []string{"boot.img", "partition1.img", "boot_2.img"}, names)
}

func TestCreateImageRejectsBadLayouts(t *testing.T) {
	testCases := []struct {
		name  string
		size  int64
		specs []types.PartitionSpec
	}{
		{"unaligned size", testDiskSize + 1, nil},
		{"too small", 16 * types.SectorSize, nil},
		{"overlap", testDiskSize, []types.PartitionSpec{
			{Name: "a", Size: 1 << 20, FirstLBA: 2048},
			{Name: "b", Size: 1 << 20, FirstLBA: 3000},
		}},
		{"too large", testDiskSize, []types.PartitionSpec{{Name: "a", Size: testDiskSize}}},
		{"name too long", testDiskSize, []types.PartitionSpec{{Name: "a_partition_name_longer_than_36_units", Size: 4096}}},
		{"fill before last", testDiskSize, []types.PartitionSpec{{Name: "a"}, {Name: "b", Size: 4096}}},
	}

	svc := NewGPTService(config.Default())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "disk.img")
			_, err := svc.CreateImage(context.Background(), path, tc.size, tc.specs)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
			assert.NoFileExists(t, path)
		})
	}
}

func TestAnalyzeUsage(t *testing.T) {
	path, _ := createTestGPTImage(t)

	cfg := config.Default()
	cfg.ChunkSize = 64 * 1024
	usage, err := NewGPTService(cfg).AnalyzeUsage(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, usage, 3)

	boot := usage[0]
	assert.Equal(t, "boot", boot.Name)
	assert.Equal(t, uint64(1<<20), boot.Size)
	assert.Equal(t, uint64(4096), boot.UsedBytes)
	assert.Equal(t, uint64(1<<20-4096), boot.SlackBytes)
	assert.Equal(t, byte(0), boot.FillByte)
	assert.False(t, boot.Empty)

	userdata := usage[2]
	assert.True(t, userdata.Empty)
	assert.Equal(t, uint64(0), userdata.UsedBytes)
	assert.Equal(t, userdata.Size, userdata.SlackBytes)
}

func TestAnalyzeUsageSkipsEmptyExtents(t *testing.T) {
	path, _ := createTestGPTImage(t)
	linux, err := gpt.ParseTypeGUID(gpt.TypeLinuxData)
	require.NoError(t, err)

	// Slot 3 wraps to zero size at LBA 0, slot 4 ends before it starts
	entries := gpt.MarshalPartitionEntries([]types.GPTPartition{
		{Index: 3, TypeGUID: linux, FirstLBA: 0, LastLBA: ^uint64(0), Name: "wrapped"},
		{Index: 4, TypeGUID: linux, FirstLBA: 100, LastLBA: 50, Name: "inverted"},
	}, 5, types.GPTDefaultEntrySize, binary.LittleEndian)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(entries[3*types.GPTDefaultEntrySize:], types.GPTEntriesLBA*types.SectorSize+3*types.GPTDefaultEntrySize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	usage, err := NewGPTService(config.Default()).AnalyzeUsage(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, usage, 3)
	for _, u := range usage {
		assert.NotContains(t, []string{"wrapped", "inverted"}, u.Name)
	}
}
