package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/bootimg"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

type testBootFixture struct {
	components *types.BootImageComponents
	kernel     []byte
	ramdisk    []byte
	second     []byte
	dtbo       []byte
	dtb        []byte
	signature  []byte
}

// createTestBootComponents writes component files for a header version
func createTestBootComponents(t *testing.T, version, pageSize uint32, ramdiskFormat types.CompressionFormat) *testBootFixture {
	t.Helper()
	dir := t.TempDir()

	fx := &testBootFixture{
		kernel: bytes.Repeat([]byte{0xAA, 0x55}, 2500),
		ramdisk: createTestCpioArchive(t, []testCpioEntry{
			{"init", types.CpioModeRegular | 0o750, "#!/system/bin/sh\n"},
			{"system", types.CpioModeDir | 0o755, ""},
		}),
		second:    bytes.Repeat([]byte{0x22}, 100),
		dtbo:      bytes.Repeat([]byte{0x33}, 300),
		dtb:       bytes.Repeat([]byte{0xD0, 0x0D, 0xFE, 0xED}, 175),
		signature: bytes.Repeat([]byte{0x44}, 64),
	}

	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}

	h := types.BootImageHeader{
		HeaderVersion: version,
		PageSize:      pageSize,
		KernelAddr:    0x10008000,
		RamdiskAddr:   0x11000000,
		SecondAddr:    0x10F00000,
		TagsAddr:      0x10000100,
	}
	h.SetName("testboard")
	h.SetCmdline("console=ttyMSM0,115200n8 androidboot.hardware=qcom")
	packed, err := bootimg.PackOSVersion(types.OSVersion{Major: 11, Minor: 0, Patch: 0, Year: 2021, Month: 5})
	require.NoError(t, err)
	h.OSVersion = packed
	if version == 2 {
		h.DtbAddr = 0x11F00000
	}

	c := &types.BootImageComponents{
		Header:              h,
		WorkDir:             dir,
		KernelPath:          write("kernel", fx.kernel),
		RamdiskPath:         write("ramdisk.cpio", fx.ramdisk),
		RamdiskFormat:       ramdiskFormat,
		RamdiskDecompressed: true,
	}
	if version < 3 {
		c.SecondPath = write("second", fx.second)
	}
	if version == 1 || version == 2 {
		c.RecoveryDtboPath = write("recovery_dtbo", fx.dtbo)
	}
	if version == 2 {
		c.DtbPath = write("dtb", fx.dtb)
	}
	if version == 4 {
		c.SignaturePath = write("boot_signature", fx.signature)
	}
	fx.components = c
	return fx
}

func TestBootRepackUnpackDeterminism(t *testing.T) {
	tests := []struct {
		name     string
		version  uint32
		pageSize uint32
	}{
		{"v0 2k pages", 0, 2048},
		{"v0 4k pages", 0, 4096},
		{"v1", 1, 2048},
		{"v2", 2, 4096},
		{"v3", 3, 0},
		{"v4", 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewBootImageService(config.Default())
			ctx := context.Background()
			fx := createTestBootComponents(t, tt.version, tt.pageSize, types.CompressionGzip)

			img1 := filepath.Join(t.TempDir(), "boot.img")
			require.NoError(t, svc.Repack(ctx, img1, fx.components, nil))

			reader, err := svc.ReadHeader(img1)
			require.NoError(t, err)
			assert.Equal(t, tt.version, reader.HeaderVersion())
			assert.Equal(t, uint32(len(fx.kernel)), reader.Header().KernelSize)

			page := int64(reader.PageSize())
			layout := reader.Layout()
			assert.Equal(t, page, layout.KernelOffset)
			assert.Equal(t, page+bootimg.AlignUp(int64(len(fx.kernel)), page), layout.RamdiskOffset)

			raw1, err := os.ReadFile(img1)
			require.NoError(t, err)
			assert.Equal(t, layout.TotalSize, int64(len(raw1)))
			assert.Zero(t, int64(len(raw1))%page)

			out := t.TempDir()
			unpacked, err := svc.Unpack(ctx, img1, out, UnpackOptions{}, nil)
			require.NoError(t, err)
			assert.Equal(t, types.CompressionGzip, unpacked.RamdiskFormat)
			assert.True(t, unpacked.RamdiskDecompressed)
			assertFileContent(t, fx.kernel, unpacked.KernelPath)
			assertFileContent(t, fx.ramdisk, unpacked.RamdiskPath)
			if tt.version == 2 {
				assertFileContent(t, fx.dtb, unpacked.DtbPath)
				assert.Equal(t, layout.DtbOffset, layout.RecoveryDtboOffset+bootimg.AlignUp(int64(len(fx.dtbo)), page))
			}
			if tt.version >= 1 && tt.version <= 2 {
				assertFileContent(t, fx.dtbo, unpacked.RecoveryDtboPath)
				assert.Equal(t, uint64(layout.RecoveryDtboOffset), unpacked.Header.RecoveryDtboOffset)
			}
			if tt.version == 4 {
				assertFileContent(t, fx.signature, unpacked.SignaturePath)
			}

			img2 := filepath.Join(t.TempDir(), "boot.img")
			require.NoError(t, svc.Repack(ctx, img2, unpacked, nil))
			raw2, err := os.ReadFile(img2)
			require.NoError(t, err)
			assert.Equal(t, raw1, raw2, "repack of an unpacked image must be byte identical")

			loaded, err := svc.LoadManifest(out)
			require.NoError(t, err)
			img3 := filepath.Join(t.TempDir(), "boot.img")
			require.NoError(t, svc.Repack(ctx, img3, loaded, nil))
			raw3, err := os.ReadFile(img3)
			require.NoError(t, err)
			assert.Equal(t, raw1, raw3, "repack from the manifest must be byte identical")
		})
	}
}

func TestBootUnpackLeavesNonGzipRamdisk(t *testing.T) {
	svc := NewBootImageService(config.Default())
	ctx := context.Background()
	fx := createTestBootComponents(t, 0, 2048, types.CompressionLZ4Legacy)

	img := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, svc.Repack(ctx, img, fx.components, nil))

	kept, err := svc.Unpack(ctx, img, t.TempDir(), UnpackOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.CompressionLZ4Legacy, kept.RamdiskFormat)
	assert.False(t, kept.RamdiskDecompressed)
	assert.Equal(t, "ramdisk.lz4", filepath.Base(kept.RamdiskPath))

	// Raw passthrough repacks to the same image
	again := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, svc.Repack(ctx, again, kept, nil))
	a, _ := os.ReadFile(img)
	b, _ := os.ReadFile(again)
	assert.Equal(t, a, b)

	opened, err := svc.Unpack(ctx, img, t.TempDir(), UnpackOptions{DecompressAll: true}, nil)
	require.NoError(t, err)
	assert.True(t, opened.RamdiskDecompressed)
	assertFileContent(t, fx.ramdisk, opened.RamdiskPath)
}

func TestBootRepackFallsBackToGzip(t *testing.T) {
	handler := memory.New()
	log.SetHandler(handler)

	svc := NewBootImageService(config.Default())
	ctx := context.Background()
	fx := createTestBootComponents(t, 0, 4096, types.CompressionBzip2)

	img := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, svc.Repack(ctx, img, fx.components, nil))

	var warned bool
	for _, e := range handler.Entries {
		if e.Level == log.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)

	unpacked, err := svc.Unpack(ctx, img, t.TempDir(), UnpackOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, types.CompressionGzip, unpacked.RamdiskFormat)
	assertFileContent(t, fx.ramdisk, unpacked.RamdiskPath)
}

func TestBootUnpackExtractRamdisk(t *testing.T) {
	svc := NewBootImageService(config.Default())
	ctx := context.Background()
	fx := createTestBootComponents(t, 2, 4096, types.CompressionGzip)

	img := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, svc.Repack(ctx, img, fx.components, nil))

	out := t.TempDir()
	unpacked, err := svc.Unpack(ctx, img, out, UnpackOptions{ExtractRamdisk: true}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, unpacked.RamdiskDir)
	assertFileContent(t, []byte("#!/system/bin/sh\n"), filepath.Join(unpacked.RamdiskDir, "init"))

	// Edit the tree and rebuild from the manifest
	require.NoError(t, os.WriteFile(filepath.Join(unpacked.RamdiskDir, "init"), []byte("patched\n"), 0o750))
	loaded, err := svc.LoadManifest(out)
	require.NoError(t, err)
	rebuilt := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, svc.Repack(ctx, rebuilt, loaded, nil))

	check, err := svc.Unpack(ctx, rebuilt, t.TempDir(), UnpackOptions{ExtractRamdisk: true}, nil)
	require.NoError(t, err)
	assertFileContent(t, []byte("patched\n"), filepath.Join(check.RamdiskDir, "init"))
}

func TestBootReadHeaderErrors(t *testing.T) {
	svc := NewBootImageService(config.Default())

	_, err := svc.ReadHeader(filepath.Join(t.TempDir(), "missing.img"))
	assert.ErrorIs(t, err, types.ErrNotFound)

	bad := filepath.Join(t.TempDir(), "bad.img")
	require.NoError(t, os.WriteFile(bad, make([]byte, 4096), 0o644))
	_, err = svc.ReadHeader(bad)
	assert.ErrorIs(t, err, types.ErrFormatInvalid)

	_, err = svc.Unpack(context.Background(), bad, t.TempDir(), UnpackOptions{}, nil)
	assert.ErrorIs(t, err, types.ErrFormatInvalid)
}

func TestBootUnpackRejectsTruncatedImage(t *testing.T) {
	svc := NewBootImageService(config.Default())
	fx := createTestBootComponents(t, 0, 2048, types.CompressionGzip)

	img := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, svc.Repack(context.Background(), img, fx.components, nil))
	require.NoError(t, os.Truncate(img, 4096))

	_, err := svc.Unpack(context.Background(), img, t.TempDir(), UnpackOptions{}, nil)
	assert.ErrorIs(t, err, types.ErrFormatInvalid)
}

func TestBootRepackFailureLeavesNoOutput(t *testing.T) {
	svc := NewBootImageService(config.Default())
	fx := createTestBootComponents(t, 0, 2048, types.CompressionGzip)
	fx.components.KernelPath = filepath.Join(t.TempDir(), "missing-kernel")

	outDir := t.TempDir()
	img := filepath.Join(outDir, "boot.img")
	err := svc.Repack(context.Background(), img, fx.components, nil)
	assert.ErrorIs(t, err, types.ErrNotFound)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBootRepackRejectsPageSmallerThanHeader(t *testing.T) {
	svc := NewBootImageService(config.Default())
	tests := []struct {
		name     string
		version  uint32
		pageSize uint32
	}{
		{"v0 1k pages", 0, 1024},
		{"v1 1k pages", 1, 1024},
		{"v2 512 byte pages", 2, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := createTestBootComponents(t, tt.version, tt.pageSize, types.CompressionGzip)
			outDir := t.TempDir()
			err := svc.Repack(context.Background(), filepath.Join(outDir, "boot.img"), fx.components, nil)
			assert.ErrorIs(t, err, types.ErrInvalidInput)

			entries, err := os.ReadDir(outDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestBootRepackReportsProgress(t *testing.T) {
	svc := NewBootImageService(config.Default())
	fx := createTestBootComponents(t, 2, 2048, types.CompressionGzip)

	var seen []int
	img := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, svc.Repack(context.Background(), img, fx.components, func(p int) { seen = append(seen, p) }))
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
}

func assertFileContent(t *testing.T, expected []byte, path string) {
	t.Helper()
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}
