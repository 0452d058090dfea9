package inspect

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/internal/types"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

func createTestExt4Image(t *testing.T) string {
	t.Helper()
	img := make([]byte, 8192)
	sb := img[types.SuperblockOffset:]
	binary.LittleEndian.PutUint32(sb[0:4], 64)
	binary.LittleEndian.PutUint32(sb[4:8], 2)
	binary.LittleEndian.PutUint32(sb[24:28], 2)
	binary.LittleEndian.PutUint16(sb[56:58], types.Ext4Magic)
	copy(sb[120:136], "vendor")

	path := filepath.Join(t.TempDir(), "vendor.img")
	require.NoError(t, os.WriteFile(path, img, 0o644))
	return path
}

func createTestGPTImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	_, err := services.NewGPTService(config.Default()).CreateImage(context.Background(), path, 8<<20, []types.PartitionSpec{
		{Name: "boot", Size: 1 << 20},
		{Name: "userdata"},
	})
	require.NoError(t, err)
	return path
}

func quietContext() *app.Context {
	ctx := app.NewContext()
	ctx.Quiet = true
	return ctx
}

func TestHandle(t *testing.T) {
	ext4 := createTestExt4Image(t)
	disk := createTestGPTImage(t)

	tests := []struct {
		name     string
		request  *Request
		validate func(*testing.T, *Response)
	}{
		{
			name:    "ext4 without probe",
			request: &Request{ImagePath: ext4},
			validate: func(t *testing.T, resp *Response) {
				assert.Equal(t, types.FileTypeExt4, resp.Type)
				assert.Equal(t, int64(8192), resp.Size)
				assert.Nil(t, resp.Filesystem)
				assert.NotEmpty(t, resp.Regions)
			},
		},
		{
			name:    "ext4 with probe",
			request: &Request{ImagePath: ext4, Probe: true},
			validate: func(t *testing.T, resp *Response) {
				require.NotNil(t, resp.Filesystem)
				assert.Equal(t, types.FsTypeExt4, resp.Filesystem.Type)
				assert.Equal(t, "vendor", resp.Filesystem.VolumeName)
				assert.Equal(t, uint32(4096), resp.Filesystem.BlockSize)
			},
		},
		{
			name:    "gpt with probe",
			request: &Request{ImagePath: disk, Probe: true},
			validate: func(t *testing.T, resp *Response) {
				assert.Equal(t, types.FileTypeGPTDisk, resp.Type)
				require.Len(t, resp.Partitions, 2)
				assert.Equal(t, "boot", resp.Partitions[0].Name)
				assert.Equal(t, uint64(1<<20), resp.Partitions[0].Size)
				assert.Equal(t, "Linux filesystem", resp.Partitions[1].Type)
			},
		},
		{
			name:    "region limit",
			request: &Request{ImagePath: disk, MaxRegions: 2},
			validate: func(t *testing.T, resp *Response) {
				assert.Len(t, resp.Regions, 2)
				assert.True(t, resp.Truncated)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Handle(quietContext(), tt.request)
			require.NoError(t, err)
			require.NotNil(t, resp)
			tt.validate(t, resp)
		})
	}
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name     string
		request  *Request
		wantCode string
	}{
		{"missing path", &Request{}, app.ErrCodeInvalidInput},
		{"not found", &Request{ImagePath: filepath.Join(t.TempDir(), "nope.img")}, app.ErrCodeNotFound},
		{"directory", &Request{ImagePath: t.TempDir()}, app.ErrCodeInvalidInput},
		{"negative limit", &Request{ImagePath: createTestExt4Image(t), MaxRegions: -1}, app.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Handle(quietContext(), tt.request)
			require.Error(t, err)
			assert.Nil(t, resp)

			var ce *app.CommonError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantCode, ce.Code)
		})
	}
}

func TestHandleReportsProgress(t *testing.T) {
	ctx := quietContext()
	var percents []int
	ctx.SetProgress(func(_ string, percent int) { percents = append(percents, percent) })

	_, err := Handle(ctx, &Request{ImagePath: createTestExt4Image(t), Probe: true})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 60, 100}, percents)
}
