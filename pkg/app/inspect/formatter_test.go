package inspect

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

func createTestResponse() *Response {
	return &Response{
		Path:        "/tmp/boot.img",
		Size:        6144,
		Type:        types.FileTypeBootImage,
		Description: "Android boot image v2",
		Regions: []types.FileRegion{
			{Start: 0, End: 2048, Type: types.RegionHeader, Description: "Boot header v2"},
			{Start: 2048, End: 4096, Type: types.RegionKernel, Description: "Kernel"},
			{Start: 4096, End: 6144, Type: types.RegionPadding, Description: "Zero padding", Speculative: true},
		},
		Partitions: []PartitionSummary{{Index: 0, Name: "boot", Type: "Android boot", FirstLBA: 34, LastLBA: 2081, Size: 1 << 20}},
	}
}

func TestFormatOutput(t *testing.T) {
	resp := createTestResponse()

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, FormatOutput(&buf, resp, "table"))
		out := buf.String()
		assert.Contains(t, out, "6.0 KiB (6144 bytes)")
		assert.Contains(t, out, "0x00000800")
		assert.Contains(t, out, "Zero padding *")
		assert.Contains(t, out, "1 region(s) inferred")
		assert.Contains(t, out, "1.0 MiB")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, FormatOutput(&buf, resp, "json"))
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "BOOT_IMAGE", decoded["type"])
		assert.Len(t, decoded["regions"], 3)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, FormatOutput(&buf, resp, "yaml"))
		var decoded map[string]interface{}
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "/tmp/boot.img", decoded["path"])
	})

	t.Run("unsupported", func(t *testing.T) {
		assert.Error(t, FormatOutput(&bytes.Buffer{}, resp, "xml"))
	})
}

func TestFormatSummary(t *testing.T) {
	resp := createTestResponse()
	assert.Contains(t, FormatSummary(resp), "BOOT_IMAGE, 6.0 KiB, 3 regions")

	resp.Regions = resp.Regions[:1]
	resp.Truncated = true
	assert.Contains(t, FormatSummary(resp), "1 region (truncated)")
}
