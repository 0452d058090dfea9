package services

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

const testPatchList = `# verity patches
// disable dm-verity flag
0x10:01:00:verity flag
20 : DE AD BE EF : 00 00 00 00 : magic: cleared

0X2a:FF:7F:
`

func TestParsePatchList(t *testing.T) {
	patches, err := ParsePatchList(strings.NewReader(testPatchList))
	require.NoError(t, err)
	require.Len(t, patches, 3)

	assert.Equal(t, int64(0x10), patches[0].Offset)
	assert.Equal(t, []byte{0x01}, patches[0].OriginalBytes)
	assert.Equal(t, []byte{0x00}, patches[0].NewBytes)
	assert.Equal(t, "verity flag", patches[0].Description)

	assert.Equal(t, int64(0x20), patches[1].Offset)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, patches[1].OriginalBytes)
	assert.Equal(t, "magic: cleared", patches[1].Description)

	assert.Equal(t, int64(0x2A), patches[2].Offset)
	assert.Empty(t, patches[2].Description)
}

func TestParsePatchErrors(t *testing.T) {
	testCases := []struct {
		name string
		line string
	}{
		{"too few fields", "10:01"},
		{"bad offset", "zz:01:02:x"},
		{"bad hex", "10:0G:02:x"},
		{"wildcard", "10:??:02:x"},
		{"empty original", "10::02:x"},
		{"length change", "10:0102:03:x"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePatch(tc.line)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}

	_, err := ParsePatchList(strings.NewReader("# ok\n10:01\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFormatPatchRoundTrip(t *testing.T) {
	p := types.HexPatch{Offset: 0x1F00, OriginalBytes: []byte{0xAB, 0x01}, NewBytes: []byte{0x00, 0xFF}, Description: "a: b"}
	line := FormatPatch(p)
	assert.Equal(t, "0x1F00:AB01:00FF:a: b", line)

	parsed, err := ParsePatch(line)
	require.NoError(t, err)
	assert.Equal(t, p, parsed)
}

func createTestPatchTarget(t *testing.T) string {
	t.Helper()
	data := make([]byte, 64)
	data[0x10] = 0x01
	copy(data[0x20:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	return writeTestFile(t, "target.bin", data)
}

func TestApplyPatch(t *testing.T) {
	path := createTestPatchTarget(t)
	svc := NewPatchService(config.Default())
	p := types.HexPatch{Offset: 0x20, OriginalBytes: []byte{0xDE, 0xAD, 0xBE, 0xEF}, NewBytes: []byte{0xCA, 0xFE, 0xBA, 0xBE}}

	state, err := svc.VerifyPatch(path, p)
	require.NoError(t, err)
	assert.Equal(t, types.PatchApplicable, state)

	require.NoError(t, svc.ApplyPatch(path, p))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xCA, 0xFE, 0xBA, 0xBE}, data[0x20:0x24])

	state, err = svc.VerifyPatch(path, p)
	require.NoError(t, err)
	assert.Equal(t, types.PatchAlreadyApplied, state)

	require.NoError(t, svc.RevertPatch(path, p))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, data[0x20:0x24])
}

func TestApplyStalePatchLeavesFileUnmodified(t *testing.T) {
	path := createTestPatchTarget(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	svc := NewPatchService(config.Default())
	stale := types.HexPatch{Offset: 0x20, OriginalBytes: []byte{0x11, 0x22, 0x33, 0x44}, NewBytes: []byte{0, 0, 0, 0}}

	state, err := svc.VerifyPatch(path, stale)
	require.NoError(t, err)
	assert.Equal(t, types.PatchMismatch, state)

	err = svc.ApplyPatch(path, stale)
	assert.ErrorIs(t, err, types.ErrVerificationMismatch)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyPatchErrors(t *testing.T) {
	path := createTestPatchTarget(t)
	svc := NewPatchService(config.Default())

	err := svc.ApplyPatch(path, types.HexPatch{Offset: 62, OriginalBytes: []byte{0, 0, 0}, NewBytes: []byte{1, 1, 1}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	err = svc.ApplyPatch(path+".missing", types.HexPatch{Offset: 0, OriginalBytes: []byte{0}, NewBytes: []byte{1}})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestApplyPatches(t *testing.T) {
	path := createTestPatchTarget(t)
	patches, err := ParsePatchList(strings.NewReader(testPatchList))
	require.NoError(t, err)

	report, err := NewPatchService(config.Default()).ApplyPatches(path, patches)
	require.NoError(t, err)
	require.Len(t, report.Applied, 2)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, int64(0x2A), report.Failed[0].Patch.Offset)
	assert.ErrorIs(t, report.Failed[0].Err, types.ErrVerificationMismatch)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), data[0x10])
	assert.Equal(t, []byte{0, 0, 0, 0}, data[0x20:0x24])
	assert.Equal(t, byte(0x00), data[0x2A])
}
