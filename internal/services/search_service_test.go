package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

func offsetsOf(results []types.HexSearchResult) []int64 {
	offsets := make([]int64, 0, len(results))
	for _, r := range results {
		offsets = append(offsets, r.Offset)
	}
	return offsets
}

func TestWildcardSearch(t *testing.T) {
	testCases := []struct {
		name  string
		data  []byte
		match bool
	}{
		{"zero middle", []byte{0x41, 0x00, 0x43}, true},
		{"ff middle", []byte{0x41, 0xFF, 0x43}, true},
		{"wrong last byte", []byte{0x41, 0x42, 0x44}, false},
	}

	svc := NewSearchService(config.Default())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTestFile(t, "data.bin", tc.data)
			results, err := svc.SearchWildcard(context.Background(), path, "41 ?? 43", nil)
			require.NoError(t, err)
			if tc.match {
				require.Len(t, results, 1)
				assert.Equal(t, int64(0), results[0].Offset)
				assert.Equal(t, tc.data, results[0].Match)
			} else {
				assert.Empty(t, results)
			}
		})
	}
}

func TestParseHexPattern(t *testing.T) {
	p, err := ParseHexPattern("de AD ** 0f")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0x00, 0x0F}, p.Bytes)
	assert.Equal(t, []bool{true, true, false, true}, p.Mask)
	assert.Equal(t, "DE AD ?? 0F", p.String())

	compact, err := ParseHexPattern("41??43")
	require.NoError(t, err)
	assert.Equal(t, 3, compact.Len())

	for _, bad := range []string{"", "4", "4G", "41 4"} {
		_, err := ParseHexPattern(bad)
		assert.ErrorIs(t, err, types.ErrInvalidInput, bad)
	}

	_, err = ParseHexBytes("41 ?? 43")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSearchAcrossWindowBoundaries(t *testing.T) {
	data := make([]byte, 100)
	for _, off := range []int{0, 6, 7, 15, 30, 97} {
		copy(data[off:], "AB")
	}
	// 7 and 15 straddle an 8 byte window
	path := writeTestFile(t, "data.bin", data)

	cfg := config.Default()
	cfg.SearchBufferSize = 8
	results, err := NewSearchService(cfg).SearchBytes(context.Background(), path, []byte("AB"), nil)
	require.NoError(t, err)
	// Writing at 7 overwrote the B at 7 from offset 6
	assert.Equal(t, []int64{0, 7, 15, 30, 97}, offsetsOf(results))
}

func TestSearchReportsOverlappingMatches(t *testing.T) {
	path := writeTestFile(t, "data.bin", []byte("xAAAAx"))
	results, err := NewSearchService(config.Default()).SearchText(context.Background(), path, "AA", false, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, offsetsOf(results))
}

func TestSearchTextCaseInsensitive(t *testing.T) {
	path := writeTestFile(t, "data.bin", []byte("androidboot ANDROIDBOOT AndroidBoot"))
	svc := NewSearchService(config.Default())

	results, err := svc.SearchText(context.Background(), path, "AndroidBoot", true, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 12, 24}, offsetsOf(results))
	assert.Equal(t, []byte("ANDROIDBOOT"), results[1].Match)

	results, err = svc.SearchText(context.Background(), path, "AndroidBoot", false, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{24}, offsetsOf(results))
}

func TestSearchStopsAtResultLimit(t *testing.T) {
	path := writeTestFile(t, "data.bin", bytes.Repeat([]byte{0x7F}, 1000))
	cfg := config.Default()
	cfg.MaxSearchResults = 10

	results, err := NewSearchService(cfg).SearchBytes(context.Background(), path, []byte{0x7F}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 10)
}

func TestSearchCancelledAndErrors(t *testing.T) {
	svc := NewSearchService(config.Default())
	path := writeTestFile(t, "data.bin", []byte("abc"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.SearchBytes(ctx, path, []byte("b"), nil)
	assert.ErrorIs(t, err, types.ErrCancelled)

	_, err = svc.SearchBytes(context.Background(), path, nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = svc.SearchBytes(context.Background(), path+".missing", []byte("b"), nil)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFindAll(t *testing.T) {
	data := []byte("aaaa")
	p := ExactPattern([]byte("aa"))
	assert.Equal(t, []int64{0, 1, 2}, FindAll(data, p, false, false, 0))
	assert.Equal(t, []int64{0, 2}, FindAll(data, p, false, true, 0))
	assert.Equal(t, []int64{0}, FindAll(data, p, false, false, 1))
	assert.Empty(t, FindAll(data, ExactPattern(nil), false, false, 0))
}

func TestReplaceAll(t *testing.T) {
	testCases := []struct {
		name          string
		input         string
		find          string
		replace       string
		want          string
		wantOffsets   []int64
		lengthChanged bool
	}{
		{"same length", "ro.debuggable=0 ro.secure=1 ro.debuggable=0", "debuggable=0", "debuggable=1",
			"ro.debuggable=1 ro.secure=1 ro.debuggable=1", []int64{3, 31}, false},
		{"non overlapping", "aaaaa", "aa", "bb", "bbbba", []int64{0, 2}, false},
		{"shorter", "/system/bin/sh /system/bin/ls", "/system/bin/", "/bin/", "/bin/sh /bin/ls", []int64{0, 15}, true},
		{"longer", "x.y.x", "x", "xyz", "xyz.y.xyz", []int64{0, 4}, true},
		{"no match", "abc", "zz", "z", "abc", nil, true},
	}

	svc := NewSearchService(config.Default())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTestFile(t, "data.bin", []byte(tc.input))
			result, err := svc.ReplaceAll(context.Background(), path, []byte(tc.find), []byte(tc.replace), nil)
			require.NoError(t, err)
			assert.Equal(t, len(tc.wantOffsets), result.Count)
			assert.Equal(t, tc.wantOffsets, result.Offsets)
			assert.Equal(t, tc.lengthChanged, result.LengthChanged)

			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}

	_, err := svc.ReplaceAll(context.Background(), writeTestFile(t, "x", []byte("x")), nil, []byte("y"), nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestReplaceAllResizeStreamsInWindows(t *testing.T) {
	input := bytes.Repeat([]byte("init.rc:/system/bin/sh;aaa;"), 40)
	testCases := []struct {
		name      string
		chunkSize int
		find      string
		replace   string
	}{
		{"shorter across windows", 7, "/system/bin/", "/bin/"},
		{"longer across windows", 5, "sh;", "bash;"},
		{"overlapping candidates", 4, "aa", "b"},
		{"needle longer than chunk", 4, "init.rc:/system", "rc"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ChunkSize = tc.chunkSize
			path := writeTestFile(t, "data.bin", input)

			var percents []int
			result, err := NewSearchService(cfg).ReplaceAll(context.Background(), path, []byte(tc.find), []byte(tc.replace),
				func(p int) { percents = append(percents, p) })
			require.NoError(t, err)

			want := bytes.ReplaceAll(input, []byte(tc.find), []byte(tc.replace))
			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.True(t, result.LengthChanged)
			assert.Equal(t, bytes.Count(input, []byte(tc.find)), result.Count)
			for _, off := range result.Offsets {
				assert.Equal(t, tc.find, string(input[off:off+int64(len(tc.find))]))
			}

			require.NotEmpty(t, percents)
			assert.Greater(t, len(percents), 5)
			assert.Equal(t, 100, percents[len(percents)-1])
		})
	}
}

func TestReplaceAllResizeCancelled(t *testing.T) {
	input := bytes.Repeat([]byte("abc"), 100)
	path := writeTestFile(t, "data.bin", input)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSearchService(config.Default()).ReplaceAll(ctx, path, []byte("b"), []byte("xyz"), nil)
	assert.ErrorIs(t, err, types.ErrCancelled)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, input, got)
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
