package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

func TestChecksum(t *testing.T) {
	path := writeTestFile(t, "abc.txt", []byte("abc"))
	svc := NewChecksumService(config.Default())

	testCases := []struct {
		algo types.HashAlgorithm
		want string
	}{
		{types.HashMD5, "900150983cd24fb0d6963f7d28e17f72"},
		{types.HashSHA1, "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{types.HashSHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{types.HashSHA512, "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"},
	}
	for _, tc := range testCases {
		t.Run(string(tc.algo), func(t *testing.T) {
			sum, err := svc.Checksum(context.Background(), path, tc.algo, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, sum)
		})
	}

	sums, err := svc.Checksums(context.Background(), path, []types.HashAlgorithm{types.HashMD5, types.HashSHA1, types.HashMD5}, nil)
	require.NoError(t, err)
	assert.Len(t, sums, 2)

	_, err = svc.Checksum(context.Background(), path, "crc64", nil)
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestChecksumStreamsInChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 1000)
	path := writeTestFile(t, "big.bin", data)

	cfg := config.Default()
	cfg.ChunkSize = 333
	var percents []int
	small, err := NewChecksumService(cfg).Checksum(context.Background(), path, types.HashSHA256, func(p int) { percents = append(percents, p) })
	require.NoError(t, err)

	whole, err := NewChecksumService(config.Default()).Checksum(context.Background(), path, types.HashSHA256, nil)
	require.NoError(t, err)
	assert.Equal(t, whole, small)
	assert.Greater(t, len(percents), 10)
	assert.Equal(t, 100, percents[len(percents)-1])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewChecksumService(cfg).Checksum(ctx, path, types.HashMD5, nil)
	assert.ErrorIs(t, err, types.ErrCancelled)
}

func TestCompareFiles(t *testing.T) {
	a := writeTestFile(t, "a", []byte("hello world"))
	same := writeTestFile(t, "b", []byte("hello world"))
	changed := writeTestFile(t, "c", []byte("hello World"))
	longer := writeTestFile(t, "d", []byte("hello world!"))

	svc := NewChecksumService(config.Default())
	testCases := []struct {
		name  string
		other string
		want  bool
	}{
		{"identical", same, true},
		{"one byte differs", changed, false},
		{"prefix only", longer, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			equal, err := svc.CompareFiles(context.Background(), a, tc.other, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, equal)
		})
	}

	_, err := svc.CompareFiles(context.Background(), a, a+".missing", nil)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFindDifferences(t *testing.T) {
	a := make([]byte, 1000)
	b := make([]byte, 900)
	for _, off := range []int{3, 400, 401, 899} {
		b[off] = 0xFF
	}
	pathA := writeTestFile(t, "a", a)
	pathB := writeTestFile(t, "b", b)

	cfg := config.Default()
	cfg.ChunkSize = 128
	svc := NewChecksumService(cfg)

	result, err := svc.FindDifferences(context.Background(), pathA, pathB, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), result.SizeA)
	assert.Equal(t, int64(900), result.SizeB)
	assert.False(t, result.Truncated)
	require.Len(t, result.Differences, 4)
	assert.Equal(t, types.ByteDifference{Offset: 400, A: 0x00, B: 0xFF}, result.Differences[1])

	limited, err := svc.FindDifferences(context.Background(), pathA, pathB, 2, nil)
	require.NoError(t, err)
	assert.Len(t, limited.Differences, 2)
	assert.True(t, limited.Truncated)

	_, err = svc.FindDifferences(context.Background(), pathA, pathB, 0, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
