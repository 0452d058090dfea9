package cpio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

type testEntry struct {
	name string
	mode uint32
	data string
}

// createTestArchive writes entries followed by the trailer
func createTestArchive(t *testing.T, entries []testEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i, e := range entries {
		require.NoError(t, w.WriteHeader(&types.CpioEntry{
			Ino:      uint32(300000 + i),
			Mode:     e.mode,
			Nlink:    1,
			FileSize: uint32(len(e.data)),
			Name:     e.name,
		}))
		_, err := w.Write([]byte(e.data))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReaderRoundTrip(t *testing.T) {
	entries := []testEntry{
		{"sbin", types.CpioModeDir | 0o755, ""},
		{"init", types.CpioModeRegular | 0o750, "#!/system/bin/sh\n"},
		{"sbin/a", types.CpioModeRegular | 0o644, "abc"},
		{"bin", types.CpioModeSymlink | 0o777, "/system/bin"},
	}
	archive := createTestArchive(t, entries)
	assert.Equal(t, 0, len(archive)%4, "archive must stay 4 byte aligned")

	r := NewReader(bytes.NewReader(archive))
	for _, want := range entries {
		e, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want.name, e.Name)
		assert.Equal(t, want.mode, e.Mode)

		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, want.data, string(data))
	}

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int64(len(archive)), r.Offset())
}

func TestReaderSkipsUnreadData(t *testing.T) {
	archive := createTestArchive(t, []testEntry{
		{"a", types.CpioModeRegular | 0o644, "12345"},
		{"b", types.CpioModeRegular | 0o644, "xy"},
	})

	r := NewReader(bytes.NewReader(archive))
	_, err := r.Next()
	require.NoError(t, err)
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", e.Name)
}

func TestReaderStopsAtTrailer(t *testing.T) {
	archive := createTestArchive(t, []testEntry{{"only", types.CpioModeRegular | 0o600, "data"}})
	archive = append(archive, []byte("070701 trailing garbage that is not an entry")...)

	r := NewReader(bytes.NewReader(archive))
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderBadMagicEndsArchive(t *testing.T) {
	archive := createTestArchive(t, []testEntry{{"first", types.CpioModeRegular | 0o644, "1234"}})
	// Drop the trailer and append an unrelated header
	trailer := MarshalHeader(&types.CpioEntry{Name: types.CpioTrailerName, Nlink: 1})
	archive = archive[:len(archive)-len(trailer)]
	archive = append(archive, bytes.Repeat([]byte{'Z'}, types.CpioHeaderSize)...)

	r := NewReader(bytes.NewReader(archive))
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", e.Name)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseHeaderErrors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func([]byte)
	}{
		{"bad hex", func(b []byte) { copy(b[6:14], "ZZZZZZZZ") }},
		{"zero name size", func(b []byte) { copy(b[94:102], "00000000") }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := MarshalHeader(&types.CpioEntry{Name: "x", Mode: types.CpioModeRegular})
			tc.mutate(header)
			_, err := ParseHeader(header)
			assert.ErrorIs(t, err, types.ErrFormatInvalid)
		})
	}
}

func TestWriterRejectsOverlongWrite(t *testing.T) {
	w := NewWriter(io.Discard)
	require.NoError(t, w.WriteHeader(&types.CpioEntry{Name: "f", FileSize: 2}))
	_, err := w.Write([]byte("abc"))
	assert.ErrorIs(t, err, ErrWriteTooLong)
}
