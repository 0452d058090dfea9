package helpers

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// CString returns the bytes of b up to the first NUL
func CString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// DecodeUTF16LE decodes a NUL padded UTF-16LE field
func DecodeUTF16LE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i : i+2])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// EncodeUTF16LE encodes s into a fixed size UTF-16LE field. Code units that
// do not fit are dropped.
func EncodeUTF16LE(s string, size int) []byte {
	out := make([]byte, size)
	for i, u := range utf16.Encode([]rune(s)) {
		if (i+1)*2 > size {
			break
		}
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

// IsFilled reports whether every byte of b equals fill
func IsFilled(b []byte, fill byte) bool {
	for _, c := range b {
		if c != fill {
			return false
		}
	}
	return true
}
