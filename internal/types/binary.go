package types

import (
	"fmt"
	"strings"
)

// ProgressFunc receives completion percentages in the range 0-100
type ProgressFunc func(percent int)

// HexPatch is a guarded in-place byte replacement
type HexPatch struct {
	Offset        int64
	OriginalBytes []byte
	NewBytes      []byte
	Description   string
}

// HexSearchResult is one match of a search
type HexSearchResult struct {
	Offset int64
	Match  []byte
}

// PatchState is the outcome of checking a patch against a file
type PatchState int

const (
	PatchApplicable PatchState = iota
	PatchAlreadyApplied
	PatchMismatch
)

// String returns the state name
func (s PatchState) String() string {
	switch s {
	case PatchApplicable:
		return "applicable"
	case PatchAlreadyApplied:
		return "already-applied"
	default:
		return "mismatch"
	}
}

// PatchFailure pairs a patch with the reason it was refused
type PatchFailure struct {
	Patch HexPatch
	Err   error
}

// PatchReport lists the outcome of a batch of patches
type PatchReport struct {
	Applied []HexPatch
	Failed  []PatchFailure
}

// ReplaceResult summarises a replace-all run
type ReplaceResult struct {
	Count         int
	Offsets       []int64
	LengthChanged bool
}

// ByteDifference is one differing offset between two files
type ByteDifference struct {
	Offset int64
	A      byte
	B      byte
}

// DiffResult is the result of a difference scan
type DiffResult struct {
	SizeA       int64
	SizeB       int64
	Differences []ByteDifference
	Truncated   bool
}

// ByteEdit records one edit in a session for undo
type ByteEdit struct {
	Offset int64
	Old    []byte
	New    []byte
}

// HashAlgorithm selects a checksum
type HashAlgorithm string

const (
	HashMD5    HashAlgorithm = "md5"
	HashSHA1   HashAlgorithm = "sha1"
	HashSHA256 HashAlgorithm = "sha256"
	HashSHA512 HashAlgorithm = "sha512"
)

// ParseHashAlgorithm accepts names such as "SHA-256" or "sha256"
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", ""))
	switch HashAlgorithm(normalized) {
	case HashMD5, HashSHA1, HashSHA256, HashSHA512:
		return HashAlgorithm(normalized), nil
	}
	return "", Errorf(ErrKindUnsupported, "parse hash algorithm", "unsupported hash algorithm: %s", name)
}

// BytePattern is a search pattern with per-byte wildcards
type BytePattern struct {
	Bytes []byte
	Mask  []bool // true where the byte must match
}

// Len returns the pattern length
func (p BytePattern) Len() int {
	return len(p.Bytes)
}

// IsExact reports whether the pattern has no wildcards
func (p BytePattern) IsExact() bool {
	for _, m := range p.Mask {
		if !m {
			return false
		}
	}
	return true
}

// String renders the pattern in hex token form
func (p BytePattern) String() string {
	tokens := make([]string, len(p.Bytes))
	for i, b := range p.Bytes {
		if p.Mask[i] {
			tokens[i] = fmt.Sprintf("%02X", b)
		} else {
			tokens[i] = "??"
		}
	}
	return strings.Join(tokens, " ")
}
