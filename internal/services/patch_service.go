package services

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// PatchService applies guarded byte patches to files
type PatchService struct {
	cfg *config.Config
}

// NewPatchService creates a new patch service
func NewPatchService(cfg *config.Config) *PatchService {
	return &PatchService{cfg: cfg}
}

// ParsePatchList reads OFFSET:ORIGINAL_HEX:NEW_HEX:DESCRIPTION lines. Blank
// lines and lines starting with # or // are skipped.
func ParsePatchList(r io.Reader) ([]types.HexPatch, error) {
	var patches []types.HexPatch
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "//") {
			continue
		}
		p, err := ParsePatch(text)
		if err != nil {
			return nil, types.NewCodecError(types.ErrKindInvalidInput, "parse patch list", "", fmt.Errorf("line %d: %w", line, err))
		}
		patches = append(patches, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, types.WrapIOError("parse patch list", "", err)
	}
	return patches, nil
}

// ParsePatchFile reads a patch list from disk
func ParsePatchFile(path string) ([]types.HexPatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapIOError("parse patch list", path, err)
	}
	defer f.Close()

	patches, err := ParsePatchList(f)
	return patches, withPath(err, path)
}

// ParsePatch parses one patch line. The offset is hex with an optional 0x
// prefix. The description may contain colons.
func ParsePatch(line string) (types.HexPatch, error) {
	const op = "parse patch"

	fields := strings.SplitN(line, ":", 4)
	if len(fields) < 3 {
		return types.HexPatch{}, types.Errorf(types.ErrKindInvalidInput, op, "want OFFSET:ORIGINAL:NEW[:DESCRIPTION], got %q", line)
	}

	offText := strings.TrimSpace(fields[0])
	offText = strings.TrimPrefix(strings.TrimPrefix(offText, "0x"), "0X")
	offset, err := strconv.ParseInt(offText, 16, 64)
	if err != nil || offset < 0 {
		return types.HexPatch{}, types.Errorf(types.ErrKindInvalidInput, op, "invalid offset %q", fields[0])
	}

	original, err := ParseHexBytes(fields[1])
	if err != nil {
		return types.HexPatch{}, err
	}
	replacement, err := ParseHexBytes(fields[2])
	if err != nil {
		return types.HexPatch{}, err
	}

	p := types.HexPatch{Offset: offset, OriginalBytes: original, NewBytes: replacement}
	if len(fields) == 4 {
		p.Description = strings.TrimSpace(fields[3])
	}
	if err := validatePatch(p); err != nil {
		return types.HexPatch{}, err
	}
	return p, nil
}

// FormatPatch renders a patch in the list format ParsePatch reads
func FormatPatch(p types.HexPatch) string {
	return fmt.Sprintf("0x%X:%X:%X:%s", p.Offset, p.OriginalBytes, p.NewBytes, p.Description)
}

func validatePatch(p types.HexPatch) error {
	const op = "validate patch"
	if p.Offset < 0 {
		return types.Errorf(types.ErrKindInvalidInput, op, "negative offset %d", p.Offset)
	}
	if len(p.OriginalBytes) == 0 {
		return types.Errorf(types.ErrKindInvalidInput, op, "patch at 0x%X has no original bytes", p.Offset)
	}
	if len(p.OriginalBytes) != len(p.NewBytes) {
		return types.Errorf(types.ErrKindInvalidInput, op, "patch at 0x%X replaces %d bytes with %d", p.Offset, len(p.OriginalBytes), len(p.NewBytes))
	}
	return nil
}

// ClassifyPatch compares a patch against the live bytes at its offset
func ClassifyPatch(p types.HexPatch, live []byte) types.PatchState {
	switch {
	case bytes.Equal(live, p.OriginalBytes):
		return types.PatchApplicable
	case bytes.Equal(live, p.NewBytes):
		return types.PatchAlreadyApplied
	default:
		return types.PatchMismatch
	}
}

// readPatchTarget reads the bytes a patch covers
func readPatchTarget(f *os.File, p types.HexPatch) ([]byte, error) {
	const op = "read patch target"

	info, err := f.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, f.Name(), err)
	}
	end := p.Offset + int64(len(p.OriginalBytes))
	if end > info.Size() {
		return nil, types.NewCodecError(types.ErrKindInvalidInput, op, f.Name(),
			fmt.Errorf("patch range [0x%X, 0x%X) is beyond end of file (0x%X)", p.Offset, end, info.Size()))
	}
	live := make([]byte, len(p.OriginalBytes))
	if _, err := f.ReadAt(live, p.Offset); err != nil {
		return nil, types.WrapIOError(op, f.Name(), err)
	}
	return live, nil
}

// VerifyPatch reports whether a patch can be applied, is already applied or
// conflicts with the file
func (s *PatchService) VerifyPatch(path string, p types.HexPatch) (types.PatchState, error) {
	if err := validatePatch(p); err != nil {
		return types.PatchMismatch, err
	}
	f, err := os.Open(path)
	if err != nil {
		return types.PatchMismatch, types.WrapIOError("verify patch", path, err)
	}
	defer f.Close()

	live, err := readPatchTarget(f, p)
	if err != nil {
		return types.PatchMismatch, err
	}
	return ClassifyPatch(p, live), nil
}

// ApplyPatch writes NewBytes at Offset only if the file still holds
// OriginalBytes there. A stale patch is refused with VerificationMismatch and
// the file is left untouched.
func (s *PatchService) ApplyPatch(path string, p types.HexPatch) error {
	return s.swap(path, p, p.OriginalBytes, p.NewBytes, "apply patch")
}

// RevertPatch restores OriginalBytes where NewBytes are found
func (s *PatchService) RevertPatch(path string, p types.HexPatch) error {
	return s.swap(path, p, p.NewBytes, p.OriginalBytes, "revert patch")
}

func (s *PatchService) swap(path string, p types.HexPatch, expect, write []byte, op string) error {
	if err := validatePatch(p); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return types.WrapIOError(op, path, err)
	}
	defer f.Close()

	live, err := readPatchTarget(f, p)
	if err != nil {
		return err
	}
	if !bytes.Equal(live, expect) {
		return types.NewCodecError(types.ErrKindVerificationMismatch, op, path,
			fmt.Errorf("bytes at 0x%X are %X, expected %X", p.Offset, live, expect))
	}
	if _, err := f.WriteAt(write, p.Offset); err != nil {
		return types.WrapIOError(op, path, err)
	}
	if err := f.Sync(); err != nil {
		return types.WrapIOError(op, path, err)
	}

	log.WithFields(log.Fields{
		"path":   path,
		"offset": fmt.Sprintf("0x%X", p.Offset),
		"bytes":  len(write),
		"desc":   p.Description,
	}).Info(op)
	return nil
}

// ApplyPatches applies each patch independently and reports which were
// applied and why the others were refused
func (s *PatchService) ApplyPatches(path string, patches []types.HexPatch) (*types.PatchReport, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, types.WrapIOError("apply patches", path, err)
	}

	report := &types.PatchReport{}
	for _, p := range patches {
		if err := s.ApplyPatch(path, p); err != nil {
			if types.KindOf(err) == types.ErrKindIO {
				return report, err
			}
			log.WithError(err).WithField("offset", fmt.Sprintf("0x%X", p.Offset)).Warn("patch refused")
			report.Failed = append(report.Failed, types.PatchFailure{Patch: p, Err: err})
			continue
		}
		report.Applied = append(report.Applied, p)
	}
	return report, nil
}
