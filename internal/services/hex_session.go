package services

import (
	"bytes"
	"fmt"
	"os"

	"github.com/apex/log"
	"go4.org/bytereplacer"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// HexSession holds one file in memory with an undo list of byte edits. A
// session is owned by a single caller and is not safe for concurrent use.
// It must be Reset before another file can be loaded.
type HexSession struct {
	cfg   *config.Config
	path  string
	data  []byte
	mode  os.FileMode
	edits []types.ByteEdit
	// saved is the edit count at the last load or save
	saved int
	// diverged is set when the buffer differs from disk regardless of edits
	diverged bool
}

// NewHexSession creates an empty session
func NewHexSession(cfg *config.Config) *HexSession {
	return &HexSession{cfg: cfg}
}

// Load reads path into memory
func (s *HexSession) Load(path string) error {
	const op = "load session"

	if s.data != nil {
		return types.Errorf(types.ErrKindInvalidInput, op, "session already holds %s, reset it first", s.path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return types.WrapIOError(op, path, err)
	}
	if info.IsDir() {
		return types.Errorf(types.ErrKindInvalidInput, op, "%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.WrapIOError(op, path, err)
	}
	if data == nil {
		data = []byte{}
	}

	s.path = path
	s.data = data
	s.mode = info.Mode().Perm()
	s.edits = nil
	s.saved = 0
	s.diverged = false
	log.WithFields(log.Fields{"path": path, "size": len(data)}).Debug("session loaded")
	return nil
}

// Reset drops the loaded file and its undo history
func (s *HexSession) Reset() {
	*s = HexSession{cfg: s.cfg}
}

// Loaded reports whether a file is held
func (s *HexSession) Loaded() bool {
	return s.data != nil
}

// Path returns the loaded file path
func (s *HexSession) Path() string {
	return s.path
}

// Size returns the buffer length
func (s *HexSession) Size() int64 {
	return int64(len(s.data))
}

// Dirty reports whether the buffer differs from the last load or save
func (s *HexSession) Dirty() bool {
	return s.diverged || len(s.edits) != s.saved
}

// Edits returns the undo history, oldest first
func (s *HexSession) Edits() []types.ByteEdit {
	return append([]types.ByteEdit(nil), s.edits...)
}

func (s *HexSession) checkRange(op string, off int64, n int) error {
	if s.data == nil {
		return types.Errorf(types.ErrKindInvalidInput, op, "no file loaded")
	}
	if off < 0 || off+int64(n) > int64(len(s.data)) {
		return types.Errorf(types.ErrKindInvalidInput, op, "range [0x%X, 0x%X) outside buffer of %d bytes", off, off+int64(n), len(s.data))
	}
	return nil
}

// Read returns a copy of n bytes at off
func (s *HexSession) Read(off int64, n int) ([]byte, error) {
	if err := s.checkRange("read session", off, n); err != nil {
		return nil, err
	}
	return append([]byte(nil), s.data[off:off+int64(n)]...), nil
}

// Write overwrites bytes at off and records the edit
func (s *HexSession) Write(off int64, b []byte) error {
	if err := s.checkRange("write session", off, len(b)); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	s.write(off, b)
	return nil
}

func (s *HexSession) write(off int64, b []byte) {
	end := off + int64(len(b))
	s.edits = append(s.edits, types.ByteEdit{
		Offset: off,
		Old:    append([]byte(nil), s.data[off:end]...),
		New:    append([]byte(nil), b...),
	})
	copy(s.data[off:end], b)
}

// ApplyPatch applies a verified patch to the buffer
func (s *HexSession) ApplyPatch(p types.HexPatch) error {
	const op = "apply patch"

	if err := validatePatch(p); err != nil {
		return err
	}
	if err := s.checkRange(op, p.Offset, len(p.OriginalBytes)); err != nil {
		return err
	}
	live := s.data[p.Offset : p.Offset+int64(len(p.OriginalBytes))]
	if !bytes.Equal(live, p.OriginalBytes) {
		return types.NewCodecError(types.ErrKindVerificationMismatch, op, s.path,
			fmt.Errorf("bytes at 0x%X are %X, expected %X", p.Offset, live, p.OriginalBytes))
	}
	s.write(p.Offset, p.NewBytes)
	return nil
}

// ReplaceAll replaces every non-overlapping occurrence of find. Equal
// length replacements are recorded as undoable edits. A length changing
// replacement rewrites the buffer and clears the undo history.
func (s *HexSession) ReplaceAll(find, replace []byte) (*types.ReplaceResult, error) {
	const op = "replace session"

	if s.data == nil {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "no file loaded")
	}
	if len(find) == 0 {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "search bytes are empty")
	}

	offsets := FindAll(s.data, ExactPattern(find), false, true, 0)
	result := &types.ReplaceResult{Count: len(offsets), Offsets: offsets}
	if len(offsets) == 0 {
		return result, nil
	}

	if len(find) == len(replace) {
		for _, off := range offsets {
			s.write(off, replace)
		}
		return result, nil
	}

	// Replace works in place when the output fits, so hand it a copy
	buf := append([]byte(nil), s.data...)
	s.data = bytereplacer.New(string(find), string(replace)).Replace(buf)
	s.edits = nil
	s.saved = 0
	s.diverged = true
	result.LengthChanged = true
	log.WithFields(log.Fields{"count": result.Count, "size": len(s.data)}).Info("buffer resized by replace")
	return result, nil
}

// Undo reverts the most recent edit and reports whether one existed
func (s *HexSession) Undo() bool {
	if len(s.edits) == 0 {
		return false
	}
	last := s.edits[len(s.edits)-1]
	s.edits = s.edits[:len(s.edits)-1]
	copy(s.data[last.Offset:], last.Old)
	if s.saved > len(s.edits) {
		// Undoing past a save leaves the buffer different from disk
		s.diverged = true
	}
	return true
}

// UndoAll reverts every recorded edit and returns how many were undone
func (s *HexSession) UndoAll() int {
	n := 0
	for s.Undo() {
		n++
	}
	return n
}

// Save writes the buffer back to the loaded path
func (s *HexSession) Save() error {
	return s.SaveAs(s.path)
}

// SaveAs writes the buffer to path atomically. Saving to another path
// does not change which file the session holds.
func (s *HexSession) SaveAs(path string) error {
	const op = "save session"

	if s.data == nil {
		return types.Errorf(types.ErrKindInvalidInput, op, "no file loaded")
	}
	err := writeFileAtomic(path, func(f *os.File) error {
		if _, err := f.Write(s.data); err != nil {
			return types.WrapIOError(op, path, err)
		}
		return f.Chmod(s.mode)
	})
	if err != nil {
		return withPath(err, path)
	}
	if path == s.path {
		s.saved = len(s.edits)
		s.diverged = false
	}
	log.WithFields(log.Fields{"path": path, "size": len(s.data)}).Info("session saved")
	return nil
}
