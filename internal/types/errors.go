package types

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrorKind classifies codec failures so callers can tell permanent format
// errors from retryable I/O failures.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindFormatInvalid
	ErrKindNotFound
	ErrKindVerificationMismatch
	ErrKindIO
	ErrKindUnsupported
	ErrKindInvalidInput
	ErrKindCancelled
)

var errorKindNames = map[ErrorKind]string{
	ErrKindUnknown:              "unknown",
	ErrKindFormatInvalid:        "format-invalid",
	ErrKindNotFound:             "not-found",
	ErrKindVerificationMismatch: "verification-mismatch",
	ErrKindIO:                   "io",
	ErrKindUnsupported:          "unsupported-variant",
	ErrKindInvalidInput:         "invalid-input",
	ErrKindCancelled:            "cancelled",
}

// String returns the kind name
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// CodecError is the error type returned by every codec operation
type CodecError struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

// Kind sentinels for use with errors.Is
var (
	ErrFormatInvalid        = &CodecError{Kind: ErrKindFormatInvalid}
	ErrNotFound             = &CodecError{Kind: ErrKindNotFound}
	ErrVerificationMismatch = &CodecError{Kind: ErrKindVerificationMismatch}
	ErrIO                   = &CodecError{Kind: ErrKindIO}
	ErrUnsupported          = &CodecError{Kind: ErrKindUnsupported}
	ErrInvalidInput         = &CodecError{Kind: ErrKindInvalidInput}
	ErrCancelled            = &CodecError{Kind: ErrKindCancelled}
)

func (e *CodecError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare kind sentinel matching this error's kind
func (e *CodecError) Is(target error) bool {
	t, ok := target.(*CodecError)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// NewCodecError creates a CodecError
func NewCodecError(kind ErrorKind, op, path string, err error) *CodecError {
	return &CodecError{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf creates a CodecError with a formatted cause
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *CodecError {
	return &CodecError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapIOError wraps an error from the file system, mapping missing files to
// ErrKindNotFound and context cancellation to ErrKindCancelled.
func WrapIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CodecError
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewCodecError(ErrKindNotFound, op, path, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewCodecError(ErrKindCancelled, op, path, err)
	default:
		return NewCodecError(ErrKindIO, op, path, err)
	}
}

// KindOf returns the kind of the first CodecError in err's chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrKindUnknown
	}
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrKindCancelled
	}
	return ErrKindUnknown
}

// IsRetryable reports whether the failure may succeed on retry
func IsRetryable(err error) bool {
	return KindOf(err) == ErrKindIO
}
