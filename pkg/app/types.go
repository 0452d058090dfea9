package app

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeFormatInvalid  = "FORMAT_INVALID"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeMismatch       = "VERIFICATION_MISMATCH"
	ErrCodeIO             = "IO_ERROR"
	ErrCodeUnsupported    = "UNSUPPORTED"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeInternal       = "INTERNAL"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
)

var kindCodes = map[types.ErrorKind]string{
	types.ErrKindInvalidInput:         ErrCodeInvalidInput,
	types.ErrKindFormatInvalid:        ErrCodeFormatInvalid,
	types.ErrKindNotFound:             ErrCodeNotFound,
	types.ErrKindVerificationMismatch: ErrCodeMismatch,
	types.ErrKindIO:                   ErrCodeIO,
	types.ErrKindUnsupported:          ErrCodeUnsupported,
	types.ErrKindCancelled:            ErrCodeCancelled,
}

// Process exit statuses per code. Anything else exits 1.
var exitCodes = map[string]int{
	ErrCodeInvalidInput:  2,
	ErrCodeFormatInvalid: 3,
	ErrCodeNotFound:      4,
	ErrCodeMismatch:      5,
	ErrCodeIO:            6,
	ErrCodeUnsupported:   7,
	ErrCodeCancelled:     130,
}

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// FromError maps a codec error onto a CommonError. Errors that already are
// CommonErrors pass through unchanged.
func FromError(message string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommonError
	if errors.As(err, &ce) {
		return err
	}
	code, ok := kindCodes[types.KindOf(err)]
	if !ok {
		code = ErrCodeInternal
	}
	return NewError(code, message, err)
}

// ExitCode returns the process exit status for err
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *CommonError
	if errors.As(err, &ce) {
		if code, ok := exitCodes[ce.Code]; ok {
			return code
		}
	}
	return 1
}
