package faults

import (
	"errors"
	"fmt"
)

// Sentinel categories. Wrap them with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	ErrCommunication = errors.New("communication error")
	// ErrTimeout also matches ErrCommunication.
	ErrTimeout    = fmt.Errorf("timeout: %w", ErrCommunication)
	ErrTruncated  = errors.New("truncated download")
	ErrDecode     = errors.New("decode error")
	ErrValidation = errors.New("validation error")
)

const (
	CategoryTimeout       = "timeout"
	CategoryCommunication = "communication"
	CategoryTruncated     = "truncated_download"
	CategoryDecode        = "decode"
	CategoryValidation    = "validation"
	CategoryInternal      = "internal"
)

// Category maps an error onto the short category string carried by error events.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return CategoryTimeout
	case errors.Is(err, ErrCommunication):
		return CategoryCommunication
	case errors.Is(err, ErrTruncated):
		return CategoryTruncated
	case errors.Is(err, ErrDecode):
		return CategoryDecode
	case errors.Is(err, ErrValidation):
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Decode(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
