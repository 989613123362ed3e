package utils

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by lifecycle operations. Callers branch with
// errors.Is; the wrapped message carries entity/field context for the
// presentation layer.
var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrorNotOpen        = errors.New("not open")
	ErrorDuplicate      = errors.New("duplicate")
	ErrorNotAuthorized  = errors.New("not authorized")
)

func NotOpenError(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrorNotOpen)...)
}

func DuplicateError(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrorDuplicate)...)
}

func NotAuthorizedError(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrorNotAuthorized)...)
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
