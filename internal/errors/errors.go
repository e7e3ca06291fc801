// Package errors holds the sentinel classes every layer wraps its failures with.
// A storage error, a crypto error and a use case error all reduce to one of these
// through errors.Is, which is what the CLI uses to pick an exit status.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")

	// ErrUnavailable marks failures of a dependency (database, external keeper) that may
	// succeed on retry.
	ErrUnavailable = errors.New("unavailable")

	// ErrInternal marks failures that are nobody's input, such as a broken random source.
	ErrInternal = errors.New("internal error")
)

// Exit statuses returned by ExitCode. They follow sysexits(3) where one fits.
const (
	ExitFailure     = 1
	ExitInvalid     = 65
	ExitNotFound    = 66
	ExitUnavailable = 69
	ExitInternal    = 70
	ExitForbidden   = 77
	ExitConflict    = 75
)

var exitCodes = []struct {
	class error
	code  int
}{
	{ErrInvalidInput, ExitInvalid},
	{ErrNotFound, ExitNotFound},
	{ErrForbidden, ExitForbidden},
	{ErrConflict, ExitConflict},
	{ErrUnavailable, ExitUnavailable},
	{ErrInternal, ExitInternal},
}

func New(message string) error {
	return errors.New(message)
}

// Wrap prefixes err with message. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// ExitCode maps err onto a process exit status: 0 for nil, the status of the first
// matching class otherwise, and ExitFailure for unclassified errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for _, c := range exitCodes {
		if errors.Is(err, c.class) {
			return c.code
		}
	}
	return ExitFailure
}
