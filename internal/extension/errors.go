package extension

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrNetwork                 = errors.New("network error")
	ErrManifestInvalid         = errors.New("manifest invalid")
	ErrUnsupportedArchitecture = fmt.Errorf("%w: unsupported architecture", ErrManifestInvalid)
	ErrAppVersionTooOld        = errors.New("application version too old")
	ErrChecksumMismatch        = errors.New("checksum mismatch")
	ErrExecutableMissing       = errors.New("executable missing")
	ErrPathEscape              = errors.New("path escapes extraction directory")
	ErrSignatureInvalid        = errors.New("signature invalid")
	ErrProcessFailed           = errors.New("process failed")
	ErrIPCInvalidResponse      = errors.New("invalid IPC response")
	ErrIPCHelper               = errors.New("runtime reported an error")
	ErrRuntimeNotInstalled     = errors.New("runtime not installed")
	ErrCancelled               = errors.New("cancelled")
	ErrTimeout                 = errors.New("timed out")

	// ErrBusy reports that another process holds the extension's install lock.
	ErrBusy = errors.New("another install or uninstall is in progress")
)

// Error is a classified failure. Kind is one of the package sentinels;
// Err, when set, is the underlying cause.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

// NewError creates a classified error.
func NewError(kind error, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ChecksumError reports a digest or size mismatch of a downloaded artifact.
type ChecksumError struct {
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// contextError converts a context failure into ErrTimeout or ErrCancelled.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrTimeout, "", err)
	}
	return NewError(ErrCancelled, "", err)
}

// checkpoint returns ErrCancelled if ctx is done.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(ErrCancelled, "", err)
	}
	return nil
}
