package volumefs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseVolumeError string

const rootError = baseVolumeError("")

var ErrAllocatorInconsistency = rootError.WithMessage("Allocator state inconsistent")
var ErrDirectoryNotEmpty = rootError.WithMessage("Directory not empty")
var ErrExists = rootError.WithMessage("File exists")
var ErrFileSystemCorrupted = rootError.WithMessage("Structure needs cleaning")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrInvalidPath = rootError.WithMessage("Invalid path")
var ErrIOFailed = rootError.WithMessage("Input/output error")
var ErrIsADirectory = rootError.WithMessage("Is a directory")
var ErrNameTooLong = ErrInvalidArgument.WithMessage("File name too long")
var ErrNoDevice = rootError.WithMessage("No such device")
var ErrNoSpaceOnDevice = rootError.WithMessage("No space left on device")
var ErrNotADirectory = ErrInvalidPath.WithMessage("Not a directory")
var ErrNotFound = rootError.WithMessage("No such file or directory")

func (e baseVolumeError) Error() string {
	return string(e)
}

func (e baseVolumeError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseVolumeError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

// CastToDriverError returns `err` unchanged if it's already a [DriverError],
// and wraps it in [ErrIOFailed] otherwise. nil stays nil.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}
	if driverErr, ok := err.(DriverError); ok {
		return driverErr
	}
	return ErrIOFailed.Wrap(err)
}
