package libresd

import (
	"errors"
	"fmt"
)

// Kind is the flat error-kind enumeration from the specification's error
// handling design: hardware, filesystem, object, and general faults.
// Kinds are grouped for callers but are not required to be distinguished
// beyond this set.
type Kind int

const (
	// Hardware
	ErrNoCard Kind = iota + 1
	ErrSPI
	ErrTimeout
	ErrCRC
	ErrVoltage
	ErrInitFailed
	ErrCommandFailed
	ErrBusy
	ErrWriteProtected
	ErrReadError
	ErrWriteError
	ErrEraseError

	// Filesystem
	ErrNoFilesystem
	ErrInvalidFilesystem
	ErrNotFAT
	ErrFATCorrupt
	ErrFull
	ErrRootFull

	// Object
	ErrNotFound
	ErrAlreadyExists
	ErrNotAFile
	ErrNotADirectory
	ErrDirectoryNotEmpty
	ErrInvalidName
	ErrPathTooLong
	ErrTooManyOpen
	ErrInvalidHandle
	ErrEOF
	ErrReadOnly
	ErrSeekError
	ErrLocked

	// General
	ErrInvalidParameter
	ErrNotMounted
	ErrNotSupported
	ErrGeneral
	ErrInternal
)

var kindNames = map[Kind]string{
	ErrNoCard:            "no card detected",
	ErrSPI:               "SPI communication error",
	ErrTimeout:           "operation timed out",
	ErrCRC:               "CRC check failed",
	ErrVoltage:           "voltage range not supported",
	ErrInitFailed:        "card initialization failed",
	ErrCommandFailed:     "command failed",
	ErrBusy:              "card is busy",
	ErrWriteProtected:    "card is write protected",
	ErrReadError:         "read error",
	ErrWriteError:        "write error",
	ErrEraseError:        "erase error",
	ErrNoFilesystem:      "no filesystem found",
	ErrInvalidFilesystem: "invalid or corrupt filesystem",
	ErrNotFAT:            "not a FAT filesystem",
	ErrFATCorrupt:        "FAT table corrupted",
	ErrFull:              "filesystem full",
	ErrRootFull:          "root directory full",
	ErrNotFound:          "file or directory not found",
	ErrAlreadyExists:     "file or directory already exists",
	ErrNotAFile:          "not a file",
	ErrNotADirectory:     "not a directory",
	ErrDirectoryNotEmpty: "directory not empty",
	ErrInvalidName:       "invalid filename",
	ErrPathTooLong:       "path exceeds max length",
	ErrTooManyOpen:       "too many open files",
	ErrInvalidHandle:     "invalid file handle",
	ErrEOF:               "end of file",
	ErrReadOnly:          "file opened read-only",
	ErrSeekError:         "seek error",
	ErrLocked:            "file is locked",
	ErrInvalidParameter:  "invalid parameter",
	ErrNotMounted:        "filesystem not mounted",
	ErrNotSupported:      "not supported",
	ErrGeneral:           "general error",
	ErrInternal:          "internal error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by every public libresd operation. It
// carries a Kind plus an optional human-readable message (the sd package
// formats the R1 byte into the message of its ErrCommandFailed errors)
// and an optional wrapped cause (e.g. a lower-level HAL error).
type Error struct {
	Kind    Kind
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is(err, libresd.New(SomeKind)) match any *Error with the
// same Kind, regardless of message/cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New creates an *Error with the kind's default message.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, message: fmt.Sprintf("%s: %s", kind, fmt.Sprintf(format, args...))}
}

// Wrap creates an *Error of the given kind wrapping a lower-level cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

// Of reports the Kind of err if it is (or wraps) a *libresd.Error, and
// ErrGeneral otherwise.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrGeneral
}
