package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a loader error code. Each component owns a small closed range.
type Code uint32

// arena
const (
	ErrAllocation Code = iota + 1
	ErrReleased
)

// image reader and mapper
const (
	ErrFileOpen Code = iota + 0x100
	ErrFileRead
	ErrInvalidFileFormat
	ErrUnhandledMachine
	ErrSerialization
	ErrOutOfBounds
	ErrImportResolution
	ErrEntryPointCall
	ErrNotMapped
	ErrUnsupportedPlatform
)

// api set resolver
const (
	ErrProcessQuery Code = iota + 0x200
	ErrSetMapNotFound
	ErrUnhandledVersion
	ErrUnsupportedSchema
	ErrInvalidName
)

// library registry
const (
	ErrNotInitialized Code = iota + 0x300
	ErrNotFound
	ErrLoadFailed
)

var codeNames = map[Code]string{
	ErrAllocation:          "allocation failure",
	ErrReleased:            "arena released",
	ErrFileOpen:            "file open failure",
	ErrFileRead:            "file read failure",
	ErrInvalidFileFormat:   "invalid file format",
	ErrUnhandledMachine:    "unhandled machine type",
	ErrSerialization:       "serialization failure",
	ErrOutOfBounds:         "rva out of bounds",
	ErrImportResolution:    "import resolution failure",
	ErrEntryPointCall:      "entry point returned false",
	ErrNotMapped:           "image not mapped",
	ErrUnsupportedPlatform: "unsupported platform",
	ErrProcessQuery:        "process query failure",
	ErrSetMapNotFound:      "api set map not found",
	ErrUnhandledVersion:    "unhandled api set version",
	ErrUnsupportedSchema:   "unsupported api set schema",
	ErrInvalidName:         "invalid api set name",
	ErrNotInitialized:      "registry not initialized",
	ErrNotFound:            "library not found",
	ErrLoadFailed:          "library load failed",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code %#x", uint32(c))
}

// LoaderError carries the failing operation, the code and an optional path and cause.
type LoaderError struct {
	Code  Code
	Op    string
	Path  string
	Cause error
}

func (e *LoaderError) Error() string {
	msg := e.Code.String()
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoaderError) Unwrap() error {
	return e.Cause
}

// New creates a new LoaderError
func New(code Code, op string) error {
	return &LoaderError{Code: code, Op: op}
}

// Wrap attaches a code and operation to cause.
func Wrap(code Code, op string, cause error) error {
	return &LoaderError{Code: code, Op: op, Cause: cause}
}

// WithPath returns err annotated with path. Non-loader errors are wrapped with ErrLoadFailed.
func WithPath(err error, path string) error {
	if err == nil {
		return nil
	}
	var le *LoaderError
	if stderrors.As(err, &le) {
		cp := *le
		cp.Path = path
		return &cp
	}
	return &LoaderError{Code: ErrLoadFailed, Path: path, Cause: err}
}

// CodeOf returns the code of the outermost LoaderError in err's chain, or 0.
func CodeOf(err error) Code {
	var le *LoaderError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return 0
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code Code) bool {
	for err != nil {
		var le *LoaderError
		if !stderrors.As(err, &le) {
			return false
		}
		if le.Code == code {
			return true
		}
		err = le.Cause
	}
	return false
}
