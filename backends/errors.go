package backends

import (
	"errors"
	"fmt"
)

// Kind is one member of the closed error taxonomy every backend maps into
type Kind int

const (
	// KindBackendFailure covers transport and service level failures. It is the only retryable kind.
	KindBackendFailure Kind = iota
	KindObjectNotFound
	KindAlreadyExists
	KindPermissionDenied
	KindNotADirectory
	KindIsADirectory
	KindUnsupported
	KindInvalidInput
)

var kindNames = map[Kind]string{
	KindBackendFailure:   "backend_failure",
	KindObjectNotFound:   "object_not_found",
	KindAlreadyExists:    "already_exists",
	KindPermissionDenied: "permission_denied",
	KindNotADirectory:    "not_a_directory",
	KindIsADirectory:     "is_a_directory",
	KindUnsupported:      "unsupported",
	KindInvalidInput:     "invalid_input",
}

// String returns the snake_case name of the kind, suitable for metric labels
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether retrying an operation could change its outcome
func (k Kind) Retryable() bool {
	return k == KindBackendFailure
}

// Error is the error type returned by every accessor operation.
// Err carries the native backend error for diagnostics and is never used for control flow.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Sentinel errors usable with errors.Is. They match any *Error of the same kind.
var (
	ErrObjectNotFound   = &Error{Kind: KindObjectNotFound}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrNotADirectory    = &Error{Kind: KindNotADirectory}
	ErrIsADirectory     = &Error{Kind: KindIsADirectory}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrBackendFailure   = &Error{Kind: KindBackendFailure}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path %q)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

// NewError builds an *Error of the given kind
func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// NotFound is shorthand for an ObjectNotFound error
func NotFound(op, path string) *Error {
	return NewError(KindObjectNotFound, op, path, nil)
}

// Unsupported is shorthand for an Unsupported error naming the missing feature
func Unsupported(op, path, feature string) *Error {
	return NewError(KindUnsupported, op, path, fmt.Errorf("backend does not support %s", feature))
}

// InvalidInput is shorthand for an InvalidInput error with a message
func InvalidInput(op, path, format string, args ...any) *Error {
	return NewError(KindInvalidInput, op, path, fmt.Errorf(format, args...))
}

// Failure wraps a native error as BackendFailure
func Failure(op, path string, err error) *Error {
	return NewError(KindBackendFailure, op, path, err)
}

// KindOf returns the taxonomy kind of err. Errors that did not come from a
// backend are reported as BackendFailure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackendFailure
}

// IsKind reports whether err belongs to kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// WithOp fills in the operation and path of err when the backend left them empty.
// Errors that are not *Error are wrapped as BackendFailure.
func WithOp(err error, op, path string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return Failure(op, path, err)
	}
	if e.Op != "" && e.Path != "" {
		return err
	}
	cp := *e
	if cp.Op == "" {
		cp.Op = op
	}
	if cp.Path == "" {
		cp.Path = path
	}
	return &cp
}
