package pathguard

import "fmt"

// Code identifies which rule rejected a path.
type Code string

const (
	CodeEmptyPath             Code = "EmptyPath"
	CodePathTraversal         Code = "PathTraversal"
	CodeUnsafeCharacters      Code = "UnsafeCharacters"
	CodeSystemDirectoryDenied Code = "SystemDirectoryDenied"
	CodeNetworkPathDenied     Code = "NetworkPathDenied"
	CodePathTooLong           Code = "PathTooLong"
)

// ValidationError is returned for every rejected path. It matches the
// sentinel with the same Code under errors.Is.
type ValidationError struct {
	Code   Code
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %q", e.Code, e.Reason, e.Path)
}

// Is matches any *ValidationError carrying the same Code.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

var (
	ErrEmptyPath             = &ValidationError{Code: CodeEmptyPath}
	ErrPathTraversal         = &ValidationError{Code: CodePathTraversal}
	ErrUnsafeCharacters      = &ValidationError{Code: CodeUnsafeCharacters}
	ErrSystemDirectoryDenied = &ValidationError{Code: CodeSystemDirectoryDenied}
	ErrNetworkPathDenied     = &ValidationError{Code: CodeNetworkPathDenied}
	ErrPathTooLong           = &ValidationError{Code: CodePathTooLong}
)

func newError(code Code, p, reason string) *ValidationError {
	return &ValidationError{Code: code, Path: p, Reason: reason}
}
