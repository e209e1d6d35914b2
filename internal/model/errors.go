package model

import "fmt"

// ErrorKind is the short machine-readable error discriminant surfaced to
// every external caller, per section 6.5.
type ErrorKind string

const (
	KindParentNotFound     ErrorKind = "ParentNotFound"
	KindTaskNotFound       ErrorKind = "TaskNotFound"
	KindAgentNotFound      ErrorKind = "AgentNotFound"
	KindInvalidTransition  ErrorKind = "InvalidTransition"
	KindVersionMismatch    ErrorKind = "VersionMismatch"
	KindInvariantViolated  ErrorKind = "InvariantViolated"
	KindFsError            ErrorKind = "FsError"
	KindInterrupted        ErrorKind = "Interrupted"
)

// FsErrorSubkind distinguishes the filesystem failure modes named in
// section 4.2.
type FsErrorSubkind string

const (
	FsNotFound         FsErrorSubkind = "NotFound"
	FsPermissionDenied FsErrorSubkind = "PermissionDenied"
	FsDiskFull         FsErrorSubkind = "DiskFull"
	FsCrossDevice      FsErrorSubkind = "CrossDevice"
	FsOther            FsErrorSubkind = "Other"
)

// Error is the single error type surfaced across component boundaries. It
// carries a machine-readable Kind plus a human-readable Detail, and for
// FsError additionally a Sub discriminant.
type Error struct {
	Kind   ErrorKind
	Sub    FsErrorSubkind
	Detail string
	// Cause, when non-nil, is the underlying error this one wraps.
	Cause error
}

func (e *Error) Error() string {
	if e.Kind == KindFsError && e.Sub != "" {
		return fmt.Sprintf("%s{%s}: %s", e.Kind, e.Sub, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func NewFsError(sub FsErrorSubkind, detail string, cause error) *Error {
	return &Error{Kind: KindFsError, Sub: sub, Detail: detail, Cause: cause}
}

func NewInterrupted(detail string) *Error {
	return &Error{Kind: KindInterrupted, Detail: detail}
}

// KindOf extracts the ErrorKind of err if it is (or wraps) an *Error, and
// ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if ok := errorsAs(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

// errorsAs is a small hand-written stand-in for errors.As: it walks the
// chain through single Unwrap() error methods (not Unwrap() []error) and
// stops at the first *Error.
func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
