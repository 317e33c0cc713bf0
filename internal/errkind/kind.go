// Package errkind defines the substrate-agnostic error taxonomy shared by
// the local and remote backends, so callers can branch on failure class
// without knowing which backend produced it.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies a substrate failure independent of which backend raised it.
type Kind int

const (
	Unknown Kind = iota
	NotInstalled
	NotAuthenticated
	Timeout
	NamespaceMissing
	ObjectNotFound
	ObjectExists
	RegistryUnreachable
	BuildFailed
	QuotaExceeded
	PermissionDenied
	Unreachable
	Transient // retriable or ignorable substrate hiccup, e.g. during cascaded delete
)

func (k Kind) String() string {
	switch k {
	case NotInstalled:
		return "not_installed"
	case NotAuthenticated:
		return "not_authenticated"
	case Timeout:
		return "timeout"
	case NamespaceMissing:
		return "namespace_missing"
	case ObjectNotFound:
		return "object_not_found"
	case ObjectExists:
		return "object_exists"
	case RegistryUnreachable:
		return "registry_unreachable"
	case BuildFailed:
		return "build_failed"
	case QuotaExceeded:
		return "quota_exceeded"
	case PermissionDenied:
		return "permission_denied"
	case Unreachable:
		return "unreachable"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error wraps an underlying backend error with a classified Kind so callers
// across both substrates can handle failures uniformly.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation name. Returns nil if err is nil.
func New(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a classified error from a format string, for failures that
// originate inside paude rather than wrapping a substrate error.
func Newf(op string, kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or Unknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
