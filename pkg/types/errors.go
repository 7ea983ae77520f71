package types

import (
	"errors"
	"fmt"
)

// Error is a structured, serializable error carried in per-fragment results
// and transport replies. Two Errors match under errors.Is when their codes
// match, or when the target is the family the error belongs to.
type Error struct {
	Code    int    `json:"code,omitempty"`
	Slug    string `json:"slug,omitempty"`
	Message string `json:"message"`

	family *Error
}

// Error returns the message.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target is an *Error with the same code or the same
// family code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return e.family != nil && e.family.Code == t.Code
}

// Withf returns a copy of e whose message is extended with detail. The copy
// still matches e under errors.Is.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{
		Code:    e.Code,
		Slug:    e.Slug,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
		family:  e.family,
	}
}

func newError(code int, slug, message string) *Error {
	return &Error{Code: code, Slug: slug, Message: message}
}

func newFamilyError(family *Error, code int, slug, message string) *Error {
	return &Error{Code: code, Slug: slug, Message: message, family: family}
}

// Transport and session errors. Codes match the values replicas already
// understand.
var (
	ErrRejected                 = newError(1, "rejected", "connection was rejected")
	ErrServer                   = newError(6, "server-error", "internal server error")
	ErrScopeNotFound            = newError(7, "scope-not-found", "scope not found")
	ErrCouldNotApplySyncMessage = newError(8, "could-not-apply-sync-message", "could not apply sync message")
)

// Schema definition errors.
var (
	ErrInvalidDefinition     = newError(100, "invalid-definition", "invalid type definition")
	ErrDuplicateTypeName     = newFamilyError(ErrInvalidDefinition, 101, "duplicate-type-name", "type name already defined")
	ErrInvalidPropertyKind   = newFamilyError(ErrInvalidDefinition, 102, "invalid-property-kind", "invalid property kind")
	ErrDuplicatePropertyName = newFamilyError(ErrInvalidDefinition, 103, "duplicate-property-name", "property name already defined")
)

// Scope state errors. ErrNoPersistBackend and ErrNoRootModel abort an entire
// ApplySyncFragments call.
var (
	ErrNoPersistBackend = newError(110, "no-persist-backend", "no persist backend configured")
	ErrNoRootModel      = newError(111, "no-root-model", "no root model set")
	ErrAlreadyHasRoot   = newError(112, "already-has-root", "scope already has a root model")
)

// Per-fragment validation and graph errors.
var (
	ErrUnknownType              = newError(120, "unknown-type", "unknown type")
	ErrPropertyTypeMismatch     = newError(121, "property-type-mismatch", "property type mismatch")
	ErrPropertyValidationFailed = newError(122, "property-validation-failed", "property validation failed")
	ErrParentNotFound           = newError(123, "parent-not-found", "parent not found")
	ErrObjectNotFound           = newError(124, "object-not-found", "object not found")
	ErrGraphInconsistency       = newError(125, "graph-inconsistency", "graph inconsistency")
	ErrDanglingReference        = newError(126, "dangling-reference", "dangling reference")
	ErrInvalidFragment          = newError(127, "invalid-fragment", "invalid sync fragment")
	ErrUnsupportedFragment      = newError(128, "unsupported-fragment", "unsupported sync fragment type")
	ErrScopeMismatch            = newError(129, "scope-mismatch", "object belongs to a different scope")
)

// Persistence middleware contract errors.
var (
	ErrAlreadyExists = newError(130, "already-exists", "object already exists")
	ErrNotFound      = newError(131, "not-found", "object does not exist")
)

// AsError returns the *Error in err's chain, or ErrServer carrying err's
// message when the chain holds none.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Error() == err.Error() {
			return e
		}
		return &Error{Code: e.Code, Slug: e.Slug, Message: err.Error(), family: e.family}
	}
	return &Error{Code: ErrServer.Code, Slug: ErrServer.Slug, Message: err.Error()}
}
