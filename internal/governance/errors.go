package governance

import (
	"errors"
	"fmt"
)

// Kind classifies a governance failure. Kinds are comparable with
// errors.Is against any error produced by E or wrapping one:
//
//	if errors.Is(err, governance.AcceptanceGateBlocked) { ... }
type Kind string

const (
	NotFound              Kind = "NotFound"
	InvalidTransition     Kind = "InvalidTransition"
	InvalidState          Kind = "InvalidState"
	InvalidInput          Kind = "InvalidInput"
	AlreadyCompiled       Kind = "AlreadyCompiled"
	NotCompiled           Kind = "NotCompiled"
	Unaccepted            Kind = "Unaccepted"
	AcceptanceGateBlocked Kind = "AcceptanceGateBlocked"
	MissingVersionPin     Kind = "MissingVersionPin"
	StaleAuthority        Kind = "StaleAuthority"
	GenerationError       Kind = "GenerationError"
	SchemaMismatch        Kind = "SchemaMismatch"
	CapabilityDenied      Kind = "CapabilityDenied"
)

// Rejection kinds. These never travel as errors: a rule failure is
// evidence with a false pass flag, and commands report it with one of
// these kinds.
const (
	AlignmentViolation   Kind = "AlignmentViolation"
	RequiredFieldMissing Kind = "RequiredFieldMissing"
)

// Error implements error so a bare Kind can be used as a sentinel.
func (k Kind) Error() string { return string(k) }

// Boundary reports whether the kind stops an operation at a governance
// boundary. Boundary errors are never downgraded to warnings.
func (k Kind) Boundary() bool {
	switch k {
	case AcceptanceGateBlocked, MissingVersionPin, StaleAuthority:
		return true
	}
	return false
}

// Error is a governance failure with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// E builds an *Error. Format arguments follow fmt.Sprintf.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg != "" {
			msg += ": " + e.Err.Error()
		} else {
			msg = e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind sentinel or another *Error of the same kind.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the kind of the first governance error in err's chain,
// or the empty string when err carries none.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// IsGovernance reports whether err carries a governance kind.
func IsGovernance(err error) bool {
	return KindOf(err) != ""
}
