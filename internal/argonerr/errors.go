// Package argonerr defines the daemon's closed set of error kinds.
//
// Every operation that can fail in a way a caller needs to branch on
// returns (or wraps) an *Error so the HTTP and socket layers can map it
// to a status code without re-parsing error strings.
package argonerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the daemon's error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindPanelUnavailable
	KindInvalidToken
	KindVariableRuleViolation
	KindUnknownCargo
	KindImagePullFailed
	KindContainerOpFailed
	KindInstallScriptFailed
	KindRecordNotFound
	KindInvalidTransition
	KindPayloadTooLarge
	KindAuthTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindPanelUnavailable:
		return "PanelUnavailable"
	case KindInvalidToken:
		return "InvalidToken"
	case KindVariableRuleViolation:
		return "VariableRuleViolation"
	case KindUnknownCargo:
		return "UnknownCargo"
	case KindImagePullFailed:
		return "ImagePullFailed"
	case KindContainerOpFailed:
		return "ContainerOpFailed"
	case KindInstallScriptFailed:
		return "InstallScriptFailed"
	case KindRecordNotFound:
		return "RecordNotFound"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindAuthTimeout:
		return "AuthTimeout"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the daemon's typed error wrapper. Field carries kind-specific
// context (variable name for VariableRuleViolation, cargo path for
// UnknownCargo); ExitCode is only meaningful for InstallScriptFailed.
type Error struct {
	Kind     Kind
	Field    string
	Rule     string
	ExitCode int
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindVariableRuleViolation:
		return fmt.Sprintf("%s: variable %q violates rule %q", e.Kind, e.Field, e.Rule)
	case KindUnknownCargo:
		return fmt.Sprintf("%s: unknown cargo path %q", e.Kind, e.Field)
	case KindInstallScriptFailed:
		return fmt.Sprintf("%s: exit code %d", e.Kind, e.ExitCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func VariableRuleViolation(name, rule string) *Error {
	return &Error{Kind: KindVariableRuleViolation, Field: name, Rule: rule}
}

func UnknownCargo(path string) *Error {
	return &Error{Kind: KindUnknownCargo, Field: path}
}

func InstallScriptFailed(exitCode int) *Error {
	return &Error{Kind: KindInstallScriptFailed, ExitCode: exitCode}
}

// KindOf recovers the Kind of err, or KindUnknown if err isn't (or doesn't
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
