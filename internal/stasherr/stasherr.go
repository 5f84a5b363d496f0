// Package stasherr defines the Stash Engine's error taxonomy.
//
// Errors are data, not exceptions: validation-family outcomes travel as a
// Status value (see internal/validator), never as a returned error. Every
// other family here is a distinct, inspectable type so callers can switch
// on Code() instead of matching error strings.
package stasherr

import "fmt"

// Code names one error family member. Codes are stable identifiers used by
// the request-bus Failure{code, message, details} envelope.
type Code int

const (
	// NotFound family.
	GenesisAbsent Code = iota + 1
	SchemaAbsent
	TransitionAbsent
	TransitionTxidAbsent
	AnchorAbsent
	BundleAbsent
	NodeContractAbsent

	// Consistency family.
	DataIntegrity
	UnrelatedAnchor

	// Capacity family.
	Outsized

	// Input family.
	ContractBundleMissed
	InsufficientInputs
	UnknownContract

	// I/O family. The store does not produce this code: it wraps I/O
	// errors with chain/txvm/errors and returns them without retrying.
	Internal
)

var names = map[Code]string{
	GenesisAbsent:        "GenesisAbsent",
	SchemaAbsent:         "SchemaAbsent",
	TransitionAbsent:     "TransitionAbsent",
	TransitionTxidAbsent: "TransitionTxidAbsent",
	AnchorAbsent:         "AnchorAbsent",
	BundleAbsent:         "BundleAbsent",
	NodeContractAbsent:   "NodeContractAbsent",
	DataIntegrity:        "DataIntegrity",
	UnrelatedAnchor:      "UnrelatedAnchor",
	Outsized:             "Outsized",
	ContractBundleMissed: "ContractBundleMissed",
	InsufficientInputs:   "InsufficientInputs",
	UnknownContract:      "UnknownContract",
	Internal:             "Internal",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the concrete error type for every family besides Validation
// (which returns a Status, never an error) and plain I/O (which the
// store wraps with chain/txvm/errors, the same way as sql errors).
type Error struct {
	Code    Code
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code and formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches key/value diagnostic detail, e.g. the attained and
// required totals on InsufficientInputs.
func (e *Error) WithDetails(kv map[string]string) *Error {
	e.Details = kv
	return e
}

// Is reports whether err is a stasherr.Error carrying the given code,
// the same sentinel-comparison-through-wrapping idiom as
// chain/txvm/errors.Is.
func Is(err error, code Code) bool {
	se, ok := err.(*Error)
	return ok && se.Code == code
}
