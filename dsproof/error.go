// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind
// when determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific RuleError.
const (
	// ErrNotDoubleSpend indicates the two transactions passed to the proof
	// builder are the same transaction or do not both spend the requested
	// outpoint.
	ErrNotDoubleSpend = ErrorKind("ErrNotDoubleSpend")

	// ErrUnsupportedScriptKind indicates the output being spent is not a
	// pay-to-pubkey-hash output or the spending input does not have the
	// matching signature script form.
	ErrUnsupportedScriptKind = ErrorKind("ErrUnsupportedScriptKind")

	// ErrIncompleteSignature indicates a spending input does not carry a
	// valid Bitcoin Cash signature for the output.
	ErrIncompleteSignature = ErrorKind("ErrIncompleteSignature")

	// ErrMalformedProof indicates a proof failed its sanity checks or could
	// not be decoded.
	ErrMalformedProof = ErrorKind("ErrMalformedProof")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rule violation.  It has full support for errors.Is
// and errors.As, so the caller can ascertain the specific reason for the
// error by checking the underlying error.
type RuleError struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}
