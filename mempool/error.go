// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind
// when determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific RuleError.
const (
	// ErrInvalid indicates a transaction failed the context free sanity
	// checks or is a coinbase.
	ErrInvalid = ErrorKind("ErrInvalid")

	// ErrDuplicate indicates a transaction is already in the pool.
	ErrDuplicate = ErrorKind("ErrDuplicate")

	// ErrMissingInputs indicates a transaction spends an output that is
	// neither in the chain nor in the pool.
	ErrMissingInputs = ErrorKind("ErrMissingInputs")

	// ErrDoubleSpend indicates a transaction spends an output already
	// spent by a transaction in the pool.
	ErrDoubleSpend = ErrorKind("ErrDoubleSpend")

	// ErrNegativeFee indicates a transaction spends more than its inputs.
	ErrNegativeFee = ErrorKind("ErrNegativeFee")

	// ErrSearchDepth indicates a search through the ancestors of a
	// transaction went deeper than allowed.
	ErrSearchDepth = ErrorKind("ErrSearchDepth")
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

// txRuleError creates a RuleError given a set of arguments.
func txRuleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}
