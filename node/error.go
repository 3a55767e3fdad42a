// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As.
type ErrorKind string

const (
	// ErrBadProof indicates a double spend proof relayed by a peer is
	// malformed or its signatures do not verify.
	ErrBadProof = ErrorKind("ErrBadProof")

	// ErrFetchUtxos indicates the unspent outputs needed to check a
	// transaction or a proof could not be fetched.
	ErrFetchUtxos = ErrorKind("ErrFetchUtxos")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}
