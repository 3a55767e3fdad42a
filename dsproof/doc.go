// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package dsproof implements double spend proofs for Bitcoin Cash style
transactions.

A double spend proof shows that two different transactions spend the same
output.  Rather than carrying both transactions, the proof carries, for each
of them, the signature that spends the output together with the signature
hash commitments the signature covers.  A node that knows the output being
spent and the public key of one of the spenders can recompute both signature
hashes and verify both signatures, which is enough to establish that the
owner of the key signed two conflicting spends.

Only pay-to-pubkey-hash outputs are supported.

Proofs are ordered canonically so that both sides of a double spend produce
the same proof, and therefore the same proof ID, regardless of which of the
two transactions was seen first.

# Storage

Storage keeps proofs indexed by ID, by the outpoint they cover and by the
time they were orphaned.  An orphan is a proof whose spending transaction is
not in the mempool.  Orphans expire after a retention period and the peer
that relayed an expired orphan is reported to a Punisher.

# Errors

Errors returned by this package are of type RuleError wrapping an ErrorKind,
so callers can use errors.Is to test for a specific kind.
*/
package dsproof
