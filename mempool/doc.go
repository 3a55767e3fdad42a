// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mempool provides an indexed pool of unconfirmed transactions.

MaybeAcceptTransaction checks that a transaction is new, spends known
unspent outputs and pays a non-negative fee before adding it.  Scripts are
not verified.  Callers that validated a transaction themselves build a
TxDesc and hand it to AddUnchecked.
The pool indexes every entry by transaction hash, by each outpoint it spends,
by modified fee rate and by insertion order, and keeps the links between
entries and their in-pool parents and children along with the aggregate
size, fee and signature check counts of each entry's ancestors and
descendants.

# Locking

TxMempool is not internally synchronized.  Callers hold the pool lock, using
Lock and Unlock, around every call and across multi-step operations such as
applying a block.  Only the statistics returned by Count, Bytes and
FeeHistogram are safe to read without the pool lock.

# Removal

Entries are removed in staged sets: RemoveStaged removes exactly the set it
is given, so callers supply the full descendant closure computed with
CalculateDescendants.  RemoveRecursive, RemoveConflicts, Expire and
TrimToSize compute the closure themselves.  Removing an entry that is no
longer in the pool is a no-op.  Every removal carries a RemovalReason that is
logged and passed to subscribers.

# Double spend proofs

An entry may carry the ID of a double spend proof held by the pool's
dsproof.Storage.  When such an entry leaves the pool its proof is put back
into the orphan pool of the storage, where it expires unless a transaction
spending the same outpoint claims it again.

# Blocks

BatchUpdater applies a connected block to the pool.  DefaultBatchUpdater
removes the confirmed transactions in topological order along with every
pool entry that conflicts with them.  DisconnectedTxPool orders the
transactions of disconnected blocks so they can be resubmitted.
*/
package mempool
