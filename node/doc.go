// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package node ties the memory pool, the double spend proof storage, the peer
misbehavior tracker and the ban manager together the way a full node uses
them.

A Node owns one of each and routes the events of the network and the chain to
them:

  - AdmitPeer decides whether a connection from an address is accepted,
    consulting bans before discouragement.
  - ProcessTransaction admits transactions into the pool.  A transaction
    double spending a pool transaction is rejected, but a double spend proof
    is built from the pair, attached to the pool transaction and relayed.
  - ProcessDoubleSpendProof handles proofs relayed by peers.  Valid proofs
    are attached and relayed, proofs whose spender is not known yet are kept
    as orphans, and invalid proofs get their peer punished.
  - ConnectBlock, DisconnectBlock and Reorganize keep the pool in line with
    the chain.

Start runs the periodic jobs on a Scheduler: orphan proof expiry, ban list
sweeping and flushing, and pool expiry and trimming.

The node does no I/O of its own.  Unspent outputs are fetched through
Config.FetchUtxos and everything to be announced to peers goes through a
Relayer.
*/
package node
