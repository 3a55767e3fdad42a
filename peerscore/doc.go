// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package peerscore tracks misbehavior scores of connected peers.

Each peer has a persistent score and a transient score that halves every
Halflife seconds and is dropped after Lifetime seconds.  When the sum reaches
the ban threshold the peer's address is handed to a Discourager once, and
ShouldDisconnect starts reporting true for the peer.
*/
package peerscore
