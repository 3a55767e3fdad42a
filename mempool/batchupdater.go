// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
)

// DefaultBatchUpdater updates the mempool for connected blocks one
// transaction at a time.
type DefaultBatchUpdater struct {
	mp *TxMempool
}

// Ensure DefaultBatchUpdater implements the BatchUpdater interface.
var _ BatchUpdater = (*DefaultBatchUpdater)(nil)

// NewDefaultBatchUpdater returns a batch updater for mp.
func NewDefaultBatchUpdater(mp *TxMempool) *DefaultBatchUpdater {
	return &DefaultBatchUpdater{mp: mp}
}

// RemoveForBlock removes the transactions of a connected block from the
// pool along with every pool transaction conflicting with them.  Parents
// are handled before their children.
//
// This function MUST be called with the pool lock held.
func (u *DefaultBatchUpdater) RemoveForBlock(txns []*btcutil.Tx, height int32) {
	mp := u.mp

	ordered := NewDisconnectedTxPool(nil, 0)
	ordered.AddForBlock(txns)

	var confirmed int
	for _, tx := range ordered.Txns() {
		if desc, ok := mp.pool[*tx.Hash()]; ok {
			mp.RemoveStaged(NewTxSet(desc), RemovalBlock)
			confirmed++
		}
		mp.RemoveConflicts(tx)
		mp.ClearPrioritisation(tx.Hash())
	}

	log.Debugf("Removed %d transactions confirmed at height %d (pool "+
		"size: %d)", confirmed, height, len(mp.pool))
}
