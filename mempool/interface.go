// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
)

// BatchUpdater defines an interface that's used to update the mempool for a
// newly connected block.
type BatchUpdater interface {
	// RemoveForBlock removes the transactions of the block connected at
	// height, and every pool transaction conflicting with them, from the
	// pool.  The caller holds the pool lock.
	RemoveForBlock(txns []*btcutil.Tx, height int32)
}
