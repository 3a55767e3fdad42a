// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
	"github.com/cashnode/cashd/dsproof"
)

// UnminedHeight is the height used for the outputs of transactions in the
// pool.
const UnminedHeight = 0x7fffffff

// coinView layers the outputs of pool transactions over a view of the
// chain.
type coinView struct {
	mp   *TxMempool
	view *blockchain.UtxoViewpoint
}

// CoinView returns a view of the outputs of pool transactions backed by
// view for confirmed outputs.  Outputs spent by pool transactions are still
// reported unspent.  view may be nil.
//
// The returned view MUST only be used with the pool lock held.
func (mp *TxMempool) CoinView(view *blockchain.UtxoViewpoint) dsproof.CoinView {
	return &coinView{mp: mp, view: view}
}

// LookupEntry returns the output at outpoint, or nil when neither the pool
// nor the backing view has it.
func (v *coinView) LookupEntry(outpoint wire.OutPoint) *blockchain.UtxoEntry {
	if desc, ok := v.mp.pool[outpoint.Hash]; ok {
		txOuts := desc.Tx.MsgTx().TxOut
		if outpoint.Index >= uint32(len(txOuts)) {
			return nil
		}
		return blockchain.NewUtxoEntry(txOuts[outpoint.Index],
			UnminedHeight, false)
	}
	if v.view == nil {
		return nil
	}
	return v.view.LookupEntry(outpoint)
}
