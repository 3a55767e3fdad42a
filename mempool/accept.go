// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

// MaybeAcceptTransaction checks that tx is new, well formed, spends only
// known unspent outputs not already spent by the pool and pays a
// non-negative fee, and then adds it to the pool.  Outputs of pool
// transactions are looked up in the pool, every other output in view.
// height is the height of the chain tip.  A zero acceptTime stands for the
// current time.
//
// A transaction spending an output a pool transaction already spends is
// rejected with ErrDoubleSpend; ConflictTx returns the pool transaction.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) MaybeAcceptTransaction(tx *btcutil.Tx,
	view *blockchain.UtxoViewpoint, height int32,
	acceptTime time.Time) (*TxDesc, error) {

	hash := tx.Hash()
	if mp.Exists(hash) {
		str := fmt.Sprintf("already have transaction %v", hash)
		return nil, txRuleError(ErrDuplicate, str)
	}
	if blockchain.IsCoinBase(tx) {
		str := fmt.Sprintf("transaction %v is an individual coinbase",
			hash)
		return nil, txRuleError(ErrInvalid, str)
	}
	if err := blockchain.CheckTransactionSanity(tx); err != nil {
		return nil, txRuleError(ErrInvalid, err.Error())
	}

	var totalIn int64
	var spendsCoinbase bool
	for _, txIn := range tx.MsgTx().TxIn {
		prevOut := txIn.PreviousOutPoint
		if conflict, ok := mp.outpoints[prevOut]; ok {
			str := fmt.Sprintf("output %v already spent by "+
				"transaction %v in the memory pool", prevOut,
				conflict.Tx.Hash())
			return nil, txRuleError(ErrDoubleSpend, str)
		}

		if parent, ok := mp.pool[prevOut.Hash]; ok {
			txOuts := parent.Tx.MsgTx().TxOut
			if prevOut.Index >= uint32(len(txOuts)) {
				str := fmt.Sprintf("output %v does not exist",
					prevOut)
				return nil, txRuleError(ErrMissingInputs, str)
			}
			totalIn += txOuts[prevOut.Index].Value
			continue
		}

		entry := view.LookupEntry(prevOut)
		if entry == nil || entry.IsSpent() {
			str := fmt.Sprintf("output %v referenced from "+
				"transaction %v either does not exist or has "+
				"already been spent", prevOut, hash)
			return nil, txRuleError(ErrMissingInputs, str)
		}
		if entry.IsCoinBase() {
			spendsCoinbase = true
		}
		totalIn += entry.Amount()
	}

	var totalOut int64
	for _, txOut := range tx.MsgTx().TxOut {
		totalOut += txOut.Value
	}
	fee := totalIn - totalOut
	if fee < 0 {
		str := fmt.Sprintf("total value of all transaction inputs for "+
			"transaction %v is %v which is less than the amount "+
			"spent of %v", hash, btcutil.Amount(totalIn),
			btcutil.Amount(totalOut))
		return nil, txRuleError(ErrNegativeFee, str)
	}

	if acceptTime.IsZero() {
		acceptTime = mp.cfg.Clock.Now()
	}
	desc := &TxDesc{
		Tx:             tx,
		Fee:            fee,
		Time:           acceptTime,
		Height:         height,
		SpendsCoinbase: spendsCoinbase,
		SigChecks:      int64(blockchain.CountSigOps(tx)),
	}
	mp.AddUnchecked(desc)
	return desc, nil
}
