// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/btree"
)

// DefaultMaxDisconnectedSize is the default memory limit of a
// DisconnectedTxPool in bytes.
const DefaultMaxDisconnectedSize = 20 * 32 * 1000 * 1000

// TxInfo is what ImportMempool remembers about a pool transaction so it can
// be re-added with the same metadata.
type TxInfo struct {
	Time     time.Time
	FeeDelta int64
	Height   int32
}

// disconnectedTx is a queued transaction.
type disconnectedTx struct {
	seq   int64
	tx    *btcutil.Tx
	usage int64
}

func disconnectedTxLess(a, b *disconnectedTx) bool {
	return a.seq < b.seq
}

// DisconnectedTxPool queues the transactions of disconnected blocks, along
// with the transactions of the mempool, while the chain is reorganized.
// Transactions are kept in insertion order where every transaction comes
// before its parents, so Txns, which walks them backwards, returns them in an
// order they can be added back to the mempool in.
//
// Every method MUST be called with the pool lock held.
type DisconnectedTxPool struct {
	mp      *TxMempool
	maxSize int64

	bySeq  *btree.BTreeG[*disconnectedTx]
	byHash map[chainhash.Hash]*disconnectedTx
	txInfo map[chainhash.Hash]TxInfo

	// head is the sequence number given to the next transaction placed in
	// front, tail the one given to the next transaction placed at the end.
	head  int64
	tail  int64
	usage int64
}

// NewDisconnectedTxPool returns an empty pool bound to mp.  When the queued
// transactions use more than maxSize bytes the oldest are dropped along with
// their descendants in mp.  A maxSize of zero disables the limit.
func NewDisconnectedTxPool(mp *TxMempool, maxSize int64) *DisconnectedTxPool {
	return &DisconnectedTxPool{
		mp:      mp,
		maxSize: maxSize,
		bySeq:   btree.NewG(btreeDegree, disconnectedTxLess),
		byHash:  make(map[chainhash.Hash]*disconnectedTx),
		txInfo:  make(map[chainhash.Hash]TxInfo),
		head:    -1,
	}
}

// pushBack queues tx at the end, moving it there when already queued.
func (dp *DisconnectedTxPool) pushBack(tx *btcutil.Tx) {
	if queued, ok := dp.byHash[*tx.Hash()]; ok {
		dp.bySeq.Delete(queued)
		queued.seq = dp.tail
		dp.tail++
		dp.bySeq.ReplaceOrInsert(queued)
		return
	}

	queued := &disconnectedTx{
		seq:   dp.tail,
		tx:    tx,
		usage: txMemUsage(tx.MsgTx()) + txDescOverhead,
	}
	dp.tail++
	dp.byHash[*tx.Hash()] = queued
	dp.bySeq.ReplaceOrInsert(queued)
	dp.usage += queued.usage
}

// remove drops a queued transaction.
func (dp *DisconnectedTxPool) remove(queued *disconnectedTx) {
	dp.bySeq.Delete(queued)
	delete(dp.byHash, *queued.tx.Hash())
	delete(dp.txInfo, *queued.tx.Hash())
	dp.usage -= queued.usage
}

// AddForBlock queues the transactions of a disconnected block.  The block is
// walked backwards and every queued ancestor of a newly queued transaction
// is moved to the end, so parents always come after their children.
// Coinbase transactions are skipped since they can never return to the
// mempool.
func (dp *DisconnectedTxPool) AddForBlock(txns []*btcutil.Tx) {
	for i := len(txns) - 1; i >= 0; i-- {
		tx := txns[i]
		if blockchain.IsCoinBase(tx) {
			continue
		}
		if _, ok := dp.byHash[*tx.Hash()]; ok {
			continue
		}
		dp.pushBack(tx)

		parents := make(map[chainhash.Hash]struct{})
		for _, txIn := range tx.MsgTx().TxIn {
			parents[txIn.PreviousOutPoint.Hash] = struct{}{}
		}
		for len(parents) > 0 {
			worklist := parents
			parents = make(map[chainhash.Hash]struct{})
			for hash := range worklist {
				queued, ok := dp.byHash[hash]
				if !ok {
					continue
				}
				dp.pushBack(queued.tx)
				for _, txIn := range queued.tx.MsgTx().TxIn {
					parents[txIn.PreviousOutPoint.Hash] = struct{}{}
				}
			}
		}
	}

	for dp.maxSize > 0 && dp.usage > dp.maxSize {
		oldest, _ := dp.bySeq.Min()
		if dp.mp != nil {
			dp.mp.RemoveRecursive(oldest.tx, RemovalReorg)
		}
		dp.remove(oldest)
		log.Debugf("Dropped disconnected transaction %v to keep the "+
			"queue under %d bytes", oldest.tx.Hash(), dp.maxSize)
	}
}

// RemoveForBlock drops the queued transactions a newly connected block
// confirms.
func (dp *DisconnectedTxPool) RemoveForBlock(txns []*btcutil.Tx) {
	for _, tx := range txns {
		if queued, ok := dp.byHash[*tx.Hash()]; ok {
			dp.remove(queued)
		}
	}
}

// ImportMempool moves every mempool transaction in front of the queued ones
// and clears the mempool.  The entry time, fee delta and height of each
// transaction are kept for TxInfo, and subscribers are told the
// transactions were removed for a reorganization.  Attached double spend
// proofs become orphans.
func (dp *DisconnectedTxPool) ImportMempool() {
	mp := dp.mp
	descs := mp.TxDescs()
	txns := make([]*btcutil.Tx, 0, len(descs))
	for _, desc := range descs {
		hash := *desc.Tx.Hash()
		if _, ok := dp.byHash[hash]; ok {
			continue
		}
		txns = append(txns, desc.Tx)
		dp.txInfo[hash] = TxInfo{
			Time:     desc.Time,
			FeeDelta: desc.ModifiedFee() - desc.Fee,
			Height:   desc.Height,
		}
		mp.sendNotification(NTTxRemoved, &TxRemovedData{
			Tx:     desc.Tx,
			Reason: RemovalReorg,
		})
	}

	mp.dsproofs.OrphanAll()
	mp.Clear(false)

	// The mempool transactions are sorted on their own and then placed in
	// front, keeping their order.
	ordered := NewDisconnectedTxPool(nil, 0)
	ordered.AddForBlock(txns)
	queued := make([]*disconnectedTx, 0, ordered.bySeq.Len())
	ordered.bySeq.Ascend(func(q *disconnectedTx) bool {
		queued = append(queued, q)
		return true
	})
	for i := len(queued) - 1; i >= 0; i-- {
		q := queued[i]
		q.seq = dp.head
		dp.head--
		dp.byHash[*q.tx.Hash()] = q
		dp.bySeq.ReplaceOrInsert(q)
		dp.usage += q.usage
	}

	log.Debugf("Imported %d mempool transactions for reorganization",
		len(queued))
}

// Txns returns the queued transactions in the order they should be added
// back to the mempool: parents before children, and transactions of older
// blocks before those of newer ones and the former mempool.
func (dp *DisconnectedTxPool) Txns() []*btcutil.Tx {
	txns := make([]*btcutil.Tx, 0, dp.bySeq.Len())
	dp.bySeq.Descend(func(q *disconnectedTx) bool {
		txns = append(txns, q.tx)
		return true
	})
	return txns
}

// TxInfo returns what ImportMempool remembered about the transaction with
// the passed hash.
func (dp *DisconnectedTxPool) TxInfo(hash *chainhash.Hash) (TxInfo, bool) {
	info, ok := dp.txInfo[*hash]
	return info, ok
}

// Contains returns whether the transaction with the passed hash is queued.
func (dp *DisconnectedTxPool) Contains(hash *chainhash.Hash) bool {
	_, ok := dp.byHash[*hash]
	return ok
}

// Len returns the number of queued transactions.
func (dp *DisconnectedTxPool) Len() int {
	return len(dp.byHash)
}

// Usage returns the approximate memory used by the queued transactions.
func (dp *DisconnectedTxPool) Usage() int64 {
	return dp.usage
}

// Clear drops every queued transaction.
func (dp *DisconnectedTxPool) Clear() {
	dp.bySeq.Clear(false)
	dp.byHash = make(map[chainhash.Hash]*disconnectedTx)
	dp.txInfo = make(map[chainhash.Hash]TxInfo)
	dp.head, dp.tail = -1, 0
	dp.usage = 0
}
