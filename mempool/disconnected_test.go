// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cashnode/cashd/dsproof"
	"github.com/stretchr/testify/require"
)

// coinbaseTx returns a coinbase transaction unique per height.
func coinbaseTx(height int32) *btcutil.Tx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: wire.MaxPrevOutIndex},
		[]byte{0x02, byte(height), byte(height >> 8)}, nil))
	msgTx.AddTxOut(wire.NewTxOut(50, []byte{0x51}))
	return btcutil.NewTx(msgTx)
}

// hashes returns the hashes of txns.
func hashes(txns []*btcutil.Tx) []chainhash.Hash {
	result := make([]chainhash.Hash, 0, len(txns))
	for _, tx := range txns {
		result = append(result, *tx.Hash())
	}
	return result
}

// TestDisconnectedAddForBlock ensures queued transactions come back parents
// first, older blocks first, without coinbases.
func TestDisconnectedAddForBlock(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	dp := NewDisconnectedTxPool(p.TxMempool, DefaultMaxDisconnectedSize)

	older := newTx(1, 1, fundingOutPoint(1))
	a := newTx(2, 1, outPoint(older, 0))
	b := newTx(3, 1, outPoint(a, 0))
	c := newTx(4, 1, fundingOutPoint(2))

	// The tip is disconnected first.
	dp.AddForBlock([]*btcutil.Tx{coinbaseTx(2), a, b, c})
	dp.AddForBlock([]*btcutil.Tx{coinbaseTx(1), older})
	require.Equal(t, 4, dp.Len())
	require.Equal(t, hashes([]*btcutil.Tx{older, a, b, c}), hashes(dp.Txns()))
	require.True(t, dp.Contains(a.Hash()))
	require.False(t, dp.Contains(coinbaseTx(1).Hash()))

	// Adding a block twice changes nothing.
	usage := dp.Usage()
	dp.AddForBlock([]*btcutil.Tx{coinbaseTx(1), older})
	require.Equal(t, usage, dp.Usage())

	dp.RemoveForBlock([]*btcutil.Tx{coinbaseTx(2), a})
	require.Equal(t, hashes([]*btcutil.Tx{older, b, c}), hashes(dp.Txns()))

	dp.Clear()
	require.Zero(t, dp.Len())
	require.Zero(t, dp.Usage())
	require.Empty(t, dp.Txns())
}

// TestDisconnectedReorder ensures a parent queued before its child is moved
// so it is returned first.
func TestDisconnectedReorder(t *testing.T) {
	t.Parallel()

	dp := NewDisconnectedTxPool(nil, 0)
	parent := newTx(1, 1, fundingOutPoint(1))
	child := newTx(2, 1, outPoint(parent, 0))
	grandchild := newTx(3, 1, outPoint(child, 0))

	dp.AddForBlock([]*btcutil.Tx{grandchild, child, parent})
	require.Equal(t, hashes([]*btcutil.Tx{parent, child, grandchild}),
		hashes(dp.Txns()))
}

// TestDisconnectedImportMempool ensures the mempool is moved behind the
// queued block transactions with its metadata, and that attached proofs
// become orphans.
func TestDisconnectedImportMempool(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	dp := NewDisconnectedTxPool(p.TxMempool, DefaultMaxDisconnectedSize)

	block := newTx(1, 1, fundingOutPoint(1))
	dp.AddForBlock([]*btcutil.Tx{coinbaseTx(1), block})

	p.clock.SetTime(testStart.Add(time.Minute))
	m1 := p.add(newTx(2, 1, outPoint(block, 0)), 1000)
	m2 := p.add(newTx(3, 1, outPoint(m1.Tx, 0)), 1000)
	p.PrioritiseTransaction(m1.Tx.Hash(), 100)
	proof := testProof(1, outPoint(block, 0))
	require.NotNil(t, p.AddDoubleSpendProof(proof, dsproof.NoPeer))

	dp.ImportMempool()
	require.Zero(t, p.Count())
	require.Equal(t, map[chainhash.Hash]RemovalReason{
		*m1.Tx.Hash(): RemovalReorg,
		*m2.Tx.Hash(): RemovalReorg,
	}, p.removedReasons())
	require.Equal(t, hashes([]*btcutil.Tx{block, m1.Tx, m2.Tx}),
		hashes(dp.Txns()))

	info, ok := dp.TxInfo(m1.Tx.Hash())
	require.True(t, ok)
	require.Equal(t, TxInfo{
		Time:     testStart.Add(time.Minute),
		FeeDelta: 100,
		Height:   100,
	}, info)
	_, ok = dp.TxInfo(block.Hash())
	require.False(t, ok)

	require.Equal(t, 1, p.DSProofs().Len())
	require.Equal(t, 1, p.DSProofs().NumOrphans())
}

// TestDisconnectedSizeLimit ensures the oldest queued transaction is dropped
// along with its mempool descendants once the queue is too large.
func TestDisconnectedSizeLimit(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	first := newTx(1, 1, fundingOutPoint(1))
	second := newTx(2, 1, fundingOutPoint(2))
	oneTx := txMemUsage(first.MsgTx()) + txDescOverhead
	dp := NewDisconnectedTxPool(p.TxMempool, 2*oneTx-1)

	child := p.add(newTx(3, 1, outPoint(first, 0)), 1000)

	// The block is walked backwards, so first is queued first.
	dp.AddForBlock([]*btcutil.Tx{second, first})
	require.Equal(t, 1, dp.Len())
	require.True(t, dp.Contains(second.Hash()))
	require.False(t, p.Exists(child.Tx.Hash()))
	require.Equal(t, RemovalReorg, p.removedReasons()[*child.Tx.Hash()])
}

// TestDefaultBatchUpdater ensures connecting a block removes its
// transactions and their conflicts while keeping unrelated descendants.
func TestDefaultBatchUpdater(t *testing.T) {
	t.Parallel()

	p := newTestPool(t)
	a := p.add(newTx(1, 1, fundingOutPoint(1)), 1000)
	b := p.add(newTx(2, 1, outPoint(a.Tx, 0)), 1000)
	c := p.add(newTx(3, 1, fundingOutPoint(2)), 1000)
	e := p.add(newTx(4, 1, outPoint(c.Tx, 0)), 1000)
	p.PrioritiseTransaction(a.Tx.Hash(), 10)

	conflict := newTx(5, 1, fundingOutPoint(2))
	var updater BatchUpdater = NewDefaultBatchUpdater(p.TxMempool)
	updater.RemoveForBlock([]*btcutil.Tx{coinbaseTx(101), a.Tx, conflict},
		101)

	checkConsistency(t, p.TxMempool)
	require.Equal(t, []*TxDesc{b}, p.TxDescs())
	require.Equal(t, int64(1), b.CountWithAncestors)
	require.Equal(t, map[chainhash.Hash]RemovalReason{
		*a.Tx.Hash(): RemovalBlock,
		*c.Tx.Hash(): RemovalConflict,
		*e.Tx.Hash(): RemovalConflict,
	}, p.removedReasons())
	require.Zero(t, p.FeeDelta(a.Tx.Hash()))
}
