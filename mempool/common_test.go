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
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// testStart is the time the test clock starts at.
var testStart = time.Unix(1700000000, 0)

// testPool wraps a pool driven by a test clock and records its
// notifications.
type testPool struct {
	*TxMempool
	clock   *clock.TestClock
	added   []*TxDesc
	removed []*TxRemovedData
}

func newTestPool(t *testing.T) *testPool {
	t.Helper()

	clk := clock.NewTestClock(testStart)
	p := &testPool{
		TxMempool: New(&Config{Clock: clk}),
		clock:     clk,
	}
	p.Subscribe(func(n *Notification) {
		switch n.Type {
		case NTTxAdded:
			p.added = append(p.added, n.Data.(*TxDesc))
		case NTTxRemoved:
			p.removed = append(p.removed, n.Data.(*TxRemovedData))
		}
	})
	return p
}

// add adds tx paying fee to the pool.
func (p *testPool) add(tx *btcutil.Tx, fee int64) *TxDesc {
	desc := &TxDesc{
		Tx:        tx,
		Fee:       fee,
		Time:      p.clock.Now(),
		Height:    100,
		SigChecks: 1,
	}
	p.AddUnchecked(desc)
	return desc
}

// removedReasons returns the recorded removals by transaction hash.
func (p *testPool) removedReasons() map[chainhash.Hash]RemovalReason {
	reasons := make(map[chainhash.Hash]RemovalReason, len(p.removed))
	for _, r := range p.removed {
		reasons[*r.Tx.Hash()] = r.Reason
	}
	return reasons
}

// fundingOutPoint returns a confirmed outpoint unique per n.
func fundingOutPoint(n int) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.Hash{0xcc, byte(n), byte(n >> 8)}}
}

// outPoint returns the outpoint of output index of tx.
func outPoint(tx *btcutil.Tx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: *tx.Hash(), Index: index}
}

// newTx returns a transaction with numOuts outputs spending prevOuts.  The
// tag ends up in the lock time so transactions with the same inputs differ.
func newTx(tag uint32, numOuts int, prevOuts ...wire.OutPoint) *btcutil.Tx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	for i := range prevOuts {
		msgTx.AddTxIn(wire.NewTxIn(&prevOuts[i], []byte{0x51}, nil))
	}
	for i := 0; i < numOuts; i++ {
		msgTx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	}
	msgTx.LockTime = tag
	return btcutil.NewTx(msgTx)
}

// testProof returns a proof covering op that is unique per n.  Its
// signatures are not valid.
func testProof(n int, op wire.OutPoint) *dsproof.DoubleSpendProof {
	return &dsproof.DoubleSpendProof{
		OutPoint: op,
		Spender1: dsproof.Spender{
			TxVersion: 1,
			PushData:  [][]byte{{byte(n), byte(n >> 8), 0x41}},
		},
		Spender2: dsproof.Spender{
			TxVersion: 2,
			PushData:  [][]byte{{0x30, 0x41}},
		},
	}
}

// checkConsistency verifies every index and aggregate of the pool against
// a recomputation from the links.
func checkConsistency(t require.TestingT, mp *TxMempool) {
	require.Equal(t, len(mp.pool), mp.byFeeRate.Len())
	require.Equal(t, len(mp.pool), mp.byEntryID.Len())
	require.Equal(t, len(mp.pool), mp.Count())

	var bytes, links int64
	var spends, histogramCount int
	for hash, desc := range mp.pool {
		require.Equal(t, hash, *desc.Tx.Hash())
		bytes += desc.size
		links += int64(len(desc.parents))

		for parent := range desc.parents {
			_, ok := parent.children[desc]
			require.True(t, ok)
		}
		for child := range desc.children {
			_, ok := child.parents[desc]
			require.True(t, ok)
		}
		for _, txIn := range desc.Tx.MsgTx().TxIn {
			require.Same(t, desc, mp.outpoints[txIn.PreviousOutPoint])
			spends++
			if parent, ok := mp.pool[txIn.PreviousOutPoint.Hash]; ok {
				_, linked := desc.parents[parent]
				require.True(t, linked)
			}
		}

		count, size := int64(1), desc.size
		fees, sigChecks := desc.ModifiedFee(), desc.SigChecks
		for ancestor := range mp.CalculateAncestors(desc) {
			count++
			size += ancestor.size
			fees += ancestor.ModifiedFee()
			sigChecks += ancestor.SigChecks
		}
		require.Equal(t, count, desc.CountWithAncestors)
		require.Equal(t, size, desc.SizeWithAncestors)
		require.Equal(t, fees, desc.ModFeesWithAncestors)
		require.Equal(t, sigChecks, desc.SigChecksWithAncestors)

		descendants := make(TxSet)
		mp.CalculateDescendants(desc, descendants)
		count, size, fees, sigChecks = 0, 0, 0, 0
		for descendant := range descendants {
			count++
			size += descendant.size
			fees += descendant.ModifiedFee()
			sigChecks += descendant.SigChecks
		}
		require.Equal(t, count, desc.CountWithDescendants)
		require.Equal(t, size, desc.SizeWithDescendants)
		require.Equal(t, fees, desc.ModFeesWithDescendants)
		require.Equal(t, sigChecks, desc.SigChecksWithDescendants)
	}

	require.Equal(t, spends, len(mp.outpoints))
	require.Equal(t, bytes, mp.Bytes())
	require.Equal(t, links, mp.numLinks)
	for _, bucket := range mp.FeeHistogram() {
		histogramCount += bucket.Count
	}
	require.Equal(t, len(mp.pool), histogramCount)
}
