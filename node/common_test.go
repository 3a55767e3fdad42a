// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/cashnode/cashd/banman"
	"github.com/cashnode/cashd/dsproof"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testStart is the time the test clock starts at.
var testStart = time.Unix(1700000000, 0)

// sigHashAllForkID is the hash type of ordinary Bitcoin Cash signatures.
const sigHashAllForkID = txscript.SigHashAll | 0x40

// mockRelayer records what the node relays.
type mockRelayer struct {
	mock.Mock
}

func (m *mockRelayer) RelayTransaction(tx *btcutil.Tx) {
	m.Called(tx)
}

func (m *mockRelayer) RelayDoubleSpendProof(proof *dsproof.DoubleSpendProof) {
	m.Called(proof)
}

// testNode is a node driven by a test clock, forced tickers and a utxo
// view the test controls.
type testNode struct {
	*Node
	clock   *clock.TestClock
	relayer *mockRelayer

	mtx    sync.Mutex
	view   *blockchain.UtxoViewpoint
	forces []*ticker.Force
}

// newTestNode returns a node with an in-memory ban manager.  modify, when
// not nil, may change the configuration before the node is built.
func newTestNode(t *testing.T, modify func(*Config)) *testNode {
	t.Helper()

	clk := clock.NewTestClock(testStart)
	tn := &testNode{
		clock:   clk,
		relayer: &mockRelayer{},
		view:    blockchain.NewUtxoViewpoint(),
	}
	cfg := &Config{
		BanMan:     banman.New(&banman.Config{Clock: clk}),
		FetchUtxos: tn.fetchUtxos,
		BestHeight: func() int32 { return 100 },
		Relayer:    tn.relayer,
		NewTicker: func(interval time.Duration) ticker.Ticker {
			f := ticker.NewForce(interval)
			tn.mtx.Lock()
			tn.forces = append(tn.forces, f)
			tn.mtx.Unlock()
			return f
		},
		Clock: clk,
	}
	if modify != nil {
		modify(cfg)
	}
	tn.Node = New(cfg)
	t.Cleanup(func() {
		require.NoError(t, tn.Stop())
	})
	return tn
}

// fetchUtxos returns the view of the test.
func (tn *testNode) fetchUtxos([]wire.OutPoint) (*blockchain.UtxoViewpoint, error) {
	tn.mtx.Lock()
	defer tn.mtx.Unlock()
	return tn.view, nil
}

// setChain replaces the confirmed outputs with those of txns.
func (tn *testNode) setChain(txns ...*btcutil.Tx) {
	view := blockchain.NewUtxoViewpoint()
	for _, tx := range txns {
		view.AddTxOuts(tx, 90)
	}

	tn.mtx.Lock()
	tn.view = view
	tn.mtx.Unlock()
}

// force returns the ticker of the i-th scheduled job.
func (tn *testNode) force(i int) *ticker.Force {
	tn.mtx.Lock()
	defer tn.mtx.Unlock()
	return tn.forces[i]
}

// score returns the misbehavior score of peer.
func (tn *testNode) score(peer int32) uint32 {
	score, _ := tn.Tracker().Score(peer)
	return score
}

// inPool returns whether tx is in the pool.
func (tn *testNode) inPool(tx *btcutil.Tx) bool {
	tn.Mempool().Lock()
	defer tn.Mempool().Unlock()
	return tn.Mempool().Exists(tx.Hash())
}

// outPoint returns the outpoint of output index of tx.
func outPoint(tx *btcutil.Tx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: *tx.Hash(), Index: index}
}

// newTx returns an unsigned transaction with a single output spending
// prevOuts.  The tag ends up in the lock time so transactions with the same
// inputs differ.
func newTx(tag uint32, prevOuts ...wire.OutPoint) *btcutil.Tx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	for i := range prevOuts {
		msgTx.AddTxIn(wire.NewTxIn(&prevOuts[i], []byte{0x51}, nil))
	}
	msgTx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	msgTx.LockTime = tag
	return btcutil.NewTx(msgTx)
}

// coinbaseTx returns a coinbase transaction unique per height.
func coinbaseTx(height int32) *btcutil.Tx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: wire.MaxPrevOutIndex},
		[]byte{0x02, byte(height), byte(height >> 8)}, nil))
	msgTx.AddTxOut(wire.NewTxOut(5000, []byte{0x51}))
	return btcutil.NewTx(msgTx)
}

// doubleSpend is a confirmed pay-to-pubkey-hash output along with two
// signed transactions spending it.
type doubleSpend struct {
	funding  *btcutil.Tx
	outPoint wire.OutPoint
	prevOut  *wire.TxOut
	tx1, tx2 *btcutil.Tx
}

// newDoubleSpend returns a double spend of a fresh output unique per seed.
func newDoubleSpend(t *testing.T, seed byte) *doubleSpend {
	t.Helper()

	const amount = 100000
	priv, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	pubKey := pub.SerializeCompressed()
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pubKey)).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	funding := wire.NewMsgTx(wire.TxVersion)
	funding.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.Hash{0x01, seed},
	}, nil, nil))
	funding.AddTxOut(wire.NewTxOut(amount, pkScript))
	op := wire.OutPoint{Hash: funding.TxHash(), Index: 0}

	spend := func(outValue int64) *btcutil.Tx {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		tx.AddTxOut(wire.NewTxOut(outValue, pkScript))

		fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, amount)
		sigHashes := txscript.NewTxSigHashes(tx, fetcher)
		hash, err := txscript.CalcWitnessSigHash(pkScript, sigHashes,
			sigHashAllForkID, tx, 0, amount)
		require.NoError(t, err)
		sig := append(ecdsa.Sign(priv, hash).Serialize(),
			byte(sigHashAllForkID))

		script, err := txscript.NewScriptBuilder().AddData(sig).
			AddData(pubKey).Script()
		require.NoError(t, err)
		tx.TxIn[0].SignatureScript = script
		return btcutil.NewTx(tx)
	}

	return &doubleSpend{
		funding:  btcutil.NewTx(funding),
		outPoint: op,
		prevOut:  funding.TxOut[0],
		tx1:      spend(90000),
		tx2:      spend(80000),
	}
}

// proof returns the proof of the double spend.
func (ds *doubleSpend) proof(t *testing.T) *dsproof.DoubleSpendProof {
	t.Helper()

	proof, err := dsproof.Create(ds.tx1.MsgTx(), ds.tx2.MsgTx(),
		ds.outPoint, ds.prevOut)
	require.NoError(t, err)
	return proof
}

// tamperedProof returns the proof of the double spend with a broken first
// signature.
func (ds *doubleSpend) tamperedProof(t *testing.T) *dsproof.DoubleSpendProof {
	t.Helper()

	var proof dsproof.DoubleSpendProof
	err := proof.Deserialize(bytes.NewReader(ds.proof(t).Bytes()))
	require.NoError(t, err)
	sig := proof.Spender1.PushData[0]
	sig[len(sig)-2] ^= 0x01
	return &proof
}
