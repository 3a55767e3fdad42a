// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// sigHashAllForkID is the hash type used by ordinary Bitcoin Cash
// signatures.
const sigHashAllForkID = txscript.SigHashAll | sigHashForkID

// testKey is a private key along with the pay-to-pubkey-hash script paying
// to it.
type testKey struct {
	priv     *btcec.PrivateKey
	pubKey   []byte
	pkScript []byte
}

// newTestKey returns a deterministic key derived from seed.
func newTestKey(t *testing.T, seed byte) *testKey {
	t.Helper()

	priv, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	pubKey := pub.SerializeCompressed()
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pubKey)).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	return &testKey{priv: priv, pubKey: pubKey, pkScript: pkScript}
}

// fundingTx returns a transaction with a single output of amount paying to
// key.
func fundingTx(key *testKey, amount int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	prev := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(amount, key.pkScript))
	return tx
}

// testView returns a utxo view holding the outputs of the passed
// transactions.
func testView(txns ...*wire.MsgTx) *blockchain.UtxoViewpoint {
	view := blockchain.NewUtxoViewpoint()
	for _, tx := range txns {
		view.AddTxOuts(btcutil.NewTx(tx), 100)
	}
	return view
}

// spendTx returns a transaction spending op, an output of amount locked by
// key, into a single output of outValue.
func spendTx(t *testing.T, key *testKey, op wire.OutPoint, amount,
	outValue int64, hashType txscript.SigHashType, schnorr bool) *wire.MsgTx {

	t.Helper()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	tx.AddTxOut(wire.NewTxOut(outValue, key.pkScript))
	signInput(t, tx, 0, key, amount, hashType, schnorr)
	return tx
}

// signInput signs input idx of tx with key using the Bitcoin Cash signature
// hash, which shares its layout with the segwit v0 signature hash.
func signInput(t *testing.T, tx *wire.MsgTx, idx int, key *testKey,
	amount int64, hashType txscript.SigHashType, schnorr bool) {

	t.Helper()

	fetcher := txscript.NewCannedPrevOutputFetcher(key.pkScript, amount)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	hash, err := txscript.CalcWitnessSigHash(key.pkScript, sigHashes,
		hashType, tx, idx, amount)
	require.NoError(t, err)

	var sig []byte
	if schnorr {
		sig = signSchnorr(key.priv, hash)
	} else {
		sig = ecdsa.Sign(key.priv, hash).Serialize()
	}
	sig = append(sig, byte(hashType))

	script, err := txscript.NewScriptBuilder().AddData(sig).
		AddData(key.pubKey).Script()
	require.NoError(t, err)
	tx.TxIn[idx].SignatureScript = script
}

// signSchnorr produces a Bitcoin Cash Schnorr signature of hash.
func signSchnorr(priv *btcec.PrivateKey, hash []byte) []byte {
	k := btcec.NonceRFC6979(priv.Serialize(), hash, nil, nil, 0)

	var R btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(k, &R)
	R.ToAffine()

	// R.y must be a quadratic residue; negating the nonce negates R.y
	// without changing R.x.
	var root btcec.FieldVal
	if !root.SquareRootVal(&R.Y) {
		k.Negate()
	}

	var commitmentInput [32 + btcec.PubKeyBytesLenCompressed + 32]byte
	R.X.PutBytesUnchecked(commitmentInput[:32])
	copy(commitmentInput[32:], priv.PubKey().SerializeCompressed())
	copy(commitmentInput[32+btcec.PubKeyBytesLenCompressed:], hash)
	var e btcec.ModNScalar
	e.SetByteSlice(chainhash.HashB(commitmentInput[:]))

	var s btcec.ModNScalar
	s.Mul2(&e, &priv.Key).Add(k)

	sig := make([]byte, schnorrSigSize)
	R.X.PutBytesUnchecked(sig[:32])
	s.PutBytesUnchecked(sig[32:])
	return sig
}

// doubleSpend is a funded output along with two signed transactions
// spending it.
type doubleSpend struct {
	key      *testKey
	funding  *wire.MsgTx
	outPoint wire.OutPoint
	prevOut  *wire.TxOut
	tx1, tx2 *wire.MsgTx
}

// newDoubleSpend returns a double spend of a fresh output signed with the
// passed hash type.
func newDoubleSpend(t *testing.T, hashType txscript.SigHashType,
	schnorr bool) *doubleSpend {

	t.Helper()

	const amount = 100000
	key := newTestKey(t, 0x11)
	funding := fundingTx(key, amount)
	op := wire.OutPoint{Hash: funding.TxHash(), Index: 0}
	return &doubleSpend{
		key:      key,
		funding:  funding,
		outPoint: op,
		prevOut:  funding.TxOut[0],
		tx1:      spendTx(t, key, op, amount, 90000, hashType, schnorr),
		tx2:      spendTx(t, key, op, amount, 80000, hashType, schnorr),
	}
}

// fakeProof returns a structurally sane, unsigned proof for op that is
// unique per n.
func fakeProof(n int, op wire.OutPoint) *DoubleSpendProof {
	return &DoubleSpendProof{
		OutPoint: op,
		Spender1: Spender{
			TxVersion: 1,
			PushData:  [][]byte{{byte(n), byte(n >> 8), 0x41}},
		},
		Spender2: Spender{
			TxVersion: 2,
			PushData:  [][]byte{{0x30, 0x41}},
		},
	}
}

// testOutPoint returns an outpoint unique per n.
func testOutPoint(n int) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.Hash{0xaa, byte(n), byte(n >> 8)}}
}
