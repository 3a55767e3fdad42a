// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// cloneProof returns a deep copy of proof.
func cloneProof(t *testing.T, proof *DoubleSpendProof) *DoubleSpendProof {
	t.Helper()

	var clone DoubleSpendProof
	require.NoError(t, clone.Deserialize(bytes.NewReader(proof.Bytes())))
	return &clone
}

// TestValidate ensures proofs built from real double spends validate and
// that every way of breaking one is reported.
func TestValidate(t *testing.T) {
	t.Parallel()

	for _, schnorr := range []bool{false, true} {
		ds := newDoubleSpend(t, sigHashAllForkID, schnorr)
		proof, err := Create(ds.tx1, ds.tx2, ds.outPoint, ds.prevOut)
		require.NoError(t, err)

		view := testView(ds.funding)
		require.Equal(t, ValidityValid, proof.Validate(view, ds.tx1))
		require.Equal(t, ValidityValid, proof.Validate(view, ds.tx2))

		// The output is unknown, for instance because it was mined.
		empty := blockchain.NewUtxoViewpoint()
		require.Equal(t, ValidityMissingUTXO, proof.Validate(empty, ds.tx1))

		// There is no transaction to take the public key from.
		require.Equal(t, ValidityMissingTransaction,
			proof.Validate(view, nil))
		other := fundingTx(ds.key, 1)
		require.Equal(t, ValidityMissingTransaction,
			proof.Validate(view, other))

		// Spenders out of canonical order.
		swapped := cloneProof(t, proof)
		swapped.Spender1, swapped.Spender2 = swapped.Spender2,
			swapped.Spender1
		require.Equal(t, ValidityInvalid, swapped.Validate(view, ds.tx1))

		// A damaged signature.
		tampered := cloneProof(t, proof)
		tampered.Spender2.PushData[0][10] ^= 0x01
		require.Equal(t, ValidityInvalid, tampered.Validate(view, ds.tx1))

		// A changed commitment no longer matches the signature.
		relocked := cloneProof(t, proof)
		relocked.Spender1.LockTime++
		require.Equal(t, ValidityInvalid, relocked.Validate(view, ds.tx1))

		// The spending transaction carries a public key that does not
		// hash to the output's key hash.
		otherKey := newTestKey(t, 0x22)
		wrongKey := spendTx(t, otherKey, ds.outPoint, ds.prevOut.Value,
			70000, sigHashAllForkID, schnorr)
		require.Equal(t, ValidityInvalid, proof.Validate(view, wrongKey))
	}
}

// TestValidateSpentCoin ensures a proof covering a spent output reports the
// output as missing.
func TestValidateSpentCoin(t *testing.T) {
	t.Parallel()

	ds := newDoubleSpend(t, sigHashAllForkID, false)
	proof, err := Create(ds.tx1, ds.tx2, ds.outPoint, ds.prevOut)
	require.NoError(t, err)

	view := testView(ds.funding)
	view.LookupEntry(ds.outPoint).Spend()
	require.Equal(t, ValidityMissingUTXO, proof.Validate(view, ds.tx1))
}

// TestValidateMalformed ensures proofs that fail the sanity checks are
// invalid regardless of the view.
func TestValidateMalformed(t *testing.T) {
	t.Parallel()

	ds := newDoubleSpend(t, sigHashAllForkID, false)
	view := testView(ds.funding)

	proof := fakeProof(1, ds.outPoint)
	proof.Spender1.PushData = nil
	require.Equal(t, ValidityInvalid, proof.Validate(view, ds.tx1))

	empty := &DoubleSpendProof{}
	require.Equal(t, ValidityInvalid, empty.Validate(view, ds.tx1))
}

// TestIsProofPossible ensures only transactions spending known
// pay-to-pubkey-hash outputs qualify for proofs.
func TestIsProofPossible(t *testing.T) {
	t.Parallel()

	ds := newDoubleSpend(t, sigHashAllForkID, false)
	view := testView(ds.funding)
	require.True(t, IsProofPossible(view, ds.tx1))
	require.False(t, IsProofPossible(blockchain.NewUtxoViewpoint(), ds.tx1))

	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: wire.MaxPrevOutIndex},
		[]byte{0x51, 0x51}, nil))
	coinbase.AddTxOut(wire.NewTxOut(50, ds.key.pkScript))
	require.False(t, IsProofPossible(view, coinbase))

	// One of two inputs spends a pay-to-script-hash output.
	p2sh := wire.NewMsgTx(wire.TxVersion)
	p2sh.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{0x02}},
		nil, nil))
	p2sh.AddTxOut(wire.NewTxOut(1, append(append([]byte{
		txscript.OP_HASH160, txscript.OP_DATA_20}, make([]byte, 20)...),
		txscript.OP_EQUAL)))
	view.AddTxOuts(btcutil.NewTx(p2sh), 100)

	spender := ds.tx1.Copy()
	spender.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: p2sh.TxHash()}, nil,
		nil))
	require.False(t, IsProofPossible(view, spender))
}

// TestValidityStringer tests the stringized output for the Validity type.
func TestValidityStringer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   Validity
		want string
	}{
		{ValidityValid, "ValidityValid"},
		{ValidityInvalid, "ValidityInvalid"},
		{ValidityMissingUTXO, "ValidityMissingUTXO"},
		{ValidityMissingTransaction, "ValidityMissingTransaction"},
		{0xffff, "Unknown Validity (65535)"},
	}
	for _, test := range tests {
		require.Equal(t, test.want, test.in.String())
	}
}
