// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestCreateDeterministic ensures the proof built from a double spend does
// not depend on the order the two transactions are passed in.
func TestCreateDeterministic(t *testing.T) {
	t.Parallel()

	for _, schnorr := range []bool{false, true} {
		ds := newDoubleSpend(t, sigHashAllForkID, schnorr)

		p1, err := Create(ds.tx1, ds.tx2, ds.outPoint, ds.prevOut)
		require.NoError(t, err)
		p2, err := Create(ds.tx2, ds.tx1, ds.outPoint, ds.prevOut)
		require.NoError(t, err)

		require.Equal(t, p1.ID(), p2.ID())
		require.Equal(t, p1.Bytes(), p2.Bytes())
		require.True(t, p1.IsCanonical())
		require.NoError(t, p1.CheckSanity())
		require.Equal(t, ds.outPoint, p1.OutPoint)

		unverified, err := CreateUnverified(ds.tx2, ds.tx1, ds.outPoint)
		require.NoError(t, err)
		require.Equal(t, p1.ID(), unverified.ID())
	}
}

// TestCreateSpenderFields ensures the spender fields are taken from the
// transactions and that the commitments match the ones btcd computes for
// the same transaction.
func TestCreateSpenderFields(t *testing.T) {
	t.Parallel()

	ds := newDoubleSpend(t, sigHashAllForkID, false)
	ds.tx1.LockTime = 500
	ds.tx1.TxIn[0].Sequence = 7
	signInput(t, ds.tx1, 0, ds.key, ds.prevOut.Value, sigHashAllForkID, false)

	proof, err := Create(ds.tx1, ds.tx2, ds.outPoint, ds.prevOut)
	require.NoError(t, err)

	spender := &proof.Spender1
	if spender.LockTime != 500 {
		spender = &proof.Spender2
	}
	require.EqualValues(t, 500, spender.LockTime)
	require.EqualValues(t, 7, spender.OutSequence)
	require.EqualValues(t, wire.TxVersion, spender.TxVersion)

	fetcher := txscript.NewCannedPrevOutputFetcher(ds.prevOut.PkScript,
		ds.prevOut.Value)
	sigHashes := txscript.NewTxSigHashes(ds.tx1, fetcher)
	require.Equal(t, sigHashes.HashPrevOutsV0, spender.HashPrevOutputs)
	require.Equal(t, sigHashes.HashSequenceV0, spender.HashSequence)
	require.Equal(t, sigHashes.HashOutputsV0, spender.HashOutputs)
}

// TestHashTypeCommitments ensures the commitments excluded by a hash type are
// left zero.
func TestHashTypeCommitments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		hashType     txscript.SigHashType
		prevOuts     bool
		sequence     bool
		outputs      bool
		singleOutput bool
	}{{
		name:     "all",
		hashType: sigHashAllForkID,
		prevOuts: true,
		sequence: true,
		outputs:  true,
	}, {
		name:     "none",
		hashType: txscript.SigHashNone | sigHashForkID,
		prevOuts: true,
	}, {
		name:         "single",
		hashType:     txscript.SigHashSingle | sigHashForkID,
		prevOuts:     true,
		singleOutput: true,
	}, {
		name:     "all anyone can pay",
		hashType: sigHashAllForkID | txscript.SigHashAnyOneCanPay,
		outputs:  true,
	}, {
		name: "single anyone can pay",
		hashType: txscript.SigHashSingle | sigHashForkID |
			txscript.SigHashAnyOneCanPay,
		singleOutput: true,
	}}

	for _, test := range tests {
		// The lock time keeps the two signatures apart for hash types
		// that do not commit to the outputs.
		ds := newDoubleSpend(t, test.hashType, false)
		ds.tx1.AddTxOut(wire.NewTxOut(1000, ds.key.pkScript))
		ds.tx1.LockTime = 1
		signInput(t, ds.tx1, 0, ds.key, ds.prevOut.Value, test.hashType,
			false)

		// The builder verifies both signatures, which were made over
		// btcd's signature hash for the hash type.
		proof, err := Create(ds.tx1, ds.tx2, ds.outPoint, ds.prevOut)
		require.NoError(t, err, test.name)
		require.True(t, proof.IsCanonical(), test.name)

		s := Spender{PushData: [][]byte{{byte(test.hashType)}}}
		hashTx(&s, ds.tx1, 0)

		zero := chainhash.Hash{}
		require.Equal(t, test.prevOuts, s.HashPrevOutputs != zero, test.name)
		require.Equal(t, test.sequence, s.HashSequence != zero, test.name)
		switch {
		case test.outputs:
			require.Equal(t, calcHashOutputs(ds.tx1.TxOut), s.HashOutputs,
				test.name)
		case test.singleOutput:
			require.Equal(t, calcHashOutputs(ds.tx1.TxOut[:1]),
				s.HashOutputs, test.name)
		default:
			require.Equal(t, zero, s.HashOutputs, test.name)
		}
	}
}

// TestSingleWithoutMatchingOutput ensures SIGHASH_SINGLE on an input with no
// output at the same index commits to no outputs.
func TestSingleWithoutMatchingOutput(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 2}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1, nil))

	s := Spender{PushData: [][]byte{{byte(txscript.SigHashSingle |
		sigHashForkID)}}}
	hashTx(&s, tx, 1)
	require.Equal(t, chainhash.Hash{}, s.HashOutputs)
	require.NotEqual(t, chainhash.Hash{}, s.HashPrevOutputs)
}

// TestCreateErrors ensures the builder rejects transactions that are not
// double spends or that it cannot prove.
func TestCreateErrors(t *testing.T) {
	t.Parallel()

	ds := newDoubleSpend(t, sigHashAllForkID, false)

	// Spends an unrelated output.
	other := fundingTx(ds.key, 5000)
	otherOp := wire.OutPoint{Hash: other.TxHash(), Index: 0}
	unrelated := spendTx(t, ds.key, otherOp, 5000, 4000, sigHashAllForkID,
		false)

	// Signed by the right key but over the wrong amount.
	wrongAmount := spendTx(t, ds.key, ds.outPoint, 1, 70000,
		sigHashAllForkID, false)

	// Signed by another key whose public key does not match the output.
	otherKey := newTestKey(t, 0x22)
	wrongKey := spendTx(t, otherKey, ds.outPoint, ds.prevOut.Value, 70000,
		sigHashAllForkID, false)

	// Signed without the fork id.
	noForkID := spendTx(t, ds.key, ds.outPoint, ds.prevOut.Value, 70000,
		txscript.SigHashAll, false)

	// Not a <sig> <pubkey> script.
	oneSig := ds.tx2.Copy()
	oneSig.TxIn[0].SignatureScript = oneSig.TxIn[0].SignatureScript[:1+
		int(oneSig.TxIn[0].SignatureScript[0])]

	// The previous output is pay-to-script-hash.
	p2sh := &wire.TxOut{
		Value: ds.prevOut.Value,
		PkScript: append(append([]byte{txscript.OP_HASH160,
			txscript.OP_DATA_20}, make([]byte, 20)...),
			txscript.OP_EQUAL),
	}

	tests := []struct {
		name    string
		tx1     *wire.MsgTx
		tx2     *wire.MsgTx
		prevOut *wire.TxOut
		kind    ErrorKind
	}{
		{"same tx", ds.tx1, ds.tx1, ds.prevOut, ErrNotDoubleSpend},
		{"not spending", ds.tx1, unrelated, ds.prevOut, ErrNotDoubleSpend},
		{"wrong amount", ds.tx1, wrongAmount, ds.prevOut, ErrIncompleteSignature},
		{"wrong key", wrongKey, ds.tx1, ds.prevOut, ErrIncompleteSignature},
		{"no fork id", ds.tx1, noForkID, ds.prevOut, ErrUnsupportedScriptKind},
		{"one push", ds.tx1, oneSig, ds.prevOut, ErrUnsupportedScriptKind},
		{"p2sh", ds.tx1, ds.tx2, p2sh, ErrUnsupportedScriptKind},
		{"no prevout", ds.tx1, ds.tx2, nil, ErrUnsupportedScriptKind},
	}

	for _, test := range tests {
		_, err := Create(test.tx1, test.tx2, ds.outPoint, test.prevOut)
		require.ErrorIs(t, err, test.kind, test.name)

		var rerr RuleError
		require.True(t, errors.As(err, &rerr), test.name)
		require.NotEmpty(t, rerr.Description, test.name)
	}
}

// TestCreateUnverifiedErrors ensures the syntactic extraction still
// requires a non-empty fork id signature.
func TestCreateUnverifiedErrors(t *testing.T) {
	t.Parallel()

	ds := newDoubleSpend(t, sigHashAllForkID, false)

	empty := ds.tx2.Copy()
	empty.TxIn[0].SignatureScript = []byte{txscript.OP_0}
	_, err := CreateUnverified(ds.tx1, empty, ds.outPoint)
	require.ErrorIs(t, err, ErrIncompleteSignature)

	noForkID := ds.tx2.Copy()
	noForkID.TxIn[0].SignatureScript = []byte{txscript.OP_DATA_2, 0x30,
		byte(txscript.SigHashAll)}
	_, err = CreateUnverified(ds.tx1, noForkID, ds.outPoint)
	require.ErrorIs(t, err, ErrUnsupportedScriptKind)

	_, err = CreateUnverified(ds.tx1, ds.tx1, ds.outPoint)
	require.ErrorIs(t, err, ErrNotDoubleSpend)
}

// TestProofSerialization ensures a proof survives a round trip and that
// truncated input is rejected.
func TestProofSerialization(t *testing.T) {
	t.Parallel()

	ds := newDoubleSpend(t, sigHashAllForkID, false)
	proof, err := Create(ds.tx1, ds.tx2, ds.outPoint, ds.prevOut)
	require.NoError(t, err)

	serialized := proof.Bytes()
	require.Len(t, serialized, proof.SerializeSize())

	var decoded DoubleSpendProof
	require.NoError(t, decoded.Deserialize(bytes.NewReader(serialized)))
	require.Equal(t, proof.ID(), decoded.ID())
	require.NoError(t, decoded.CheckSanity())

	for _, n := range []int{0, 10, outPointSize + 20, len(serialized) - 1} {
		var truncated DoubleSpendProof
		err := truncated.Deserialize(bytes.NewReader(serialized[:n]))
		require.Error(t, err, "truncated at %d", n)
	}
}

// TestCheckSanity ensures malformed proofs are rejected.
func TestCheckSanity(t *testing.T) {
	t.Parallel()

	op := testOutPoint(1)
	tests := []struct {
		name   string
		mutate func(p *DoubleSpendProof)
		valid  bool
	}{{
		name:   "valid",
		mutate: func(p *DoubleSpendProof) {},
		valid:  true,
	}, {
		name:   "null outpoint",
		mutate: func(p *DoubleSpendProof) { p.OutPoint = wire.OutPoint{} },
	}, {
		name:   "no push",
		mutate: func(p *DoubleSpendProof) { p.Spender1.PushData = nil },
	}, {
		name: "two pushes",
		mutate: func(p *DoubleSpendProof) {
			p.Spender2.PushData = append(p.Spender2.PushData, []byte{1})
		},
	}, {
		name: "empty push",
		mutate: func(p *DoubleSpendProof) {
			p.Spender1.PushData = [][]byte{{}}
		},
	}, {
		name: "oversized push",
		mutate: func(p *DoubleSpendProof) {
			p.Spender2.PushData = [][]byte{make([]byte, MaxPushDataSize+1)}
		},
	}, {
		name: "identical spenders",
		mutate: func(p *DoubleSpendProof) {
			p.Spender2 = p.Spender1
		},
	}}

	for _, test := range tests {
		proof := fakeProof(1, op)
		test.mutate(proof)
		err := proof.CheckSanity()
		if test.valid {
			require.NoError(t, err, test.name)
			continue
		}
		require.ErrorIs(t, err, ErrMalformedProof, test.name)
	}
}

// TestCompareHash ensures hashes compare from the most significant byte,
// which is the last one.
func TestCompareHash(t *testing.T) {
	t.Parallel()

	a := chainhash.Hash{0xff}
	b := chainhash.Hash{31: 0x01}
	require.Equal(t, -1, compareHash(&a, &b))
	require.Equal(t, 1, compareHash(&b, &a))
	require.Zero(t, compareHash(&a, &a))
}
