// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// signatureExtractor returns the signature, with its hash type byte, of the
// input at index idx of tx.
type signatureExtractor func(tx *wire.MsgTx, idx int) ([]byte, error)

// Create builds a proof that tx1 and tx2 both spend outPoint.  prevOut is the
// output being spent.  It must be a pay-to-pubkey-hash output and both
// spending inputs must carry a valid Bitcoin Cash signature for it.
//
// The returned proof is the same no matter the order of tx1 and tx2.
func Create(tx1, tx2 *wire.MsgTx, outPoint wire.OutPoint,
	prevOut *wire.TxOut) (*DoubleSpendProof, error) {

	if prevOut == nil {
		return nil, ruleError(ErrUnsupportedScriptKind, "no previous "+
			"output to verify the signatures against")
	}
	pkHash := extractPubKeyHash(prevOut.PkScript)
	if pkHash == nil {
		return nil, ruleError(ErrUnsupportedScriptKind, "previous output "+
			"is not pay-to-pubkey-hash")
	}

	extract := func(tx *wire.MsgTx, idx int) ([]byte, error) {
		return verifiedSignature(tx, idx, pkHash, prevOut)
	}
	return create(tx1, tx2, outPoint, extract)
}

// CreateUnverified builds a proof like Create, but only extracts the
// signatures syntactically: the first push of each spending input must be
// non-empty and carry the fork id hash type.  Nothing is verified.
//
// This exists so tests can build proofs for outputs they have no previous
// output for.  It must not be used on untrusted transactions.
func CreateUnverified(tx1, tx2 *wire.MsgTx,
	outPoint wire.OutPoint) (*DoubleSpendProof, error) {

	extract := func(tx *wire.MsgTx, idx int) ([]byte, error) {
		return firstPushSignature(tx.TxIn[idx].SignatureScript)
	}
	return create(tx1, tx2, outPoint, extract)
}

// create builds, orders and self checks a proof using extract to obtain the
// signatures.
func create(tx1, tx2 *wire.MsgTx, outPoint wire.OutPoint,
	extract signatureExtractor) (*DoubleSpendProof, error) {

	hash1, hash2 := tx1.TxHash(), tx2.TxHash()
	if hash1 == hash2 {
		str := fmt.Sprintf("transaction %v cannot double spend itself",
			hash1)
		return nil, ruleError(ErrNotDoubleSpend, str)
	}

	idx1 := spendingInput(tx1, outPoint)
	idx2 := spendingInput(tx2, outPoint)
	if idx1 < 0 || idx2 < 0 {
		str := fmt.Sprintf("transactions %v and %v do not both spend %v",
			hash1, hash2, outPoint)
		return nil, ruleError(ErrNotDoubleSpend, str)
	}

	sig1, err := extract(tx1, idx1)
	if err != nil {
		return nil, err
	}
	sig2, err := extract(tx2, idx2)
	if err != nil {
		return nil, err
	}

	proof := &DoubleSpendProof{
		OutPoint: outPoint,
		Spender1: newSpender(tx1, idx1, sig1),
		Spender2: newSpender(tx2, idx2, sig2),
	}

	// A signature that commits to neither transaction's outputs can be
	// shared by both, which proves nothing.
	if proof.Spender1.Equal(&proof.Spender2) {
		str := fmt.Sprintf("transactions %v and %v carry the same "+
			"signature for %v", hash1, hash2, outPoint)
		return nil, ruleError(ErrNotDoubleSpend, str)
	}

	// Order the spenders so the proof, and its id, does not depend on
	// which transaction was seen first.
	if compareSpenders(&proof.Spender1, &proof.Spender2) > 0 {
		proof.Spender1, proof.Spender2 = proof.Spender2, proof.Spender1
	}

	if err := proof.CheckSanity(); err != nil {
		panic(fmt.Sprintf("built a proof that fails its own sanity "+
			"checks: %v", err))
	}
	return proof, nil
}

// newSpender returns the spender for the input at idx of tx signed with sig.
func newSpender(tx *wire.MsgTx, idx int, sig []byte) Spender {
	s := Spender{
		TxVersion:   uint32(tx.Version),
		OutSequence: tx.TxIn[idx].Sequence,
		LockTime:    tx.LockTime,
		PushData:    [][]byte{sig},
	}
	hashTx(&s, tx, idx)
	return s
}

// spendingInput returns the index of the input of tx that spends op, or -1.
func spendingInput(tx *wire.MsgTx, op wire.OutPoint) int {
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint == op {
			return i
		}
	}
	return -1
}

// extractPubKeyHash returns the public key hash paid to by a
// pay-to-pubkey-hash script, or nil for any other script.
func extractPubKeyHash(pkScript []byte) []byte {
	if txscript.GetScriptClass(pkScript) != txscript.PubKeyHashTy {
		return nil
	}

	// OP_DUP OP_HASH160 OP_DATA_20 <hash> OP_EQUALVERIFY OP_CHECKSIG
	return pkScript[3:23]
}

// p2pkhPushes returns the signature and public key pushed by a
// pay-to-pubkey-hash signature script.
func p2pkhPushes(sigScript []byte) ([]byte, []byte, error) {
	if !txscript.IsPushOnlyScript(sigScript) {
		return nil, nil, ruleError(ErrUnsupportedScriptKind, "signature "+
			"script is not push only")
	}
	pushes, err := txscript.PushedData(sigScript)
	if err != nil || len(pushes) != 2 {
		return nil, nil, ruleError(ErrUnsupportedScriptKind, "signature "+
			"script is not <sig> <pubkey>")
	}
	return pushes[0], pushes[1], nil
}

// checkForkID ensures sig is a non-empty push that fits in a proof and
// carries the fork id hash type.
func checkForkID(sig []byte) error {
	if len(sig) == 0 {
		return ruleError(ErrIncompleteSignature, "signature script has no "+
			"signature")
	}
	if len(sig) > MaxPushDataSize {
		str := fmt.Sprintf("signature is %d bytes, max %d", len(sig),
			MaxPushDataSize)
		return ruleError(ErrIncompleteSignature, str)
	}
	if txscript.SigHashType(sig[len(sig)-1])&sigHashForkID == 0 {
		return ruleError(ErrUnsupportedScriptKind, "signature is not a "+
			"Bitcoin Cash fork id signature")
	}
	return nil
}

// verifiedSignature extracts the signature of the input at idx of tx and
// verifies it against prevOut, which pays to pkHash.
func verifiedSignature(tx *wire.MsgTx, idx int, pkHash []byte,
	prevOut *wire.TxOut) ([]byte, error) {

	in := tx.TxIn[idx]
	sig, pubKeyBytes, err := p2pkhPushes(in.SignatureScript)
	if err != nil {
		return nil, err
	}
	if err := checkForkID(sig); err != nil {
		return nil, err
	}
	if !bytes.Equal(btcutil.Hash160(pubKeyBytes), pkHash) {
		return nil, ruleError(ErrIncompleteSignature, "public key does "+
			"not match the previous output")
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		str := fmt.Sprintf("invalid public key: %v", err)
		return nil, ruleError(ErrIncompleteSignature, str)
	}

	// The signature hash is rebuilt from the spender fields so the check
	// covers exactly what the proof will carry.
	spender := newSpender(tx, idx, sig)
	hash := signatureHash(&spender, &in.PreviousOutPoint, prevOut.PkScript,
		prevOut.Value)
	if !verifySignature(sig, hash[:], pubKey) {
		str := fmt.Sprintf("input %d of %v is not properly signed", idx,
			tx.TxHash())
		return nil, ruleError(ErrIncompleteSignature, str)
	}
	return sig, nil
}

// firstPushSignature returns a copy of the first push of sigScript after
// checking it looks like a fork id signature.
func firstPushSignature(sigScript []byte) ([]byte, error) {
	var sig []byte
	tokenizer := txscript.MakeScriptTokenizer(0, sigScript)
	if tokenizer.Next() {
		sig = tokenizer.Data()
	}
	if err := checkForkID(sig); err != nil {
		return nil, err
	}
	return append([]byte(nil), sig...), nil
}
