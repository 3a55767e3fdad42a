// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// sigHashForkID is the Bitcoin Cash replay protection flag every
	// signature hash type must carry.
	sigHashForkID txscript.SigHashType = 0x40

	// sigHashMask selects the base signature hash type.
	sigHashMask txscript.SigHashType = 0x1f
)

// writeOutPoint encodes an outpoint the way it appears in a transaction.
func writeOutPoint(buf *bytes.Buffer, op *wire.OutPoint) {
	var index [4]byte
	binary.LittleEndian.PutUint32(index[:], op.Index)
	buf.Write(op.Hash[:])
	buf.Write(index[:])
}

// calcHashPrevOuts returns the double sha256 of every outpoint spent by tx.
func calcHashPrevOuts(tx *wire.MsgTx) chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(len(tx.TxIn) * outPointSize)
	for _, in := range tx.TxIn {
		writeOutPoint(&buf, &in.PreviousOutPoint)
	}
	return chainhash.DoubleHashH(buf.Bytes())
}

// calcHashSequence returns the double sha256 of every input sequence of tx.
func calcHashSequence(tx *wire.MsgTx) chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(len(tx.TxIn) * 4)
	var seq [4]byte
	for _, in := range tx.TxIn {
		binary.LittleEndian.PutUint32(seq[:], in.Sequence)
		buf.Write(seq[:])
	}
	return chainhash.DoubleHashH(buf.Bytes())
}

// calcHashOutputs returns the double sha256 of the passed outputs.
func calcHashOutputs(outs []*wire.TxOut) chainhash.Hash {
	var buf bytes.Buffer
	for _, out := range outs {
		// Writing to a bytes.Buffer never fails.
		_ = wire.WriteTxOut(&buf, 0, 0, out)
	}
	return chainhash.DoubleHashH(buf.Bytes())
}

// hashTx fills in the commitments of s for the input at inputIndex of tx.
// Which commitments are set depends on the hash type of the signature in s,
// which must already be present.  Commitments the hash type excludes are
// left zero.
func hashTx(s *Spender, tx *wire.MsgTx, inputIndex int) {
	hashType := txscript.SigHashType(s.hashType())
	base := hashType & sigHashMask
	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0

	if !anyoneCanPay {
		s.HashPrevOutputs = calcHashPrevOuts(tx)
	}
	if !anyoneCanPay && base != txscript.SigHashSingle &&
		base != txscript.SigHashNone {

		s.HashSequence = calcHashSequence(tx)
	}
	switch {
	case base != txscript.SigHashSingle && base != txscript.SigHashNone:
		s.HashOutputs = calcHashOutputs(tx.TxOut)
	case base == txscript.SigHashSingle && inputIndex < len(tx.TxOut):
		s.HashOutputs = calcHashOutputs(tx.TxOut[inputIndex : inputIndex+1])
	}
}

// signatureHash returns the Bitcoin Cash signature hash a spender's signature
// commits to, rebuilt from the spender's fields instead of the transaction.
// scriptCode is the script of the output being spent and amount its value.
func signatureHash(s *Spender, op *wire.OutPoint, scriptCode []byte,
	amount int64) chainhash.Hash {

	var buf bytes.Buffer
	buf.Grow(4 + chainhash.HashSize*3 + outPointSize + 9 +
		len(scriptCode) + 8 + 4 + 4 + 4)

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], s.TxVersion)
	buf.Write(scratch[:4])
	buf.Write(s.HashPrevOutputs[:])
	buf.Write(s.HashSequence[:])
	writeOutPoint(&buf, op)
	_ = wire.WriteVarBytes(&buf, 0, scriptCode)
	binary.LittleEndian.PutUint64(scratch[:], uint64(amount))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:4], s.OutSequence)
	buf.Write(scratch[:4])
	buf.Write(s.HashOutputs[:])
	binary.LittleEndian.PutUint32(scratch[:4], s.LockTime)
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint32(scratch[:4], s.hashType())
	buf.Write(scratch[:4])

	return chainhash.DoubleHashH(buf.Bytes())
}
