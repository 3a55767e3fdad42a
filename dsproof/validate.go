// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// CoinView provides access to unspent outputs, both confirmed and in the
// mempool.  blockchain.UtxoViewpoint satisfies it.
type CoinView interface {
	LookupEntry(outpoint wire.OutPoint) *blockchain.UtxoEntry
}

// Validity is the outcome of validating a proof.
type Validity int

const (
	// ValidityValid means both signatures verify.
	ValidityValid Validity = iota

	// ValidityInvalid means the proof is malformed, not canonical or
	// either signature fails to verify.
	ValidityInvalid

	// ValidityMissingUTXO means the output the proof covers is unknown,
	// either because it was just mined or because it was never seen.
	ValidityMissingUTXO

	// ValidityMissingTransaction means there is no known transaction
	// spending the output to take the public key from.
	ValidityMissingTransaction
)

// Map of Validity values back to their constant names for pretty printing.
var validityStrings = map[Validity]string{
	ValidityValid:              "ValidityValid",
	ValidityInvalid:            "ValidityInvalid",
	ValidityMissingUTXO:        "ValidityMissingUTXO",
	ValidityMissingTransaction: "ValidityMissingTransaction",
}

// String returns the Validity as a human-readable name.
func (v Validity) String() string {
	if s := validityStrings[v]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown Validity (%d)", int(v))
}

// Validate checks the proof against the output it covers.  spendingTx is a
// known transaction spending that output, typically the one in the
// mempool, and provides the public key both signatures must verify with.
// A nil spendingTx yields ValidityMissingTransaction.
func (p *DoubleSpendProof) Validate(view CoinView,
	spendingTx *wire.MsgTx) Validity {

	if err := p.CheckSanity(); err != nil {
		log.Debugf("Double spend proof %v: %v", p.ID(), err)
		return ValidityInvalid
	}
	if !p.IsCanonical() {
		log.Debugf("Double spend proof %v: spenders not in canonical "+
			"order", p.ID())
		return ValidityInvalid
	}

	coin := view.LookupEntry(p.OutPoint)
	if coin == nil || coin.IsSpent() {
		return ValidityMissingUTXO
	}
	if spendingTx == nil {
		return ValidityMissingTransaction
	}

	idx := spendingInput(spendingTx, p.OutPoint)
	if idx < 0 {
		return ValidityMissingTransaction
	}
	pubKeyBytes := secondPush(spendingTx.TxIn[idx].SignatureScript)
	if len(pubKeyBytes) == 0 {
		return ValidityInvalid
	}

	prevScript := coin.PkScript()
	pkHash := extractPubKeyHash(prevScript)
	if pkHash == nil || !bytes.Equal(btcutil.Hash160(pubKeyBytes), pkHash) {
		return ValidityInvalid
	}
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return ValidityInvalid
	}

	for i, s := range []*Spender{&p.Spender1, &p.Spender2} {
		hash := signatureHash(s, &p.OutPoint, prevScript, coin.Amount())
		if !verifySignature(s.PushData[0], hash[:], pubKey) {
			log.Debugf("Double spend proof %v failed validating "+
				"spender %d", p.ID(), i+1)
			return ValidityInvalid
		}
	}
	return ValidityValid
}

// secondPush returns the data of the second opcode of script.
func secondPush(script []byte) []byte {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || !tokenizer.Next() {
		return nil
	}
	return tokenizer.Data()
}

// IsProofPossible returns whether a proof could be built for a double spend
// of any input of tx: tx must not be a coinbase and every output it spends
// must be known and pay-to-pubkey-hash.
func IsProofPossible(view CoinView, tx *wire.MsgTx) bool {
	if len(tx.TxIn) == 0 || blockchain.IsCoinBaseTx(tx) {
		return false
	}
	for _, in := range tx.TxIn {
		coin := view.LookupEntry(in.PreviousOutPoint)
		if coin == nil || coin.IsSpent() {
			return false
		}
		if extractPubKeyHash(coin.PkScript()) == nil {
			return false
		}
	}
	return true
}
