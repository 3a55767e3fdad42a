// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cashnode/cashd/dsproof"
)

// maxDSProofSearchDepth bounds the ancestor chain RecursiveDSProofSearch
// walks.
const maxDSProofSearchDepth = 1000

// DSProofInfo is a double spend proof along with the pool transaction it is
// attached to.
type DSProofInfo struct {
	Proof *dsproof.DoubleSpendProof

	// TxHash is the hash of the pool transaction spending the outpoint of
	// the proof.  It is nil for orphan proofs.
	TxHash *chainhash.Hash

	// Descendants holds the hash of the spending transaction followed by
	// the hashes of its in-pool descendants.
	Descendants []chainhash.Hash
}

// AddDoubleSpendProof attaches proof to the pool transaction spending its
// outpoint and returns that transaction.  It returns nil, storing nothing,
// when no pool transaction spends the outpoint or the spender already has a
// proof.  peer is recorded as the origin of the proof.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) AddDoubleSpendProof(proof *dsproof.DoubleSpendProof,
	peer int32) *btcutil.Tx {

	desc, ok := mp.outpoints[proof.OutPoint]
	if !ok {
		return nil
	}
	if desc.DspID != nil {
		log.Debugf("Transaction %v already has double spend proof %v",
			desc.Tx.Hash(), desc.DspID)
		return nil
	}

	id, _ := mp.dsproofs.Add(proof, peer)
	desc.DspID = &id

	log.Infof("Double spend proof %v attached to transaction %v", id,
		desc.Tx.Hash())
	return desc.Tx
}

// descendantHashes returns the hash of the entry followed by the hashes of
// its in-pool descendants in pool order.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) descendantHashes(desc *TxDesc) []chainhash.Hash {
	descendants := make(TxSet)
	mp.CalculateDescendants(desc, descendants)
	delete(descendants, desc)

	hashes := make([]chainhash.Hash, 0, len(descendants)+1)
	hashes = append(hashes, *desc.Tx.Hash())
	for _, d := range descendants.sorted() {
		hashes = append(hashes, *d.Tx.Hash())
	}
	return hashes
}

// proofForEntry returns the proof attached to the entry, or nil.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) proofForEntry(desc *TxDesc) *DSProofInfo {
	if desc.DspID == nil {
		return nil
	}
	proof, ok := mp.dsproofs.Get(*desc.DspID)
	if !ok {
		panic(fmt.Sprintf("double spend proof %v of transaction %v is "+
			"missing from storage", desc.DspID, desc.Tx.Hash()))
	}
	return &DSProofInfo{
		Proof:       proof,
		TxHash:      desc.Tx.Hash(),
		Descendants: mp.descendantHashes(desc),
	}
}

// DoubleSpendProofByID returns the stored proof with the passed id, orphan
// or not.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) DoubleSpendProofByID(id dsproof.ID) (*DSProofInfo, bool) {
	proof, ok := mp.dsproofs.Get(id)
	if !ok {
		return nil, false
	}
	info := &DSProofInfo{Proof: proof}
	if desc, ok := mp.outpoints[proof.OutPoint]; ok {
		info.TxHash = desc.Tx.Hash()
		info.Descendants = mp.descendantHashes(desc)
	}
	return info, true
}

// DoubleSpendProofByTx returns the proof attached to the pool transaction
// with the passed hash.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) DoubleSpendProofByTx(hash *chainhash.Hash) (*DSProofInfo, bool) {
	desc, ok := mp.pool[*hash]
	if !ok {
		return nil, false
	}
	info := mp.proofForEntry(desc)
	return info, info != nil
}

// DoubleSpendProofByOutpoint returns the proof covering op.  The proof of
// the pool transaction spending op is preferred, otherwise an orphan proof
// covering op is returned.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) DoubleSpendProofByOutpoint(op wire.OutPoint) (*DSProofInfo, bool) {
	if desc, ok := mp.outpoints[op]; ok {
		info := mp.proofForEntry(desc)
		return info, info != nil
	}

	// Orphans may be reaped concurrently, so a missing one is skipped.
	for _, ref := range mp.dsproofs.FindOrphans(op) {
		if proof, ok := mp.dsproofs.Get(ref.ID); ok {
			return &DSProofInfo{Proof: proof}, true
		}
	}
	return nil, false
}

// RecursiveDSProofSearch looks for a proof attached to the pool transaction
// with the passed hash or to any of its in-pool ancestors.  It returns the
// proof found first along with the path of hashes from the transaction to
// the one carrying the proof.  A nil proof means none was found.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) RecursiveDSProofSearch(hash *chainhash.Hash) (*DSProofInfo,
	[]chainhash.Hash, error) {

	var (
		path   []chainhash.Hash
		found  *DSProofInfo
		seen   = map[chainhash.Hash]struct{}{*hash: {}}
		search func(desc *TxDesc) error
	)
	search = func(desc *TxDesc) error {
		path = append(path, *desc.Tx.Hash())
		if len(path) > maxDSProofSearchDepth {
			str := fmt.Sprintf("double spend proof search exceeded a "+
				"depth of %d", maxDSProofSearchDepth)
			return txRuleError(ErrSearchDepth, str)
		}
		if found = mp.proofForEntry(desc); found != nil {
			return nil
		}
		for _, parent := range desc.parents.sorted() {
			if _, ok := seen[*parent.Tx.Hash()]; ok {
				continue
			}
			seen[*parent.Tx.Hash()] = struct{}{}
			if err := search(parent); err != nil {
				return err
			}
			if found != nil {
				return nil
			}
		}
		path = path[:len(path)-1]
		return nil
	}

	desc, ok := mp.pool[*hash]
	if !ok {
		return nil, nil, nil
	}
	if err := search(desc); err != nil {
		return nil, nil, err
	}
	if found == nil {
		return nil, nil, nil
	}
	return found, path, nil
}

// ListDoubleSpendProofs returns every stored proof, leaving out orphans
// unless includeOrphans is set.  The descendants of the spending
// transactions are not filled in.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) ListDoubleSpendProofs(includeOrphans bool) []DSProofInfo {
	stored := mp.dsproofs.All(includeOrphans)
	infos := make([]DSProofInfo, 0, len(stored))
	for _, sp := range stored {
		info := DSProofInfo{Proof: sp.Proof}
		if !sp.Orphan {
			desc, ok := mp.outpoints[sp.Proof.OutPoint]
			if !ok || desc.DspID == nil || *desc.DspID != sp.Proof.ID() {
				panic(fmt.Sprintf("double spend proof %v is not "+
					"attached to a pool transaction", sp.Proof.ID()))
			}
			info.TxHash = desc.Tx.Hash()
		}
		infos = append(infos, info)
	}
	return infos
}

// ValidateDoubleSpendProof validates proof against view, taking the public
// key from the pool transaction spending its outpoint.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) ValidateDoubleSpendProof(proof *dsproof.DoubleSpendProof,
	view dsproof.CoinView) dsproof.Validity {

	var spender *wire.MsgTx
	if desc, ok := mp.outpoints[proof.OutPoint]; ok {
		spender = desc.Tx.MsgTx()
	}
	return proof.Validate(view, spender)
}
