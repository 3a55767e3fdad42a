// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cashnode/cashd/dsproof"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/btree"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultMaxPoolSizeMB is the default memory limit of the pool in
	// megabytes.
	DefaultMaxPoolSizeMB = 320

	// DefaultExpiry is how long a transaction may stay in the pool by
	// default.
	DefaultExpiry = 336 * time.Hour

	// btreeDegree is the degree of the ordered indices.
	btreeDegree = 32
)

// RemovalReason describes why a transaction left the pool.
type RemovalReason int

const (
	// RemovalUnknown is used when the reason is not known.
	RemovalUnknown RemovalReason = iota

	// RemovalExpiry means the transaction stayed in the pool too long.
	RemovalExpiry

	// RemovalSizeLimit means the transaction was evicted to keep the pool
	// under its memory limit.
	RemovalSizeLimit

	// RemovalReorg means the transaction was removed while the chain was
	// reorganized.
	RemovalReorg

	// RemovalBlock means the transaction was confirmed in a block.
	RemovalBlock

	// RemovalConflict means the transaction conflicts with a confirmed
	// transaction.
	RemovalConflict

	// RemovalReplaced means the transaction was replaced by another one.
	RemovalReplaced
)

// Map of RemovalReason values back to their constant names for pretty
// printing.
var removalReasonStrings = map[RemovalReason]string{
	RemovalUnknown:   "unknown",
	RemovalExpiry:    "expiry",
	RemovalSizeLimit: "sizelimit",
	RemovalReorg:     "reorg",
	RemovalBlock:     "block",
	RemovalConflict:  "conflict",
	RemovalReplaced:  "replaced",
}

// String returns the RemovalReason in human-readable form.
func (r RemovalReason) String() string {
	if s, ok := removalReasonStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("Unknown RemovalReason (%d)", int(r))
}

// TxDesc is a descriptor containing a transaction in the pool along with
// additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *btcutil.Tx

	// Fee is the total fee the transaction pays.
	Fee int64

	// Time is when the entry was added to the pool.
	Time time.Time

	// Height is the block height when the entry was added to the pool.
	Height int32

	// SpendsCoinbase is whether the transaction spends a coinbase output.
	SpendsCoinbase bool

	// SigChecks is the number of signature checks the transaction
	// performs.
	SigChecks int64

	// FeeDelta is the fee adjustment applied with PrioritiseTransaction.
	// It is set by the pool.
	FeeDelta int64

	// DspID is the ID of the double spend proof attached to the entry, if
	// any.
	DspID *dsproof.ID

	// Aggregates over the entry and its in-pool ancestors.  They are
	// maintained by the pool.
	CountWithAncestors     int64
	SizeWithAncestors      int64
	ModFeesWithAncestors   int64
	SigChecksWithAncestors int64

	// Aggregates over the entry and its in-pool descendants.  They are
	// maintained by the pool.
	CountWithDescendants     int64
	SizeWithDescendants      int64
	ModFeesWithDescendants   int64
	SigChecksWithDescendants int64

	entryID  uint64
	size     int64
	usage    int64
	parents  TxSet
	children TxSet
}

// Size returns the serialized size of the transaction.  It is only valid
// once the entry has been added to the pool.
func (d *TxDesc) Size() int64 {
	return d.size
}

// ModifiedFee returns the fee of the transaction including its fee delta.
func (d *TxDesc) ModifiedFee() int64 {
	return d.Fee + d.FeeDelta
}

// FeePerKB returns the modified fee rate of the transaction in satoshi per
// kilobyte.
func (d *TxDesc) FeePerKB() int64 {
	if d.size == 0 {
		return 0
	}
	return d.ModifiedFee() * 1000 / d.size
}

// updateAncestorState adjusts the ancestor aggregates of the entry.
func (d *TxDesc) updateAncestorState(size, fee, count, sigChecks int64) {
	d.SizeWithAncestors += size
	d.ModFeesWithAncestors += fee
	d.CountWithAncestors += count
	d.SigChecksWithAncestors += sigChecks
	if d.CountWithAncestors <= 0 || d.SizeWithAncestors <= 0 {
		panic(fmt.Sprintf("ancestor state of %v went non-positive",
			d.Tx.Hash()))
	}
}

// updateDescendantState adjusts the descendant aggregates of the entry.
func (d *TxDesc) updateDescendantState(size, fee, count, sigChecks int64) {
	d.SizeWithDescendants += size
	d.ModFeesWithDescendants += fee
	d.CountWithDescendants += count
	d.SigChecksWithDescendants += sigChecks
	if d.CountWithDescendants <= 0 || d.SizeWithDescendants <= 0 {
		panic(fmt.Sprintf("descendant state of %v went non-positive",
			d.Tx.Hash()))
	}
}

// TxSet is a set of pool entries.
type TxSet map[*TxDesc]struct{}

// NewTxSet returns a set holding the passed entries.
func NewTxSet(descs ...*TxDesc) TxSet {
	set := make(TxSet, len(descs))
	for _, desc := range descs {
		set[desc] = struct{}{}
	}
	return set
}

// sorted returns the entries of the set in the order they were added to the
// pool.
func (s TxSet) sorted() []*TxDesc {
	descs := make([]*TxDesc, 0, len(s))
	for desc := range s {
		descs = append(descs, desc)
	}
	sort.Slice(descs, func(i, j int) bool {
		return descs[i].entryID < descs[j].entryID
	})
	return descs
}

// feeRateLess orders entries by modified fee rate.  Among entries paying the
// same rate the newest comes first so it is evicted first.
func feeRateLess(a, b *TxDesc) bool {
	rateA, rateB := a.FeePerKB(), b.FeePerKB()
	if rateA != rateB {
		return rateA < rateB
	}
	return a.entryID > b.entryID
}

// entryIDLess orders entries by the order they were added to the pool.
func entryIDLess(a, b *TxDesc) bool {
	return a.entryID < b.entryID
}

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// DSProofs holds the double spend proofs attached to pool entries.  A
	// new storage is created when it is nil.
	DSProofs *dsproof.Storage

	// Clock is the time source.  The system clock is used when it is nil.
	Clock clock.Clock
}

// TxMempool is the pool of unconfirmed transactions.  See the package
// documentation for the locking rules.
type TxMempool struct {
	mtx      sync.Mutex
	cfg      Config
	dsproofs *dsproof.Storage

	pool      map[chainhash.Hash]*TxDesc
	outpoints map[wire.OutPoint]*TxDesc
	byFeeRate *btree.BTreeG[*TxDesc]
	byEntryID *btree.BTreeG[*TxDesc]
	deltas    map[chainhash.Hash]int64

	nextEntryID      uint64
	numLinks         int64
	cachedInnerUsage int64

	statsMtx sync.RWMutex
	stats    poolStats

	notificationsLock sync.RWMutex
	notifications     []NotificationCallback
}

// New returns a new memory pool for unconfirmed transactions.
func New(cfg *Config) *TxMempool {
	mp := &TxMempool{
		cfg:       *cfg,
		dsproofs:  cfg.DSProofs,
		pool:      make(map[chainhash.Hash]*TxDesc),
		outpoints: make(map[wire.OutPoint]*TxDesc),
		byFeeRate: btree.NewG(btreeDegree, feeRateLess),
		byEntryID: btree.NewG(btreeDegree, entryIDLess),
		deltas:    make(map[chainhash.Hash]int64),
		stats:     newPoolStats(),
	}
	if mp.cfg.Clock == nil {
		mp.cfg.Clock = clock.NewDefaultClock()
	}
	if mp.dsproofs == nil {
		mp.dsproofs = dsproof.NewStorage(&dsproof.Config{
			Clock: mp.cfg.Clock,
		})
	}
	return mp
}

// Lock acquires the pool lock.
func (mp *TxMempool) Lock() {
	mp.mtx.Lock()
}

// Unlock releases the pool lock.
func (mp *TxMempool) Unlock() {
	mp.mtx.Unlock()
}

// DSProofs returns the storage holding the double spend proofs of the pool.
func (mp *TxMempool) DSProofs() *dsproof.Storage {
	return mp.dsproofs
}

// AddUnchecked adds an already validated transaction to the pool.  The
// in-pool parents of the transaction must already be in the pool.  Adding a
// transaction that is already in the pool is a programming error.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) AddUnchecked(desc *TxDesc) {
	hash := desc.Tx.Hash()
	if _, exists := mp.pool[*hash]; exists {
		panic(fmt.Sprintf("transaction %v is already in the pool", hash))
	}

	msgTx := desc.Tx.MsgTx()
	desc.entryID = mp.nextEntryID
	mp.nextEntryID++
	desc.size = int64(msgTx.SerializeSize())
	desc.usage = txMemUsage(msgTx)
	desc.FeeDelta = mp.deltas[*hash]
	desc.parents = make(TxSet)
	desc.children = make(TxSet)

	for _, txIn := range msgTx.TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = desc
		parent, ok := mp.pool[txIn.PreviousOutPoint.Hash]
		if !ok {
			continue
		}
		if _, linked := desc.parents[parent]; !linked {
			desc.parents[parent] = struct{}{}
			parent.children[desc] = struct{}{}
			mp.numLinks++
		}
	}

	// A new entry has no descendants, but every ancestor gains it as one.
	fee := desc.ModifiedFee()
	desc.CountWithAncestors, desc.CountWithDescendants = 1, 1
	desc.SizeWithAncestors, desc.SizeWithDescendants = desc.size, desc.size
	desc.ModFeesWithAncestors, desc.ModFeesWithDescendants = fee, fee
	desc.SigChecksWithAncestors = desc.SigChecks
	desc.SigChecksWithDescendants = desc.SigChecks
	for ancestor := range mp.CalculateAncestors(desc) {
		desc.updateAncestorState(ancestor.size, ancestor.ModifiedFee(),
			1, ancestor.SigChecks)
		ancestor.updateDescendantState(desc.size, fee, 1,
			desc.SigChecks)
	}

	mp.pool[*hash] = desc
	mp.byFeeRate.ReplaceOrInsert(desc)
	mp.byEntryID.ReplaceOrInsert(desc)
	mp.cachedInnerUsage += desc.usage
	mp.statsAdd(desc)

	log.Debugf("Accepted transaction %v (pool size: %v)", hash,
		len(mp.pool))
	mp.sendNotification(NTTxAdded, desc)
}

// CalculateAncestors returns the in-pool ancestors of the entry, not
// including the entry itself.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) CalculateAncestors(desc *TxDesc) TxSet {
	ancestors := make(TxSet)
	stack := make([]*TxDesc, 0, len(desc.parents))
	for parent := range desc.parents {
		stack = append(stack, parent)
	}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := ancestors[next]; ok {
			continue
		}
		ancestors[next] = struct{}{}
		for parent := range next.parents {
			if _, ok := ancestors[parent]; !ok {
				stack = append(stack, parent)
			}
		}
	}
	return ancestors
}

// CalculateDescendants adds the entry and its in-pool descendants to
// descendants.  An entry already in the set is assumed to have its
// descendants in the set as well.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) CalculateDescendants(desc *TxDesc, descendants TxSet) {
	if _, ok := descendants[desc]; ok {
		return
	}
	stack := []*TxDesc{desc}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		descendants[next] = struct{}{}
		for child := range next.children {
			if _, ok := descendants[child]; !ok {
				stack = append(stack, child)
			}
		}
	}
}

// RemoveStaged removes exactly the entries in stage, which should be closed
// under descendants.  Entries no longer in the pool are ignored.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) RemoveStaged(stage TxSet, reason RemovalReason) {
	live := make(TxSet, len(stage))
	for desc := range stage {
		if mp.pool[*desc.Tx.Hash()] == desc {
			live[desc] = struct{}{}
		}
	}
	if len(live) == 0 {
		return
	}

	mp.updateForRemoval(live)
	for _, desc := range live.sorted() {
		mp.removeUnchecked(desc, reason)
	}
}

// updateForRemoval unlinks the entries of stage and recomputes the
// aggregates of the entries that stay.  Only ancestors and descendants of
// staged entries can change.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) updateForRemoval(stage TxSet) {
	affected := make(TxSet)
	descendants := make(TxSet)
	for desc := range stage {
		for ancestor := range mp.CalculateAncestors(desc) {
			affected[ancestor] = struct{}{}
		}
		mp.CalculateDescendants(desc, descendants)
	}
	for desc := range descendants {
		affected[desc] = struct{}{}
	}
	for desc := range stage {
		delete(affected, desc)
	}

	for desc := range stage {
		for parent := range desc.parents {
			if _, ok := parent.children[desc]; ok {
				delete(parent.children, desc)
				mp.numLinks--
			}
		}
		for child := range desc.children {
			if _, ok := child.parents[desc]; ok {
				delete(child.parents, desc)
				mp.numLinks--
			}
		}
	}
	for desc := range stage {
		desc.parents, desc.children = nil, nil
	}

	for desc := range affected {
		mp.resetState(desc)
	}
}

// resetState recomputes the ancestor and descendant aggregates of the entry
// from its links.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) resetState(desc *TxDesc) {
	fee := desc.ModifiedFee()
	desc.CountWithAncestors, desc.SizeWithAncestors = 1, desc.size
	desc.ModFeesWithAncestors = fee
	desc.SigChecksWithAncestors = desc.SigChecks
	for ancestor := range mp.CalculateAncestors(desc) {
		desc.updateAncestorState(ancestor.size, ancestor.ModifiedFee(),
			1, ancestor.SigChecks)
	}

	descendants := make(TxSet)
	mp.CalculateDescendants(desc, descendants)
	desc.CountWithDescendants, desc.SizeWithDescendants = 0, 0
	desc.ModFeesWithDescendants, desc.SigChecksWithDescendants = 0, 0
	for descendant := range descendants {
		desc.CountWithDescendants++
		desc.SizeWithDescendants += descendant.size
		desc.ModFeesWithDescendants += descendant.ModifiedFee()
		desc.SigChecksWithDescendants += descendant.SigChecks
	}
}

// removeUnchecked removes an unlinked entry from every index.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) removeUnchecked(desc *TxDesc, reason RemovalReason) {
	hash := desc.Tx.Hash()
	mp.sendNotification(NTTxRemoved, &TxRemovedData{
		Tx:     desc.Tx,
		Reason: reason,
	})

	// The proof goes back into the orphan pool in case the transaction
	// returns in a reorganization.
	if desc.DspID != nil {
		mp.dsproofs.OrphanExisting(*desc.DspID)
	}

	for _, txIn := range desc.Tx.MsgTx().TxIn {
		if mp.outpoints[txIn.PreviousOutPoint] == desc {
			delete(mp.outpoints, txIn.PreviousOutPoint)
		}
	}
	delete(mp.pool, *hash)
	mp.byFeeRate.Delete(desc)
	mp.byEntryID.Delete(desc)
	mp.cachedInnerUsage -= desc.usage
	mp.statsRemove(desc)

	log.Debugf("Removed transaction %v (%v) from the mempool", hash,
		reason)
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(desc.Tx.MsgTx())
	}))
}

// RemoveRecursive removes tx and its in-pool descendants.  When tx is not in
// the pool its in-pool children and their descendants are removed instead.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) RemoveRecursive(tx *btcutil.Tx, reason RemovalReason) {
	hash := tx.Hash()
	var roots []*TxDesc
	if desc, ok := mp.pool[*hash]; ok {
		roots = append(roots, desc)
	} else {
		for i := range tx.MsgTx().TxOut {
			op := wire.OutPoint{Hash: *hash, Index: uint32(i)}
			if child, ok := mp.outpoints[op]; ok {
				roots = append(roots, child)
			}
		}
	}

	stage := make(TxSet)
	for _, desc := range roots {
		mp.CalculateDescendants(desc, stage)
	}
	mp.RemoveStaged(stage, reason)
}

// RemoveConflicts removes every pool entry, along with its descendants, that
// spends an outpoint tx spends, other than tx itself.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) RemoveConflicts(tx *btcutil.Tx) {
	hash := tx.Hash()
	for _, txIn := range tx.MsgTx().TxIn {
		conflict, ok := mp.outpoints[txIn.PreviousOutPoint]
		if !ok || conflict.Tx.Hash().IsEqual(hash) {
			continue
		}
		mp.ClearPrioritisation(conflict.Tx.Hash())
		mp.RemoveRecursive(conflict.Tx, RemovalConflict)
	}
}

// PrioritiseTransaction adds delta to the fee delta of the transaction with
// the passed hash.  The delta is remembered for transactions not in the pool
// and applied when they are added.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) PrioritiseTransaction(hash *chainhash.Hash, delta int64) {
	mp.deltas[*hash] += delta

	if desc, ok := mp.pool[*hash]; ok {
		diff := mp.deltas[*hash] - desc.FeeDelta

		mp.byFeeRate.Delete(desc)
		mp.statsRemove(desc)
		desc.FeeDelta += diff
		desc.ModFeesWithAncestors += diff
		desc.ModFeesWithDescendants += diff
		for ancestor := range mp.CalculateAncestors(desc) {
			ancestor.ModFeesWithDescendants += diff
		}
		descendants := make(TxSet)
		mp.CalculateDescendants(desc, descendants)
		delete(descendants, desc)
		for descendant := range descendants {
			descendant.ModFeesWithAncestors += diff
		}
		mp.byFeeRate.ReplaceOrInsert(desc)
		mp.statsAdd(desc)
	}

	log.Infof("Prioritised transaction %v: fee delta %v", hash,
		btcutil.Amount(delta))
}

// ClearPrioritisation forgets the fee delta of the transaction with the
// passed hash.  The delta of an entry already in the pool is kept.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) ClearPrioritisation(hash *chainhash.Hash) {
	delete(mp.deltas, *hash)
}

// FeeDelta returns the remembered fee delta for the passed hash.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) FeeDelta(hash *chainhash.Hash) int64 {
	return mp.deltas[*hash]
}

// Expire removes the entries added before the passed time, along with their
// descendants, and returns the number of removed entries.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) Expire(before time.Time) int {
	stage := make(TxSet)
	mp.byEntryID.Ascend(func(desc *TxDesc) bool {
		if !desc.Time.Before(before) {
			return false
		}
		mp.CalculateDescendants(desc, stage)
		return true
	})
	mp.RemoveStaged(stage, RemovalExpiry)
	return len(stage)
}

// TrimToSize evicts the entries with the lowest modified fee rate, along
// with their descendants, until the pool uses at most limit bytes of
// memory.  It returns the outpoints spent by the evicted entries that are
// not outputs of pool transactions.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) TrimToSize(limit int64) []wire.OutPoint {
	var noSpendsRemaining []wire.OutPoint
	var removed int
	for len(mp.pool) > 0 && mp.DynamicMemoryUsage() > limit {
		lowest, _ := mp.byFeeRate.Min()
		stage := make(TxSet)
		mp.CalculateDescendants(lowest, stage)
		removed += len(stage)

		for desc := range stage {
			for _, txIn := range desc.Tx.MsgTx().TxIn {
				prevHash := &txIn.PreviousOutPoint.Hash
				if !mp.Exists(prevHash) {
					noSpendsRemaining = append(noSpendsRemaining,
						txIn.PreviousOutPoint)
				}
			}
		}
		mp.RemoveStaged(stage, RemovalSizeLimit)
	}

	if removed > 0 {
		log.Debugf("Evicted %d transactions to keep the mempool under "+
			"%d bytes", removed, limit)
	}
	return noSpendsRemaining
}

// LimitSize expires entries older than age and then trims the pool to
// limit bytes of memory.  It returns the outpoints TrimToSize reports.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) LimitSize(limit int64, age time.Duration) []wire.OutPoint {
	expired := mp.Expire(mp.cfg.Clock.Now().Add(-age))
	if expired != 0 {
		log.Debugf("Expired %d transactions from the mempool", expired)
	}
	return mp.TrimToSize(limit)
}

// DynamicMemoryUsage returns the approximate memory used by the pool.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) DynamicMemoryUsage() int64 {
	return mp.cachedInnerUsage +
		int64(len(mp.pool))*txDescOverhead +
		int64(len(mp.outpoints))*outPointOverhead +
		mp.numLinks*2*linkOverhead +
		int64(len(mp.deltas))*(chainhashSize+8)
}

// Fetch returns the entry for the transaction with the passed hash.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) Fetch(hash *chainhash.Hash) (*TxDesc, bool) {
	desc, ok := mp.pool[*hash]
	return desc, ok
}

// Exists returns whether the transaction with the passed hash is in the
// pool.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) Exists(hash *chainhash.Hash) bool {
	_, ok := mp.pool[*hash]
	return ok
}

// IsSpent returns whether a pool transaction spends op.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) IsSpent(op wire.OutPoint) bool {
	_, ok := mp.outpoints[op]
	return ok
}

// ConflictTx returns the pool entry spending op, or nil.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) ConflictTx(op wire.OutPoint) *TxDesc {
	return mp.outpoints[op]
}

// Parents returns the in-pool parents of the entry in pool order.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) Parents(desc *TxDesc) []*TxDesc {
	return desc.parents.sorted()
}

// Children returns the in-pool children of the entry in pool order.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) Children(desc *TxDesc) []*TxDesc {
	return desc.children.sorted()
}

// TxDescs returns every entry in the order they were added.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) TxDescs() []*TxDesc {
	descs := make([]*TxDesc, 0, len(mp.pool))
	mp.byEntryID.Ascend(func(desc *TxDesc) bool {
		descs = append(descs, desc)
		return true
	})
	return descs
}

// Clear removes every entry without notifying subscribers and clears the
// proof storage, keeping orphan proofs unless clearOrphans is set.  Fee
// deltas are kept.
//
// This function MUST be called with the pool lock held.
func (mp *TxMempool) Clear(clearOrphans bool) {
	mp.pool = make(map[chainhash.Hash]*TxDesc)
	mp.outpoints = make(map[wire.OutPoint]*TxDesc)
	mp.byFeeRate.Clear(false)
	mp.byEntryID.Clear(false)
	mp.numLinks = 0
	mp.cachedInnerUsage = 0
	mp.dsproofs.Clear(clearOrphans)

	mp.statsMtx.Lock()
	mp.stats = newPoolStats()
	mp.statsMtx.Unlock()
}
