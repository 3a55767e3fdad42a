// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/cashnode/cashd/banman"
	"github.com/cashnode/cashd/dsproof"
	"github.com/cashnode/cashd/mempool"
	"github.com/cashnode/cashd/peerscore"
	"github.com/decred/dcrd/lru"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultMempoolExpiry is how long a transaction may stay in the
	// pool.
	DefaultMempoolExpiry = mempool.DefaultExpiry

	// DefaultDSProofCleanupInterval is how often expired orphan proofs
	// are removed.
	DefaultDSProofCleanupInterval = time.Minute

	// DefaultBanDumpInterval is how often expired bans are swept and the
	// ban list is written.
	DefaultBanDumpInterval = 15 * time.Minute

	// DefaultMempoolLimitInterval is how often the pool is expired and
	// trimmed to its size limit.
	DefaultMempoolLimitInterval = time.Minute

	// badProofScore and badProofReason are what a peer relaying an invalid
	// proof is punished with.
	badProofScore  = 10
	badProofReason = "bad-dsproof"

	// relayedProofsSize is the number of relayed proof ids remembered.
	relayedProofsSize = 10000
)

// Relayer announces transactions and double spend proofs to peers.
type Relayer interface {
	// RelayTransaction announces a transaction accepted into the pool.
	RelayTransaction(tx *btcutil.Tx)

	// RelayDoubleSpendProof announces a proof attached to a pool
	// transaction.
	RelayDoubleSpendProof(proof *dsproof.DoubleSpendProof)
}

// UtxoFetcher returns a view holding the confirmed unspent outputs among
// outpoints.  Outpoints that are unknown or spent are left out of the view.
type UtxoFetcher func(outpoints []wire.OutPoint) (*blockchain.UtxoViewpoint, error)

// Config houses the collaborators and limits of a Node.
type Config struct {
	// BanMan holds the bans and the discouraged addresses.  It is
	// required.
	BanMan *banman.BanMan

	// FetchUtxos looks up confirmed outputs.  Only pool outputs are known
	// when it is nil.
	FetchUtxos UtxoFetcher

	// BestHeight returns the height of the chain tip.
	BestHeight func() int32

	// Relayer announces accepted transactions and proofs.  It may be nil.
	Relayer Relayer

	// NewBatchUpdater returns what removes the transactions of connected
	// blocks from the pool.  mempool.NewDefaultBatchUpdater is used when
	// it is nil.
	NewBatchUpdater func(mp *mempool.TxMempool) mempool.BatchUpdater

	// BanThreshold is the misbehavior score at which a peer is
	// discouraged.
	BanThreshold uint32

	// MaxTrackedPeers bounds the number of peers scored at once.
	MaxTrackedPeers uint32

	// MaxPoolSize is the memory the pool may use, in bytes.
	MaxPoolSize int64

	// MempoolExpiry is how long a transaction may stay in the pool.
	MempoolExpiry time.Duration

	// MaxDisconnectedSize bounds the memory used by transactions of
	// disconnected blocks during a reorganization.
	MaxDisconnectedSize int64

	// OrphanProofRetention and MaxOrphanProofs bound the orphan proofs.
	OrphanProofRetention time.Duration
	MaxOrphanProofs      int

	// DisableDSProofs turns off creating and processing double spend
	// proofs.
	DisableDSProofs bool

	// Intervals of the periodic jobs.
	DSProofCleanupInterval time.Duration
	BanDumpInterval        time.Duration
	MempoolLimitInterval   time.Duration

	// NewTicker creates the tickers of the periodic jobs.  Real tickers
	// are used when it is nil.
	NewTicker TickerFunc

	// Clock is the time source.  The system clock is used when it is nil.
	Clock clock.Clock
}

// AdmitResult is the decision on a connection from an address.
type AdmitResult int

const (
	// AdmitAccept means the address may connect.
	AdmitAccept AdmitResult = iota

	// AdmitDiscouraged means the address misbehaved recently.  It may
	// only take a slot no other address wants.
	AdmitDiscouraged

	// AdmitRefuse means the address is banned.
	AdmitRefuse
)

// Map of AdmitResult values back to their constant names for pretty
// printing.
var admitResultStrings = map[AdmitResult]string{
	AdmitAccept:      "AdmitAccept",
	AdmitDiscouraged: "AdmitDiscouraged",
	AdmitRefuse:      "AdmitRefuse",
}

// String returns the AdmitResult as a human-readable name.
func (r AdmitResult) String() string {
	if s := admitResultStrings[r]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown AdmitResult (%d)", int(r))
}

// Node routes the events of the network and the chain to the memory pool,
// the proof storage, the peer tracker and the ban manager.
type Node struct {
	started  int32
	shutdown int32

	cfg Config

	// netMtx serializes punishing peers.
	netMtx sync.Mutex

	banMan         *banman.BanMan
	tracker        *peerscore.Tracker
	dsproofs       *dsproof.Storage
	mempool        *mempool.TxMempool
	batchUpdater   mempool.BatchUpdater
	disconnectPool *mempool.DisconnectedTxPool
	relayedProofs  lru.Cache
	scheduler      *Scheduler
}

// New returns a node built from cfg.
func New(cfg *Config) *Node {
	n := &Node{
		cfg:           *cfg,
		banMan:        cfg.BanMan,
		relayedProofs: lru.NewCache(relayedProofsSize),
	}
	if n.cfg.Clock == nil {
		n.cfg.Clock = clock.NewDefaultClock()
	}
	if n.cfg.BestHeight == nil {
		n.cfg.BestHeight = func() int32 { return 0 }
	}
	if n.cfg.MaxPoolSize <= 0 {
		n.cfg.MaxPoolSize = mempool.DefaultMaxPoolSizeMB * 1000000
	}
	if n.cfg.MempoolExpiry <= 0 {
		n.cfg.MempoolExpiry = DefaultMempoolExpiry
	}
	if n.cfg.MaxDisconnectedSize <= 0 {
		n.cfg.MaxDisconnectedSize = mempool.DefaultMaxDisconnectedSize
	}
	if n.cfg.DSProofCleanupInterval <= 0 {
		n.cfg.DSProofCleanupInterval = DefaultDSProofCleanupInterval
	}
	if n.cfg.BanDumpInterval <= 0 {
		n.cfg.BanDumpInterval = DefaultBanDumpInterval
	}
	if n.cfg.MempoolLimitInterval <= 0 {
		n.cfg.MempoolLimitInterval = DefaultMempoolLimitInterval
	}

	n.tracker = peerscore.New(&peerscore.Config{
		Discourager:  n.banMan,
		BanThreshold: n.cfg.BanThreshold,
		MaxPeers:     n.cfg.MaxTrackedPeers,
		Clock:        n.cfg.Clock,
	})
	n.dsproofs = dsproof.NewStorage(&dsproof.Config{
		Punisher:        n.tracker,
		NetLock:         &n.netMtx,
		Clock:           n.cfg.Clock,
		OrphanRetention: n.cfg.OrphanProofRetention,
		MaxOrphans:      n.cfg.MaxOrphanProofs,
	})
	n.mempool = mempool.New(&mempool.Config{
		DSProofs: n.dsproofs,
		Clock:    n.cfg.Clock,
	})
	if n.cfg.NewBatchUpdater != nil {
		n.batchUpdater = n.cfg.NewBatchUpdater(n.mempool)
	} else {
		n.batchUpdater = mempool.NewDefaultBatchUpdater(n.mempool)
	}
	n.disconnectPool = mempool.NewDisconnectedTxPool(n.mempool,
		n.cfg.MaxDisconnectedSize)
	n.scheduler = NewScheduler(n.cfg.NewTicker)
	return n
}

// BanMan returns the ban manager of the node.
func (n *Node) BanMan() *banman.BanMan {
	return n.banMan
}

// Tracker returns the peer misbehavior tracker of the node.
func (n *Node) Tracker() *peerscore.Tracker {
	return n.tracker
}

// DSProofs returns the double spend proof storage of the node.
func (n *Node) DSProofs() *dsproof.Storage {
	return n.dsproofs
}

// Mempool returns the memory pool of the node.  Its lock must be held
// while using it.
func (n *Node) Mempool() *mempool.TxMempool {
	return n.mempool
}

// AdmitPeer decides whether a connection from addr is accepted.  Bans take
// precedence over discouragement.
func (n *Node) AdmitPeer(addr netip.Addr) AdmitResult {
	if n.banMan.IsBanned(addr) {
		return AdmitRefuse
	}
	if n.banMan.IsDiscouraged(addr) {
		return AdmitDiscouraged
	}
	return AdmitAccept
}

// PeerConnected starts scoring the peer with the passed id connected from
// addr.
func (n *Node) PeerConnected(peer int32, addr netip.Addr) {
	n.tracker.Register(peer, addr)
}

// PeerDisconnected stops scoring the peer with the passed id.
func (n *Node) PeerDisconnected(peer int32) {
	n.tracker.Forget(peer)
}

// Misbehave adds howMuch to the misbehavior score of the peer.  Negative
// peer ids stand for local sources and are never punished.
func (n *Node) Misbehave(peer int32, howMuch uint32, reason string) {
	if peer < 0 {
		return
	}

	n.netMtx.Lock()
	n.tracker.Misbehave(peer, howMuch, reason)
	n.netMtx.Unlock()
}

// ShouldDisconnect returns whether the peer reached the ban threshold.
func (n *Node) ShouldDisconnect(peer int32) bool {
	return n.tracker.ShouldDisconnect(peer)
}

// fetchUtxos returns the confirmed outputs among outpoints.
func (n *Node) fetchUtxos(outpoints []wire.OutPoint) (*blockchain.UtxoViewpoint, error) {
	if n.cfg.FetchUtxos == nil {
		return blockchain.NewUtxoViewpoint(), nil
	}
	view, err := n.cfg.FetchUtxos(outpoints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchUtxos, err)
	}
	return view, nil
}

// fetchInputUtxos returns the confirmed outputs spent by tx.
func (n *Node) fetchInputUtxos(tx *btcutil.Tx) (*blockchain.UtxoViewpoint, error) {
	txIns := tx.MsgTx().TxIn
	outpoints := make([]wire.OutPoint, 0, len(txIns))
	for _, txIn := range txIns {
		outpoints = append(outpoints, txIn.PreviousOutPoint)
	}
	return n.fetchUtxos(outpoints)
}

// relayProof announces proof unless it was announced before.
func (n *Node) relayProof(proof *dsproof.DoubleSpendProof) {
	id := proof.ID()
	if n.relayedProofs.Contains(id) {
		return
	}
	n.relayedProofs.Add(id)

	if n.cfg.Relayer != nil {
		log.Debugf("Relaying double spend proof %v", id)
		n.cfg.Relayer.RelayDoubleSpendProof(proof)
	}
}

// ProcessTransaction tries to accept tx, relayed by peer, into the pool.
// A transaction double spending a pool transaction is rejected with
// mempool.ErrDoubleSpend, but a proof of the double spend is attached to
// the pool transaction and relayed.  Orphan proofs for the outputs an
// accepted transaction spends are claimed.
func (n *Node) ProcessTransaction(tx *btcutil.Tx, peer int32) (*mempool.TxDesc, error) {
	view, err := n.fetchInputUtxos(tx)
	if err != nil {
		return nil, err
	}
	height := n.cfg.BestHeight()

	var proofs []*dsproof.DoubleSpendProof
	var punish []int32
	n.mempool.Lock()
	desc, err := n.mempool.MaybeAcceptTransaction(tx, view, height,
		time.Time{})
	switch {
	case err == nil:
		proofs, punish = n.claimOrphanProofs(tx, view)

	case errors.Is(err, mempool.ErrDoubleSpend) && !n.cfg.DisableDSProofs:
		if proof := n.createProof(tx, view, peer); proof != nil {
			proofs = append(proofs, proof)
		}
	}
	n.mempool.Unlock()

	for _, p := range punish {
		n.Misbehave(p, badProofScore, badProofReason)
	}
	if err != nil {
		log.Debugf("Rejected transaction %v from peer %d: %v", tx.Hash(),
			peer, err)
	} else if n.cfg.Relayer != nil {
		n.cfg.Relayer.RelayTransaction(tx)
	}
	for _, proof := range proofs {
		n.relayProof(proof)
	}
	return desc, err
}

// createProof builds a proof that tx double spends a pool transaction and
// attaches it to that transaction.  Only pool transactions without a proof
// are considered.  It returns nil when no proof could be built.
//
// This function MUST be called with the pool lock held.
func (n *Node) createProof(tx *btcutil.Tx, view *blockchain.UtxoViewpoint,
	peer int32) *dsproof.DoubleSpendProof {

	coins := n.mempool.CoinView(view)
	for _, txIn := range tx.MsgTx().TxIn {
		op := txIn.PreviousOutPoint
		conflict := n.mempool.ConflictTx(op)
		if conflict == nil || conflict.DspID != nil {
			continue
		}
		entry := coins.LookupEntry(op)
		if entry == nil {
			continue
		}
		prevOut := wire.NewTxOut(entry.Amount(), entry.PkScript())

		proof, err := dsproof.Create(conflict.Tx.MsgTx(), tx.MsgTx(), op,
			prevOut)
		if err != nil {
			log.Debugf("Unable to create double spend proof for %v "+
				"and %v: %v", conflict.Tx.Hash(), tx.Hash(), err)
			continue
		}
		if n.mempool.AddDoubleSpendProof(proof, peer) == nil {
			continue
		}
		return proof
	}
	return nil
}

// claimOrphanProofs attaches the valid orphan proofs for the outputs tx
// spends to tx and returns them along with the peers that relayed invalid
// ones.  Invalid orphans are rejected and valid ones tx already has a
// proof for are dropped.
//
// This function MUST be called with the pool lock held.
func (n *Node) claimOrphanProofs(tx *btcutil.Tx,
	view *blockchain.UtxoViewpoint) ([]*dsproof.DoubleSpendProof, []int32) {

	if n.cfg.DisableDSProofs {
		return nil, nil
	}

	var claimed []*dsproof.DoubleSpendProof
	var punish []int32
	coins := n.mempool.CoinView(view)
	for _, txIn := range tx.MsgTx().TxIn {
		for _, ref := range n.dsproofs.FindOrphans(txIn.PreviousOutPoint) {
			proof, ok := n.dsproofs.Get(ref.ID)
			if !ok {
				continue
			}

			switch n.mempool.ValidateDoubleSpendProof(proof, coins) {
			case dsproof.ValidityValid:
				if n.mempool.AddDoubleSpendProof(proof, ref.Peer) == nil {
					n.dsproofs.Remove(ref.ID)
					continue
				}
				log.Debugf("Claimed orphan double spend proof %v "+
					"for transaction %v", ref.ID, tx.Hash())
				claimed = append(claimed, proof)

			case dsproof.ValidityInvalid:
				n.dsproofs.Remove(ref.ID)
				n.dsproofs.MarkRejected(ref.ID)
				punish = append(punish, ref.Peer)
			}
		}
	}
	return claimed, punish
}

// ProcessDoubleSpendProof handles a proof relayed by peer.  Known and
// recently rejected proofs are ignored.  A valid proof is attached to the
// pool transaction spending its output and relayed.  A proof whose output
// or spender is unknown is kept as an orphan.  A malformed or invalid proof
// is rejected, its peer is punished and an error wrapping ErrBadProof is
// returned.
func (n *Node) ProcessDoubleSpendProof(proof *dsproof.DoubleSpendProof,
	peer int32) error {

	if n.cfg.DisableDSProofs {
		return nil
	}

	id := proof.ID()
	if n.dsproofs.IsRecentlyRejected(id) || n.dsproofs.Exists(id) {
		log.Tracef("Ignoring known double spend proof %v from peer %d",
			id, peer)
		return nil
	}
	if err := proof.CheckSanity(); err != nil {
		n.dsproofs.MarkRejected(id)
		n.Misbehave(peer, badProofScore, badProofReason)
		return fmt.Errorf("%w: proof %v from peer %d: %v", ErrBadProof,
			id, peer, err)
	}

	view, err := n.fetchUtxos([]wire.OutPoint{proof.OutPoint})
	if err != nil {
		return err
	}

	var spender *btcutil.Tx
	n.mempool.Lock()
	validity := n.mempool.ValidateDoubleSpendProof(proof,
		n.mempool.CoinView(view))
	switch validity {
	case dsproof.ValidityValid:
		spender = n.mempool.AddDoubleSpendProof(proof, dsproof.NoPeer)

	case dsproof.ValidityMissingUTXO, dsproof.ValidityMissingTransaction:
		if n.dsproofs.AddOrphan(proof, peer, true) {
			log.Debugf("Stored orphan double spend proof %v from "+
				"peer %d (%v)", id, peer, validity)
		}

	default:
		n.dsproofs.MarkRejected(id)
	}
	n.mempool.Unlock()

	switch {
	case validity == dsproof.ValidityInvalid:
		n.Misbehave(peer, badProofScore, badProofReason)
		return fmt.Errorf("%w: proof %v from peer %d does not verify",
			ErrBadProof, id, peer)

	case spender != nil:
		n.relayProof(proof)
	}
	return nil
}

// ConnectBlock removes the transactions of the block connected at height,
// and whatever conflicts with them, from the pool.
func (n *Node) ConnectBlock(txns []*btcutil.Tx, height int32) {
	n.mempool.Lock()
	n.connectBlock(txns, height)
	n.mempool.Unlock()

	n.dsproofs.NewBlockFound()
}

// connectBlock implements ConnectBlock.
//
// This function MUST be called with the pool lock held.
func (n *Node) connectBlock(txns []*btcutil.Tx, height int32) {
	if n.disconnectPool.Len() > 0 {
		n.disconnectPool.RemoveForBlock(txns)
	}
	n.batchUpdater.RemoveForBlock(txns, height)
}

// DisconnectBlock puts the transactions of the disconnected tip block back
// into the pool.  height is the height the block had.
func (n *Node) DisconnectBlock(txns []*btcutil.Tx, height int32) {
	n.Reorganize([][]*btcutil.Tx{txns}, nil, height-1)
}

// Reorganize updates the pool for a switch to another chain.  detached
// holds the transactions of the disconnected blocks, tip first, and
// attached those of the connected blocks in chain order.  forkHeight is the
// height of the last block both chains share.
//
// The transactions of the detached blocks and the former pool are added
// back, parents first, unless they were mined again or are no longer valid,
// in which case their pool descendants go too.
func (n *Node) Reorganize(detached, attached [][]*btcutil.Tx, forkHeight int32) {
	n.mempool.Lock()
	for _, txns := range detached {
		n.disconnectPool.AddForBlock(txns)
	}
	n.disconnectPool.ImportMempool()
	for i, txns := range attached {
		n.connectBlock(txns, forkHeight+1+int32(i))
	}
	proofs, punish := n.updateMempoolForReorg()
	n.mempool.Unlock()

	if len(attached) > 0 {
		n.dsproofs.NewBlockFound()
	}
	for _, p := range punish {
		n.Misbehave(p, badProofScore, badProofReason)
	}
	for _, proof := range proofs {
		n.relayProof(proof)
	}
}

// updateMempoolForReorg adds the queued transactions back to the pool and
// trims it.  It returns the orphan proofs claimed by the readded
// transactions and the peers to punish for invalid ones.
//
// This function MUST be called with the pool lock held.
func (n *Node) updateMempoolForReorg() ([]*dsproof.DoubleSpendProof, []int32) {
	height := n.cfg.BestHeight()

	var proofs []*dsproof.DoubleSpendProof
	var punish []int32
	var readded, dropped int
	for _, tx := range n.disconnectPool.Txns() {
		info, _ := n.disconnectPool.TxInfo(tx.Hash())
		view, err := n.fetchInputUtxos(tx)
		if err == nil {
			_, err = n.mempool.MaybeAcceptTransaction(tx, view, height,
				info.Time)
		}
		if err != nil {
			log.Tracef("Dropping transaction %v after "+
				"reorganization: %v", tx.Hash(), err)
			n.mempool.RemoveRecursive(tx, mempool.RemovalReorg)
			dropped++
			continue
		}
		readded++

		claimed, bad := n.claimOrphanProofs(tx, view)
		proofs = append(proofs, claimed...)
		punish = append(punish, bad...)
	}
	n.disconnectPool.Clear()
	n.mempool.LimitSize(n.cfg.MaxPoolSize, n.cfg.MempoolExpiry)

	log.Infof("Readded %d transactions to the mempool after "+
		"reorganization, dropped %d", readded, dropped)
	return proofs, punish
}

// limitMempool expires old transactions and trims the pool to its size
// limit.
func (n *Node) limitMempool() bool {
	n.mempool.Lock()
	n.mempool.LimitSize(n.cfg.MaxPoolSize, n.cfg.MempoolExpiry)
	n.mempool.Unlock()
	return true
}

// dumpBanlist sweeps expired bans and writes the ban list.
func (n *Node) dumpBanlist() bool {
	if err := n.banMan.DumpBanlist(); err != nil {
		log.Errorf("Unable to write ban list: %v", err)
	}
	return true
}

// Start begins running the periodic jobs of the node.
func (n *Node) Start() {
	// Already started?
	if atomic.AddInt32(&n.started, 1) != 1 {
		return
	}

	log.Trace("Starting node")

	if !n.cfg.DisableDSProofs {
		n.scheduler.ScheduleEvery(n.dsproofs.PeriodicCleanup,
			n.cfg.DSProofCleanupInterval)
	}
	n.scheduler.ScheduleEvery(n.dumpBanlist, n.cfg.BanDumpInterval)
	n.scheduler.ScheduleEvery(n.limitMempool, n.cfg.MempoolLimitInterval)
}

// Stop stops the periodic jobs and writes the ban list a last time.
func (n *Node) Stop() error {
	// Make sure this only happens once.
	if atomic.AddInt32(&n.shutdown, 1) != 1 {
		log.Infof("Node is already in the process of shutting down")
		return nil
	}

	log.Infof("Node shutting down")
	n.scheduler.Stop()
	return n.banMan.DumpBanlist()
}
