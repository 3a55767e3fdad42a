// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peerscore

import (
	"net/netip"
	"sync"

	"github.com/cashnode/cashd/dsproof"
	"github.com/decred/dcrd/container/lru"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultBanThreshold is the score at which a peer is discouraged.
	DefaultBanThreshold = 100

	// DefaultMaxPeers is the number of peers tracked at once.  The least
	// recently scored peer is forgotten beyond it.
	DefaultMaxPeers = 1024
)

// Discourager is told about addresses of peers whose score reached the ban
// threshold.  banman.BanMan satisfies it.
type Discourager interface {
	Discourage(addr netip.Addr)
}

// Config houses the collaborators and limits of a Tracker.
type Config struct {
	// Discourager is told about peers reaching the threshold.  It may be
	// nil.
	Discourager Discourager

	// BanThreshold is the score at which a peer is discouraged.
	// DefaultBanThreshold is used when it is zero.
	BanThreshold uint32

	// MaxPeers is the number of peers tracked at once.  DefaultMaxPeers
	// is used when it is zero.
	MaxPeers uint32

	// Clock is the time source.  The system clock is used when it is nil.
	Clock clock.Clock
}

// peerState is what the tracker knows about a peer.
type peerState struct {
	addr        netip.Addr
	score       dynamicBanScore
	discouraged bool
}

// Tracker keeps the misbehavior scores of connected peers and discourages
// the address of a peer whose score reaches the ban threshold.  It is safe
// for concurrent access.
type Tracker struct {
	cfg Config

	mtx   sync.Mutex
	peers *lru.Map[int32, *peerState]
}

// Ensure Tracker can punish the peers behind expired orphan proofs.
var _ dsproof.Punisher = (*Tracker)(nil)

// New returns a tracker with no registered peers.
func New(cfg *Config) *Tracker {
	t := &Tracker{cfg: *cfg}
	if t.cfg.BanThreshold == 0 {
		t.cfg.BanThreshold = DefaultBanThreshold
	}
	if t.cfg.MaxPeers == 0 {
		t.cfg.MaxPeers = DefaultMaxPeers
	}
	if t.cfg.Clock == nil {
		t.cfg.Clock = clock.NewDefaultClock()
	}
	t.peers = lru.NewMap[int32, *peerState](t.cfg.MaxPeers)
	return t
}

// Register starts tracking the peer with the passed id connected from addr.
// A peer registered again starts over with a zero score.
func (t *Tracker) Register(peer int32, addr netip.Addr) {
	t.mtx.Lock()
	t.peers.Put(peer, &peerState{addr: addr})
	t.mtx.Unlock()
}

// Forget stops tracking the peer with the passed id.
func (t *Tracker) Forget(peer int32) {
	t.mtx.Lock()
	t.peers.Delete(peer)
	t.mtx.Unlock()
}

// Misbehave adds howMuch to the persistent score of the peer.  It
// implements dsproof.Punisher.
func (t *Tracker) Misbehave(peer int32, howMuch uint32, reason string) {
	t.AddBanScore(peer, howMuch, 0, reason)
}

// AddBanScore increases the persistent and the decaying score of the peer
// and returns whether the peer got discouraged.  The address of a peer
// reaching the threshold is discouraged once.  Unknown peers are ignored.
func (t *Tracker) AddBanScore(peer int32, persistent, transient uint32,
	reason string) bool {

	// No warning is logged and no score is calculated if the score
	// doesn't change.
	if persistent == 0 && transient == 0 {
		return false
	}

	t.mtx.Lock()
	state, ok := t.peers.Get(peer)
	if !ok {
		t.mtx.Unlock()
		log.Debugf("Misbehaving peer %d is not tracked (%s)", peer,
			reason)
		return false
	}

	now := t.cfg.Clock.Now()
	score := state.score.increase(persistent, transient, now)
	log.Tracef("Peer %d ban score: %s", peer, state.score.format(now))
	warnThreshold := t.cfg.BanThreshold / 2
	if score > warnThreshold {
		log.Warnf("Misbehaving peer %d (%v): %s -- ban score "+
			"increased to %d", peer, state.addr, reason, score)
	}
	if score < t.cfg.BanThreshold || state.discouraged {
		t.mtx.Unlock()
		return false
	}
	state.discouraged = true
	addr := state.addr
	t.mtx.Unlock()

	log.Warnf("Misbehaving peer %d (%v) reached ban score %d -- "+
		"discouraging", peer, addr, score)
	if t.cfg.Discourager != nil && addr.IsValid() {
		t.cfg.Discourager.Discourage(addr)
	}
	return true
}

// Score returns the current score of the peer and whether it is tracked.
func (t *Tracker) Score(peer int32) (uint32, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	state, ok := t.peers.Peek(peer)
	if !ok {
		return 0, false
	}
	return state.score.int(t.cfg.Clock.Now()), true
}

// ShouldDisconnect returns whether the peer reached the ban threshold and
// should be disconnected.
func (t *Tracker) ShouldDisconnect(peer int32) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	state, ok := t.peers.Peek(peer)
	return ok && state.discouraged
}

// ResetScore sets the score of the peer back to zero.  A peer that was
// discouraged stays discouraged.
func (t *Tracker) ResetScore(peer int32) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if state, ok := t.peers.Peek(peer); ok {
		state.score.reset()
	}
}

// Len returns the number of tracked peers.
func (t *Tracker) Len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return int(t.peers.Len())
}
