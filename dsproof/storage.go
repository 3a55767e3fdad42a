// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/container/apbf"
	"github.com/google/btree"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultOrphanRetention is how long an orphan proof is kept before
	// it expires.
	DefaultOrphanRetention = 90 * time.Second

	// DefaultMaxOrphans is the default number of orphan proofs kept.
	// Up to a quarter more may be held before the oldest are reaped.
	DefaultMaxOrphans = 65535

	// NoPeer is the peer id of proofs that did not come from a peer.
	NoPeer int32 = -1

	// recentRejectsSize and recentRejectsFPRate size the filter of
	// recently rejected proof ids.
	recentRejectsSize   = 120000
	recentRejectsFPRate = 0.000001

	// btreeDegree is the degree of the timestamp index.
	btreeDegree = 32
)

// Punisher is told about peers that relayed proofs which expired as
// orphans.
type Punisher interface {
	Misbehave(peer int32, howMuch uint32, reason string)
}

// Config houses the collaborators and limits of a Storage.
type Config struct {
	// Punisher is notified of peers whose orphan proofs expired.  It may
	// be nil.
	Punisher Punisher

	// NetLock is held while calling Punisher.  It is never acquired while
	// the storage lock is held.  It may be nil.
	NetLock sync.Locker

	// Clock is the time source.  The system clock is used when it is nil.
	Clock clock.Clock

	// OrphanRetention is how long orphans are kept.
	// DefaultOrphanRetention is used when it is zero.
	OrphanRetention time.Duration

	// MaxOrphans is the number of orphans kept.  DefaultMaxOrphans is
	// used when it is zero.
	MaxOrphans int
}

// entry is a stored proof.  The same pointer is referenced from every index.
type entry struct {
	id    ID
	proof *DoubleSpendProof

	// peer is the peer that relayed the proof, or NoPeer.
	peer int32

	orphan bool

	// timestamp is the unix time the proof last became an orphan, or -1
	// if it never was one.
	timestamp int64
}

// entryLess orders the timestamp index by timestamp, then by id.
func entryLess(a, b *entry) bool {
	if a.timestamp != b.timestamp {
		return a.timestamp < b.timestamp
	}
	return bytes.Compare(a.id[:], b.id[:]) < 0
}

// OrphanRef identifies an orphan proof and the peer that relayed it.
type OrphanRef struct {
	ID   ID
	Peer int32
}

// StoredProof is a proof as returned by Storage.All.
type StoredProof struct {
	Proof  *DoubleSpendProof
	Orphan bool
}

// Storage holds double spend proofs indexed by id, by outpoint and by the
// time they were orphaned.  It is safe for concurrent access.
//
// Proofs handed to the storage must not be modified afterwards.
type Storage struct {
	cfg Config

	mtx           sync.Mutex
	proofs        map[ID]*entry
	byOutPoint    map[wire.OutPoint]map[ID]*entry
	byTime        *btree.BTreeG[*entry]
	recentRejects *apbf.Filter
	retention     time.Duration
	maxOrphans    int
	numOrphans    int
}

// NewStorage returns an empty proof storage.
func NewStorage(cfg *Config) *Storage {
	s := &Storage{
		cfg:        *cfg,
		proofs:     make(map[ID]*entry),
		byOutPoint: make(map[wire.OutPoint]map[ID]*entry),
		byTime:     btree.NewG(btreeDegree, entryLess),
		recentRejects: apbf.NewFilter(recentRejectsSize,
			recentRejectsFPRate),
		retention:  cfg.OrphanRetention,
		maxOrphans: cfg.MaxOrphans,
	}
	if s.cfg.Clock == nil {
		s.cfg.Clock = clock.NewDefaultClock()
	}
	if s.retention <= 0 {
		s.retention = DefaultOrphanRetention
	}
	if s.maxOrphans <= 0 {
		s.maxOrphans = DefaultMaxOrphans
	}
	return s
}

// insert adds a new entry to every index.
//
// This function MUST be called with the storage lock held.
func (s *Storage) insert(e *entry) {
	s.proofs[e.id] = e
	bucket := s.byOutPoint[e.proof.OutPoint]
	if bucket == nil {
		bucket = make(map[ID]*entry)
		s.byOutPoint[e.proof.OutPoint] = bucket
	}
	bucket[e.id] = e
	s.byTime.ReplaceOrInsert(e)
}

// erase removes an entry from every index.  The orphan counter is not
// touched.
//
// This function MUST be called with the storage lock held.
func (s *Storage) erase(e *entry) {
	delete(s.proofs, e.id)
	bucket := s.byOutPoint[e.proof.OutPoint]
	delete(bucket, e.id)
	if len(bucket) == 0 {
		delete(s.byOutPoint, e.proof.OutPoint)
	}
	if _, ok := s.byTime.Delete(e); !ok {
		panic(fmt.Sprintf("proof %v missing from the timestamp index",
			e.id))
	}
}

// setTimestamp changes the timestamp of an entry, keeping the timestamp
// index ordered.
//
// This function MUST be called with the storage lock held.
func (s *Storage) setTimestamp(e *entry, timestamp int64) {
	if e.timestamp == timestamp {
		return
	}
	if _, ok := s.byTime.Delete(e); !ok {
		panic(fmt.Sprintf("proof %v missing from the timestamp index",
			e.id))
	}
	e.timestamp = timestamp
	s.byTime.ReplaceOrInsert(e)
}

// decrementOrphans lowers the orphan counter.  The counter going negative
// means the indices are corrupt.
//
// This function MUST be called with the storage lock held.
func (s *Storage) decrementOrphans(n int) {
	if n > s.numOrphans {
		panic(fmt.Sprintf("orphan proof counter underflow: %d - %d",
			s.numOrphans, n))
	}
	s.numOrphans -= n
}

// incrementOrphans raises the orphan counter and reaps old orphans when
// the limit is exceeded, sparing the entry with id keep.
//
// This function MUST be called with the storage lock held.
func (s *Storage) incrementOrphans(n int, keep *ID) {
	if n == 0 {
		return
	}
	s.numOrphans += n
	s.checkOrphanLimit(keep)
}

// checkOrphanLimit reaps the oldest orphans, other than keep, once the
// orphan count goes more than a quarter above the limit.  Orphans are reaped
// down to the limit.
//
// This function MUST be called with the storage lock held.
func (s *Storage) checkOrphanLimit(keep *ID) {
	highWater := s.maxOrphans + s.maxOrphans/4
	if s.numOrphans <= highWater {
		return
	}

	var reap []*entry
	excess := s.numOrphans - s.maxOrphans
	s.byTime.Ascend(func(e *entry) bool {
		if len(reap) == excess {
			return false
		}
		if e.orphan && (keep == nil || e.id != *keep) {
			reap = append(reap, e)
		}
		return true
	})
	for _, e := range reap {
		s.erase(e)
	}
	s.decrementOrphans(len(reap))

	log.Debugf("Reaped %d orphan proofs, orphan count now %d (low %d, "+
		"high %d)", len(reap), s.numOrphans, s.maxOrphans, highWater)
}

// Add stores a proof and returns its id along with whether it was new.
// peer is recorded as the origin of a new proof.
//
// Adding a proof that is stored as an orphan makes it a regular proof again
// and forgets its origin peer, since the proof was accepted.
func (s *Storage) Add(proof *DoubleSpendProof, peer int32) (ID, bool) {
	if proof.IsEmpty() {
		panic("adding an empty double spend proof")
	}
	id := proof.ID()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	return id, s.add(id, proof, peer)
}

// add implements Add.
//
// This function MUST be called with the storage lock held.
func (s *Storage) add(id ID, proof *DoubleSpendProof, peer int32) bool {
	if e, ok := s.proofs[id]; ok {
		if e.orphan {
			s.decrementOrphans(1)
			e.orphan = false
			e.peer = NoPeer
		}
		return false
	}

	s.insert(&entry{
		id:        id,
		proof:     proof,
		peer:      peer,
		timestamp: -1,
	})
	return true
}

// AddOrphan stores a proof as an orphan relayed by peer.  An existing proof
// is recategorized as an orphan unless onlyIfNotExists is set, in which case
// nothing is changed and false is returned.
func (s *Storage) AddOrphan(proof *DoubleSpendProof, peer int32,
	onlyIfNotExists bool) bool {

	if proof.IsEmpty() {
		panic("adding an empty double spend proof")
	}
	id := proof.ID()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.proofs[id]; ok && onlyIfNotExists {
		return false
	}
	s.add(id, proof, NoPeer)
	e := s.proofs[id]
	if e.peer < 0 && peer >= 0 {
		e.peer = peer
	}
	if e.timestamp < 0 {
		s.setTimestamp(e, s.cfg.Clock.Now().Unix())
	}
	if !e.orphan {
		e.orphan = true
		s.incrementOrphans(1, &id)
	}
	return true
}

// Get returns the proof with the passed id.
func (s *Storage) Get(id ID) (*DoubleSpendProof, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if e, ok := s.proofs[id]; ok {
		return e.proof, true
	}
	return nil, false
}

// Exists returns whether a proof with the passed id is stored.
func (s *Storage) Exists(id ID) bool {
	s.mtx.Lock()
	_, ok := s.proofs[id]
	s.mtx.Unlock()
	return ok
}

// FindByOutpoint returns the ids of every stored proof, orphan or not, that
// covers op.
func (s *Storage) FindByOutpoint(op wire.OutPoint) []ID {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	bucket := s.byOutPoint[op]
	ids := make([]ID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids
}

// FindOrphans returns the orphan proofs that cover op.
func (s *Storage) FindOrphans(op wire.OutPoint) []OrphanRef {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var refs []OrphanRef
	for _, e := range s.byOutPoint[op] {
		if e.orphan {
			refs = append(refs, OrphanRef{ID: e.id, Peer: e.peer})
		}
	}
	return refs
}

// All returns every stored proof, leaving out orphans unless includeOrphans
// is set.
func (s *Storage) All(includeOrphans bool) []StoredProof {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	proofs := make([]StoredProof, 0, len(s.proofs))
	for _, e := range s.proofs {
		if e.orphan && !includeOrphans {
			continue
		}
		proofs = append(proofs, StoredProof{Proof: e.proof, Orphan: e.orphan})
	}
	return proofs
}

// MarkOrphanStatus makes the proof with the passed id an orphan, or a
// regular proof when orphan is false.
func (s *Storage) MarkOrphanStatus(id ID, orphan bool) {
	if orphan {
		s.OrphanExisting(id)
		return
	}
	s.ClaimOrphan(id)
}

// ClaimOrphan makes an orphan a regular proof that no longer expires.
func (s *Storage) ClaimOrphan(id ID) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if e, ok := s.proofs[id]; ok && e.orphan {
		s.decrementOrphans(1)
		e.orphan = false
	}
}

// OrphanExisting puts a regular proof back into the orphan pool, for
// instance because its spending transaction left the mempool.  The orphan
// expires after the retention period unless it is claimed again, and its
// origin peer, if any, is punished then.  Unknown ids and existing orphans
// are ignored.
func (s *Storage) OrphanExisting(id ID) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	e, ok := s.proofs[id]
	if !ok || e.orphan {
		return
	}
	e.orphan = true
	s.setTimestamp(e, s.cfg.Clock.Now().Unix())
	s.incrementOrphans(1, &id)
}

// OrphanAll makes every stored proof an orphan.
func (s *Storage) OrphanAll() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	now := s.cfg.Clock.Now().Unix()
	var changed []*entry
	for _, e := range s.proofs {
		if !e.orphan {
			changed = append(changed, e)
		}
	}
	for _, e := range changed {
		e.orphan = true
		s.setTimestamp(e, now)
	}
	s.incrementOrphans(len(changed), nil)
}

// Remove deletes the proof with the passed id and returns whether it
// existed.
func (s *Storage) Remove(id ID) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	e, ok := s.proofs[id]
	if !ok {
		return false
	}
	s.erase(e)
	if e.orphan {
		s.decrementOrphans(1)
	}
	return true
}

// Clear removes every proof, or only the regular proofs when clearOrphans
// is false, and forgets recently rejected proofs.
func (s *Storage) Clear(clearOrphans bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.recentRejects.Reset()
	if clearOrphans {
		s.proofs = make(map[ID]*entry)
		s.byOutPoint = make(map[wire.OutPoint]map[ID]*entry)
		s.byTime.Clear(false)
		s.numOrphans = 0
		return
	}

	var regular []*entry
	for _, e := range s.proofs {
		if !e.orphan {
			regular = append(regular, e)
		}
	}
	for _, e := range regular {
		s.erase(e)
	}
}

// Len returns the number of stored proofs, orphans included.
func (s *Storage) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.proofs)
}

// NumOrphans returns the number of stored orphan proofs.
func (s *Storage) NumOrphans() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.numOrphans
}

// OrphanRetention returns how long orphans are kept.
func (s *Storage) OrphanRetention() time.Duration {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.retention
}

// SetOrphanRetention changes how long orphans are kept.  Negative values
// are ignored.
func (s *Storage) SetOrphanRetention(retention time.Duration) {
	if retention < 0 {
		return
	}
	s.mtx.Lock()
	s.retention = retention
	s.mtx.Unlock()
}

// MaxOrphans returns the orphan limit.
func (s *Storage) MaxOrphans() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.maxOrphans
}

// SetMaxOrphans changes the orphan limit.  The new limit is enforced the
// next time an orphan is added.
func (s *Storage) SetMaxOrphans(max int) {
	if max < 0 {
		return
	}
	s.mtx.Lock()
	s.maxOrphans = max
	s.mtx.Unlock()
}

// IsRecentlyRejected returns whether the proof with the passed id was
// rejected since the last block.
func (s *Storage) IsRecentlyRejected(id ID) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.recentRejects.Contains(id[:])
}

// MarkRejected remembers the proof with the passed id as rejected.
func (s *Storage) MarkRejected(id ID) {
	s.mtx.Lock()
	s.recentRejects.Add(id[:])
	s.mtx.Unlock()
}

// NewBlockFound forgets recently rejected proofs, since a new block may
// make them valid.
func (s *Storage) NewBlockFound() {
	s.mtx.Lock()
	s.recentRejects.Reset()
	s.mtx.Unlock()
}
