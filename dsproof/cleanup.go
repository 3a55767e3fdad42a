// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import "time"

// OrphanExpiredReason is the misbehavior reason reported for peers whose
// orphan proofs expired.
const OrphanExpiredReason = "dsproof-orphan-expired"

// PeriodicCleanup expires orphans that have been kept for longer than the
// retention period and reports the peers that relayed them to the
// Punisher.  It always returns true so a scheduler keeps running it.
//
// The expired orphans are removed with the storage lock held.  The lock is
// released before the network lock is taken to punish the peers, so the
// network lock is never acquired while holding the storage lock.  Another
// goroutine may observe the orphans gone before the peers are punished.
func (s *Storage) PeriodicCleanup() bool {
	now := s.cfg.Clock.Now()

	s.mtx.Lock()
	expire := retentionCutoff(now, s.retention)

	// Every entry ordered before the pivot has a timestamp at or before
	// the expiry time.
	pivot := &entry{timestamp: expire + 1}
	var expired []*entry
	s.byTime.AscendLessThan(pivot, func(e *entry) bool {
		if e.orphan {
			expired = append(expired, e)
		}
		return true
	})

	var punish []int32
	for _, e := range expired {
		if e.peer >= 0 {
			punish = append(punish, e.peer)
		}
		s.erase(e)
	}
	s.decrementOrphans(len(expired))
	remaining := len(s.proofs)
	s.mtx.Unlock()

	if len(expired) > 0 {
		log.Debugf("Expired %d orphan proofs, %d proofs remain",
			len(expired), remaining)
	}

	if len(punish) == 0 || s.cfg.Punisher == nil {
		return true
	}
	if s.cfg.NetLock != nil {
		s.cfg.NetLock.Lock()
		defer s.cfg.NetLock.Unlock()
	}
	for _, peer := range punish {
		s.cfg.Punisher.Misbehave(peer, 1, OrphanExpiredReason)
	}
	return true
}

// retentionCutoff returns the unix time at or before which an orphan
// stamped at that time has expired.
func retentionCutoff(now time.Time, retention time.Duration) int64 {
	return now.Add(-retention).Unix()
}
