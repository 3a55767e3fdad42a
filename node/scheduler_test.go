// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cashnode/cashd/dsproof"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// TestSchedulerStopsJob ensures a job returning false is not run again while
// other jobs keep running.
func TestSchedulerStopsJob(t *testing.T) {
	t.Parallel()

	var forces []*ticker.Force
	s := NewScheduler(func(interval time.Duration) ticker.Ticker {
		f := ticker.NewForce(interval)
		forces = append(forces, f)
		return f
	})
	defer s.Stop()

	var once, forever int32
	s.ScheduleEvery(func() bool {
		atomic.AddInt32(&once, 1)
		return false
	}, time.Hour)
	s.ScheduleEvery(func() bool {
		atomic.AddInt32(&forever, 1)
		return true
	}, time.Hour)
	require.Len(t, forces, 2)

	forces[0].Force <- time.Now()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&once) == 1
	}, time.Second, time.Millisecond)

	select {
	case forces[0].Force <- time.Now():
		t.Fatal("job returning false was run again")
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < 3; i++ {
		forces[1].Force <- time.Now()
	}
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&forever) == 3
	}, time.Second, time.Millisecond)
}

// TestSchedulerStop ensures nothing runs or gets scheduled once the
// scheduler is stopped.
func TestSchedulerStop(t *testing.T) {
	t.Parallel()

	var created int
	s := NewScheduler(func(interval time.Duration) ticker.Ticker {
		created++
		return ticker.NewForce(interval)
	})
	s.ScheduleEvery(func() bool { return true }, time.Hour)
	s.Stop()
	s.Stop()

	s.ScheduleEvery(func() bool { return true }, time.Hour)
	require.Equal(t, 1, created)
}

// TestNodeJobs ensures the jobs started with the node expire orphan proofs
// and trim the pool.
func TestNodeJobs(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, nil)
	ds := newDoubleSpend(t, 0x21)
	n.PeerConnected(5, netip.MustParseAddr("10.0.0.5"))
	require.NoError(t, n.ProcessDoubleSpendProof(ds.proof(t), 5))

	funding := newTx(1, outPoint(coinbaseTx(1), 0))
	n.setChain(funding)
	tx := newTx(2, outPoint(funding, 0))
	n.relayer.On("RelayTransaction", tx).Once()
	_, err := n.ProcessTransaction(tx, 1)
	require.NoError(t, err)

	n.Start()
	n.Start()

	// Jobs are scheduled in order: proof cleanup, ban list, pool limits.
	n.clock.SetTime(testStart.Add(dsproof.DefaultOrphanRetention +
		time.Second))
	n.force(0).Force <- time.Now()
	require.Eventually(t, func() bool {
		return n.score(5) == 1
	}, time.Second, time.Millisecond)
	require.Zero(t, n.DSProofs().Len())

	n.force(1).Force <- time.Now()

	n.clock.SetTime(testStart.Add(DefaultMempoolExpiry + time.Hour))
	n.force(2).Force <- time.Now()
	require.Eventually(t, func() bool {
		return !n.inPool(tx)
	}, time.Second, time.Millisecond)

	require.NoError(t, n.Stop())
	require.NoError(t, n.Stop())
	n.relayer.AssertExpectations(t)
}

// TestNodeJobsWithoutDSProofs ensures the proof cleanup is not scheduled
// when proofs are turned off.
func TestNodeJobsWithoutDSProofs(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, func(cfg *Config) {
		cfg.DisableDSProofs = true
	})
	n.Start()

	// Only the ban list and pool jobs are scheduled.
	n.mtx.Lock()
	require.Len(t, n.forces, 2)
	n.mtx.Unlock()

	funding := newTx(1, outPoint(coinbaseTx(1), 0))
	n.setChain(funding)
	tx := newTx(2, outPoint(funding, 0))
	n.relayer.On("RelayTransaction", tx).Once()
	_, err := n.ProcessTransaction(tx, 1)
	require.NoError(t, err)
	n.clock.SetTime(testStart.Add(DefaultMempoolExpiry + time.Hour))
	n.force(1).Force <- time.Now()
	require.Eventually(t, func() bool {
		return !n.inPool(tx)
	}, time.Second, time.Millisecond)
}
