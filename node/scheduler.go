// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// TickerFunc returns a ticker firing every interval.
type TickerFunc func(interval time.Duration) ticker.Ticker

// defaultTicker returns a real ticker.
func defaultTicker(interval time.Duration) ticker.Ticker {
	return ticker.New(interval)
}

// Scheduler runs jobs periodically, each on its own goroutine.
type Scheduler struct {
	newTicker TickerFunc

	mtx     sync.Mutex
	tickers []ticker.Ticker
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler returns a scheduler creating its tickers with newTicker.
// Real tickers are used when it is nil.
func NewScheduler(newTicker TickerFunc) *Scheduler {
	if newTicker == nil {
		newTicker = defaultTicker
	}
	return &Scheduler{
		newTicker: newTicker,
		quit:      make(chan struct{}),
	}
}

// ScheduleEvery runs fn every interval until the scheduler is stopped or fn
// returns false.  Nothing is scheduled once the scheduler is stopped.
func (s *Scheduler) ScheduleEvery(fn func() bool, interval time.Duration) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.stopped {
		return
	}
	t := s.newTicker(interval)
	s.tickers = append(s.tickers, t)
	t.Resume()

	s.wg.Add(1)
	go s.run(t, fn)
}

// run is the loop of a single job.
//
// This MUST be run as a goroutine.
func (s *Scheduler) run(t ticker.Ticker, fn func() bool) {
	defer s.wg.Done()
	defer t.Pause()

	for {
		select {
		case <-t.Ticks():
			if !fn() {
				return
			}

		case <-s.quit:
			return
		}
	}
}

// Stop stops every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mtx.Lock()
	if s.stopped {
		s.mtx.Unlock()
		return
	}
	s.stopped = true
	close(s.quit)
	s.mtx.Unlock()

	s.wg.Wait()
	for _, t := range s.tickers {
		t.Stop()
	}
}
