// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peerscore

import (
	"fmt"
	"math"
	"time"
)

const (
	// Halflife defines the time (in seconds) by which the transient part
	// of the ban score decays to one half of its original value.
	Halflife = 60

	lambda = math.Ln2 / Halflife

	// Lifetime defines the maximum age of the transient part of the ban
	// score to be considered a non-zero score (in seconds).
	Lifetime = 1800
)

// dynamicBanScore is a misbehavior score made of a persistent part and a
// transient part that decays exponentially.  Misbehaving once in a while is
// forgiven through the transient part while repeated misbehavior piles up
// in the persistent part.
//
// The zero value is ready for use.  It is not safe for concurrent access;
// the Tracker serializes access to it.
type dynamicBanScore struct {
	lastUnix   int64
	transient  float64
	persistent uint32
}

// format returns the ban score as of now as a human-readable string.
func (s *dynamicBanScore) format(now time.Time) string {
	return fmt.Sprintf("persistent %v + transient %v at %v = %v as of %v",
		s.persistent, s.transient, s.lastUnix, s.int(now), now.Unix())
}

// reset sets both the persistent and decaying scores to zero.
func (s *dynamicBanScore) reset() {
	*s = dynamicBanScore{}
}

// int returns the sum of the persistent and decayed transient scores at the
// passed time.
func (s *dynamicBanScore) int(t time.Time) uint32 {
	dt := t.Unix() - s.lastUnix
	if s.transient < 1 || dt < 0 || Lifetime < dt {
		return s.persistent
	}
	return s.persistent + uint32(s.transient*math.Exp(-1.0*float64(dt)*lambda))
}

// increase adds to the persistent and transient scores as of the passed
// time and returns the resulting score.
func (s *dynamicBanScore) increase(persistent, transient uint32,
	t time.Time) uint32 {

	s.persistent += persistent
	tu := t.Unix()
	dt := tu - s.lastUnix

	if transient > 0 {
		if Lifetime < dt {
			s.transient = 0
		} else if s.transient > 1 && dt > 0 {
			s.transient *= math.Exp(-1.0 * float64(dt) * lambda)
		}
		s.transient += float64(transient)
		s.lastUnix = tu
	}
	return s.persistent + uint32(s.transient)
}
