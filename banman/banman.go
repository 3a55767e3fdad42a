// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banman

import (
	"net/netip"
	"sync"
	"time"

	"github.com/decred/dcrd/container/apbf"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultBanTime is the ban duration used when a ban is requested
	// without a positive offset.
	DefaultBanTime = 24 * time.Hour

	// DiscourageFilterSize is the number of addresses the discourage
	// filter is guaranteed to hold before older entries start to age out.
	DiscourageFilterSize = 50000

	// DiscourageFPRate is the false positive rate of the discourage
	// filter.
	DiscourageFPRate = 0.000001
)

// Config houses the collaborators of a BanMan.
type Config struct {
	// DB persists the ban tables.  Bans are kept in memory only when it
	// is nil.
	DB BanDB

	// DefaultBanTime replaces non-positive ban offsets.  DefaultBanTime
	// is used when it is zero.
	DefaultBanTime time.Duration

	// Clock is the time source.  The system clock is used when it is
	// nil.
	Clock clock.Clock

	// OnChanged, when set, is invoked after the ban tables change.  It is
	// called without any ban manager lock held.
	OnChanged func()
}

// BanMan owns the ban tables and the discourage filter.  All methods are safe
// for concurrent access.
type BanMan struct {
	cfg Config

	mtx         sync.Mutex
	banned      *BanTables
	dirty       bool
	discouraged *apbf.Filter
}

// New returns a ban manager with the tables loaded from cfg.DB.  A ban list
// that is missing or fails to load is replaced by an empty one which is
// written back immediately.
func New(cfg *Config) *BanMan {
	bm := &BanMan{
		cfg:         *cfg,
		banned:      NewBanTables(),
		discouraged: apbf.NewFilter(DiscourageFilterSize, DiscourageFPRate),
	}
	if bm.cfg.Clock == nil {
		bm.cfg.Clock = clock.NewDefaultClock()
	}
	if bm.cfg.DefaultBanTime <= 0 {
		bm.cfg.DefaultBanTime = DefaultBanTime
	}
	if bm.cfg.DB == nil {
		return bm
	}

	start := time.Now()
	tables, err := bm.cfg.DB.Load()
	if err != nil {
		log.Infof("Invalid or missing ban list (%v); recreating", err)
		bm.mtx.Lock()
		bm.dirty = true
		bm.mtx.Unlock()
		if err := bm.DumpBanlist(); err != nil {
			log.Errorf("Unable to write ban list: %v", err)
		}
		return bm
	}

	bm.mtx.Lock()
	bm.banned = tables
	bm.mtx.Unlock()
	bm.SweepBanned()

	log.Debugf("Loaded %d banned node ips/subnets in %v", tables.Len(),
		time.Since(start))
	return bm
}

// now returns the current unix time of the configured clock.
func (bm *BanMan) now() int64 {
	return bm.cfg.Clock.Now().Unix()
}

// createBanEntry returns a ban entry for the passed offset.  Non-positive
// offsets use the default ban time relative to now.
func (bm *BanMan) createBanEntry(offset int64, sinceEpoch bool) BanEntry {
	now := bm.now()
	if offset <= 0 {
		offset = int64(bm.cfg.DefaultBanTime / time.Second)
		sinceEpoch = false
	}
	banUntil := offset
	if !sinceEpoch {
		banUntil += now
	}
	return newBanEntry(now, banUntil)
}

// Ban bans addr until offset seconds from now, or until the absolute unix
// time offset when sinceEpoch is true.  An existing ban is only replaced when
// the new one lasts longer.  The ban list is written immediately when persist
// is true.
func (bm *BanMan) Ban(addr netip.Addr, offset int64, sinceEpoch, persist bool) {
	if !addr.IsValid() {
		return
	}
	addr = canonicalAddr(addr)
	entry := bm.createBanEntry(offset, sinceEpoch)

	bm.mtx.Lock()
	if existing, ok := bm.banned.Addresses[addr]; ok &&
		existing.BanUntil >= entry.BanUntil {

		bm.mtx.Unlock()
		return
	}
	bm.banned.Addresses[addr] = entry
	bm.dirty = true
	bm.mtx.Unlock()

	log.Debugf("Banned %v until %v", addr, time.Unix(entry.BanUntil, 0))
	bm.changed(persist)
}

// BanSubnet bans every address in subnet.  Single address subnets are
// banned through Ban.
func (bm *BanMan) BanSubnet(subnet netip.Prefix, offset int64, sinceEpoch, persist bool) {
	if !subnet.IsValid() {
		return
	}
	subnet = canonicalPrefix(subnet)
	if isSingleIP(subnet) {
		bm.Ban(subnet.Addr(), offset, sinceEpoch, persist)
		return
	}
	entry := bm.createBanEntry(offset, sinceEpoch)

	bm.mtx.Lock()
	if existing, ok := bm.banned.Subnets[subnet]; ok &&
		existing.BanUntil >= entry.BanUntil {

		bm.mtx.Unlock()
		return
	}
	bm.banned.Subnets[subnet] = entry
	bm.dirty = true
	bm.mtx.Unlock()

	log.Debugf("Banned subnet %v until %v", subnet,
		time.Unix(entry.BanUntil, 0))
	bm.changed(persist)
}

// Unban removes the ban on addr.  It returns false, without side effects,
// when addr is not in the address table.
func (bm *BanMan) Unban(addr netip.Addr) bool {
	addr = canonicalAddr(addr)

	bm.mtx.Lock()
	if _, ok := bm.banned.Addresses[addr]; !ok {
		bm.mtx.Unlock()
		return false
	}
	delete(bm.banned.Addresses, addr)
	bm.dirty = true
	bm.mtx.Unlock()

	bm.changed(true)
	return true
}

// UnbanSubnet removes the ban on subnet.  Single address subnets are
// unbanned through Unban.
func (bm *BanMan) UnbanSubnet(subnet netip.Prefix) bool {
	if !subnet.IsValid() {
		return false
	}
	subnet = canonicalPrefix(subnet)
	if isSingleIP(subnet) {
		return bm.Unban(subnet.Addr())
	}

	bm.mtx.Lock()
	if _, ok := bm.banned.Subnets[subnet]; !ok {
		bm.mtx.Unlock()
		return false
	}
	delete(bm.banned.Subnets, subnet)
	bm.dirty = true
	bm.mtx.Unlock()

	bm.changed(true)
	return true
}

// IsBanned returns whether addr is currently banned.  The address table is
// consulted first; the subnet table is scanned only when that misses.
func (bm *BanMan) IsBanned(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = canonicalAddr(addr)
	now := bm.now()

	bm.mtx.Lock()
	defer bm.mtx.Unlock()

	if entry, ok := bm.banned.Addresses[addr]; ok && now < entry.BanUntil {
		return true
	}
	for subnet, entry := range bm.banned.Subnets {
		if now < entry.BanUntil && subnet.Contains(addr) {
			return true
		}
	}
	return false
}

// IsSubnetBanned returns whether exactly subnet is currently banned.
func (bm *BanMan) IsSubnetBanned(subnet netip.Prefix) bool {
	if !subnet.IsValid() {
		return false
	}
	subnet = canonicalPrefix(subnet)
	if isSingleIP(subnet) {
		return bm.IsBanned(subnet.Addr())
	}
	now := bm.now()

	bm.mtx.Lock()
	defer bm.mtx.Unlock()

	entry, ok := bm.banned.Subnets[subnet]
	return ok && now < entry.BanUntil
}

// Discourage adds addr to the discourage filter.
func (bm *BanMan) Discourage(addr netip.Addr) {
	if !addr.IsValid() {
		return
	}
	key := canonicalAddr(addr).As16()

	bm.mtx.Lock()
	bm.discouraged.Add(key[:])
	bm.mtx.Unlock()

	log.Debugf("Discouraged %v", addr)
}

// IsDiscouraged returns whether addr is probably discouraged.  False
// positives happen at the rate of DiscourageFPRate; false negatives only
// happen after the address has aged out of the filter.
func (bm *BanMan) IsDiscouraged(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	key := canonicalAddr(addr).As16()

	bm.mtx.Lock()
	defer bm.mtx.Unlock()
	return bm.discouraged.Contains(key[:])
}

// ClearBanned removes every ban and writes the empty list.
func (bm *BanMan) ClearBanned() {
	bm.mtx.Lock()
	bm.banned.Clear()
	bm.dirty = true
	bm.mtx.Unlock()

	bm.changed(true)
}

// ClearDiscouraged empties the discourage filter.
func (bm *BanMan) ClearDiscouraged() {
	bm.mtx.Lock()
	bm.discouraged.Reset()
	bm.mtx.Unlock()
}

// ClearAll clears the discourage filter and the ban tables.
func (bm *BanMan) ClearAll() {
	bm.ClearDiscouraged()
	bm.ClearBanned()
}

// SweepBanned drops bans whose expiry has passed.
func (bm *BanMan) SweepBanned() {
	now := bm.now()

	bm.mtx.Lock()
	swept := bm.sweep(now)
	bm.mtx.Unlock()

	if swept > 0 && bm.cfg.OnChanged != nil {
		bm.cfg.OnChanged()
	}
}

// sweep removes expired entries and returns how many were removed.
//
// This function MUST be called with the ban manager lock held.
func (bm *BanMan) sweep(now int64) int {
	var swept int
	for subnet, entry := range bm.banned.Subnets {
		if now > entry.BanUntil {
			delete(bm.banned.Subnets, subnet)
			log.Debugf("Removed banned subnet %v", subnet)
			swept++
		}
	}
	for addr, entry := range bm.banned.Addresses {
		if now > entry.BanUntil {
			delete(bm.banned.Addresses, addr)
			log.Debugf("Removed banned node ip %v", addr)
			swept++
		}
	}
	if swept > 0 {
		bm.dirty = true
	}
	return swept
}

// Banned returns a swept copy of the ban tables.
func (bm *BanMan) Banned() *BanTables {
	now := bm.now()

	bm.mtx.Lock()
	defer bm.mtx.Unlock()

	bm.sweep(now)
	return bm.banned.Copy()
}

// DumpBanlist sweeps expired bans and writes the tables to the ban database
// when they changed since the last write.
func (bm *BanMan) DumpBanlist() error {
	if bm.cfg.DB == nil {
		return nil
	}
	now := bm.now()

	bm.mtx.Lock()
	bm.sweep(now)
	if !bm.dirty {
		bm.mtx.Unlock()
		return nil
	}
	tables := bm.banned.Copy()
	bm.dirty = false
	bm.mtx.Unlock()

	start := time.Now()
	if err := bm.cfg.DB.Save(tables); err != nil {
		bm.mtx.Lock()
		bm.dirty = true
		bm.mtx.Unlock()
		return err
	}

	log.Debugf("Flushed %d banned node ips/subnets in %v", tables.Len(),
		time.Since(start))
	return nil
}

// changed notifies the change callback and writes the ban list when
// requested.
func (bm *BanMan) changed(persist bool) {
	if bm.cfg.OnChanged != nil {
		bm.cfg.OnChanged()
	}
	if !persist {
		return
	}
	if err := bm.DumpBanlist(); err != nil {
		log.Errorf("Unable to write ban list: %v", err)
	}
}
