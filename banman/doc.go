// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package banman manages two related but distinct ways of refusing peers.

Banning is exact and enumerable.  An address or subnet that is banned is never
accepted for inbound connections and never dialed.  Bans carry an expiry time,
are swept lazily once they pass it and are persisted through a BanDB so they
survive restarts.  Automatic bans live in a per-address table with constant
time lookup while manually added subnet bans live in a second, smaller table
that is scanned linearly.

Discouragement is approximate.  Misbehaving peers are added to a rolling bloom
filter which can only answer membership queries.  Discouraged peers may still
connect but are preferred for eviction.  Entries cannot be listed or removed
and age out as the filter rolls over.

When an address is both banned and discouraged the ban takes precedence.
*/
package banman
