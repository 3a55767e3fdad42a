// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banman

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"net/netip"
	"sort"

	"github.com/btcsuite/btcd/wire"
)

const (
	// BanEntryVersion is the only serialization version of a ban entry.
	BanEntryVersion = 1

	// legacyBanReason is written in place of the ban reason that older
	// ban lists carried.  It is ignored when reading.
	legacyBanReason = 2

	// serializedSubnetLen is the size of a subnet on disk: a 16 byte
	// network address, a 16 byte netmask and a validity flag.
	serializedSubnetLen = 16 + 16 + 1

	// serializedEntryLen is the size of a ban entry on disk.
	serializedEntryLen = 4 + 8 + 8 + 1

	// maxBanListEntries caps the number of entries accepted from a
	// serialized ban list.
	maxBanListEntries = 1 << 20
)

var (
	// ErrInvalidSubnet is returned when a serialized subnet is not a valid
	// contiguous netmask.
	ErrInvalidSubnet = errors.New("invalid serialized subnet")

	// ErrTooManyEntries is returned when a serialized ban list claims more
	// entries than maxBanListEntries.
	ErrTooManyEntries = errors.New("too many ban list entries")

	// v4InV6Prefix is the prefix of an IPv4 address mapped into IPv6.
	v4InV6Prefix = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff}
)

// BanEntry describes a single ban.  Times are unix seconds.
type BanEntry struct {
	Version    int32
	CreateTime int64
	BanUntil   int64
}

// newBanEntry returns an entry created at the passed time.
func newBanEntry(createTime, banUntil int64) BanEntry {
	return BanEntry{
		Version:    BanEntryVersion,
		CreateTime: createTime,
		BanUntil:   banUntil,
	}
}

// BanListEntry is a single row of the aggregated ban list.
type BanListEntry struct {
	Subnet netip.Prefix
	Entry  BanEntry
}

// BanTables holds the address level and subnet level ban tables.
//
// Single address subnets (/32 for IPv4 and /128 for IPv6) are never stored in
// Subnets.  They are kept in Addresses so automatic bans can be looked up in
// constant time.
type BanTables struct {
	Addresses map[netip.Addr]BanEntry
	Subnets   map[netip.Prefix]BanEntry
}

// NewBanTables returns empty ban tables.
func NewBanTables() *BanTables {
	return &BanTables{
		Addresses: make(map[netip.Addr]BanEntry),
		Subnets:   make(map[netip.Prefix]BanEntry),
	}
}

// Len returns the total number of entries in both tables.
func (t *BanTables) Len() int {
	return len(t.Addresses) + len(t.Subnets)
}

// Clear removes all entries.
func (t *BanTables) Clear() {
	clear(t.Addresses)
	clear(t.Subnets)
}

// Copy returns a deep copy of the tables.
func (t *BanTables) Copy() *BanTables {
	c := &BanTables{
		Addresses: make(map[netip.Addr]BanEntry, len(t.Addresses)),
		Subnets:   make(map[netip.Prefix]BanEntry, len(t.Subnets)),
	}
	for addr, entry := range t.Addresses {
		c.Addresses[addr] = entry
	}
	for subnet, entry := range t.Subnets {
		c.Subnets[subnet] = entry
	}
	return c
}

// Put stores an entry for the subnet, routing single address subnets to the
// address table.
func (t *BanTables) Put(subnet netip.Prefix, entry BanEntry) {
	subnet = canonicalPrefix(subnet)
	if isSingleIP(subnet) {
		t.Addresses[subnet.Addr()] = entry
		return
	}
	t.Subnets[subnet] = entry
}

// Aggregated returns both tables as one list sorted by subnet, with
// addresses shown as /32 or /128 subnets.  The result is a copy intended for
// display.
func (t *BanTables) Aggregated() []BanListEntry {
	list := make([]BanListEntry, 0, t.Len())
	for subnet, entry := range t.Subnets {
		list = append(list, BanListEntry{Subnet: subnet, Entry: entry})
	}
	for addr, entry := range t.Addresses {
		list = append(list, BanListEntry{
			Subnet: netip.PrefixFrom(addr, addr.BitLen()),
			Entry:  entry,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		return comparePrefix(list[i].Subnet, list[j].Subnet) < 0
	})
	return list
}

// Serialize writes the tables as a single count prefixed stream of
// (subnet, entry) pairs.  This is the layout older ban lists used when all
// bans were kept in one map.
func (t *BanTables) Serialize(w io.Writer) error {
	if err := wire.WriteVarInt(w, 0, uint64(t.Len())); err != nil {
		return err
	}

	// Aggregated sorts, which keeps the output stable for identical tables.
	for _, row := range t.Aggregated() {
		if err := writeSubnet(w, row.Subnet); err != nil {
			return err
		}
		if err := writeBanEntry(w, &row.Entry); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize replaces the contents of the tables with the entries read from
// r.  Single address subnets are folded into the address table.  The tables
// are left untouched when an error is returned.
func (t *BanTables) Deserialize(r io.Reader) error {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxBanListEntries {
		return fmt.Errorf("%w: %d", ErrTooManyEntries, count)
	}

	loaded := NewBanTables()
	for i := uint64(0); i < count; i++ {
		subnet, err := readSubnet(r)
		if err != nil {
			return err
		}
		entry, err := readBanEntry(r)
		if err != nil {
			return err
		}
		loaded.Put(subnet, entry)
	}

	t.Addresses = loaded.Addresses
	t.Subnets = loaded.Subnets
	return nil
}

// canonicalAddr strips zones and unmaps IPv4-mapped IPv6 addresses so the
// same host always produces the same key.
func canonicalAddr(addr netip.Addr) netip.Addr {
	return addr.Unmap().WithZone("")
}

// canonicalPrefix returns the masked form of subnet over its canonical
// network address.
func canonicalPrefix(subnet netip.Prefix) netip.Prefix {
	addr := subnet.Addr()
	prefixBits := subnet.Bits()
	if addr.Is4In6() {
		addr = addr.Unmap()
		prefixBits -= 96
		if prefixBits < 0 {
			prefixBits = 0
		}
	}
	return netip.PrefixFrom(addr.WithZone(""), prefixBits).Masked()
}

// isSingleIP reports whether the subnet matches exactly one address.
func isSingleIP(subnet netip.Prefix) bool {
	return subnet.IsValid() && subnet.Bits() == subnet.Addr().BitLen()
}

// comparePrefix orders subnets by network address, then by prefix length.
func comparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	switch {
	case a.Bits() < b.Bits():
		return -1
	case a.Bits() > b.Bits():
		return 1
	}
	return 0
}

// writeSubnet serializes subnet as a 16 byte network, 16 byte netmask and a
// validity byte.  IPv4 networks are mapped into IPv6 and their netmask keeps
// the first 12 bytes set.
func writeSubnet(w io.Writer, subnet netip.Prefix) error {
	var buf [serializedSubnetLen]byte
	network := subnet.Masked().Addr().As16()
	copy(buf[:16], network[:])

	maskBits := subnet.Bits()
	if subnet.Addr().Is4() {
		maskBits += 96
	}
	mask := buf[16:32]
	for i := 0; i < 16; i++ {
		switch {
		case maskBits >= 8:
			mask[i] = 0xff
			maskBits -= 8
		case maskBits > 0:
			mask[i] = byte(0xff << (8 - maskBits))
			maskBits = 0
		}
	}
	buf[32] = 1

	_, err := w.Write(buf[:])
	return err
}

// readSubnet deserializes a subnet written by writeSubnet.
func readSubnet(r io.Reader) (netip.Prefix, error) {
	var buf [serializedSubnetLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return netip.Prefix{}, err
	}
	if buf[32] != 1 {
		return netip.Prefix{}, fmt.Errorf("%w: not marked valid",
			ErrInvalidSubnet)
	}

	// Count the leading ones of the netmask and make sure nothing follows
	// them.
	mask := buf[16:32]
	ones := 0
	for i, b := range mask {
		n := bits.LeadingZeros8(^b)
		ones += n
		if n == 8 {
			continue
		}
		for _, rest := range mask[i+1:] {
			if rest != 0 {
				return netip.Prefix{}, fmt.Errorf("%w: "+
					"non-contiguous netmask", ErrInvalidSubnet)
			}
		}
		if b<<n != 0 {
			return netip.Prefix{}, fmt.Errorf("%w: non-contiguous "+
				"netmask", ErrInvalidSubnet)
		}
		break
	}

	var network [16]byte
	copy(network[:], buf[:16])
	addr := netip.AddrFrom16(network)
	if bytes.Equal(network[:12], v4InV6Prefix) {
		if ones < 96 {
			return netip.Prefix{}, fmt.Errorf("%w: IPv4 netmask "+
				"shorter than /0", ErrInvalidSubnet)
		}
		return netip.PrefixFrom(addr.Unmap(), ones-96).Masked(), nil
	}
	return netip.PrefixFrom(addr, ones).Masked(), nil
}

// writeBanEntry serializes a ban entry.  The trailing reason byte is always
// legacyBanReason.
func writeBanEntry(w io.Writer, entry *BanEntry) error {
	var buf [serializedEntryLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(entry.Version))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(entry.CreateTime))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(entry.BanUntil))
	buf[20] = legacyBanReason
	_, err := w.Write(buf[:])
	return err
}

// readBanEntry deserializes a ban entry, ignoring the reason byte.
func readBanEntry(r io.Reader) (BanEntry, error) {
	var buf [serializedEntryLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return BanEntry{}, err
	}
	return BanEntry{
		Version:    int32(binary.LittleEndian.Uint32(buf[0:4])),
		CreateTime: int64(binary.LittleEndian.Uint64(buf[4:12])),
		BanUntil:   int64(binary.LittleEndian.Uint64(buf[12:20])),
	}, nil
}
