// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banman

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BanListFilename is the name of the flat file ban list.
const BanListFilename = "banlist.dat"

var (
	// ErrBadMagic is returned when a ban list belongs to another network.
	ErrBadMagic = errors.New("ban list network magic mismatch")

	// ErrBadChecksum is returned when a ban list fails its checksum.
	ErrBadChecksum = errors.New("ban list checksum mismatch")

	// ErrTrailingData is returned when a ban list has bytes after its
	// last entry.
	ErrTrailingData = errors.New("ban list has trailing data")
)

// BanDB persists ban tables.  A failed Load must not be treated as an empty
// list by implementations; the ban manager decides how to recover.
type BanDB interface {
	// Load reads the stored tables.
	Load() (*BanTables, error)

	// Save replaces the stored tables.
	Save(*BanTables) error

	// Close releases any resources held by the store.
	Close() error
}

// FileDB stores the ban tables in a single flat file laid out as the network
// magic, the serialized tables and a double sha256 checksum of both.
type FileDB struct {
	path string
	net  wire.BitcoinNet
}

// Ensure FileDB implements the BanDB interface.
var _ BanDB = (*FileDB)(nil)

// NewFileDB returns a flat file ban store at path for the given network.
func NewFileDB(path string, net wire.BitcoinNet) *FileDB {
	return &FileDB{path: path, net: net}
}

// Load reads and verifies the ban list file.
func (db *FileDB) Load() (*BanTables, error) {
	data, err := os.ReadFile(db.path)
	if err != nil {
		return nil, err
	}
	if len(data) < 4+chainhash.HashSize {
		return nil, fmt.Errorf("ban list too short: %d bytes", len(data))
	}

	body := data[:len(data)-chainhash.HashSize]
	sum := chainhash.DoubleHashH(body)
	if !bytes.Equal(sum[:], data[len(body):]) {
		return nil, ErrBadChecksum
	}
	if wire.BitcoinNet(binary.LittleEndian.Uint32(body[:4])) != db.net {
		return nil, ErrBadMagic
	}

	r := bytes.NewReader(body[4:])
	tables := NewBanTables()
	if err := tables.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingData
	}
	return tables, nil
}

// Save writes the ban list to a temporary file and renames it over the old
// one.
func (db *FileDB) Save(tables *BanTables) error {
	var buf bytes.Buffer
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], uint32(db.net))
	buf.Write(magic[:])
	if err := tables.Serialize(&buf); err != nil {
		return err
	}
	sum := chainhash.DoubleHashH(buf.Bytes())
	buf.Write(sum[:])

	if err := os.MkdirAll(filepath.Dir(db.path), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(db.path), BanListFilename+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, db.path)
}

// Close is a no-op for the flat file store.
func (db *FileDB) Close() error {
	return nil
}

// kvKeyPrefix prefixes every ban entry key in the key/value stores.
var kvKeyPrefix = []byte("ban")

// kvKey returns the key/value store key for subnet.
func kvKey(subnet netip.Prefix) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(kvKeyPrefix)
	if err := writeSubnet(&buf, subnet); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// kvValue returns the key/value store value for entry.
func kvValue(entry *BanEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeBanEntry(&buf, entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// kvDecode decodes a key/value store record into tables.
func kvDecode(tables *BanTables, key, value []byte) error {
	if !bytes.HasPrefix(key, kvKeyPrefix) {
		return fmt.Errorf("unexpected ban store key %x", key)
	}
	kr := bytes.NewReader(key[len(kvKeyPrefix):])
	subnet, err := readSubnet(kr)
	if err != nil {
		return err
	}
	vr := bytes.NewReader(value)
	entry, err := readBanEntry(vr)
	if err != nil {
		return err
	}
	if kr.Len() != 0 || vr.Len() != 0 {
		return ErrTrailingData
	}
	tables.Put(subnet, entry)
	return nil
}

// kvRecords returns the key/value records for every entry of tables.
func kvRecords(tables *BanTables) ([][2][]byte, error) {
	rows := tables.Aggregated()
	records := make([][2][]byte, 0, len(rows))
	for i := range rows {
		key, err := kvKey(rows[i].Subnet)
		if err != nil {
			return nil, err
		}
		value, err := kvValue(&rows[i].Entry)
		if err != nil {
			return nil, err
		}
		records = append(records, [2][]byte{key, value})
	}
	return records, nil
}

// kvPrefixEnd returns the smallest key greater than every key with the ban
// prefix.
func kvPrefixEnd() []byte {
	end := append([]byte(nil), kvKeyPrefix...)
	end[len(end)-1]++
	return end
}
