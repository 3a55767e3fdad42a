// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banman

import (
	"github.com/cockroachdb/pebble"
)

// PebbleDB stores one record per ban entry in a pebble database keyed by the
// serialized subnet.
type PebbleDB struct {
	db *pebble.DB
}

// Ensure PebbleDB implements the BanDB interface.
var _ BanDB = (*PebbleDB)(nil)

// OpenPebbleDB opens or creates the ban database at path.
func OpenPebbleDB(path string) (*PebbleDB, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        pebble.NewCache(1 << 20),
		MaxOpenFiles: 16,
	})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

// Load reads every ban record.  Any undecodable record fails the whole load.
func (db *PebbleDB) Load() (*BanTables, error) {
	iter, err := db.db.NewIter(&pebble.IterOptions{
		LowerBound: kvKeyPrefix,
		UpperBound: kvPrefixEnd(),
	})
	if err != nil {
		return nil, err
	}

	tables := NewBanTables()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := kvDecode(tables, iter.Key(), iter.Value()); err != nil {
			iter.Close()
			return nil, err
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Save atomically replaces all stored records with tables.
func (db *PebbleDB) Save(tables *BanTables) error {
	records, err := kvRecords(tables)
	if err != nil {
		return err
	}

	batch := db.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(kvKeyPrefix, kvPrefixEnd(), nil); err != nil {
		return err
	}
	for _, record := range records {
		if err := batch.Set(record[0], record[1], nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Close flushes and closes the underlying database.
func (db *PebbleDB) Close() error {
	if err := db.db.Flush(); err != nil {
		return err
	}
	return db.db.Close()
}
