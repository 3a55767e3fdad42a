// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banman

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB stores one record per ban entry in a goleveldb database keyed by
// the serialized subnet.
type LevelDB struct {
	db *leveldb.DB
}

// Ensure LevelDB implements the BanDB interface.
var _ BanDB = (*LevelDB)(nil)

// OpenLevelDB opens or creates the ban database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
	}
	ldb, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: ldb}, nil
}

// Load reads every ban record.  Any undecodable record fails the whole load.
func (db *LevelDB) Load() (*BanTables, error) {
	tables := NewBanTables()
	iter := db.db.NewIterator(util.BytesPrefix(kvKeyPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := kvDecode(tables, iter.Key(), iter.Value()); err != nil {
			return nil, err
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Save atomically replaces all stored records with tables.
func (db *LevelDB) Save(tables *BanTables) error {
	records, err := kvRecords(tables)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	iter := db.db.NewIterator(util.BytesPrefix(kvKeyPrefix), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	for _, record := range records {
		batch.Put(record[0], record[1])
	}
	return db.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Close closes the underlying database.
func (db *LevelDB) Close() error {
	return db.db.Close()
}
