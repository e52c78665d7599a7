// Package boltindex builds an optional post-hoc index over a completed
// trace file so the stats tooling can answer "events by provider name"
// without a second full parse. It sits off the hot write path: nothing
// in the session/buffer-manager pipeline depends on it.
package boltindex

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"
)

var bucketByProvider = []byte("events_by_provider")

// Index wraps a bbolt database file mapping provider name to the list of
// int64 positions recorded for it with RecordOffset. What a position
// means is up to the caller: BuildIndex records block ordinals, not
// byte offsets.
type Index struct {
	db *bolt.DB
}

// Open creates or opens an index database at path.
func Open(path string) (*Index, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketByProvider)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// RecordOffset appends offset to the list recorded for providerName.
func (idx *Index) RecordOffset(providerName string, offset int64) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketByProvider)
		existing := b.Get([]byte(providerName))
		var buf []byte
		buf = append(buf, existing...)
		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], uint64(offset))
		buf = append(buf, off[:]...)
		return b.Put([]byte(providerName), buf)
	})
}

// Offsets returns every recorded offset for providerName, in the order
// they were recorded.
func (idx *Index) Offsets(providerName string) ([]int64, error) {
	var out []int64
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketByProvider)
		raw := b.Get([]byte(providerName))
		for i := 0; i+8 <= len(raw); i += 8 {
			out = append(out, int64(binary.LittleEndian.Uint64(raw[i:i+8])))
		}
		return nil
	})
	return out, err
}

// Providers returns every provider name currently indexed.
func (idx *Index) Providers() ([]string, error) {
	var out []string
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketByProvider)
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}
