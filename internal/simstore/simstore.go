// Package simstore implements the persistent-store facade's simulation
// backend: one BoltDB bucket per store.Region, each holding exactly one
// key ("current") whose value is the region's current byte image. A
// bucket plays the role the original module gave a per-region flat file.
package simstore

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cheesejaguar/smartqso/internal/errs"
	"github.com/cheesejaguar/smartqso/internal/store"
)

const currentKey = "current"
const wearKey = "wear"

// DB is a store.Backend backed by a single BoltDB file.
type DB struct {
	db *bolt.DB
}

var _ store.Backend = (*DB)(nil)

// Open opens (or creates) the BoltDB file at path and ensures every
// store.Region has its bucket.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errs.Wrap("simstore.Open", errs.IO, err)
	}
	d := &DB{db: bdb}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, r := range store.Regions {
			if _, err := tx.CreateBucketIfNotExists([]byte(r)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", r, err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, errs.Wrap("simstore.Open", errs.IO, err)
	}
	return d, nil
}

func (d *DB) Read(region store.Region) ([]byte, error) {
	if err := store.CheckRegion(region); err != nil {
		return nil, err
	}
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(region))
		v := b.Get([]byte(currentKey))
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("simstore.Read", errs.IO, err)
	}
	if out == nil {
		return nil, errs.New("simstore.Read", errs.Generic)
	}
	return out, nil
}

func (d *DB) Write(region store.Region, data []byte) error {
	if err := store.CheckRegion(region); err != nil {
		return err
	}
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(region))
		return b.Put([]byte(currentKey), data)
	})
	if err != nil {
		return errs.Wrap("simstore.Write", errs.IO, err)
	}
	return nil
}

func (d *DB) Erase(region store.Region) error {
	if err := store.CheckRegion(region); err != nil {
		return err
	}
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(region))
		if err := b.Delete([]byte(currentKey)); err != nil {
			return err
		}
		wear := uint32(0)
		if v := b.Get([]byte(wearKey)); v != nil {
			wear = decodeU32(v)
		}
		return b.Put([]byte(wearKey), encodeU32(wear+1))
	})
	if err != nil {
		return errs.Wrap("simstore.Erase", errs.IO, err)
	}
	return nil
}

func (d *DB) Size(region store.Region) (int, error) {
	if err := store.CheckRegion(region); err != nil {
		return 0, err
	}
	var n int
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(region))
		if v := b.Get([]byte(currentKey)); v != nil {
			n = len(v)
		}
		return nil
	})
	if err != nil {
		return 0, errs.Wrap("simstore.Size", errs.IO, err)
	}
	return n, nil
}

// Busy always returns false: a local BoltDB transaction never blocks the
// single caller goroutine driving the simulation.
func (d *DB) Busy(store.Region) bool { return false }

func (d *DB) WearLevel(region store.Region) (uint32, error) {
	if err := store.CheckRegion(region); err != nil {
		return 0, err
	}
	var w uint32
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(region))
		if v := b.Get([]byte(wearKey)); v != nil {
			w = decodeU32(v)
		}
		return nil
	})
	if err != nil {
		return 0, errs.Wrap("simstore.WearLevel", errs.IO, err)
	}
	return w, nil
}

func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return errs.Wrap("simstore.Close", errs.IO, err)
	}
	return nil
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func decodeU32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
