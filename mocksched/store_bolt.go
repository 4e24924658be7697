// Copyright © 2026 Genome Research Limited
//
//  This file is part of seqrun.
//
//  seqrun is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  seqrun is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with seqrun. If not, see <http://www.gnu.org/licenses/>.

package mocksched

// This file contains the Store implementation backed by boltdb, a simple
// key/val store with transactions. Rows are binc encoded, keyed on their id in
// big-endian so that cursor order is id order.

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ugorji/go/codec"
	bolt "go.etcd.io/bbolt"
)

var bucketJobs = []byte("jobs")

// BoltStore implements Store using boltdb.
type BoltStore struct {
	db *bolt.DB
	ch codec.Handle
}

// NewBoltStore opens (or creates) a bolt database at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, errc := tx.CreateBucketIfNotExists(bucketJobs)
		return errc
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db, ch: new(codec.BincHandle)}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func (s *BoltStore) encode(rec *Record) ([]byte, error) {
	var encoded []byte
	enc := codec.NewEncoderBytes(&encoded, s.ch)
	err := enc.Encode(rec)
	return encoded, err
}

func (s *BoltStore) decode(val []byte) (*Record, error) {
	rec := &Record{}
	dec := codec.NewDecoderBytes(val, s.ch)
	if err := dec.Decode(rec); err != nil {
		return nil, err
	}
	return rec, checkState("decode", rec)
}

// Insert stores a new row, using the bucket's sequence for its id.
func (s *BoltStore) Insert(ctx context.Context, rec *Record) (int64, error) {
	if err := checkState("Insert", rec); err != nil {
		return 0, err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		rec.ID = int64(seq)
		encoded, err := s.encode(rec)
		if err != nil {
			return err
		}
		return b.Put(idKey(rec.ID), encoded)
	})
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return rec.ID, nil
}

// Get returns the row with the given id.
func (s *BoltStore) Get(ctx context.Context, id int64) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(bucketJobs).Get(idKey(id))
		if val == nil {
			return Error{Op: "Get", ID: id, Err: ErrNotFound}
		}

		var err error
		rec, err = s.decode(val)
		return err
	})
	return rec, err
}

// List returns the rows that pass the filter, in id order.
func (s *BoltStore) List(ctx context.Context, f Filter) ([]*Record, error) {
	var recs []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			rec, err := s.decode(v)
			if err != nil {
				return err
			}
			if f.matches(rec) {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	return recs, err
}

// Transition updates the row within a single read-write transaction.
func (s *BoltStore) Transition(ctx context.Context, rec *Record, from State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		key := idKey(rec.ID)
		val := b.Get(key)
		if val == nil {
			return Error{Op: "Transition", ID: rec.ID, Err: ErrNotFound}
		}

		current, err := s.decode(val)
		if err != nil {
			return err
		}
		if err = checkTransition(current, rec, from); err != nil {
			return err
		}

		applyTransition(current, rec)
		encoded, err := s.encode(current)
		if err != nil {
			return err
		}
		return b.Put(key, encoded)
	})
}
