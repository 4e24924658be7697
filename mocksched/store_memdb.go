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

// This file contains the Store implementation backed by an in-memory
// database, for tests and for in-process use where nothing needs to outlive
// the process.

import (
	"context"
	"fmt"
	"sort"

	sync "github.com/sasha-s/go-deadlock"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	tableJobs  = "jobs"
	indexID    = "id"
	indexState = "state"
)

// MemoryStore implements Store using go-memdb.
type MemoryStore struct {
	db     *memdb.MemDB
	nextID int64
	mu     sync.Mutex
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableJobs: {
				Name: tableJobs,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					indexState: {
						Name:    indexState,
						Indexer: &memdb.StringFieldIndex{Field: "State"},
					},
				},
			},
		},
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

// Close does nothing, since there is nothing to release.
func (s *MemoryStore) Close() error {
	return nil
}

// Insert stores a copy of the new row.
func (s *MemoryStore) Insert(ctx context.Context, rec *Record) (int64, error) {
	if err := checkState("Insert", rec); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID

	txn := s.db.Txn(true)
	if err := txn.Insert(tableJobs, rec.Clone()); err != nil {
		txn.Abort()
		s.nextID--
		return 0, fmt.Errorf("insert job: %w", err)
	}
	txn.Commit()
	return rec.ID, nil
}

// Get returns a copy of the row with the given id.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	return s.get(txn, id, "Get")
}

func (s *MemoryStore) get(txn *memdb.Txn, id int64, op string) (*Record, error) {
	raw, err := txn.First(tableJobs, indexID, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, Error{Op: op, ID: id, Err: ErrNotFound}
	}
	return raw.(*Record).Clone(), nil
}

// List returns copies of the rows that pass the filter, in id order. The id
// index is varint encoded, so iteration order is not id order and we sort.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*Record, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	var its []memdb.ResultIterator
	if len(f.States) == 0 {
		it, err := txn.Get(tableJobs, indexID)
		if err != nil {
			return nil, err
		}
		its = append(its, it)
	} else {
		seen := make(map[State]bool, len(f.States))
		for _, state := range f.States {
			if seen[state] {
				continue
			}
			seen[state] = true

			it, err := txn.Get(tableJobs, indexState, string(state))
			if err != nil {
				return nil, err
			}
			its = append(its, it)
		}
	}

	var recs []*Record
	for _, it := range its {
		for raw := it.Next(); raw != nil; raw = it.Next() {
			rec := raw.(*Record)
			if f.matches(rec) {
				recs = append(recs, rec.Clone())
			}
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// Transition replaces the row within a single write transaction.
func (s *MemoryStore) Transition(ctx context.Context, rec *Record, from State) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	current, err := s.get(txn, rec.ID, "Transition")
	if err != nil {
		return err
	}
	if err = checkTransition(current, rec, from); err != nil {
		return err
	}

	applyTransition(current, rec)
	if err = txn.Insert(tableJobs, current); err != nil {
		return fmt.Errorf("update job %d: %w", rec.ID, err)
	}
	txn.Commit()
	return nil
}
