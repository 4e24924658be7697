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

// This file contains the Store interface that persists the job table, and
// the helpers its implementations share.

import (
	"context"
	"os"
	"path/filepath"
)

// Store types accepted by OpenStore().
const (
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
	StoreMemory = "memory"
)

// Filter restricts the rows List() returns. Zero values match everything.
type Filter struct {
	States []State // only rows in one of these states
	User   string  // only rows belonging to this user
}

// matches tells you if the record passes the filter.
func (f Filter) matches(r *Record) bool {
	if f.User != "" && r.User != f.User {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if r.State == s {
			return true
		}
	}
	return false
}

// Store persists job rows. Implementations must enforce the state machine in
// Transition(): a row only changes if it is still in the from state and the
// move to the record's new state is one of ValidTransitions.
type Store interface {
	// Insert stores a new row, assigning and returning its id.
	Insert(ctx context.Context, rec *Record) (int64, error)

	// Get returns the row with the given id, or an Error with ErrNotFound.
	Get(ctx context.Context, id int64) (*Record, error)

	// List returns the rows that pass the filter, in id order.
	List(ctx context.Context, f Filter) ([]*Record, error)

	// Transition saves the record's State, PID, StartTime, EndTime and
	// ExitCode, provided the stored row is currently in state from.
	Transition(ctx context.Context, rec *Record, from State) error

	// Close releases the store's resources.
	Close() error
}

// OpenStore opens (creating if necessary) a store of the given type. path is
// the database file for sqlite and bolt stores, and ignored for memory ones.
func OpenStore(storeType, path string) (Store, error) {
	if storeType != StoreMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
	}

	switch storeType {
	case StoreSQLite:
		return NewSQLiteStore(path)
	case StoreBolt:
		return NewBoltStore(path)
	case StoreMemory:
		return NewMemoryStore()
	}
	return nil, Error{Op: "OpenStore", Err: ErrBadStore + ": " + storeType}
}

// checkState refuses rows whose state is not one of ours.
func checkState(op string, rec *Record) error {
	if rec.State.IsValid() {
		return nil
	}
	return Error{Op: op, ID: rec.ID, Err: ErrBadState + ": " + string(rec.State)}
}

// checkTransition validates a Transition() call against the current state of
// the stored row.
func checkTransition(current *Record, rec *Record, from State) error {
	if !from.CanTransitionTo(rec.State) {
		return Error{Op: "Transition", ID: rec.ID, Err: ErrIllegalTransition + ": " + string(from) + "->" + string(rec.State)}
	}
	if current.State != from {
		return Error{Op: "Transition", ID: rec.ID, Err: ErrStaleTransition}
	}
	return nil
}

// applyTransition copies the mutable fields of rec on to current.
func applyTransition(current *Record, rec *Record) {
	current.State = rec.State
	current.PID = rec.PID
	current.StartTime = rec.StartTime
	current.EndTime = rec.EndTime
	current.ExitCode = rec.ExitCode
}
