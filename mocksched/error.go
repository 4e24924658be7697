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

// This file contains error handling code.

import (
	"fmt"
)

// Err* constants are found in the returned Errors under err.Err, so you can
// cast and check if it's a certain type of error.
const (
	ErrNotFound          = "no such job"
	ErrIllegalTransition = "illegal state transition"
	ErrStaleTransition   = "job state changed since it was read"
	ErrBadRequest        = "invalid submission"
	ErrBadStore          = "unknown store type"
	ErrBadState          = "unknown job state"
	ErrClosed            = "store is closed"
)

// Messages returned by Cancel(), matching those a real scheduler gives.
const (
	CancelInvalidID = "Invalid job id specified"
	CancelCompleted = "Job/step already completing or completed"
)

// Error records an error and the operation and job that caused it.
type Error struct {
	Op  string // name of the method
	ID  int64  // the job id involved, if any
	Err string // one of our Err constants, possibly with further detail
}

func (e Error) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("mocksched %s(): %s", e.Op, e.Err)
	}
	return fmt.Sprintf("mocksched %s(%d): %s", e.Op, e.ID, e.Err)
}

// IsNotFound tells you if err is an Error for a job that does not exist.
func IsNotFound(err error) bool {
	e, ok := err.(Error)
	return ok && e.Err == ErrNotFound
}
