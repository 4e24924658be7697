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

package limiter

// This file contains error handling code.

import (
	"fmt"
)

// limiter has some typical errors
const (
	ErrNotIncremented = "decrement attempted on a limit group that had not been incremented"
)

// Error records an error and the operation and group that caused it.
type Error struct {
	Group string // the limit group's name
	Op    string // name of the method
	Err   string // one of our Err constants
}

func (e Error) Error() string {
	return fmt.Sprintf("limiter(%s) %s(): %s", e.Group, e.Op, e.Err)
}
