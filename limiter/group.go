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

// This file contains the implementation of the group stuct.

// group struct describes an individual limit group. It is only accessed while
// holding the owning Limiter's lock.
type group struct {
	name    string
	limit   int
	current int
}

// newGroup creates a new group.
func newGroup(name string, limit int) *group {
	return &group{
		name:  name,
		limit: limit,
	}
}

// canIncrement tells you if the current count of this group is less than the
// limit.
func (g *group) canIncrement() bool {
	return g.limit < 0 || g.current < g.limit
}

// decrement decreases the count of this group, down to 0. Returns true if a
// decrease happened.
func (g *group) decrement() bool {
	if g.current <= 0 {
		return false
	}
	g.current--
	return true
}
