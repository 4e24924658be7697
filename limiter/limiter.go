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

// This file contains the implementation of the main struct in the limiter
// package, the Limiter.

import (
	sync "github.com/sasha-s/go-deadlock"
)

// Unlimited is returned by a SetLimitCallback (and by GetLimit()) for groups
// that have no limit.
const Unlimited = -1

// SetLimitCallback is provided to New(). Your function should take the name of
// a group and return the current limit for that group. If the group doesn't
// exist or has no limit, return Unlimited. Limiter itself forgets groups that
// are not in use, so your callback is the source of truth for limits.
type SetLimitCallback func(name string) int

// Limiter struct is used to limit usage of groups.
type Limiter struct {
	cb     SetLimitCallback
	groups map[string]*group
	mu     sync.Mutex
}

// New creates a new Limiter. A nil callback treats every group not set with
// SetLimit() as unlimited.
func New(cb SetLimitCallback) *Limiter {
	if cb == nil {
		cb = func(string) int { return Unlimited }
	}

	return &Limiter{
		cb:     cb,
		groups: make(map[string]*group),
	}
}

// SetLimit creates or updates a group with the given limit. Lowering a limit
// below a group's current count does not affect things already counted, but
// stops further increments until enough decrements have happened.
func (l *Limiter) SetLimit(name string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, set := l.groups[name]; set {
		g.limit = limit
		return
	}
	l.groups[name] = newGroup(name, limit)
}

// GetLimit tells you the limit currently set for the given group, or Unlimited.
func (l *Limiter) GetLimit(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.vivifyGroup(name)
	if g == nil {
		return Unlimited
	}
	return g.limit
}

// RemoveLimit makes the given group unlimited until the next SetLimit(). A
// group that is in use keeps its count, so that later Decrement()s still
// balance; otherwise it is forgotten, and your callback should also return
// Unlimited for it.
func (l *Limiter) RemoveLimit(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, set := l.groups[name]
	if !set {
		return
	}
	if g.current > 0 {
		g.limit = Unlimited
		return
	}
	delete(l.groups, name)
}

// Increment sees if it would be possible to increment the count of every
// supplied group, without making any of them go over their limit. Groups with a
// limit of 0 can never be incremented.
//
// If possible, the group counts are actually incremented and this returns
// true. If not possible, no group counts are altered and this returns false.
func (l *Limiter) Increment(groups []string) bool {
	if len(groups) == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.checkGroups(groups) {
		return false
	}
	l.incrementGroups(groups)
	return true
}

// checkGroups checks all the groups to see if they can be incremented. You must
// hold the mu.lock before calling this, and until after calling
// incrementGroups() if this returns true.
func (l *Limiter) checkGroups(groups []string) bool {
	for _, name := range groups {
		if g := l.vivifyGroup(name); g != nil && !g.canIncrement() {
			return false
		}
	}
	return true
}

// incrementGroups increments all the groups without checking them. You must
// hold the mu.lock before calling this (and check first). Unlimited groups are
// still counted, so that Decrement() is symmetrical.
func (l *Limiter) incrementGroups(groups []string) {
	for _, name := range groups {
		g := l.vivifyGroup(name)
		if g == nil {
			g = newGroup(name, Unlimited)
			l.groups[name] = g
		}
		g.current++
	}
}

// vivifyGroup either returns a stored group or creates a new one based on the
// results of calling the SetLimitCallback. You must have the mu.Lock() before
// calling this. Returns nil if the callback says the group is unlimited.
func (l *Limiter) vivifyGroup(name string) *group {
	g, exists := l.groups[name]
	if !exists {
		if limit := l.cb(name); limit >= 0 {
			g = newGroup(name, limit)
			l.groups[name] = g
		}
	}
	return g
}

// Decrement decrements the count of every supplied group.
//
// To save memory, if a group reaches a count of 0, it is forgotten.
//
// Groups that aren't known about, or are already at 0, are skipped, and an
// Error with ErrNotIncremented is returned naming the first such group.
func (l *Limiter) Decrement(groups []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for _, name := range groups {
		g, exists := l.groups[name]
		if !exists || !g.decrement() {
			if err == nil {
				err = Error{Group: name, Op: "Decrement", Err: ErrNotIncremented}
			}
			continue
		}

		if g.current == 0 {
			delete(l.groups, name)
		}
	}
	return err
}

// Current tells you the current count of the given group.
func (l *Limiter) Current(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, exists := l.groups[name]; exists {
		return g.current
	}
	return 0
}
