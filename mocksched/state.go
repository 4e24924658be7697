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

// This file contains the job state machine.

import (
	"time"
)

// State is the state code of a job row, as shown in the ST column of Query()
// output.
type State string

// The possible job states.
const (
	StatePending   State = "PD"
	StateRunning   State = "R"
	StateFailed    State = "F"
	StateCancelled State = "CA"
	StateCompleted State = "c"
)

// ValidTransitions defines the only allowed state changes of a job row.
var ValidTransitions = map[State][]State{
	StatePending:   {StateRunning, StateFailed, StateCancelled},
	StateRunning:   {StateCompleted, StateCancelled},
	StateFailed:    {StateCancelled},
	StateCancelled: {StateCompleted},
}

// String returns the state code.
func (s State) String() string {
	return string(s)
}

// IsValid tells you if s is one of our state codes.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateFailed, StateCancelled, StateCompleted:
		return true
	}
	return false
}

// CanTransitionTo returns true if moving from the current state to next is
// valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Record is one row of the job table.
type Record struct {
	ID         int64
	User       string
	State      State
	Name       string
	Command    string
	Args       []string
	WorkingDir string
	NSlots     int
	Partition  string
	OutputTmpl string
	ErrorTmpl  string
	Export     string
	PID        int       // set when the row first becomes R
	SbatchTime time.Time // when the row was submitted
	StartTime  time.Time // zero until R
	EndTime    time.Time // zero until c
	ExitCode   int       // only meaningful in state c
}

// Clone returns a copy of the Record that shares nothing with it.
func (r *Record) Clone() *Record {
	c := *r
	if r.Args != nil {
		c.Args = append([]string{}, r.Args...)
	}
	return &c
}

// transition returns a copy of the Record moved to the given state, checking
// that the move is legal.
func (r *Record) transition(to State) (*Record, error) {
	if !r.State.CanTransitionTo(to) {
		return nil, Error{Op: "transition", ID: r.ID, Err: ErrIllegalTransition + ": " + string(r.State) + "->" + string(to)}
	}
	c := r.Clone()
	c.State = to
	return c, nil
}
