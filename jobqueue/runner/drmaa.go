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

package runner

// This file contains a runneri implementation for 'drmaa': submitting jobs to
// a distributed resource manager through a DRMAA session.

import (
	"fmt"
	"sort"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/inconshreveable/log15"
)

// DRMState is the state of a job as reported by a DRMSession.
type DRMState int

// DRMState* constants mirror the job states defined by DRMAA v1.
const (
	DRMStateUndetermined DRMState = iota
	DRMStateQueued
	DRMStateSystemOnHold
	DRMStateUserOnHold
	DRMStateUserSystemOnHold
	DRMStateRunning
	DRMStateSystemSuspended
	DRMStateUserSuspended
	DRMStateUserSystemSuspended
	DRMStateDone
	DRMStateFailed
)

// active tells you if a job in this state is still queued, held, running or
// suspended.
func (s DRMState) active() bool {
	return s >= DRMStateQueued && s <= DRMStateUserSystemSuspended
}

// DRMSession is the subset of a DRMAA session the drmaa runner uses.
type DRMSession interface {
	// RunJob submits a job and returns its id. outputPath and errorPath are in
	// DRMAA's ":path" form.
	RunJob(name, workingDir, command string, args []string, outputPath, errorPath string) (string, error)

	// Terminate asks the DRM to kill the job.
	Terminate(id string) error

	// JobState tells you the current state of the job.
	JobState(id string) (DRMState, error)

	// Exit closes the session.
	Exit() error
}

// drm is our implementer of runneri
type drm struct {
	config    *ConfigDRMAA
	session   DRMSession
	submitted map[string]bool
	mu        sync.Mutex
	log15.Logger
}

// ConfigDRMAA represents the configuration options required by the drmaa
// runner.
type ConfigDRMAA struct {
	// LogDir, if set, is where job output files are written instead of the
	// job's working directory.
	LogDir string

	// Session is the session to use. If nil, a real DRMAA session is opened,
	// which is only possible if seqrun was built with the drmaa build tag.
	Session DRMSession
}

// initialize opens a DRMAA session if we weren't given one.
func (s *drm) initialize(config interface{}, logger log15.Logger) error {
	c, ok := config.(*ConfigDRMAA)
	if !ok {
		return Error{"drmaa", "initialize", ErrBadConfig}
	}
	s.config = c
	s.Logger = logger.New("runner", "drmaa")
	s.submitted = make(map[string]bool)

	if c.Session != nil {
		s.session = c.Session
		return nil
	}

	session, err := newDRMSession()
	if err != nil {
		return err
	}
	s.session = session
	return nil
}

func (s *drm) logDir() string {
	return s.config.LogDir
}

// run submits the job, asking the DRM to name its output files after the job
// name and id.
func (s *drm) run(name, workingDir, logDir, command string, args []string) (string, error) {
	dir := logDir
	if dir == "" {
		dir = "$drmaa_wd_ph$"
	}
	out := ":" + LogPath(dir, "$JOB_NAME", ".o", "$JOB_ID")
	errp := ":" + LogPath(dir, "$JOB_NAME", ".e", "$JOB_ID")

	id, err := s.session.RunJob(name, workingDir, command, args, out, errp)
	if err != nil {
		return "", Error{"drmaa", "run", fmt.Sprintf("%s: %s", ErrSubmit, err)}
	}

	s.mu.Lock()
	s.submitted[id] = true
	s.mu.Unlock()
	return id, nil
}

// terminate asks the DRM to kill a job we submitted.
func (s *drm) terminate(id string) bool {
	s.mu.Lock()
	known := s.submitted[id]
	s.mu.Unlock()
	if !known {
		s.Warn("terminate called on unknown job", "id", id)
		return false
	}

	if err := s.session.Terminate(id); err != nil {
		s.Warn("terminate failed", "id", id, "err", err)
		return false
	}
	return true
}

// list asks the DRM for the state of every job we submitted that we haven't
// yet seen finish, forgetting the finished ones.
func (s *drm) list() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.submitted))
	for id := range s.submitted {
		state, err := s.session.JobState(id)
		if err != nil {
			// once a job has finished and been reaped by the DRM it may no
			// longer be known to it
			s.Debug("job state query failed, treating as finished", "id", id, "err", err)
			delete(s.submitted, id)
			continue
		}

		if state.active() {
			ids = append(ids, id)
		} else {
			delete(s.submitted, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// errorState is true for jobs the system has put on hold, which is how Grid
// Engine reports jobs in its error state through DRMAA.
func (s *drm) errorState(id string) bool {
	state, err := s.session.JobState(id)
	if err != nil {
		return false
	}
	return state == DRMStateSystemOnHold || state == DRMStateUserSystemOnHold
}

// cleanup closes the session.
func (s *drm) cleanup() {
	if err := s.session.Exit(); err != nil {
		s.Warn("closing DRMAA session failed", "err", err)
	}
}
