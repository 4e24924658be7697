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

// This file contains a runneri implementation for 'mock': submitting jobs to
// an in-process mocksched.Scheduler, for testing without a real batch system.

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/VertebrateResequencing/seqrun/internal"
	"github.com/VertebrateResequencing/seqrun/mocksched"
	"github.com/inconshreveable/log15"
)

// mock is our implementer of runneri
type mock struct {
	config *ConfigMock
	sched  *mocksched.Scheduler
	log15.Logger
}

// ConfigMock represents the configuration options required by the mock
// runner.
type ConfigMock struct {
	// Scheduler is the mock scheduler jobs are submitted to. Required.
	Scheduler *mocksched.Scheduler

	// User is who jobs are submitted as, and whose jobs List() returns.
	// Defaults to the current user.
	User string

	// LogDir, if set, is where job output files are written instead of the
	// job's working directory.
	LogDir string

	// ShutdownOnCleanup makes Cleanup() kill every job the Scheduler is
	// running, not just release this runner.
	ShutdownOnCleanup bool
}

// initialize checks we have a scheduler and works out the user.
func (s *mock) initialize(config interface{}, logger log15.Logger) error {
	c, ok := config.(*ConfigMock)
	if !ok {
		return Error{"mock", "initialize", ErrBadConfig}
	}
	if c.Scheduler == nil {
		return Error{"mock", "initialize", ErrNoScheduler}
	}
	s.config = c
	s.sched = c.Scheduler
	s.Logger = logger.New("runner", "mock")

	if s.config.User == "" {
		user, err := internal.Username()
		if err != nil {
			return err
		}
		s.config.User = user
	}
	return nil
}

func (s *mock) logDir() string {
	return s.config.LogDir
}

// run submits the command, asking for output files in the same layout as the
// other runners.
func (s *mock) run(name, workingDir, logDir, command string, args []string) (string, error) {
	id, err := s.sched.Submit(context.Background(), mocksched.SubmitRequest{
		User:       s.config.User,
		Name:       name,
		Output:     filepath.Join(logDir, "%x.o%j"),
		Error:      filepath.Join(logDir, "%x.e%j"),
		WorkingDir: workingDir,
		Command:    command,
		Args:       args,
	})
	if err != nil {
		return "", Error{"mock", "run", ErrSubmit + ": " + err.Error()}
	}
	return strconv.FormatInt(id, 10), nil
}

// terminate cancels the job.
func (s *mock) terminate(id string) bool {
	jid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		s.Warn("terminate called on bad id", "id", id)
		return false
	}

	results := s.sched.Cancel(context.Background(), jid)
	if results[0].Err != "" {
		s.Warn("terminate failed", "id", id, "err", results[0].Err)
		return false
	}
	return true
}

// list returns the ids of our user's jobs that the scheduler has not yet
// completed.
func (s *mock) list() ([]string, error) {
	recs, err := s.sched.Query(context.Background(), s.config.User)
	if err != nil {
		return nil, Error{"mock", "list", ErrQuery + ": " + err.Error()}
	}

	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = strconv.FormatInt(rec.ID, 10)
	}
	return ids, nil
}

// errorState tells you if the job could not be started and so sits in state
// F until cancelled.
func (s *mock) errorState(id string) bool {
	jid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return false
	}

	rec, err := s.sched.Get(context.Background(), jid)
	if err != nil {
		return false
	}
	return rec.State == mocksched.StateFailed
}

// cleanup optionally kills everything the scheduler is running. The Scheduler
// itself is owned by whoever configured us, so is not closed.
func (s *mock) cleanup() {
	if !s.config.ShutdownOnCleanup {
		return
	}
	if err := s.sched.Shutdown(context.Background()); err != nil {
		s.Warn("cleanup failed to kill everything", "err", err)
	}
}
