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

package jobqueue

// This file contains the Job struct: a single command submitted through a
// Runner, and the methods that track it from submission to completion.

import (
	"context"
	"fmt"
	"os"
	"time"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/alessio/shellescape"
	"github.com/dgryski/go-farm"
	"github.com/inconshreveable/log15"
	"github.com/jpillora/backoff"
)

// Status* constants are the possible return values of Job.Status().
const (
	StatusWaiting            = "Waiting"
	StatusRunning            = "Running"
	StatusPendingTermination = "Running pending termination"
	StatusFinished           = "Finished"
	StatusTerminated         = "Terminated"
)

const (
	// DefaultStartPollInterval is how long Start() waits between checks that a
	// newly submitted job has appeared.
	DefaultStartPollInterval = 5 * time.Second

	// DefaultStartAttempts is how many times Start() checks that a newly
	// submitted job has appeared before giving up waiting.
	DefaultStartAttempts = 12

	restartMinBackoff = 100 * time.Millisecond
)

// Runner is the job execution backend a Job is submitted through.
// *runner.Runner satisfies it.
type Runner interface {
	// Run starts the command and returns the backend's id for it, or the empty
	// string if it could not be started.
	Run(name, workingDir, command string, args []string) (string, error)

	// Terminate asks the backend to kill the job.
	Terminate(id string) bool

	// List returns the ids of the jobs the backend considers active.
	List() ([]string, error)

	// LogFile and ErrFile return the paths of the job's stdout and stderr.
	LogFile(id string) string
	ErrFile(id string) string

	// ErrorState tells you if the job has failed but is still listed.
	ErrorState(id string) bool
}

// Job is a command to be run in a working directory through a Runner. The
// exported fields describe what to run and must not be altered once the Job has
// been started; everything else is tracked internally and read through the
// methods.
type Job struct {
	Name        string
	WorkingDir  string
	Command     string
	Args        []string
	LimitGroups []string // limit groups (see Dispatcher.SetLimit) this job counts against

	runner        Runner
	pollInterval  time.Duration
	startAttempts int
	id            string
	logPath       string
	errPath       string
	previousIDs   []string
	submitted     bool
	terminated    bool
	failed        bool
	finished      bool
	startTime     time.Time
	endTime       time.Time
	mu            sync.RWMutex
	log15.Logger
}

// NewJob creates a Job that will run the given command through the given
// Runner. If name is empty, a name is derived from the command line with
// DefaultJobName().
func NewJob(r Runner, name, workingDir, command string, args ...string) *Job {
	if name == "" {
		name = DefaultJobName(command, args...)
	}

	j := &Job{
		Name:       name,
		WorkingDir: workingDir,
		Command:    command,
		Args:       args,
	}
	j.bind(r, DefaultStartPollInterval, DefaultStartAttempts, nil)
	return j
}

// DefaultJobName returns a name for a command line that is the same every time
// for the same command line, and different for different ones.
func DefaultJobName(command string, args ...string) string {
	l, h := farm.Hash128([]byte(shellescape.QuoteCommand(append([]string{command}, args...))))
	return fmt.Sprintf("job_%016x%016x", l, h)
}

// bind sets the Runner and polling behaviour of the Job. A nil logger leaves
// the current one in place, or discards if there isn't one.
func (j *Job) bind(r Runner, pollInterval time.Duration, startAttempts int, logger log15.Logger) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Name == "" {
		j.Name = DefaultJobName(j.Command, j.Args...)
	}
	j.runner = r
	j.pollInterval = pollInterval
	j.startAttempts = startAttempts

	switch {
	case logger != nil:
		j.Logger = logger.New("job", j.Name)
	case j.Logger == nil:
		l := log15.New()
		l.SetHandler(log15.DiscardHandler())
		j.Logger = l
	}
}

// Start submits the Job through its Runner. It does nothing if the Job has
// already been started, returning the existing id.
//
// If the Runner gives no id, the Job is marked as failed and finished, with an
// end time equal to its start time, and the empty string is returned; it will
// not be submitted again unless you Restart() it.
//
// Otherwise, Start() blocks until the Runner lists the job as active or its
// log file exists, checking at the poll interval up to the configured number of
// attempts, so that once this returns the log paths can be used.
func (j *Job) Start() string {
	j.mu.Lock()
	if j.submitted || j.finished {
		id := j.id
		j.mu.Unlock()
		return id
	}

	j.submitted = true
	j.startTime = time.Now()
	id, err := j.runner.Run(j.Name, j.WorkingDir, j.Command, j.Args)
	if err != nil || id == "" {
		j.failed = true
		j.finished = true
		j.endTime = j.startTime
		j.Warn("job submission failed", "cmd", j.Command, "err", err)
		j.mu.Unlock()
		return ""
	}
	j.id = id
	j.logPath = j.runner.LogFile(id)
	j.errPath = j.runner.ErrFile(id)
	pollInterval, attempts := j.pollInterval, j.startAttempts
	j.mu.Unlock()

	j.Debug("submitted", "id", id)
	if !j.waitForStart(id, pollInterval, attempts) {
		j.Warn("job never appeared after submission", "id", id, "attempts", attempts)
	}
	return id
}

// waitForStart polls until the job is listed or its log file exists, returning
// true if one of those happened.
func (j *Job) waitForStart(id string, pollInterval time.Duration, attempts int) bool {
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			<-time.After(pollInterval)
		}

		if path := j.LogPath(); path != "" {
			if _, err := os.Stat(path); err == nil {
				return true
			}
		}

		listed, err := j.listed(id)
		if err != nil {
			j.Debug("list failed while waiting for start", "id", id, "err", err)
			continue
		}
		if listed {
			return true
		}
	}
	return false
}

// listed asks the Runner if the job with the given id is active.
func (j *Job) listed(id string) (bool, error) {
	ids, err := j.runner.List()
	if err != nil {
		return false, err
	}
	return toSet(ids)[id], nil
}

// Terminate asks the Runner to kill the Job. It only does anything while the
// Job is running and not already terminated, returning false otherwise. The
// Job is marked as terminated and given an end time even if the Runner could
// not confirm the kill.
func (j *Job) Terminate() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.submitted || j.finished || j.terminated || j.id == "" {
		return false
	}

	ok := j.runner.Terminate(j.id)
	j.terminated = true
	j.endTime = time.Now()
	j.Debug("terminated", "id", j.id, "confirmed", ok)
	return ok
}

// IsRunning tells you if the Job has been submitted and its Runner still lists
// it as active. Once the Runner stops listing it, the Job is remembered as
// finished, with an end time of now unless Terminate() already set one, and
// the Runner is not asked again.
//
// If the Runner can't be queried, the Job is assumed to still be running.
func (j *Job) IsRunning() bool {
	j.mu.RLock()
	if !j.submitted || j.finished {
		j.mu.RUnlock()
		return false
	}
	j.mu.RUnlock()

	ids, err := j.runner.List()
	if err != nil {
		j.Warn("list failed", "err", err)
		return true
	}
	return j.isRunningIn(toSet(ids))
}

// isRunningIn does the work of IsRunning() given the set of active ids.
func (j *Job) isRunningIn(active map[string]bool) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.submitted || j.finished {
		return false
	}
	if active[j.id] {
		return true
	}

	j.finished = true
	if j.endTime.IsZero() {
		j.endTime = time.Now()
	}
	j.Debug("finished", "id", j.id)
	return false
}

// Restart terminates the Job if it is still running, waits until the Runner no
// longer lists it (or the context ends), and then submits it again as a new
// backend job. The id of the previous submission is added to PreviousIDs().
func (j *Job) Restart(ctx context.Context) (string, error) {
	if j.IsRunning() {
		j.Terminate()
		if err := j.waitForStop(ctx); err != nil {
			return "", err
		}
	}

	j.mu.Lock()
	if j.id != "" {
		j.previousIDs = append(j.previousIDs, j.id)
	}
	j.id = ""
	j.logPath = ""
	j.errPath = ""
	j.submitted = false
	j.terminated = false
	j.failed = false
	j.finished = false
	j.startTime = time.Time{}
	j.endTime = time.Time{}
	j.mu.Unlock()

	return j.Start(), nil
}

// waitForStop polls with an increasing interval, capped at the poll interval,
// until IsRunning() is false or the context ends.
func (j *Job) waitForStop(ctx context.Context) error {
	j.mu.RLock()
	maxWait := j.pollInterval
	j.mu.RUnlock()
	if maxWait < restartMinBackoff {
		maxWait = restartMinBackoff
	}

	b := &backoff.Backoff{
		Min:    restartMinBackoff,
		Max:    maxWait,
		Factor: 2,
		Jitter: true,
	}

	for j.IsRunning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return nil
}

// errorState asks the Runner if the Job is in an error state.
func (j *Job) errorState() bool {
	j.mu.RLock()
	id := j.id
	j.mu.RUnlock()
	if id == "" {
		return false
	}
	return j.runner.ErrorState(id)
}

// Status describes the Job's state, as one of the Status* constants.
func (j *Job) Status() string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	switch {
	case !j.submitted:
		return StatusWaiting
	case j.finished && j.terminated:
		return StatusTerminated
	case j.finished:
		return StatusFinished
	case j.terminated:
		return StatusPendingTermination
	default:
		return StatusRunning
	}
}

// ID returns the id the Runner gave the Job, or the empty string if it hasn't
// been successfully submitted.
func (j *Job) ID() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.id
}

// PreviousIDs returns the ids of earlier submissions of this Job, oldest
// first.
func (j *Job) PreviousIDs() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]string(nil), j.previousIDs...)
}

// LogPath returns the path to the Job's stdout file, or the empty string if it
// hasn't been successfully submitted. The path is fixed at submission, so stays
// available however long ago the Job finished.
func (j *Job) LogPath() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.logPath
}

// ErrPath is like LogPath(), but for the Job's stderr file.
func (j *Job) ErrPath() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.errPath
}

// Submitted tells you if Start() has been called since creation or the last
// Restart().
func (j *Job) Submitted() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.submitted
}

// Failed tells you if the Job could not be submitted.
func (j *Job) Failed() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.failed
}

// Terminated tells you if Terminate() was called on the Job.
func (j *Job) Terminated() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.terminated
}

// Finished tells you if the Job is known to no longer be running.
func (j *Job) Finished() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.finished
}

// StartTime is when the Job was submitted.
func (j *Job) StartTime() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.startTime
}

// EndTime is when the Job was found to have finished, or was terminated.
func (j *Job) EndTime() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.endTime
}

// toSet converts a slice of ids to a set.
func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
