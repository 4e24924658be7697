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

// This file contains the Dispatcher: a FIFO queue of Jobs that are submitted
// through a Runner while keeping the number running under a ceiling.

import (
	"context"
	"os"
	"strconv"
	"time"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/VertebrateResequencing/seqrun/limiter"
	"github.com/gofrs/uuid"
	"github.com/inconshreveable/log15"
)

// Ceiling says what is counted against a Dispatcher's maximum number of
// concurrent jobs.
type Ceiling int

const (
	// CeilingDispatcher counts only the jobs this Dispatcher is running. This
	// is the default.
	CeilingDispatcher Ceiling = iota

	// CeilingBackend counts every job the Runner lists as active, including
	// those submitted by something other than this Dispatcher.
	CeilingBackend
)

// DefaultPollInterval is how long Run() waits between Update()s when blocking.
const DefaultPollInterval = 5 * time.Second

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets how long Run() waits between Update()s.
func WithPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.pollInterval = d
		}
	}
}

// WithStartPollInterval sets how long Job.Start() waits between checks that a
// newly submitted job has appeared.
func WithStartPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.startPollInterval = d
		}
	}
}

// WithStartAttempts sets how many times Job.Start() checks that a newly
// submitted job has appeared.
func WithStartAttempts(n int) Option {
	return func(disp *Dispatcher) {
		if n > 0 {
			disp.startAttempts = n
		}
	}
}

// WithCeiling sets what is counted against the maximum number of concurrent
// jobs.
func WithCeiling(c Ceiling) Option {
	return func(disp *Dispatcher) {
		disp.ceiling = c
	}
}

// WithLogger allows for debug messages to be logged somewhere, along with any
// "harmless" or unreturnable errors. Without it, log messages are discarded.
func WithLogger(l log15.Logger) Option {
	return func(disp *Dispatcher) {
		disp.logger = l
	}
}

// Dispatcher queues Jobs and submits them through a Runner in the order they
// were added, never letting more than its maximum run at once. It works by
// polling: each Update() reaps jobs that have finished and starts waiting jobs
// in to the freed slots.
type Dispatcher struct {
	runner            Runner
	max               int
	pollInterval      time.Duration
	startPollInterval time.Duration
	startAttempts     int
	ceiling           Ceiling
	logger            log15.Logger
	queue             []*Job
	running           []*Job
	completed         []*Job
	limiter           *limiter.Limiter
	limits            map[string]int
	limitsMu          sync.RWMutex
	lastCounts        [3]int
	reported          bool
	mu                sync.Mutex
	log15.Logger
}

// New creates a Dispatcher that runs jobs through the given Runner, at most
// maxConcurrentJobs at once (values below 1 are treated as 1).
func New(r Runner, maxConcurrentJobs int, opts ...Option) *Dispatcher {
	if maxConcurrentJobs < 1 {
		maxConcurrentJobs = 1
	}

	d := &Dispatcher{
		runner:            r,
		max:               maxConcurrentJobs,
		pollInterval:      DefaultPollInterval,
		startPollInterval: DefaultStartPollInterval,
		startAttempts:     DefaultStartAttempts,
		limits:            make(map[string]int),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		l := log15.New()
		l.SetHandler(log15.DiscardHandler())
		d.logger = l
	}
	d.Logger = d.logger.New("dispatcher", uuid.Must(uuid.NewV4()).String())
	d.limiter = limiter.New(d.limitOf)
	return d
}

// limitOf is our limiter callback.
func (d *Dispatcher) limitOf(group string) int {
	d.limitsMu.RLock()
	defer d.limitsMu.RUnlock()
	if limit, set := d.limits[group]; set {
		return limit
	}
	return limiter.Unlimited
}

// SetLimit sets the maximum number of jobs with the given limit group in their
// LimitGroups that may run at once. Groups without a limit are unlimited.
func (d *Dispatcher) SetLimit(group string, limit int) {
	d.limitsMu.Lock()
	d.limits[group] = limit
	d.limitsMu.Unlock()
	d.limiter.SetLimit(group, limit)
}

// RemoveLimit makes the given limit group unlimited again. Jobs already
// running in the group still count against it if a limit is set later.
func (d *Dispatcher) RemoveLimit(group string) {
	d.limitsMu.Lock()
	delete(d.limits, group)
	d.limitsMu.Unlock()
	d.limiter.RemoveLimit(group)
}

// Limit tells you the limit of the given limit group, or limiter.Unlimited.
func (d *Dispatcher) Limit(group string) int {
	return d.limiter.GetLimit(group)
}

// Add appends Jobs to the queue. They are bound to this Dispatcher's Runner and
// start polling settings.
func (d *Dispatcher) Add(jobs ...*Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, j := range jobs {
		j.bind(d.runner, d.startPollInterval, d.startAttempts, d.Logger)
		d.queue = append(d.queue, j)
	}
}

// AddCommand creates a Job for the given command and adds it to the queue,
// returning the Job.
func (d *Dispatcher) AddCommand(name, workingDir, command string, args ...string) *Job {
	j := &Job{
		Name:       name,
		WorkingDir: workingDir,
		Command:    command,
		Args:       args,
	}
	d.Add(j)
	return j
}

// Update reaps running jobs that have finished (moving them to the completed
// list), terminates running jobs that the Runner says are in an error state,
// and then starts queued jobs in FIFO order while there is room under the
// ceiling. Starting a job blocks as described for Job.Start().
func (d *Dispatcher) Update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reap()
	d.admit()
	d.reportCounts()
}

// reap does the first part of Update(). You must hold d.mu.
func (d *Dispatcher) reap() {
	if len(d.running) == 0 {
		return
	}

	active := make(map[string]bool)
	ids, err := d.runner.List()
	if err != nil {
		d.Warn("list failed, not reaping this time", "err", err)
	} else {
		active = toSet(ids)
	}

	stillRunning := d.running[:0]
	for _, j := range d.running {
		// a failed list must not make submitted jobs look finished
		if err != nil && !j.Finished() {
			stillRunning = append(stillRunning, j)
			continue
		}

		if !j.isRunningIn(active) {
			d.complete(j)
			continue
		}

		if !j.Terminated() && j.errorState() {
			d.Warn("job is in an error state, terminating it", "job", j.Name, "id", j.ID())
			j.Terminate()
		}
		stillRunning = append(stillRunning, j)
	}

	for i := len(stillRunning); i < len(d.running); i++ {
		d.running[i] = nil
	}
	d.running = stillRunning
}

// complete moves a finished job to the completed list, fixes the permissions
// of its log files and frees its limit groups. You must hold d.mu.
func (d *Dispatcher) complete(j *Job) {
	d.completed = append(d.completed, j)

	for _, path := range []string{j.LogPath(), j.ErrPath()} {
		if path == "" {
			continue
		}
		if err := os.Chmod(path, 0664); err != nil { // #nosec
			d.Debug("could not fix log file permissions", "path", path, "err", err)
		}
	}

	if err := d.limiter.Decrement(j.LimitGroups); err != nil {
		d.Warn("limit group decrement failed", "job", j.Name, "err", err)
	}
	d.Debug("job completed", "job", j.Name, "id", j.ID(), "status", j.Status())
}

// admit does the second part of Update(). You must hold d.mu.
func (d *Dispatcher) admit() {
	for len(d.queue) > 0 {
		active, err := d.activeCount()
		if err != nil {
			d.Warn("could not count active jobs, not starting any this time", "err", err)
			return
		}
		if active >= d.max {
			return
		}

		j := d.queue[0]
		if !d.limiter.Increment(j.LimitGroups) {
			d.Debug("head of queue is limited", "job", j.Name, "groups", d.groupUsage(j.LimitGroups))
			return
		}

		d.queue[0] = nil
		d.queue = d.queue[1:]
		j.Start()
		d.running = append(d.running, j)
	}
}

// groupUsage describes how full each of the given limit groups is, as
// group=current/limit, for logging.
func (d *Dispatcher) groupUsage(groups []string) []string {
	usage := make([]string, len(groups))
	for i, group := range groups {
		limit := "unlimited"
		if l := d.Limit(group); l != limiter.Unlimited {
			limit = strconv.Itoa(l)
		}
		usage[i] = group + "=" + strconv.Itoa(d.limiter.Current(group)) + "/" + limit
	}
	return usage
}

// activeCount returns the number counted against the ceiling. You must hold
// d.mu.
func (d *Dispatcher) activeCount() (int, error) {
	if d.ceiling == CeilingBackend {
		ids, err := d.runner.List()
		return len(ids), err
	}

	n := 0
	for _, j := range d.running {
		if !j.Finished() {
			n++
		}
	}
	return n, nil
}

// reportCounts logs the waiting, running and completed counts if they changed
// since last time. You must hold d.mu.
func (d *Dispatcher) reportCounts() {
	counts := [3]int{len(d.queue), len(d.running), len(d.completed)}
	if d.reported && counts == d.lastCounts {
		return
	}
	d.lastCounts = counts
	d.reported = true
	d.Info("job counts", "waiting", counts[0], "running", counts[1], "completed", counts[2])
}

// Run calls Update() once. If blocking, it then keeps calling Update() every
// poll interval until there are no waiting or running jobs left, returning the
// context's error if it ends first.
func (d *Dispatcher) Run(ctx context.Context, blocking bool) error {
	d.Update()
	if !blocking {
		return nil
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for !d.done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Update()
		}
	}
	return nil
}

// done tells you if there are no waiting or running jobs.
func (d *Dispatcher) done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) == 0 && len(d.running) == 0
}

// NWaiting tells you how many jobs are queued but not yet started.
func (d *Dispatcher) NWaiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// NRunning tells you how many jobs have been started but not yet seen to
// finish.
func (d *Dispatcher) NRunning() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// NCompleted tells you how many jobs have finished.
func (d *Dispatcher) NCompleted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.completed)
}

// Completed returns the finished jobs in the order they were seen to finish.
func (d *Dispatcher) Completed() []*Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Job(nil), d.completed...)
}
