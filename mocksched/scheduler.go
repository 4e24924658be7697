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

// This file contains the Scheduler and its public submit, query and cancel
// commands.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/VertebrateResequencing/seqrun/internal"
	"github.com/inconshreveable/log15"
)

// Defaults used for empty SubmitRequest and Config fields.
const (
	DefaultOutputTmpl = "%x.o%j"
	DefaultErrorTmpl  = "%x.e%j"
	DefaultPartition  = "normal"
	DefaultMaxJobs    = 4
	wrapJobName       = "wrap"
)

var partitionRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Config holds the configuration options of a Scheduler.
type Config struct {
	// Dir is where wrapper scripts and exit code marker files are written.
	Dir string

	// MaxJobs is the most jobs that may be in state R at once.
	MaxJobs int

	// SbatchDelay is how long after submission a job must wait before it can
	// be admitted.
	SbatchDelay time.Duration

	// Shell runs the wrapper scripts; defaults to bash.
	Shell string

	// DefaultPartition is used for submissions that don't name one.
	DefaultPartition string

	// Hostname is shown as the node running jobs; defaults to this host's
	// name.
	Hostname string
}

// SubmitRequest describes a job to Submit().
type SubmitRequest struct {
	User       string   // defaults to the current user
	Name       string   // defaults to the base name of Command, or "wrap"
	Partition  string   // defaults to the Config's DefaultPartition
	NTasks     int      // 0 means the default of 1
	Output     string   // stdout template; defaults to DefaultOutputTmpl
	Error      string   // stderr template; defaults to DefaultErrorTmpl
	Export     string   // defaults to ALL
	WorkingDir string   // defaults to the current directory
	Command    string   // the executable to run
	Args       []string // its args
	Wrap       string   // a shell command line to run instead of Command
}

// CancelResult is the outcome of cancelling one job. Err is empty on
// success, or one of the Cancel* messages.
type CancelResult struct {
	ID  int64
	Err string
}

// Scheduler is a simulated batch scheduler that runs jobs as local processes,
// keeping its job table in a Store.
type Scheduler struct {
	config    Config
	store     Store
	shellPath string
	held      map[int64]*exec.Cmd
	heldMu    sync.Mutex
	mu        sync.Mutex
	log15.Logger
}

// New creates a Scheduler that keeps its job table in the given store.
//
// Providing a logger allows for debug messages to be logged somewhere, along
// with any "harmless" or unreturnable errors. If not supplied, we use a default
// logger that discards all log messages.
func New(config Config, store Store, logger ...log15.Logger) (*Scheduler, error) {
	var l log15.Logger
	if len(logger) == 1 {
		l = logger[0].New("mocksched", config.Dir)
	} else {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}

	if config.Dir == "" {
		return nil, Error{Op: "New", Err: "a Dir is required"}
	}
	if err := os.MkdirAll(config.Dir, 0700); err != nil {
		return nil, err
	}
	if config.MaxJobs <= 0 {
		config.MaxJobs = DefaultMaxJobs
	}
	if config.Shell == "" {
		config.Shell = "bash"
	}
	if config.DefaultPartition == "" {
		config.DefaultPartition = DefaultPartition
	}
	if config.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			config.Hostname = host
		} else {
			config.Hostname = "localhost"
		}
	}

	shellPath := config.Shell
	if !filepath.IsAbs(shellPath) {
		if path := internal.Which(shellPath); path != "" {
			shellPath = path
		}
	}

	return &Scheduler{
		config:    config,
		store:     store,
		shellPath: shellPath,
		held:      make(map[int64]*exec.Cmd),
		Logger:    l,
	}, nil
}

// Hostname is the name shown as the node running jobs.
func (s *Scheduler) Hostname() string {
	return s.config.Hostname
}

// Submit validates the request, stores it as a pending job, runs a
// reconciliation pass (which may admit it straight away) and returns the new
// job's id.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (int64, error) {
	rec, err := s.validate(req)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.State = StatePending
	rec.SbatchTime = time.Now()
	id, err := s.store.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	s.Debug("submitted", "id", id, "name", rec.Name, "cmd", rec.Command)

	if err = s.reconcile(ctx); err != nil {
		s.Error("reconciliation after submit failed", "err", err)
	}
	return id, nil
}

// validate checks the request and fills in defaults, returning the row to
// insert.
func (s *Scheduler) validate(req SubmitRequest) (*Record, error) {
	bad := func(msg string) error {
		return Error{Op: "Submit", Err: ErrBadRequest + ": " + msg}
	}

	rec := &Record{
		User:       req.User,
		Name:       req.Name,
		Partition:  req.Partition,
		NSlots:     req.NTasks,
		OutputTmpl: req.Output,
		ErrorTmpl:  req.Error,
		Export:     req.Export,
		WorkingDir: req.WorkingDir,
		Command:    req.Command,
		Args:       req.Args,
	}

	switch {
	case req.Wrap != "" && req.Command != "":
		return nil, bad("a command may not be given as well as --wrap")
	case req.Wrap != "":
		rec.Command = s.shellPath
		rec.Args = []string{"-c", req.Wrap}
		if rec.Name == "" {
			rec.Name = wrapJobName
		}
	case req.Command == "":
		return nil, bad("no command given")
	}

	if rec.Name == "" {
		rec.Name = filepath.Base(rec.Command)
	}
	if strings.ContainsAny(rec.Name, " \t\r\n") {
		return nil, bad("job name may not contain whitespace")
	}

	if rec.Partition == "" {
		rec.Partition = s.config.DefaultPartition
	}
	if !partitionRegex.MatchString(rec.Partition) {
		return nil, bad("invalid partition name " + rec.Partition)
	}

	if rec.NSlots == 0 {
		rec.NSlots = 1
	}
	if rec.NSlots < 0 {
		return nil, bad(fmt.Sprintf("invalid number of tasks %d", rec.NSlots))
	}

	if rec.OutputTmpl == "" {
		rec.OutputTmpl = DefaultOutputTmpl
	}
	if rec.ErrorTmpl == "" {
		rec.ErrorTmpl = DefaultErrorTmpl
	}
	if strings.ContainsAny(rec.OutputTmpl+rec.ErrorTmpl, "\r\n") {
		return nil, bad("output templates may not contain line breaks")
	}

	if rec.Export == "" {
		rec.Export = ExportAll
	}
	if _, err := ParseExport(rec.Export); err != nil {
		return nil, err
	}

	if rec.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		rec.WorkingDir = wd
	}
	wd, err := filepath.Abs(rec.WorkingDir)
	if err != nil {
		return nil, bad(err.Error())
	}
	rec.WorkingDir = wd
	if info, errs := os.Stat(wd); errs != nil || !info.IsDir() {
		return nil, bad("working directory " + wd + " does not exist")
	}

	if rec.User == "" {
		user, erru := internal.Username()
		if erru != nil {
			return nil, erru
		}
		rec.User = user
	}

	return rec, nil
}

// Get runs a reconciliation pass and then returns the job with the given id.
func (s *Scheduler) Get(ctx context.Context, id int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reconcile(ctx); err != nil {
		s.Error("reconciliation before get failed", "err", err)
	}
	return s.store.Get(ctx, id)
}

// Query runs a reconciliation pass and then returns every job not yet in state
// c, optionally only those belonging to the given user, in id order.
func (s *Scheduler) Query(ctx context.Context, user string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reconcile(ctx); err != nil {
		s.Error("reconciliation before query failed", "err", err)
	}

	return s.store.List(ctx, Filter{
		States: []State{StatePending, StateRunning, StateFailed, StateCancelled},
		User:   user,
	})
}

// Cancel runs a reconciliation pass and then marks each given job for
// cancellation. The jobs are actually killed by the next reconciliation pass.
// Problems with individual ids are reported in the results, not as errors.
func (s *Scheduler) Cancel(ctx context.Context, ids ...int64) []CancelResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reconcile(ctx); err != nil {
		s.Error("reconciliation before cancel failed", "err", err)
	}

	results := make([]CancelResult, len(ids))
	for i, id := range ids {
		results[i] = CancelResult{ID: id, Err: s.markCancelled(ctx, id)}
	}
	return results
}

// markCancelled moves the job to state CA, returning a Cancel* message if it
// can't be.
func (s *Scheduler) markCancelled(ctx context.Context, id int64) string {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		rec, err := s.store.Get(ctx, id)
		if err != nil {
			if !IsNotFound(err) {
				s.Warn("cancel lookup failed", "id", id, "err", err)
			}
			return CancelInvalidID
		}

		if rec.State == StateCompleted || rec.State == StateCancelled {
			return CancelCompleted
		}

		from := rec.State
		next, err := rec.transition(StateCancelled)
		if err != nil {
			return CancelCompleted
		}

		err = s.store.Transition(ctx, next, from)
		if err == nil {
			s.Debug("marked for cancellation", "id", id)
			return ""
		}
		s.Debug("cancel transition failed, retrying", "id", id, "err", err)
	}
	return CancelCompleted
}

// Reconcile runs a reconciliation pass on its own, reaping finished jobs,
// killing cancelled ones and admitting pending ones.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcile(ctx)
}

// Close releases the Scheduler's store. Jobs that are running carry on.
func (s *Scheduler) Close() error {
	return s.store.Close()
}
