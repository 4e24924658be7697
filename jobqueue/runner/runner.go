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

/*
Package runner lets a Dispatcher start, watch and kill individual jobs using one
of several job execution backends.

Currently implemented backends are local (child processes of this one), cluster
(a Grid Engine or Slurm style batch system driven through its command line
tools), drmaa (a DRM reached through the DRMAA C library) and mock (the
simulated batch scheduler in the mocksched package, used in-process). The
implementation of each backend is in its own .go file.

It's a pseudo plug-in system in that you can easily add a go file that
implements the methods of the runneri interface to support a new backend. To
"register" a new runneri implementation you must add a case for it to New() and
rebuild.

    import "github.com/VertebrateResequencing/seqrun/jobqueue/runner"
    r, err := runner.New("local", &runner.ConfigLocal{Shell: "bash"})
    id, err := r.Run("qc", "/data/run1", "fastqc", []string{"lane1.fq"})
    // poll r.List() until id is no longer present, then read r.LogFile(id)
*/
package runner

import (
	"path/filepath"

	sync "github.com/sasha-s/go-deadlock"

	lru "github.com/hashicorp/golang-lru"
	"github.com/inconshreveable/log15"
)

// maxRecords is how many finished submissions a Runner remembers the log
// location of. Jobs still listed by the backend are always remembered.
const maxRecords = 10000

// Err* constants are found in the returned Errors under err.Err, so you can
// cast and check if it's a certain type of error.
var (
	ErrBadRunner   = "unknown runner name"
	ErrBadConfig   = "wrong type of config supplied"
	ErrMissingExe  = "required executable not found"
	ErrNoCommand   = "no command supplied"
	ErrSubmit      = "job submission failed"
	ErrQuery       = "job query failed"
	ErrNoDRMAA     = "this binary was built without DRMAA support"
	ErrNoScheduler = "no mock scheduler supplied"
)

// Error records an error and the operation and runner that caused it.
type Error struct {
	Runner string // the runner's Name
	Op     string // name of the method
	Err    string // one of our Err* vars, possibly with further detail
}

func (e Error) Error() string {
	return "runner(" + e.Runner + ") " + e.Op + "(): " + e.Err
}

// runneri interface must be satisfied to add support for a particular job
// execution backend.
type runneri interface {
	initialize(config interface{}, logger log15.Logger) error                    // do any initial set up to be able to use the backend
	run(name, workingDir, logDir, command string, args []string) (string, error) // achieve the aims of Run(), writing logs to logDir/name.[oe]<id>
	terminate(id string) bool                                                    // achieve the aims of Terminate()
	list() ([]string, error)                                                     // achieve the aims of List()
	errorState(id string) bool                                                   // achieve the aims of ErrorState()
	logDir() string                                                              // the configured log directory, if any
	cleanup()                                                                    // do any clean up once you've finished using the backend
}

// record is what we remember about a submission so we can later say where its
// logs are.
type record struct {
	name string
	dir  string
}

// Runner gives you access to all of the methods you'll need to run jobs on a
// backend.
type Runner struct {
	impl     runneri
	name     string
	active   map[string]record
	activeMu sync.RWMutex
	records  *lru.Cache
	log15.Logger
}

// New creates a new Runner to run jobs on the given backend. Possible names
// are "local", "cluster", "drmaa" and "mock". You must also provide a config
// struct appropriate for your chosen backend, eg. for the local backend you
// will provide a *ConfigLocal.
//
// Providing a logger allows for debug messages to be logged somewhere, along
// with any "harmless" or unreturnable errors. If not supplied, we use a default
// logger that discards all log messages.
func New(name string, config interface{}, logger ...log15.Logger) (*Runner, error) {
	var r *Runner
	switch name {
	case "local":
		r = &Runner{impl: new(local)}
	case "cluster":
		r = &Runner{impl: new(cluster)}
	case "drmaa":
		r = &Runner{impl: new(drm)}
	case "mock":
		r = &Runner{impl: new(mock)}
	default:
		return nil, Error{name, "New", ErrBadRunner}
	}

	var l log15.Logger
	if len(logger) == 1 {
		l = logger[0].New()
	} else {
		l = log15.New()
		l.SetHandler(log15.DiscardHandler())
	}
	r.Logger = l
	r.name = name
	r.active = make(map[string]record)

	var err error
	r.records, err = lru.New(maxRecords)
	if err != nil {
		return nil, err
	}

	err = r.impl.initialize(config, l)
	return r, err
}

// Name tells you which backend this Runner uses.
func (r *Runner) Name() string {
	return r.name
}

// Run starts exactly one unit of work that will run the given command with the
// given args in the given working directory, returning the id the backend
// assigned it. It does not wait for the command to finish.
//
// The command's stdout and stderr end up in the files named by LogFile() and
// ErrFile() for the returned id. An empty name is taken to be the base name of
// the command. A relative workingDir is taken to be relative to our own
// current directory. On failure the id is empty.
func (r *Runner) Run(name, workingDir, command string, args []string) (string, error) {
	if command == "" {
		return "", Error{r.name, "Run", ErrNoCommand}
	}
	if name == "" {
		name = filepath.Base(command)
	}

	workingDir, err := absPath(workingDir)
	if err != nil {
		return "", Error{r.name, "Run", err.Error()}
	}

	dir := r.impl.logDir()
	if dir == "" {
		dir = workingDir
	}
	dir, err = absPath(dir)
	if err != nil {
		return "", Error{r.name, "Run", err.Error()}
	}

	id, err := r.impl.run(name, workingDir, dir, command, args)
	if err != nil || id == "" {
		return "", err
	}

	r.activeMu.Lock()
	r.active[id] = record{name: name, dir: dir}
	r.activeMu.Unlock()
	r.Debug("ran job", "name", name, "id", id)
	return id, nil
}

// absPath makes non-empty paths absolute. The empty path stays empty so that
// backends can apply their own default.
func absPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	return filepath.Abs(path)
}

// Terminate asks the backend to kill the job with the given id. It is best
// effort: an unknown or already finished id is logged and false is returned.
func (r *Runner) Terminate(id string) bool {
	return r.impl.terminate(id)
}

// List returns the ids of jobs the backend currently considers active (queued
// or running) for this process or user. The answer may be stale by up to one
// polling interval.
func (r *Runner) List() ([]string, error) {
	r.activeMu.RLock()
	before := make([]string, 0, len(r.active))
	for id := range r.active {
		before = append(before, id)
	}
	r.activeMu.RUnlock()

	ids, err := r.impl.list()
	if err != nil {
		return ids, err
	}
	r.retire(before, ids)
	return ids, nil
}

// retire moves the records of the given previously active jobs that are no
// longer listed out of the active set and in to the bounded cache of finished
// jobs. Jobs started during the listing are left alone.
func (r *Runner) retire(before, listed []string) {
	current := make(map[string]bool, len(listed))
	for _, id := range listed {
		current[id] = true
	}

	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	for _, id := range before {
		rec, found := r.active[id]
		if !found || current[id] {
			continue
		}
		r.records.Add(id, rec)
		delete(r.active, id)
	}
}

// LogFile returns the path to the stdout file of the job with the given id,
// which is <name>.o<id> in the configured log directory or the job's working
// directory. Returns the empty string for ids this Runner did not start.
func (r *Runner) LogFile(id string) string {
	return r.outputPath(id, ".o")
}

// ErrFile is like LogFile, but for the job's stderr file, <name>.e<id>.
func (r *Runner) ErrFile(id string) string {
	return r.outputPath(id, ".e")
}

func (r *Runner) outputPath(id, infix string) string {
	r.activeMu.RLock()
	rec, found := r.active[id]
	r.activeMu.RUnlock()
	if !found {
		val, cached := r.records.Get(id)
		if !cached {
			return ""
		}
		rec = val.(record)
	}
	return LogPath(rec.dir, rec.name, infix, id)
}

// LogPath gives the deterministic output file path for a job with the given
// name and id in the given directory. infix is ".o" or ".e".
func LogPath(dir, name, infix, id string) string {
	return filepath.Join(dir, name+infix+id)
}

// ErrorState tells you if the backend reports that the job with the given id
// has failed but is still listed (and so will never finish by itself).
func (r *Runner) ErrorState(id string) bool {
	return r.impl.errorState(id)
}

// Cleanup means you've finished using a Runner and it can kill any remaining
// jobs it started and release any other used resources.
func (r *Runner) Cleanup() {
	r.impl.cleanup()
}
