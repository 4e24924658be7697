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

// This file contains a runneri implementation for 'cluster': submitting jobs
// to a Grid Engine or Slurm style batch system using its command line tools.

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/VertebrateResequencing/seqrun/internal"
	"github.com/alessio/shellescape"
	"github.com/inconshreveable/log15"
	cache "github.com/patrickmn/go-cache"
)

const (
	// DialectSGE is the name of the Grid Engine (qsub/qstat/qdel) dialect.
	DialectSGE = "sge"

	// DialectSlurm is the name of the Slurm (sbatch/squeue/scancel) dialect,
	// which also works against seqrun's own mock scheduler.
	DialectSlurm = "slurm"

	queryCacheKey = "query"
)

// cluster is our implementer of runneri
type cluster struct {
	config     *ConfigCluster
	dialect    *dialect
	submitExe  string
	queryExe   string
	deleteExe  string
	queryCache *cache.Cache
	user       string
	log15.Logger
}

// ConfigCluster represents the configuration options required by the cluster
// runner.
type ConfigCluster struct {
	// Dialect is one of DialectSGE (the default) or DialectSlurm.
	Dialect string

	// Queue is the queue (sge) or partition (slurm) to submit to. Blank means
	// the system default.
	Queue string

	// LogDir, if set, is where job output files are written instead of the
	// job's working directory.
	LogDir string

	// SubmitExe, QueryExe and DeleteExe override the paths to the submission,
	// query and deletion tools. By default the dialect's tools are looked for
	// in $PATH.
	SubmitExe string
	QueryExe  string
	DeleteExe string

	// CacheTTL is how long a parsed query result is reused for. 0 disables
	// caching, so every List() and ErrorState() runs the query tool.
	CacheTTL time.Duration
}

// initialize finds the tools for our dialect.
func (s *cluster) initialize(config interface{}, logger log15.Logger) error {
	c, ok := config.(*ConfigCluster)
	if !ok {
		return Error{"cluster", "initialize", ErrBadConfig}
	}
	s.config = c
	if s.config.Dialect == "" {
		s.config.Dialect = DialectSGE
	}
	s.Logger = logger.New("runner", "cluster", "dialect", s.config.Dialect)

	d, found := dialects[s.config.Dialect]
	if !found {
		return Error{"cluster", "initialize", ErrBadConfig + ": unknown dialect " + s.config.Dialect}
	}
	s.dialect = d

	var err error
	s.submitExe, err = findExe(c.SubmitExe, d.submitExe)
	if err != nil {
		return err
	}
	s.queryExe, err = findExe(c.QueryExe, d.queryExe)
	if err != nil {
		return err
	}
	s.deleteExe, err = findExe(c.DeleteExe, d.deleteExe)
	if err != nil {
		return err
	}

	if c.CacheTTL > 0 {
		s.queryCache = cache.New(c.CacheTTL, 2*c.CacheTTL)
	}

	s.user, err = internal.Username()
	if err != nil {
		s.Warn("could not determine username", "err", err)
	}
	return nil
}

// findExe returns the configured path if set, otherwise the real path to the
// given default executable.
func findExe(configured, def string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if path := internal.Which(def); path != "" {
		return path, nil
	}
	return "", Error{"cluster", "initialize", ErrMissingExe + ": " + def}
}

func (s *cluster) logDir() string {
	return s.config.LogDir
}

// run submits the command line and extracts the job id from the submission
// tool's output. Anything on stderr is logged as a warning. If the output
// names a job we return its id even if the tool exited with an error, since
// the job was queued all the same; no id in the output gives an empty id, or
// an error if the tool failed.
func (s *cluster) run(name, workingDir, logDir, command string, args []string) (string, error) {
	cmdline := shellescape.QuoteCommand(append([]string{command}, args...))
	subArgs := s.dialect.submitArgs(name, s.config.Queue, workingDir, logDir, cmdline)

	sub := exec.Command(s.submitExe, subArgs...) // #nosec
	var stdout, stderr bytes.Buffer
	sub.Stdout = &stdout
	sub.Stderr = &stderr
	err := sub.Run()
	s.invalidate()

	if stderr.Len() > 0 {
		s.Warn("submission wrote to stderr", "exe", s.submitExe, "stderr", strings.TrimSpace(stderr.String()))
	}

	matches := s.dialect.submitRegex.FindStringSubmatch(stdout.String())
	if len(matches) == 2 {
		if err != nil {
			s.Warn("submission exited with an error but gave a job id", "exe", s.submitExe, "id", matches[1], "err", err)
		}
		return matches[1], nil
	}

	if err != nil {
		return "", Error{"cluster", "run", fmt.Sprintf("%s: %s %s: %s", ErrSubmit, s.submitExe, subArgs, err)}
	}
	s.Warn("submission gave unexpected output", "exe", s.submitExe, "stdout", stdout.String())
	return "", nil
}

// terminate runs the deletion tool on the id.
func (s *cluster) terminate(id string) bool {
	out, err := exec.Command(s.deleteExe, id).CombinedOutput() // #nosec
	s.invalidate()
	if err != nil {
		s.Warn("terminate failed", "exe", s.deleteExe, "id", id, "err", err, "out", strings.TrimSpace(string(out)))
		return false
	}
	return true
}

// list returns the ids of every job in the query tool's output.
func (s *cluster) list() ([]string, error) {
	entries, err := s.query()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.id] {
			continue
		}
		seen[e.id] = true
		ids = append(ids, e.id)
	}
	return ids, nil
}

// errorState looks up the job's state code and asks the dialect if it is an
// error state.
func (s *cluster) errorState(id string) bool {
	entries, err := s.query()
	if err != nil {
		s.Warn("errorState query failed", "id", id, "err", err)
		return false
	}

	for _, e := range entries {
		if e.id == id {
			return s.dialect.isError(e.state)
		}
	}
	return false
}

// query runs the query tool and parses its output, reusing a recent result if
// caching is enabled.
func (s *cluster) query() ([]queueEntry, error) {
	if s.queryCache != nil {
		if cached, found := s.queryCache.Get(queryCacheKey); found {
			return cached.([]queueEntry), nil
		}
	}

	q := exec.Command(s.queryExe, s.dialect.queryArgs(s.user)...) // #nosec
	var stdout, stderr bytes.Buffer
	q.Stdout = &stdout
	q.Stderr = &stderr
	if err := q.Run(); err != nil {
		return nil, Error{"cluster", "query", fmt.Sprintf("%s: %s: %s %s", ErrQuery, s.queryExe, err, strings.TrimSpace(stderr.String()))}
	}

	entries, err := s.dialect.parseQuery(&stdout)
	if err != nil {
		return nil, Error{"cluster", "query", fmt.Sprintf("%s: %s", ErrQuery, err)}
	}

	if s.queryCache != nil {
		s.queryCache.SetDefault(queryCacheKey, entries)
	}
	return entries, nil
}

// invalidate forgets any cached query result, since we just changed what it
// would say.
func (s *cluster) invalidate() {
	if s.queryCache != nil {
		s.queryCache.Delete(queryCacheKey)
	}
}

// cleanup does nothing: jobs submitted to a cluster are meant to outlive us.
func (s *cluster) cleanup() {}

// regexps used by the dialects
var (
	sgeSubmitRegex   = regexp.MustCompile(`(?i)your job(?:-array)? (\d+)`)
	slurmSubmitRegex = regexp.MustCompile(`Submitted batch job (\d+)`)
)
