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

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/VertebrateResequencing/seqrun/mocksched"
	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"
)

var testLogger = log15.New()

func init() {
	testLogger.SetHandler(log15.LvlFilterHandler(log15.LvlError, log15.StderrHandler))
}

// waitUntilGone polls List() until the id is no longer present, or the timeout
// passes. It returns true if the id went away.
func waitUntilGone(r *Runner, id string, timeout time.Duration) bool {
	limit := time.After(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		ids, err := r.List()
		So(err, ShouldBeNil)
		found := false
		for _, listed := range ids {
			if listed == id {
				found = true
				break
			}
		}
		if !found {
			return true
		}

		select {
		case <-ticker.C:
		case <-limit:
			return false
		}
	}
}

func writeScript(dir, name, content string) string {
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+content), 0700) // #nosec
	So(err, ShouldBeNil)
	return path
}

func readFile(path string) string {
	content, err := os.ReadFile(path)
	So(err, ShouldBeNil)
	return string(content)
}

func TestRunner(t *testing.T) {
	Convey("New rejects unknown runners and the wrong config", t, func() {
		_, err := New("pbs", nil)
		So(err, ShouldNotBeNil)
		rerr, ok := err.(Error)
		So(ok, ShouldBeTrue)
		So(rerr.Err, ShouldEqual, ErrBadRunner)

		_, err = New("local", &ConfigCluster{})
		So(err, ShouldNotBeNil)
		So(err.(Error).Err, ShouldEqual, ErrBadConfig)

		_, err = New("mock", &ConfigMock{})
		So(err, ShouldNotBeNil)
		So(err.(Error).Err, ShouldEqual, ErrNoScheduler)
	})

	Convey("LogPath is deterministic", t, func() {
		So(LogPath("/logs", "qc", ".o", "42"), ShouldEqual, "/logs/qc.o42")
		So(LogPath("/logs", "qc", ".e", "42"), ShouldEqual, "/logs/qc.e42")
	})

	Convey("Given a local runner", t, func() {
		r, err := New("local", &ConfigLocal{Shell: "sh"}, testLogger)
		So(err, ShouldBeNil)
		So(r.Name(), ShouldEqual, "local")
		defer r.Cleanup()
		wd := t.TempDir()

		Convey("Run with no command fails", func() {
			_, err := r.Run("qc", wd, "", nil)
			So(err, ShouldNotBeNil)
			So(err.(Error).Err, ShouldEqual, ErrNoCommand)
		})

		Convey("A job's output ends up in <name>.o<id> in its working directory", func() {
			id, err := r.Run("qc", wd, "sh", []string{"-c", "echo out $0; echo err >&2", "a b"})
			So(err, ShouldBeNil)
			So(id, ShouldNotBeEmpty)
			So(waitUntilGone(r, id, 10*time.Second), ShouldBeTrue)

			So(r.LogFile(id), ShouldEqual, filepath.Join(wd, "qc.o"+id))
			So(r.ErrFile(id), ShouldEqual, filepath.Join(wd, "qc.e"+id))
			So(readFile(r.LogFile(id)), ShouldEqual, "out a b\n")
			So(readFile(r.ErrFile(id)), ShouldEqual, "err\n")
			So(r.ErrorState(id), ShouldBeFalse)
			So(r.LogFile("unknown"), ShouldBeEmpty)
		})

		Convey("A relative working directory is resolved against our current directory", func() {
			orig, err := os.Getwd()
			So(err, ShouldBeNil)
			So(os.Mkdir(filepath.Join(wd, "sub"), 0700), ShouldBeNil)
			So(os.Chdir(wd), ShouldBeNil)
			defer func() {
				So(os.Chdir(orig), ShouldBeNil)
			}()

			id, err := r.Run("qc", "sub", "sh", []string{"-c", "echo out > made.txt; echo out"})
			So(err, ShouldBeNil)
			So(waitUntilGone(r, id, 10*time.Second), ShouldBeTrue)

			So(r.LogFile(id), ShouldEqual, filepath.Join(wd, "sub", "qc.o"+id))
			So(readFile(r.LogFile(id)), ShouldEqual, "out\n")
			So(readFile(filepath.Join(wd, "sub", "made.txt")), ShouldEqual, "out\n")
			_, err = os.Stat(filepath.Join(wd, "sub", "sub"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("An empty name defaults to the command's base name", func() {
			id, err := r.Run("", wd, "/bin/echo", []string{"hi"})
			So(err, ShouldBeNil)
			So(waitUntilGone(r, id, 10*time.Second), ShouldBeTrue)
			So(r.LogFile(id), ShouldEqual, filepath.Join(wd, "echo.o"+id))
			So(readFile(r.LogFile(id)), ShouldEqual, "hi\n")
		})

		Convey("A configured log dir is used instead of the working directory", func() {
			logDir := t.TempDir()
			lr, err := New("local", &ConfigLocal{LogDir: logDir}, testLogger)
			So(err, ShouldBeNil)
			defer lr.Cleanup()

			id, err := lr.Run("qc", wd, "pwd", nil)
			So(err, ShouldBeNil)
			So(waitUntilGone(lr, id, 10*time.Second), ShouldBeTrue)
			So(lr.LogFile(id), ShouldEqual, filepath.Join(logDir, "qc.o"+id))
			realWD, err := filepath.EvalSymlinks(wd)
			So(err, ShouldBeNil)
			So(strings.TrimSpace(readFile(lr.LogFile(id))), ShouldBeIn, []string{wd, realWD})
		})

		Convey("Running jobs are listed and can be terminated", func() {
			id1, err := r.Run("s1", wd, "sleep", []string{"60"})
			So(err, ShouldBeNil)
			id2, err := r.Run("s2", wd, "sleep", []string{"60"})
			So(err, ShouldBeNil)

			ids, err := r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldContain, id1)
			So(ids, ShouldContain, id2)
			So(sort.SliceIsSorted(ids, func(i, j int) bool {
				a, _ := strconv.Atoi(ids[i])
				b, _ := strconv.Atoi(ids[j])
				return a < b
			}), ShouldBeTrue)

			So(r.Terminate(id1), ShouldBeTrue)
			So(waitUntilGone(r, id1, 10*time.Second), ShouldBeTrue)
			ids, err = r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldContain, id2)

			Convey("Terminating an unknown or finished job returns false", func() {
				So(r.Terminate(id1), ShouldBeFalse)
				So(r.Terminate("0"), ShouldBeFalse)
			})

			Convey("Cleanup kills the rest", func() {
				r.Cleanup()
				So(waitUntilGone(r, id2, 10*time.Second), ShouldBeTrue)
			})
		})
	})

	Convey("Given fake slurm tools", t, func() {
		bin := t.TempDir()
		state := filepath.Join(bin, "state")
		argsFile := filepath.Join(bin, "args")
		cancelled := filepath.Join(bin, "cancelled")
		writeScript(bin, "sbatch", `printf '%s\n' "$@" > `+argsFile+`
echo "Submitted batch job 42"
`)
		writeScript(bin, "squeue", `echo "             JOBID PARTITION     NAME     USER ST       TIME  NODES NODELIST(REASON)"
cat `+state+` 2>/dev/null
exit 0
`)
		writeScript(bin, "scancel", `echo "$1" >> `+cancelled+`
`)

		config := &ConfigCluster{
			Dialect:   DialectSlurm,
			Queue:     "long",
			SubmitExe: filepath.Join(bin, "sbatch"),
			QueryExe:  filepath.Join(bin, "squeue"),
			DeleteExe: filepath.Join(bin, "scancel"),
		}
		r, err := New("cluster", config, testLogger)
		So(err, ShouldBeNil)
		wd := t.TempDir()

		Convey("Run submits the quoted command line and returns the id", func() {
			id, err := r.Run("qc", wd, "echo", []string{"a b"})
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "42")

			args := strings.Split(strings.TrimSpace(readFile(argsFile)), "\n")
			So(args, ShouldResemble, []string{
				"-J", "qc", "-p", "long", "--chdir", wd,
				"-o", filepath.Join(wd, "%x.o%j"),
				"-e", filepath.Join(wd, "%x.e%j"),
				"--wrap", "echo 'a b'",
			})
			So(r.LogFile(id), ShouldEqual, filepath.Join(wd, "qc.o42"))
		})

		Convey("List and ErrorState parse squeue output", func() {
			err := os.WriteFile(state, []byte(
				"                42    normal       qc    alice  R       0:05      1 node1\n"+
					"                43    normal       qc    alice PD       0:00      1 (Resources)\n"+
					"              44_1    normal       qc    alice  F       0:00      1 (JobLaunchFailure)\n"+
					"              44_2    normal       qc    alice  F       0:00      1 (JobLaunchFailure)\n"), 0600)
			So(err, ShouldBeNil)

			ids, err := r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"42", "43", "44"})
			So(r.ErrorState("42"), ShouldBeFalse)
			So(r.ErrorState("44"), ShouldBeTrue)
			So(r.ErrorState("99"), ShouldBeFalse)
		})

		Convey("Terminate runs scancel", func() {
			So(r.Terminate("42"), ShouldBeTrue)
			So(readFile(cancelled), ShouldEqual, "42\n")
		})

		Convey("Query results can be cached", func() {
			cached, err := New("cluster", &ConfigCluster{
				Dialect:   DialectSlurm,
				SubmitExe: config.SubmitExe,
				QueryExe:  config.QueryExe,
				DeleteExe: config.DeleteExe,
				CacheTTL:  time.Minute,
			}, testLogger)
			So(err, ShouldBeNil)

			ids, err := cached.List()
			So(err, ShouldBeNil)
			So(len(ids), ShouldEqual, 0)

			err = os.WriteFile(state, []byte("                42    normal       qc    alice  R       0:05      1 node1\n"), 0600)
			So(err, ShouldBeNil)
			ids, err = cached.List()
			So(err, ShouldBeNil)
			So(len(ids), ShouldEqual, 0)

			So(cached.Terminate("42"), ShouldBeTrue)
			ids, err = cached.List()
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"42"})
		})

		Convey("Missing tools are reported", func() {
			_, err := New("cluster", &ConfigCluster{Dialect: DialectSlurm, SubmitExe: config.SubmitExe, QueryExe: config.QueryExe, DeleteExe: ""}, testLogger)
			if err != nil {
				So(err.(Error).Err, ShouldStartWith, ErrMissingExe)
			}

			_, err = New("cluster", &ConfigCluster{Dialect: "pbs"}, testLogger)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given fake Grid Engine tools", t, func() {
		bin := t.TempDir()
		argsFile := filepath.Join(bin, "args")
		writeScript(bin, "qsub", `printf '%s\n' "$@" > `+argsFile+`
echo 'Your job 7 ("qc") has been submitted'
`)
		writeScript(bin, "qstat", `cat <<'END'
job-ID  prior   name       user         state submit/start at     queue                          slots ja-task-ID
-----------------------------------------------------------------------------------------------------------------
      7 0.55500 qc         alice        r     05/01/2026 10:00:00 all.q@node1                        1
      8 0.00000 bad        alice        Eqw   05/01/2026 10:00:00                                    1
END
`)
		writeScript(bin, "qdel", "exit 1\n")

		r, err := New("cluster", &ConfigCluster{
			SubmitExe: filepath.Join(bin, "qsub"),
			QueryExe:  filepath.Join(bin, "qstat"),
			DeleteExe: filepath.Join(bin, "qdel"),
		}, testLogger)
		So(err, ShouldBeNil)
		logDir := t.TempDir()

		Convey("Run, List, ErrorState and Terminate work", func() {
			id, err := r.Run("qc", "", "fastqc", []string{"lane1.fq"})
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "7")
			args := strings.Split(strings.TrimSpace(readFile(argsFile)), "\n")
			So(args, ShouldResemble, []string{"-N", "qc", "-cwd", "-b", "y", "-shell", "y", "fastqc lane1.fq"})

			ids, err := r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"7", "8"})
			So(r.ErrorState("7"), ShouldBeFalse)
			So(r.ErrorState("8"), ShouldBeTrue)
			So(r.Terminate("7"), ShouldBeFalse)
		})

		Convey("A log dir is passed to -o and -e", func() {
			lr, err := New("cluster", &ConfigCluster{
				Queue:     "long.q",
				LogDir:    logDir,
				SubmitExe: filepath.Join(bin, "qsub"),
				QueryExe:  filepath.Join(bin, "qstat"),
				DeleteExe: filepath.Join(bin, "qdel"),
			}, testLogger)
			So(err, ShouldBeNil)

			id, err := lr.Run("qc", "/data", "true", nil)
			So(err, ShouldBeNil)
			args := strings.Split(strings.TrimSpace(readFile(argsFile)), "\n")
			So(args, ShouldResemble, []string{"-N", "qc", "-q", "long.q", "-wd", "/data", "-o", logDir, "-e", logDir, "-b", "y", "-shell", "y", "true"})
			So(lr.LogFile(id), ShouldEqual, filepath.Join(logDir, "qc.o7"))
		})
	})

	Convey("Given a submission tool that queues the job but exits with an error", t, func() {
		bin := t.TempDir()
		writeScript(bin, "qsub", `echo 'Your job 77 ("qc") has been submitted'
echo 'qsub: warning: could not contact accounting' >&2
exit 1
`)
		writeScript(bin, "qstat", "exit 0\n")
		writeScript(bin, "qdel", "exit 0\n")
		r, err := New("cluster", &ConfigCluster{
			SubmitExe: filepath.Join(bin, "qsub"),
			QueryExe:  filepath.Join(bin, "qstat"),
			DeleteExe: filepath.Join(bin, "qdel"),
		}, testLogger)
		So(err, ShouldBeNil)
		wd := t.TempDir()

		Convey("Run still returns the queued job's id", func() {
			id, err := r.Run("qc", wd, "true", nil)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "77")
			So(r.LogFile(id), ShouldEqual, filepath.Join(wd, "qc.o77"))
		})

		Convey("Run fails when there is no id and the tool failed", func() {
			writeScript(bin, "qsub", "echo 'qsub: Unknown option' >&2\nexit 2\n")
			id, err := r.Run("qc", wd, "true", nil)
			So(err, ShouldNotBeNil)
			So(err.(Error).Err, ShouldStartWith, ErrSubmit)
			So(id, ShouldBeEmpty)
		})
	})

	Convey("Given a submission tool with unexpected output", t, func() {
		bin := t.TempDir()
		writeScript(bin, "sbatch", "echo 'sbatch: warning: odd' >&2\necho nothing useful\n")
		writeScript(bin, "squeue", "exit 1\n")
		writeScript(bin, "scancel", "exit 0\n")
		r, err := New("cluster", &ConfigCluster{
			Dialect:   DialectSlurm,
			SubmitExe: filepath.Join(bin, "sbatch"),
			QueryExe:  filepath.Join(bin, "squeue"),
			DeleteExe: filepath.Join(bin, "scancel"),
		}, testLogger)
		So(err, ShouldBeNil)

		Convey("Run gives an empty id and List an error", func() {
			id, err := r.Run("qc", t.TempDir(), "true", nil)
			So(err, ShouldBeNil)
			So(id, ShouldBeEmpty)

			_, err = r.List()
			So(err, ShouldNotBeNil)
			So(err.(Error).Err, ShouldStartWith, ErrQuery)
		})
	})

	Convey("Given a drmaa runner with a fake session", t, func() {
		session := newFakeSession()
		r, err := New("drmaa", &ConfigDRMAA{Session: session}, testLogger)
		So(err, ShouldBeNil)
		wd := t.TempDir()

		Convey("Jobs are submitted with output paths named after the job", func() {
			id, err := r.Run("qc", wd, "fastqc", []string{"lane1.fq"})
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "1")
			So(session.outputs["1"], ShouldEqual, ":$drmaa_wd_ph$/$JOB_NAME.o$JOB_ID")
			So(r.LogFile(id), ShouldEqual, filepath.Join(wd, "qc.o1"))

			id2, err := r.Run("qc", wd, "fastqc", nil)
			So(err, ShouldBeNil)

			ids, err := r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"1", "2"})

			session.setState(id2, DRMStateSystemOnHold)
			So(r.ErrorState(id2), ShouldBeTrue)
			So(r.ErrorState(id), ShouldBeFalse)

			session.setState(id, DRMStateDone)
			ids, err = r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{"2"})

			So(r.Terminate(id2), ShouldBeTrue)
			So(r.Terminate("99"), ShouldBeFalse)
			ids, err = r.List()
			So(err, ShouldBeNil)
			So(len(ids), ShouldEqual, 0)

			r.Cleanup()
			So(session.exited, ShouldBeTrue)
		})

		Convey("Log paths of unfinished jobs survive many later submissions", func() {
			kept, err := r.Run("keep", wd, "sleep", []string{"60"})
			So(err, ShouldBeNil)

			for i := 0; i <= maxRecords; i++ {
				id, err := r.Run("n", wd, "true", nil)
				So(err, ShouldBeNil)
				session.setState(id, DRMStateDone)
			}

			ids, err := r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{kept})
			So(r.LogFile(kept), ShouldEqual, filepath.Join(wd, "keep.o"+kept))

			session.setState(kept, DRMStateDone)
			ids, err = r.List()
			So(err, ShouldBeNil)
			So(len(ids), ShouldEqual, 0)
			So(r.LogFile(kept), ShouldEqual, filepath.Join(wd, "keep.o"+kept))
		})

		Convey("Submission failures are reported", func() {
			session.fail = true
			_, err := r.Run("qc", wd, "fastqc", nil)
			So(err, ShouldNotBeNil)
			So(err.(Error).Err, ShouldStartWith, ErrSubmit)
		})
	})

	Convey("Without a session, a drmaa runner can't be made in a default build", t, func() {
		_, err := New("drmaa", &ConfigDRMAA{}, testLogger)
		if err != nil {
			So(err.(Error).Err, ShouldEqual, ErrNoDRMAA)
		}
	})

	Convey("Given a mock runner", t, func() {
		store, err := mocksched.NewMemoryStore()
		So(err, ShouldBeNil)
		sched, err := mocksched.New(mocksched.Config{Dir: t.TempDir(), MaxJobs: 2}, store, testLogger)
		So(err, ShouldBeNil)
		r, err := New("mock", &ConfigMock{Scheduler: sched, User: "alice", ShutdownOnCleanup: true}, testLogger)
		So(err, ShouldBeNil)
		defer r.Cleanup()
		wd := t.TempDir()

		Convey("Jobs run and write their output to <name>.o<id>", func() {
			id, err := r.Run("qc", wd, "echo", []string{"hello"})
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "1")
			So(waitUntilGone(r, id, 10*time.Second), ShouldBeTrue)
			So(readFile(r.LogFile(id)), ShouldEqual, "hello\n")
			So(r.ErrorState(id), ShouldBeFalse)
		})

		Convey("Relative working directories are made absolute before submission", func() {
			orig, err := os.Getwd()
			So(err, ShouldBeNil)
			So(os.Mkdir(filepath.Join(wd, "rel"), 0700), ShouldBeNil)
			So(os.Chdir(wd), ShouldBeNil)
			defer func() {
				So(os.Chdir(orig), ShouldBeNil)
			}()

			id, err := r.Run("qc", "rel", "echo", []string{"hello"})
			So(err, ShouldBeNil)
			So(waitUntilGone(r, id, 10*time.Second), ShouldBeTrue)
			So(r.LogFile(id), ShouldEqual, filepath.Join(wd, "rel", "qc.o"+id))
			So(readFile(r.LogFile(id)), ShouldEqual, "hello\n")
		})

		Convey("Jobs can be terminated", func() {
			id, err := r.Run("s", wd, "sleep", []string{"60"})
			So(err, ShouldBeNil)
			ids, err := r.List()
			So(err, ShouldBeNil)
			So(ids, ShouldResemble, []string{id})

			So(r.Terminate(id), ShouldBeTrue)
			So(waitUntilGone(r, id, 10*time.Second), ShouldBeTrue)
			So(r.Terminate(id), ShouldBeFalse)
			So(r.Terminate("nan"), ShouldBeFalse)
		})

		Convey("Other users' jobs are not listed", func() {
			_, err := sched.Submit(context.Background(), mocksched.SubmitRequest{User: "bob", WorkingDir: wd, Command: "sleep", Args: []string{"60"}})
			So(err, ShouldBeNil)
			ids, err := r.List()
			So(err, ShouldBeNil)
			So(len(ids), ShouldEqual, 0)
		})

		Convey("Jobs that can't start are in an error state", func() {
			badStore, err := mocksched.NewMemoryStore()
			So(err, ShouldBeNil)
			bad, err := mocksched.New(mocksched.Config{Dir: t.TempDir(), Shell: "/nonexistent/seqrun/bash"}, badStore, testLogger)
			So(err, ShouldBeNil)
			br, err := New("mock", &ConfigMock{Scheduler: bad}, testLogger)
			So(err, ShouldBeNil)

			id, err := br.Run("qc", wd, "true", nil)
			So(err, ShouldBeNil)
			So(br.ErrorState(id), ShouldBeTrue)
			ids, err := br.List()
			So(err, ShouldBeNil)
			So(ids, ShouldContain, id)

			So(br.Terminate(id), ShouldBeTrue)
			So(waitUntilGone(br, id, 10*time.Second), ShouldBeTrue)
		})

		Convey("Bad submissions are reported", func() {
			_, err := r.Run("has space", wd, "true", nil)
			So(err, ShouldNotBeNil)
			So(err.(Error).Err, ShouldStartWith, ErrSubmit)
		})
	})
}

// fakeSession is a DRMSession that keeps job states in memory.
type fakeSession struct {
	states  map[string]DRMState
	outputs map[string]string
	next    int
	fail    bool
	exited  bool
	mu      sync.Mutex
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		states:  make(map[string]DRMState),
		outputs: make(map[string]string),
	}
}

func (f *fakeSession) RunJob(name, workingDir, command string, args []string, outputPath, errorPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("drm unavailable")
	}
	f.next++
	id := strconv.Itoa(f.next)
	f.states[id] = DRMStateQueued
	f.outputs[id] = outputPath
	return id, nil
}

func (f *fakeSession) Terminate(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, found := f.states[id]; !found {
		return errors.New("unknown job")
	}
	f.states[id] = DRMStateFailed
	return nil
}

func (f *fakeSession) JobState(id string) (DRMState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, found := f.states[id]
	if !found {
		return DRMStateUndetermined, errors.New("unknown job")
	}
	return state, nil
}

func (f *fakeSession) Exit() error {
	f.exited = true
	return nil
}

func (f *fakeSession) setState(id string, state DRMState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = state
}
