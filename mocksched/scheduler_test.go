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

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"
)

var testLogger = log15.New()

func init() {
	testLogger.SetHandler(log15.LvlFilterHandler(log15.LvlError, log15.StderrHandler))
}

// waitForState reconciles until the job reaches the given state, or the
// timeout passes.
func waitForState(ctx context.Context, s *Scheduler, id int64, state State, timeout time.Duration) *Record {
	limit := time.After(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Get(ctx, id)
		So(err, ShouldBeNil)
		if rec.State == state {
			return rec
		}

		select {
		case <-ticker.C:
		case <-limit:
			return rec
		}
	}
}

func countState(recs []*Record, state State) int {
	n := 0
	for _, rec := range recs {
		if rec.State == state {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, config Config) (*Scheduler, string) {
	store, err := NewMemoryStore()
	So(err, ShouldBeNil)

	config.Dir = filepath.Join(t.TempDir(), "mock")
	s, err := New(config, store, testLogger)
	So(err, ShouldBeNil)
	return s, t.TempDir()
}

func TestScheduler(t *testing.T) {
	ctx := context.Background()

	Convey("New needs a Dir and fills in defaults", t, func() {
		store, err := NewMemoryStore()
		So(err, ShouldBeNil)
		_, err = New(Config{}, store)
		So(err, ShouldNotBeNil)

		s, err := New(Config{Dir: t.TempDir()}, store)
		So(err, ShouldBeNil)
		So(s.config.MaxJobs, ShouldEqual, DefaultMaxJobs)
		So(s.config.DefaultPartition, ShouldEqual, DefaultPartition)
		So(s.Hostname(), ShouldNotBeEmpty)
	})

	Convey("Given a mock scheduler that runs 1 job at a time", t, func() {
		s, wd := newTestScheduler(t, Config{MaxJobs: 1})
		defer func() {
			s.Shutdown(ctx) //nolint:errcheck
		}()

		Convey("Invalid submissions are rejected", func() {
			bad := []SubmitRequest{
				{WorkingDir: wd},
				{WorkingDir: wd, Command: "true", Wrap: "true"},
				{WorkingDir: wd, Command: "true", NTasks: -1},
				{WorkingDir: wd, Command: "true", Partition: "bad partition"},
				{WorkingDir: wd, Command: "true", Export: "1BAD"},
				{WorkingDir: wd, Command: "true", Name: "has space"},
				{WorkingDir: filepath.Join(wd, "missing"), Command: "true"},
			}
			for _, req := range bad {
				_, err := s.Submit(ctx, req)
				So(err, ShouldNotBeNil)
			}

			recs, err := s.Query(ctx, "")
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 0)
		})

		Convey("A submitted job runs, writes its output and records its exit code", func() {
			id, err := s.Submit(ctx, SubmitRequest{
				WorkingDir: wd,
				Name:       "qc",
				Wrap:       "echo out $SLURM_JOB_ID $SLURM_JOB_NAME $SLURM_NTASKS; echo err >&2; exit 3",
				NTasks:     2,
			})
			So(err, ShouldBeNil)
			So(id, ShouldBeGreaterThan, 0)

			rec := waitForState(ctx, s, id, StateCompleted, 10*time.Second)
			So(rec.State, ShouldEqual, StateCompleted)
			So(rec.ExitCode, ShouldEqual, 3)
			So(rec.PID, ShouldBeGreaterThan, 0)
			So(rec.StartTime.IsZero(), ShouldBeFalse)
			So(rec.EndTime.IsZero(), ShouldBeFalse)
			So(rec.EndTime.Before(rec.StartTime), ShouldBeFalse)

			idStr := strconv.FormatInt(id, 10)
			out, err := os.ReadFile(filepath.Join(wd, "qc.o"+idStr))
			So(err, ShouldBeNil)
			So(string(out), ShouldEqual, "out "+idStr+" qc 2\n")
			errOut, err := os.ReadFile(filepath.Join(wd, "qc.e"+idStr))
			So(err, ShouldBeNil)
			So(string(errOut), ShouldEqual, "err\n")

			_, err = os.Stat(s.markerPath(id))
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = os.Stat(s.wrapperPath(id))
			So(os.IsNotExist(err), ShouldBeTrue)

			recs, err := s.Query(ctx, "")
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 0)

			Convey("Cancelling a completed job gives an error message and changes nothing", func() {
				results := s.Cancel(ctx, id)
				So(len(results), ShouldEqual, 1)
				So(results[0].ID, ShouldEqual, id)
				So(results[0].Err, ShouldEqual, CancelCompleted)

				after, err := s.Get(ctx, id)
				So(err, ShouldBeNil)
				So(after.State, ShouldEqual, StateCompleted)
				So(after.ExitCode, ShouldEqual, 3)
			})

			Convey("Reconciling again changes nothing", func() {
				before, err := s.store.List(ctx, Filter{})
				So(err, ShouldBeNil)
				So(s.Reconcile(ctx), ShouldBeNil)
				So(s.Reconcile(ctx), ShouldBeNil)
				after, err := s.store.List(ctx, Filter{})
				So(err, ShouldBeNil)
				So(after, ShouldResemble, before)
			})
		})

		Convey("Commands and args are run directly, quoted intact, with the export spec applied", func() {
			os.Setenv("SEQRUN_MOCK_TEST_VAR", "hidden")
			defer os.Unsetenv("SEQRUN_MOCK_TEST_VAR")

			id, err := s.Submit(ctx, SubmitRequest{
				WorkingDir: wd,
				Command:    "sh",
				Args:       []string{"-c", `printf '%s|%s|%s|%s|%s' "$1" "$2" "$3" "$SEQRUN_MOCK_TEST_VAR" "$SHOWN"`, "sh", "a b", "it's $HOME", ""},
				Output:     "custom_%j.txt",
				Export:     "NONE,SHOWN=yes",
			})
			So(err, ShouldBeNil)

			rec := waitForState(ctx, s, id, StateCompleted, 10*time.Second)
			So(rec.State, ShouldEqual, StateCompleted)
			So(rec.ExitCode, ShouldEqual, 0)
			So(rec.Name, ShouldEqual, "sh")

			out, err := os.ReadFile(filepath.Join(wd, "custom_"+strconv.FormatInt(id, 10)+".txt"))
			So(err, ShouldBeNil)
			So(string(out), ShouldEqual, "a b|it's $HOME|||yes")
		})

		Convey("Pending jobs are admitted in submission order, never exceeding the limit", func() {
			var ids []int64
			for i := 0; i < 3; i++ {
				id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"1"}})
				So(err, ShouldBeNil)
				ids = append(ids, id)
			}

			recs, err := s.Query(ctx, "")
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].State, ShouldEqual, StateRunning)
			So(recs[1].State, ShouldEqual, StatePending)
			So(recs[2].State, ShouldEqual, StatePending)

			var starts []time.Time
			var ends []time.Time
			limit := time.Now().Add(20 * time.Second)
			for time.Now().Before(limit) {
				recs, err := s.Query(ctx, "")
				So(err, ShouldBeNil)
				So(countState(recs, StateRunning), ShouldBeLessThanOrEqualTo, 1)
				if len(recs) == 0 {
					break
				}
				<-time.After(20 * time.Millisecond)
			}

			for _, id := range ids {
				rec, err := s.store.Get(ctx, id)
				So(err, ShouldBeNil)
				So(rec.State, ShouldEqual, StateCompleted)
				starts = append(starts, rec.StartTime)
				ends = append(ends, rec.EndTime)
			}
			So(starts[1].Before(ends[0]), ShouldBeFalse)
			So(starts[2].Before(ends[1]), ShouldBeFalse)
		})

		Convey("Cancelling a running job kills it", func() {
			id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"60"}})
			So(err, ShouldBeNil)
			rec, err := s.store.Get(ctx, id)
			So(err, ShouldBeNil)
			So(rec.State, ShouldEqual, StateRunning)
			So(pidAlive(rec.PID), ShouldBeTrue)

			id2, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "true"})
			So(err, ShouldBeNil)

			results := s.Cancel(ctx, id)
			So(results[0].Err, ShouldBeEmpty)

			rec, err = s.store.Get(ctx, id)
			So(err, ShouldBeNil)
			So(rec.State, ShouldEqual, StateCancelled)

			Convey("Cancelling it again before the next pass reports it as completing", func() {
				results := s.Cancel(ctx, id)
				So(results[0].Err, ShouldEqual, CancelCompleted)
			})

			Convey("The next pass kills it and frees its slot", func() {
				So(s.Reconcile(ctx), ShouldBeNil)
				rec, err = s.store.Get(ctx, id)
				So(err, ShouldBeNil)
				So(rec.State, ShouldEqual, StateCompleted)
				So(rec.ExitCode, ShouldEqual, exitCodeKilled)

				<-time.After(100 * time.Millisecond)
				So(pidAlive(rec.PID), ShouldBeFalse)

				rec2 := waitForState(ctx, s, id2, StateCompleted, 10*time.Second)
				So(rec2.ExitCode, ShouldEqual, 0)
			})
		})

		Convey("Cancelling a pending job means it never runs", func() {
			id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"60"}})
			So(err, ShouldBeNil)
			id2, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "true"})
			So(err, ShouldBeNil)

			results := s.Cancel(ctx, id2, id)
			So(results[0].Err, ShouldBeEmpty)
			So(results[1].Err, ShouldBeEmpty)

			So(s.Reconcile(ctx), ShouldBeNil)
			rec2, err := s.store.Get(ctx, id2)
			So(err, ShouldBeNil)
			So(rec2.State, ShouldEqual, StateCompleted)
			So(rec2.PID, ShouldEqual, 0)
			So(rec2.ExitCode, ShouldEqual, 0)
		})

		Convey("Cancelling an unknown id gives an error message and changes nothing", func() {
			id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"60"}})
			So(err, ShouldBeNil)
			before, err := s.store.List(ctx, Filter{})
			So(err, ShouldBeNil)

			results := s.Cancel(ctx, id+100)
			So(results[0].Err, ShouldEqual, CancelInvalidID)

			after, err := s.store.List(ctx, Filter{})
			So(err, ShouldBeNil)
			So(after, ShouldResemble, before)
		})

		Convey("A process that dies without an exit code marker is recorded as exit 1", func() {
			id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"60"}})
			So(err, ShouldBeNil)
			rec, err := s.store.Get(ctx, id)
			So(err, ShouldBeNil)

			s.kill(id, rec.PID)
			rec = waitForState(ctx, s, id, StateCompleted, 10*time.Second)
			So(rec.State, ShouldEqual, StateCompleted)
			So(rec.ExitCode, ShouldEqual, exitCodeAbnormal)
		})

		Convey("Shutdown kills running jobs", func() {
			id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"60"}})
			So(err, ShouldBeNil)
			rec, err := s.store.Get(ctx, id)
			So(err, ShouldBeNil)

			So(s.Shutdown(ctx), ShouldBeNil)
			rec = waitForState(ctx, s, id, StateCompleted, 10*time.Second)
			So(rec.State, ShouldEqual, StateCompleted)
			So(pidAlive(rec.PID), ShouldBeFalse)
		})

		Convey("Query can filter on user", func() {
			_, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"60"}, User: "alice"})
			So(err, ShouldBeNil)
			_, err = s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "sleep", Args: []string{"60"}, User: "bob"})
			So(err, ShouldBeNil)

			recs, err := s.Query(ctx, "bob")
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].User, ShouldEqual, "bob")
			So(recs[0].State, ShouldEqual, StatePending)
		})
	})

	Convey("Given a mock scheduler with a submission delay", t, func() {
		s, wd := newTestScheduler(t, Config{MaxJobs: 2, SbatchDelay: 300 * time.Millisecond})
		defer func() {
			s.Shutdown(ctx) //nolint:errcheck
		}()

		Convey("Jobs stay pending until the delay has passed", func() {
			id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "true"})
			So(err, ShouldBeNil)
			rec, err := s.store.Get(ctx, id)
			So(err, ShouldBeNil)
			So(rec.State, ShouldEqual, StatePending)

			rec = waitForState(ctx, s, id, StateCompleted, 10*time.Second)
			So(rec.State, ShouldEqual, StateCompleted)
			So(rec.StartTime.Sub(rec.SbatchTime), ShouldBeGreaterThanOrEqualTo, 300*time.Millisecond)
		})
	})

	Convey("Given a mock scheduler whose shell doesn't exist", t, func() {
		s, wd := newTestScheduler(t, Config{Shell: "/nonexistent/seqrun/bash"})

		Convey("Jobs fail to start, stay listed in state F, and can be cancelled", func() {
			id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Command: "true"})
			So(err, ShouldBeNil)

			recs, err := s.Query(ctx, "")
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].State, ShouldEqual, StateFailed)

			results := s.Cancel(ctx, id)
			So(results[0].Err, ShouldBeEmpty)
			So(s.Reconcile(ctx), ShouldBeNil)

			rec, err := s.store.Get(ctx, id)
			So(err, ShouldBeNil)
			So(rec.State, ShouldEqual, StateCompleted)
		})
	})

	Convey("A mock scheduler backed by sqlite works across instances", t, func() {
		dir := t.TempDir()
		wd := t.TempDir()
		store, err := OpenStore(StoreSQLite, filepath.Join(dir, "jobs.db"))
		So(err, ShouldBeNil)
		s, err := New(Config{Dir: dir}, store, testLogger)
		So(err, ShouldBeNil)

		id, err := s.Submit(ctx, SubmitRequest{WorkingDir: wd, Wrap: "exit 3"})
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		<-time.After(200 * time.Millisecond)
		store, err = OpenStore(StoreSQLite, filepath.Join(dir, "jobs.db"))
		So(err, ShouldBeNil)
		s, err = New(Config{Dir: dir}, store, testLogger)
		So(err, ShouldBeNil)
		defer s.Close()

		rec := waitForState(ctx, s, id, StateCompleted, 10*time.Second)
		So(rec.State, ShouldEqual, StateCompleted)
		So(rec.ExitCode, ShouldEqual, 3)
		So(rec.Name, ShouldEqual, "wrap")

		var b strings.Builder
		recs, err := s.Query(ctx, "")
		So(err, ShouldBeNil)
		So(WriteQueue(&b, recs, s.Hostname(), time.Now()), ShouldBeNil)
		So(b.String(), ShouldEqual, queueHeader+"\n")
	})
}
