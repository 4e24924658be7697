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

// This file contains the reconciliation pass that brings the job table in to
// line with the processes actually running, and the shutdown hook.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/VertebrateResequencing/seqrun/internal"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/process"
)

const (
	// exitCodeAbnormal is recorded for jobs whose process vanished without
	// writing an exit code.
	exitCodeAbnormal = 1

	// exitCodeKilled is recorded for cancelled jobs that had started.
	exitCodeKilled = 128 + int(syscall.SIGKILL)
)

// reconcile does the work of Reconcile(). You must hold s.mu. Problems with
// individual jobs are logged and skipped; only failure to read the job table
// is returned.
func (s *Scheduler) reconcile(ctx context.Context) error {
	if err := s.reapRunning(ctx); err != nil {
		return err
	}
	if err := s.applyCancellations(ctx); err != nil {
		return err
	}
	return s.admitPending(ctx)
}

// reapRunning moves R rows whose process has gone to c, recording the exit
// code the wrapper wrote.
func (s *Scheduler) reapRunning(ctx context.Context) error {
	running, err := s.store.List(ctx, Filter{States: []State{StateRunning}})
	if err != nil {
		return err
	}

	for _, rec := range running {
		if pidAlive(rec.PID) {
			continue
		}

		next, err := rec.transition(StateCompleted)
		if err != nil {
			s.Error("reap", "id", rec.ID, "err", err)
			continue
		}

		code, mtime, err := readMarker(s.markerPath(rec.ID))
		if err != nil {
			s.Warn("job process ended without recording an exit code", "id", rec.ID, "pid", rec.PID, "err", err)
			code, mtime = exitCodeAbnormal, time.Now()
		}
		next.ExitCode = code
		next.EndTime = mtime

		if err = s.store.Transition(ctx, next, StateRunning); err != nil {
			s.Warn("reap transition failed", "id", rec.ID, "err", err)
			continue
		}
		s.removeJobFiles(rec.ID)
		s.Debug("reaped", "id", rec.ID, "exit", code)
	}
	return nil
}

// applyCancellations kills the processes of CA rows and moves them to c.
func (s *Scheduler) applyCancellations(ctx context.Context) error {
	cancelled, err := s.store.List(ctx, Filter{States: []State{StateCancelled}})
	if err != nil {
		return err
	}

	for _, rec := range cancelled {
		next, err := rec.transition(StateCompleted)
		if err != nil {
			s.Error("cancel", "id", rec.ID, "err", err)
			continue
		}

		next.ExitCode = 0
		if rec.PID != 0 {
			s.kill(rec.ID, rec.PID)
			next.ExitCode = exitCodeKilled
		}
		if code, _, errm := readMarker(s.markerPath(rec.ID)); errm == nil {
			next.ExitCode = code
		}
		next.EndTime = time.Now()

		if err = s.store.Transition(ctx, next, StateCancelled); err != nil {
			s.Warn("cancel transition failed", "id", rec.ID, "err", err)
			continue
		}
		s.removeJobFiles(rec.ID)
		s.Debug("cancelled", "id", rec.ID)
	}
	return nil
}

// admitPending starts PD rows in id order while there are free slots. The
// first row that can't be started for lack of a slot ends the scan.
func (s *Scheduler) admitPending(ctx context.Context) error {
	running, err := s.store.List(ctx, Filter{States: []State{StateRunning}})
	if err != nil {
		return err
	}
	nrunning := len(running)

	pending, err := s.store.List(ctx, Filter{States: []State{StatePending}})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, rec := range pending {
		if now.Sub(rec.SbatchTime) < s.config.SbatchDelay {
			continue
		}
		if nrunning >= s.config.MaxJobs {
			break
		}

		if s.admit(ctx, rec) {
			nrunning++
		}
	}
	return nil
}

// admit writes the row's wrapper and starts it in a new session, moving the
// row to R, or to F if it couldn't be started. Returns true if the row is now
// R.
func (s *Scheduler) admit(ctx context.Context, rec *Record) bool {
	export, err := ParseExport(rec.Export)
	if err != nil {
		s.fail(ctx, rec, err)
		return false
	}

	wrapper, err := s.writeWrapper(rec)
	if err != nil {
		s.fail(ctx, rec, err)
		return false
	}

	cmd := exec.Command(s.shellPath, wrapper) // #nosec
	cmd.Dir = rec.WorkingDir
	cmd.Env = export.Environ(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err = cmd.Start(); err != nil {
		s.fail(ctx, rec, err)
		return false
	}
	pid := cmd.Process.Pid

	next, err := rec.transition(StateRunning)
	if err == nil {
		next.PID = pid
		next.StartTime = time.Now()
		err = s.store.Transition(ctx, next, StatePending)
	}
	if err != nil {
		// someone else changed the row, probably cancelling it
		s.Warn("admission transition failed, killing job", "id", rec.ID, "err", err)
		if errk := syscall.Kill(-pid, syscall.SIGKILL); errk != nil {
			s.Warn("kill failed", "id", rec.ID, "pid", pid, "err", errk)
		}
		go cmd.Wait() //nolint:errcheck
		s.removeJobFiles(rec.ID)
		return false
	}

	s.hold(rec.ID, cmd)
	s.Debug("admitted", "id", rec.ID, "pid", pid)
	return true
}

// fail moves a PD row that could not be started to F.
func (s *Scheduler) fail(ctx context.Context, rec *Record, cause error) {
	s.Warn("job could not be started", "id", rec.ID, "err", cause)
	s.removeJobFiles(rec.ID)

	next, err := rec.transition(StateFailed)
	if err == nil {
		err = s.store.Transition(ctx, next, StatePending)
	}
	if err != nil {
		s.Warn("fail transition failed", "id", rec.ID, "err", err)
	}
}

// hold remembers the wrapper process of a job, and reaps it in the background
// when it exits.
func (s *Scheduler) hold(id int64, cmd *exec.Cmd) {
	s.heldMu.Lock()
	s.held[id] = cmd
	s.heldMu.Unlock()

	go func() {
		defer internal.LogPanic(s.Logger, "mocksched wrapper reaper", false)
		if err := cmd.Wait(); err != nil {
			s.Debug("wrapper exited", "id", id, "err", err)
		}

		s.heldMu.Lock()
		delete(s.held, id)
		s.heldMu.Unlock()
	}()
}

// kill sends SIGKILL to the process group of the job's wrapper, ignoring
// failure since the process may already be gone.
func (s *Scheduler) kill(id int64, pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		s.Warn("kill failed", "id", id, "pid", pid, "err", err)
	}
}

// Shutdown force-kills every job recorded as running and every wrapper
// process this Scheduler started that is still alive. It does not change the
// job table; a later reconciliation pass will reap the killed jobs.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	var merr *multierror.Error

	running, err := s.store.List(ctx, Filter{States: []State{StateRunning}})
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	killed := make(map[int]bool)
	for _, rec := range running {
		if rec.PID == 0 {
			continue
		}
		killed[rec.PID] = true
		if errk := syscall.Kill(-rec.PID, syscall.SIGKILL); errk != nil && errk != syscall.ESRCH {
			merr = multierror.Append(merr, fmt.Errorf("kill job %d: %w", rec.ID, errk))
		}
	}

	s.heldMu.Lock()
	for id, cmd := range s.held {
		if killed[cmd.Process.Pid] {
			continue
		}
		if errk := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); errk != nil && errk != syscall.ESRCH {
			merr = multierror.Append(merr, fmt.Errorf("kill wrapper of job %d: %w", id, errk))
		}
	}
	s.heldMu.Unlock()

	return merr.ErrorOrNil()
}

// pidAlive tells you if a process with the given pid exists and is not a
// zombie.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}

	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		// it disappeared between checks
		return false
	}
	return !strings.HasPrefix(status, "Z")
}

// readMarker reads the exit code a wrapper wrote, and when it wrote it.
func readMarker(path string) (int, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}

	code, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bad exit code marker %s: %w", path, err)
	}
	return code, info.ModTime(), nil
}
