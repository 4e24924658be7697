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

// This file contains a runneri implementation for 'local': running jobs as
// child processes of this one, on the local machine.

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/VertebrateResequencing/seqrun/internal"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/inconshreveable/log15"
	"github.com/shirou/gopsutil/process"
)

// localWrapper is run by the shell with the output prefix as $1 followed by
// the command and its args. It execs in place so that the pid we get back is
// the pid of the command, and that pid is used to name the output files.
const localWrapper = `out="$1"; shift; exec "$@" >"$out.o$$" 2>"$out.e$$"`

// local is our implementer of runneri
type local struct {
	config   *ConfigLocal
	children map[string]*exec.Cmd
	mu       sync.Mutex
	log15.Logger
}

// ConfigLocal represents the configuration options required by the local
// runner.
type ConfigLocal struct {
	// Shell is the shell used to start commands; 'bash' is recommended.
	Shell string

	// LogDir, if set, is where job output files are written instead of the
	// job's working directory.
	LogDir string
}

// initialize sets up our bookkeeping of child processes.
func (s *local) initialize(config interface{}, logger log15.Logger) error {
	c, ok := config.(*ConfigLocal)
	if !ok {
		return Error{"local", "initialize", ErrBadConfig}
	}
	s.config = c
	if s.config.Shell == "" {
		s.config.Shell = "bash"
	}
	s.Logger = logger.New("runner", "local")
	s.children = make(map[string]*exec.Cmd)
	return nil
}

func (s *local) logDir() string {
	return s.config.LogDir
}

// run starts the command in its own process group, in the working directory,
// and reaps it in the background when it exits.
func (s *local) run(name, workingDir, logDir, command string, args []string) (string, error) {
	prefix, err := filepath.Abs(filepath.Join(logDir, name))
	if err != nil {
		return "", Error{"local", "run", fmt.Sprintf("%s: %s", ErrSubmit, err)}
	}

	cmdArgs := append([]string{"-c", localWrapper, "seqrun", prefix, command}, args...)
	ec := exec.Command(s.config.Shell, cmdArgs...) // #nosec
	ec.Dir = workingDir
	ec.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = ec.Start(); err != nil {
		s.Error("run start", "cmd", command, "err", err)
		return "", Error{"local", "run", fmt.Sprintf("%s: %s", ErrSubmit, err)}
	}

	id := strconv.Itoa(ec.Process.Pid)
	s.children[id] = ec

	go func() {
		defer internal.LogPanic(s.Logger, "local child reaper", false)

		errw := ec.Wait()
		if errw != nil {
			s.Debug("child exited", "id", id, "err", errw)
		}

		s.mu.Lock()
		delete(s.children, id)
		s.mu.Unlock()
	}()

	return id, nil
}

// terminate sends SIGTERM to the process group of a child we started.
func (s *local) terminate(id string) bool {
	s.mu.Lock()
	ec, found := s.children[id]
	s.mu.Unlock()
	if !found {
		s.Warn("terminate called on unknown or finished job", "id", id)
		return false
	}

	if err := syscall.Kill(-ec.Process.Pid, syscall.SIGTERM); err != nil {
		s.Warn("terminate failed", "id", id, "err", err)
		return false
	}
	return true
}

// list returns the pids of children that have not yet exited, in ascending
// order.
func (s *local) list() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := make([]int, 0, len(s.children))
	for _, ec := range s.children {
		pids = append(pids, ec.Process.Pid)
	}
	sort.Ints(pids)

	ids := make([]string, len(pids))
	for i, pid := range pids {
		ids[i] = strconv.Itoa(pid)
	}
	return ids, nil
}

// errorState is always false, since a local process can't be in an error
// state while still running.
func (s *local) errorState(id string) bool {
	return false
}

// cleanup kills all remaining children, including any descendants that left
// the child's process group.
func (s *local) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merr *multierror.Error
	for id, ec := range s.children {
		pid := ec.Process.Pid
		if p, err := process.NewProcess(int32(pid)); err == nil {
			if kids, errc := p.Children(); errc == nil {
				for _, kid := range kids {
					if errk := kid.Kill(); errk != nil {
						merr = multierror.Append(merr, errk)
					}
				}
			}
		}

		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("kill %s: %w", id, err))
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		s.Warn("cleanup failed to kill everything", "err", err)
	}
}
