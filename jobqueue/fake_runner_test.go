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

import (
	"errors"
	"path/filepath"
	"sort"
	"strconv"

	sync "github.com/sasha-s/go-deadlock"
)

// fakeRunner is a Runner whose jobs stay active until finish() is called.
type fakeRunner struct {
	next       int
	active     map[string]bool
	errored    map[string]bool
	names      map[string]string
	order      []string
	terminated []string
	failNames  map[string]bool
	listFails  bool
	sticky     bool // Terminate() doesn't stop jobs
	vanish     bool // Run() gives ids that are never listed
	peak       int
	mu         sync.Mutex
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		active:    make(map[string]bool),
		errored:   make(map[string]bool),
		names:     make(map[string]string),
		failNames: make(map[string]bool),
	}
}

func (f *fakeRunner) Run(name, workingDir, command string, args []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, name)
	if f.failNames[name] {
		return "", errors.New("submission refused")
	}

	f.next++
	id := strconv.Itoa(f.next)
	f.names[id] = name
	if f.vanish {
		return id, nil
	}
	f.active[id] = true
	if len(f.active) > f.peak {
		f.peak = len(f.active)
	}
	return id, nil
}

func (f *fakeRunner) Terminate(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, id)
	if !f.active[id] {
		return false
	}
	if !f.sticky {
		delete(f.active, id)
	}
	return true
}

func (f *fakeRunner) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFails {
		return nil, errors.New("query tool unavailable")
	}
	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeRunner) LogFile(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, found := f.names[id]
	if !found {
		return ""
	}
	return filepath.Join("/nonexistent", name+".o"+id)
}

func (f *fakeRunner) ErrFile(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, found := f.names[id]
	if !found {
		return ""
	}
	return filepath.Join("/nonexistent", name+".e"+id)
}

func (f *fakeRunner) ErrorState(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errored[id]
}

func (f *fakeRunner) finish(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.active, id)
	}
}

// forget makes the runner no longer know the log paths of the given jobs, as
// happens once a real runner has seen too many newer ones.
func (f *fakeRunner) forget(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.names, id)
	}
}

func (f *fakeRunner) addForeign() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active["foreign"] = true
}

func (f *fakeRunner) setErrored(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errored[id] = true
}

func (f *fakeRunner) setListFails(fails bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFails = fails
}

func (f *fakeRunner) runOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}
