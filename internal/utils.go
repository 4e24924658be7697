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

package internal

// this file has general utility functions

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/inconshreveable/log15"
)

var (
	username     string
	usernameErr  error
	usernameOnce sync.Once
)

// Username returns the username of the current user. This avoids problems
// with static compilation as it avoids the use of os/user. It will only work
// on linux-like systems where 'id -u -n' works. The result is cached after
// the first call.
func Username() (string, error) {
	usernameOnce.Do(func() {
		username, usernameErr = parseIDCmd("-u", "-n")
	})
	return username, usernameErr
}

func parseIDCmd(idopts ...string) (user string, err error) {
	idcmd := exec.Command("id", idopts...) // #nosec
	var idout []byte
	idout, err = idcmd.Output()
	if err != nil {
		return
	}
	user = strings.TrimSuffix(string(idout), "\n")
	return
}

// TildaToHome converts a path beginning with ~/ to the absolute path based in
// the current home directory. If that cannot be determined, path is returned
// unaltered.
func TildaToHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Which returns the absolute path to the given executable if it can be found
// in $PATH, otherwise the empty string.
func Which(exe string) string {
	path, err := exec.LookPath(exe)
	if err != nil {
		return ""
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// LogPanic is for use in a go routines, deferred at the start of them, to
// figure out what is causing runtime panics. If the die bool is true, the
// program exits, otherwise it continues, after logging the error message and
// stack trace. Desc string should be used to describe briefly what the
// goroutine you call this in does.
func LogPanic(logger log15.Logger, desc string, die bool) {
	if err := recover(); err != nil {
		logger.Crit(desc+" panic", "err", err, "stack", string(debug.Stack()))

		if die {
			os.Exit(1)
		}
	}
}
