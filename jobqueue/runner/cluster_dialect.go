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

// This file contains the per-dialect knowledge the cluster runner needs: how to
// build submission arguments, and how to parse query tool output.

import (
	"bufio"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// queueEntry is one job line of query tool output.
type queueEntry struct {
	id    string
	state string
}

// dialect describes how to drive one family of batch system tools.
type dialect struct {
	submitExe   string
	queryExe    string
	deleteExe   string
	submitRegex *regexp.Regexp
	submitArgs  func(name, queue, workingDir, logDir, cmdline string) []string
	queryArgs   func(user string) []string
	parseQuery  func(r io.Reader) ([]queueEntry, error)
	isError     func(state string) bool
}

var dialects = map[string]*dialect{
	DialectSGE: {
		submitExe:   "qsub",
		queryExe:    "qstat",
		deleteExe:   "qdel",
		submitRegex: sgeSubmitRegex,
		submitArgs:  sgeSubmitArgs,
		queryArgs: func(user string) []string {
			if user == "" {
				return nil
			}
			return []string{"-u", user}
		},
		parseQuery: parseQstat,
		isError:    sgeIsError,
	},
	DialectSlurm: {
		submitExe:   "sbatch",
		queryExe:    "squeue",
		deleteExe:   "scancel",
		submitRegex: slurmSubmitRegex,
		submitArgs:  slurmSubmitArgs,
		queryArgs: func(user string) []string {
			if user == "" {
				return nil
			}
			return []string{"-u", user}
		},
		parseQuery: parseSqueue,
		isError:    slurmIsError,
	},
}

// sgeSubmitArgs builds qsub args. With a directory given to -o and -e, Grid
// Engine names the files <name>.o<id> and <name>.e<id> itself.
func sgeSubmitArgs(name, queue, workingDir, logDir, cmdline string) []string {
	args := []string{"-N", name}
	if queue != "" {
		args = append(args, "-q", queue)
	}
	if workingDir != "" {
		args = append(args, "-wd", workingDir)
	} else {
		args = append(args, "-cwd")
	}
	if logDir != "" {
		args = append(args, "-o", logDir, "-e", logDir)
	}
	return append(args, "-b", "y", "-shell", "y", cmdline)
}

// slurmSubmitArgs builds sbatch args, using filename patterns so the output
// files are named <name>.o<id> and <name>.e<id> like Grid Engine's.
func slurmSubmitArgs(name, queue, workingDir, logDir, cmdline string) []string {
	args := []string{"-J", name}
	if queue != "" {
		args = append(args, "-p", queue)
	}
	if workingDir != "" {
		args = append(args, "--chdir", workingDir)
	}
	args = append(args,
		"-o", filepath.Join(logDir, "%x.o%j"),
		"-e", filepath.Join(logDir, "%x.e%j"),
	)
	return append(args, "--wrap", cmdline)
}

// parseQstat parses qstat output: lines whose first column is a numeric job id,
// with the state in the fifth column. The header, the dashed separator and any
// short lines are skipped.
func parseQstat(r io.Reader) ([]queueEntry, error) {
	return parseColumns(r, 0, 4)
}

// parseSqueue parses squeue's default output format: JOBID PARTITION NAME USER
// ST TIME NODES NODELIST(REASON).
func parseSqueue(r io.Reader) ([]queueEntry, error) {
	return parseColumns(r, 0, 4)
}

// parseColumns does the work for parseQstat and parseSqueue: it gives an entry
// for every line with a numeric (or array-task suffixed, like 12_3 or 12.3)
// value in the id column and enough columns to have a state column.
func parseColumns(r io.Reader, idCol, stateCol int) ([]queueEntry, error) {
	var entries []queueEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) <= stateCol || len(fields) <= idCol {
			continue
		}

		id := baseJobID(fields[idCol])
		if id == "" {
			continue
		}
		entries = append(entries, queueEntry{id: id, state: fields[stateCol]})
	}
	return entries, scanner.Err()
}

// baseJobID returns the leading digits of field if field starts with a digit
// and those digits are followed by nothing or an array task separator.
// Otherwise it returns the empty string.
func baseJobID(field string) string {
	end := strings.IndexFunc(field, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		return field
	}
	if end == 0 {
		return ""
	}
	switch field[end] {
	case '_', '.', '[':
		return field[:end]
	}
	return ""
}

// sgeIsError is true for any state containing E, such as Eqw.
func sgeIsError(state string) bool {
	return strings.Contains(state, "E")
}

// slurmIsError is true for the states of jobs that failed but are still shown.
func slurmIsError(state string) bool {
	switch state {
	case "F", "BF", "NF":
		return true
	}
	return false
}
