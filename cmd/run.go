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

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/VertebrateResequencing/seqrun/jobqueue"
	"github.com/VertebrateResequencing/seqrun/limiter"
	"github.com/google/shlex"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// options for this cmd
var runFile string
var runRunner string
var runMax int
var runPoll time.Duration
var runLogDir string
var runCwd string
var runCeiling string
var runLimits []string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a file of commands",
	Long: `Run the commands in a file, no more than --max at once, and wait for them
all to finish.

You supply your commands by putting them in a text file (1 per line), or by
piping them in. Blank lines and lines starting with # are ignored. A line can
optionally start with a job name followed by a tab; otherwise a name is
generated from the command line. Command lines are split in to words the way a
shell would, but are not otherwise interpreted by a shell, so use 'bash -c' if
you need pipes or redirection. Text before a tab that contains quotes is taken
to be part of the command, so quoted tabs are left alone.

The job name can be followed by a colon and a comma separated list of limit
groups, eg. "qc_lane2:irods,lustre<tab>fastqc lane2.fq" (an empty name still
gets a generated one). --limit irods=3 then stops more than 3 commands in the
irods group running at once. --limit group=none removes a limit set by the
limits config option.

Each command's STDOUT and STDERR end up in files named <name>.o<id> and
<name>.e<id> in --logdir, or the working directory if that isn't set.

Commands are started in the order given. With --ceiling dispatcher (the
default), --max limits how many of these commands run at once; with --ceiling
backend it limits how many jobs your backend lists for you in total, including
ones submitted by something else.

Once everything has finished, a summary is printed. This exits non zero if any
command could not be submitted or was terminated because your backend said it
was in an error state.`,
	Run: func(cmd *cobra.Command, args []string) {
		var reader io.Reader
		if runFile == "-" {
			reader = os.Stdin
		} else {
			f, err := os.Open(runFile)
			if err != nil {
				die("could not open file '%s': %s", runFile, err)
			}
			defer f.Close()
			reader = f
		}

		cwd := runCwd
		if cwd == "" {
			var err error
			cwd, err = os.Getwd()
			if err != nil {
				die("could not get the working directory: %s", err)
			}
		}
		cwd, err := filepath.Abs(cwd)
		if err != nil {
			die("bad working directory: %s", err)
		}

		var ceiling jobqueue.Ceiling
		switch runCeiling {
		case "dispatcher":
			ceiling = jobqueue.CeilingDispatcher
		case "backend":
			ceiling = jobqueue.CeilingBackend
		default:
			die("--ceiling must be dispatcher or backend")
		}

		limits, err := parseLimits(append(splitList(config.Limits), runLimits...))
		if err != nil {
			die("%s", err)
		}

		logger := setupLogging(debug)
		r, cleanup := newRunner(runRunner, runLogDir, logger)

		d := jobqueue.New(r, runMax,
			jobqueue.WithPollInterval(runPoll),
			jobqueue.WithStartPollInterval(time.Duration(config.StartPollInterval)*time.Second),
			jobqueue.WithStartAttempts(config.StartAttempts),
			jobqueue.WithCeiling(ceiling),
			jobqueue.WithLogger(logger),
		)
		applyLimits(d, limits)

		jobs, err := parseCommands(reader, cwd)
		if err != nil {
			cleanup()
			die("%s", err)
		}
		if len(jobs) == 0 {
			cleanup()
			die("no commands were supplied")
		}
		d.Add(jobs...)
		info("running %d commands with the %s runner", len(jobs), r.Name())

		ctx, cancel := context.WithCancel(context.Background())
		deathSignals := make(chan os.Signal, 2)
		signal.Notify(deathSignals, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-deathSignals:
				warn("received %s, stopping", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		err = d.Run(ctx, true)
		signal.Stop(deathSignals)
		cancel()
		cleanup()
		if err != nil {
			die("gave up waiting for commands to finish: %s", err)
		}

		if bad := summarise(stdout, d.Completed()); bad > 0 {
			die("%d commands failed to submit or were terminated", bad)
		}
	},
}

func init() {
	RootCmd.AddCommand(runCmd)

	// flags specific to this sub-command
	runCmd.Flags().StringVarP(&runFile, "file", "f", "-", "file containing your commands; - means read from STDIN")
	runCmd.Flags().StringVarP(&runRunner, "runner", "r", "", "['local','cluster','drmaa','mock'] job execution backend (defaults to the runner config option)")
	runCmd.Flags().IntVarP(&runMax, "max", "m", 0, "maximum number of commands to run at once (defaults to the maxconcurrentjobs config option)")
	runCmd.Flags().DurationVarP(&runPoll, "poll", "p", 0, "how often to check on running commands (defaults to the pollinterval config option, in seconds)")
	runCmd.Flags().StringVarP(&runLogDir, "logdir", "l", "", "directory for command output files (defaults to the logdir config option, or the working directory)")
	runCmd.Flags().StringVarP(&runCwd, "cwd", "c", "", "working directory for the commands (defaults to the current directory)")
	runCmd.Flags().StringVar(&runCeiling, "ceiling", "", "['dispatcher','backend'] what counts against --max (defaults to the dispatcherceiling config option)")
	runCmd.Flags().StringSliceVar(&runLimits, "limit", nil, "group=number limits on concurrent commands in a limit group, or group=none to remove one (repeatable; adds to the limits config option)")

	runCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if runRunner == "" {
			runRunner = config.Runner
		}
		if runMax <= 0 {
			runMax = config.MaxConcurrentJobs
		}
		if runPoll <= 0 {
			runPoll = time.Duration(config.PollInterval) * time.Second
		}
		if runLogDir == "" {
			runLogDir = config.LogDir
		}
		if runCeiling == "" {
			runCeiling = config.DispatcherCeiling
		}
	}
}

// parseCommands reads one command per line, with an optional name, limit
// groups and tab before the command, returning a Job for each.
func parseCommands(reader io.Reader, cwd string) ([]*jobqueue.Job, error) {
	var jobs []*jobqueue.Job
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var name string
		var groups []string
		if i := strings.Index(line, "\t"); i != -1 && !strings.ContainsAny(line[:i], `'"`) {
			var err error
			name, groups, err = parseJobPrefix(line[:i])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			line = strings.TrimSpace(line[i+1:])
		}

		words, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(words) == 0 {
			return nil, fmt.Errorf("line %d: no command", lineNum)
		}

		jobs = append(jobs, &jobqueue.Job{
			Name:        name,
			WorkingDir:  cwd,
			Command:     words[0],
			Args:        words[1:],
			LimitGroups: groups,
		})
	}
	return jobs, scanner.Err()
}

// parseJobPrefix splits "name:group1,group2" in to its parts. Either part may
// be missing.
func parseJobPrefix(prefix string) (string, []string, error) {
	name, groupList := strings.TrimSpace(prefix), ""
	if i := strings.Index(name, ":"); i != -1 {
		name, groupList = name[:i], name[i+1:]
	}
	if strings.ContainsAny(name, " /") {
		return "", nil, fmt.Errorf("job name %q may not contain spaces or slashes", name)
	}

	groups := splitList(groupList)
	for _, group := range groups {
		if strings.ContainsAny(group, " =") {
			return "", nil, fmt.Errorf("limit group %q may not contain spaces or =", group)
		}
	}
	return name, groups, nil
}

// splitList splits a comma separated list, ignoring empty items.
func splitList(list string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// limitSetting is a parsed group=number or group=none.
type limitSetting struct {
	group  string
	limit  int
	remove bool
}

// parseLimits parses group=number and group=none settings, in order, so that
// later settings of a group override earlier ones.
func parseLimits(specs []string) ([]limitSetting, error) {
	settings := make([]limitSetting, 0, len(specs))
	for _, spec := range specs {
		group, value, found := strings.Cut(spec, "=")
		group, value = strings.TrimSpace(group), strings.TrimSpace(value)
		if !found || group == "" || value == "" {
			return nil, fmt.Errorf("limit %q is not of the form group=number", spec)
		}

		if value == "none" {
			settings = append(settings, limitSetting{group: group, remove: true})
			continue
		}

		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("limit %q must be a number of at least 0, or none", spec)
		}
		settings = append(settings, limitSetting{group: group, limit: limit})
	}
	return settings, nil
}

// applyLimits sets (or removes) limits on the Dispatcher's limit groups.
func applyLimits(d *jobqueue.Dispatcher, settings []limitSetting) {
	for _, s := range settings {
		if s.remove {
			d.RemoveLimit(s.group)
		} else {
			d.SetLimit(s.group, s.limit)
		}
	}

	logged := make(map[string]bool, len(settings))
	for _, s := range settings {
		if logged[s.group] {
			continue
		}
		logged[s.group] = true
		if limit := d.Limit(s.group); limit != limiter.Unlimited {
			info("limit group %s may run %d commands at once", s.group, limit)
		}
	}
}

// summarise writes a table of the completed jobs and returns how many failed
// to submit or were terminated.
func summarise(w io.Writer, jobs []*jobqueue.Job) int {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "ID", "Status", "Walltime", "Log"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	bad := 0
	for _, j := range jobs {
		status := j.Status()
		if j.Failed() {
			status = "Failed to submit"
		}
		if j.Failed() || j.Terminated() {
			bad++
		}

		table.Append([]string{
			j.Name,
			j.ID(),
			status,
			j.EndTime().Sub(j.StartTime()).Round(time.Second).String(),
			j.LogPath(),
		})
	}
	table.Render()
	return bad
}
