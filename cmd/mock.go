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
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/VertebrateResequencing/seqrun/mocksched"
	"github.com/spf13/cobra"
)

// options for this cmd
var mockJobName string
var mockPartition string
var mockNTasks int
var mockOutput string
var mockError string
var mockExport string
var mockChdir string
var mockWrap string
var mockUser string
var mockMe bool
var mockVerbose bool
var mockWatch time.Duration

// mockCmd represents the mock command
var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Use the mock batch scheduler",
	Long: `Use seqrun's mock batch scheduler.

The mock scheduler runs jobs as processes on this machine, but otherwise
behaves like a simple Slurm: jobs are submitted, wait in state PD until there
is a free slot (see the mockmaxjobs config option), run in state R, and are
listed until they finish. It keeps its job table in a database in the mockdir
config directory, so separate invocations of seqrun see the same jobs.

There is no daemon; the job table is brought up to date at the start of every
sub-command. Run 'seqrun mock reconcile --watch 10s' if you need jobs to be
started without anything else querying the scheduler.

If seqrun is invoked through a symlink named sbatch, squeue or scancel, it acts
as 'seqrun mock submit', 'seqrun mock query' or 'seqrun mock cancel'
respectively, so pipelines written for Slurm can be pointed at it.`,
}

// submit sub-command submits a job
var mockSubmitCmd = &cobra.Command{
	Use:   "submit [flags] command [args...]",
	Short: "Submit a job",
	Long: `Submit a job to the mock scheduler.

Either give the command and its args after the flags, or give a shell command
line with --wrap. Flags after the command are treated as the command's own
args.

The --output and --error templates can contain %j (the job id), %x (the job
name), %u (the user) and %% (a literal %). Relative paths are relative to the
working directory. They default to %x.o%j and %x.e%j.

--export can be ALL (the default: the job sees your current environment), NONE
(the job sees only PATH and HOME) or a comma separated list of NAME or
NAME=value, optionally including ALL.

On success, prints 'Submitted batch job <id>'.`,
	Run: func(cmd *cobra.Command, args []string) {
		if mockWrap == "" && len(args) == 0 {
			failf("sbatch: error: a command or --wrap is required")
		}
		if mockNTasks < 1 {
			failf("sbatch: error: Invalid numeric value \"%d\" for --ntasks.", mockNTasks)
		}

		req := mocksched.SubmitRequest{
			Name:       mockJobName,
			Partition:  mockPartition,
			NTasks:     mockNTasks,
			Output:     mockOutput,
			Error:      mockError,
			Export:     mockExport,
			WorkingDir: mockChdir,
			Wrap:       mockWrap,
		}
		if len(args) > 0 {
			req.Command = args[0]
			req.Args = args[1:]
		}

		sched, done := mockScheduler()
		defer done()

		id, err := sched.Submit(context.Background(), req)
		if err != nil {
			done()
			failf("sbatch: error: %s", err)
		}
		fmt.Fprintf(stdout, "Submitted batch job %d\n", id)
	},
}

// query sub-command lists jobs
var mockQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List jobs",
	Long: `List the mock scheduler's jobs that have not yet completed.

The output has the same columns as squeue's default format. Jobs that could not
be started are shown in state F, and jobs that have been cancelled but not yet
cleaned up in state CA.`,
	Run: func(cmd *cobra.Command, args []string) {
		user := mockUser
		if mockMe {
			user = realUsername()
		}

		sched, done := mockScheduler()
		defer done()

		recs, err := sched.Query(context.Background(), user)
		if err != nil {
			done()
			failf("squeue: error: %s", err)
		}

		if err = mocksched.WriteQueue(stdout, recs, sched.Hostname(), time.Now()); err != nil {
			done()
			failf("squeue: error: %s", err)
		}
	},
}

// cancel sub-command cancels jobs
var mockCancelCmd = &cobra.Command{
	Use:   "cancel id [id...]",
	Short: "Cancel jobs",
	Long: `Cancel mock scheduler jobs.

Cancelled jobs that are running are killed, and jobs that are pending will never
start. Jobs are only actually killed at the start of the next mock scheduler
command, so they may briefly be listed in state CA.

Problems with individual ids are reported on STDERR, and make this exit non
zero, but do not stop the other ids being cancelled.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			failf("scancel: error: No job identification provided")
		}

		var ids []int64
		failed := false
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil || id <= 0 {
				fmt.Fprintf(stderr, "scancel: error: Invalid job id %s\n", arg)
				failed = true
				continue
			}
			ids = append(ids, id)
		}

		sched, done := mockScheduler()
		results := sched.Cancel(context.Background(), ids...)
		done()

		for _, r := range results {
			if r.Err != "" {
				fmt.Fprintf(stderr, "scancel: error: Kill job error on job id %d: %s\n", r.ID, r.Err)
				failed = true
				continue
			}
			if mockVerbose {
				fmt.Fprintf(stderr, "scancel: Terminating job %d\n", r.ID)
			}
		}

		if failed {
			exit(1)
		}
	},
}

// reconcile sub-command brings the job table up to date
var mockReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Update the job table",
	Long: `Bring the mock scheduler's job table up to date.

Jobs whose processes have ended are marked as complete, cancelled jobs are
killed, and pending jobs are started if there are free slots. Every other mock
sub-command does this first, so you only need this to start pending jobs when
nothing else is going to run; eg. from cron.

With --watch, this keeps going at the given interval until interrupted, at which
point every running job is killed.`,
	Run: func(cmd *cobra.Command, args []string) {
		sched, done := mockScheduler()
		defer done()

		if err := sched.Reconcile(context.Background()); err != nil {
			done()
			die("reconciliation failed: %s", err)
		}
		if mockWatch <= 0 {
			return
		}

		ticker := time.NewTicker(mockWatch)
		defer ticker.Stop()
		for range ticker.C {
			if err := sched.Reconcile(context.Background()); err != nil {
				warn("reconciliation failed: %s", err)
			}
		}
	},
}

func init() {
	RootCmd.AddCommand(mockCmd)
	mockCmd.AddCommand(mockSubmitCmd)
	mockCmd.AddCommand(mockQueryCmd)
	mockCmd.AddCommand(mockCancelCmd)
	mockCmd.AddCommand(mockReconcileCmd)

	// flags specific to these sub-commands
	mockSubmitCmd.Flags().SetInterspersed(false)
	mockSubmitCmd.Flags().StringVarP(&mockJobName, "job-name", "J", "", "name of the job (defaults to the command's base name, or 'wrap')")
	mockSubmitCmd.Flags().StringVarP(&mockPartition, "partition", "p", "", "partition to submit to (defaults to the mockpartition config option)")
	mockSubmitCmd.Flags().IntVarP(&mockNTasks, "ntasks", "n", 1, "number of tasks")
	mockSubmitCmd.Flags().StringVarP(&mockOutput, "output", "o", mocksched.DefaultOutputTmpl, "template for the path of the job's STDOUT file")
	mockSubmitCmd.Flags().StringVarP(&mockError, "error", "e", mocksched.DefaultErrorTmpl, "template for the path of the job's STDERR file")
	mockSubmitCmd.Flags().StringVar(&mockExport, "export", mocksched.ExportAll, "environment variables the job sees")
	mockSubmitCmd.Flags().StringVarP(&mockChdir, "chdir", "D", "", "working directory of the job (defaults to the current directory)")
	mockSubmitCmd.Flags().StringVar(&mockWrap, "wrap", "", "shell command line to run instead of a command and args")

	mockQueryCmd.Flags().StringVarP(&mockUser, "user", "u", "", "only list jobs of this user")
	mockQueryCmd.Flags().BoolVar(&mockMe, "me", false, "only list your own jobs")

	mockCancelCmd.Flags().BoolVarP(&mockVerbose, "verbose", "v", false, "report each job that is cancelled")

	mockReconcileCmd.Flags().DurationVar(&mockWatch, "watch", 0, "keep reconciling at this interval until interrupted")
}

// failf writes a Slurm style error message to STDERR and exits non zero.
func failf(msg string, a ...interface{}) {
	fmt.Fprintf(stderr, msg+"\n", a...)
	exit(1)
}

// mockScheduler opens the mock scheduler and installs a hook that kills its
// running jobs if we get SIGINT or SIGTERM. The returned function must be
// called when you're done with the scheduler.
func mockScheduler() (*mocksched.Scheduler, func()) {
	sched := openMockScheduler(setupLogging(debug))

	deathSignals := make(chan os.Signal, 2)
	signal.Notify(deathSignals, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-deathSignals:
			warn("received %s, killing running mock jobs", sig)
			if err := sched.Shutdown(context.Background()); err != nil {
				warn("failed to kill every job: %s", err)
			}
			exit(1)
		case <-stop:
		}
	}()

	var closed bool
	return sched, func() {
		if closed {
			return
		}
		closed = true
		signal.Stop(deathSignals)
		close(stop)
		if err := sched.Close(); err != nil {
			warn("closing the mock scheduler failed: %s", err)
		}
	}
}
