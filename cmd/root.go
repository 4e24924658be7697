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

// this is the cobra file that enables subcommands and handles command-line args

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/VertebrateResequencing/seqrun/internal"
	"github.com/VertebrateResequencing/seqrun/jobqueue/runner"
	"github.com/VertebrateResequencing/seqrun/mocksched"
	"github.com/inconshreveable/log15"
	"github.com/sb10/l15h"
	"github.com/spf13/cobra"
)

// appLogger is used for logging events in our commands
var appLogger = log15.New()

// these variables are accessible by all subcommands.
var deployment string
var config internal.Config
var debug bool

// where our commands write their output, and how they exit; tests replace
// these.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// mockAliases are the names we act as mock sub-commands under, when invoked
// through a symlink.
var mockAliases = map[string]string{
	"sbatch":  "submit",
	"squeue":  "query",
	"scancel": "cancel",
}

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "seqrun",
	Short: "seqrun runs commands on local or cluster job execution backends.",
	Long: `seqrun runs commands on local or cluster job execution backends.

You give it a file of commands, and it submits them to your chosen backend
(local processes, a Grid Engine or Slurm cluster, a DRMAA session, or seqrun's
own mock batch scheduler), never running more than a configured number at
once, and waits for them all to finish:
$ seqrun run -f commands.txt --runner cluster --max 50

It also includes a mock batch scheduler that behaves enough like Slurm's
sbatch, squeue and scancel for testing pipelines on a machine without a real
cluster:
$ seqrun mock submit --wrap "sleep 10"
$ seqrun mock query

See 'seqrun conf' for the configuration options and where they come from.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once to
// the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		die(err.Error())
	}
}

// ExecuteAs calls ExecuteMock() if the given executable name (the base name of
// argv[0]) is sbatch, squeue or scancel, otherwise Execute().
func ExecuteAs(exe string) {
	if sub, alias := mockAliases[exe]; alias {
		ExecuteMock(sub)
		return
	}
	Execute()
}

// ExecuteMock is for treating a call to seqrun as if `seqrun mock xxx` was
// called, for the Slurm emulation to work when seqrun is invoked through a
// symlink named sbatch, squeue or scancel.
func ExecuteMock(cmd string) {
	args := append([]string{"mock", cmd}, os.Args[1:]...)
	command, _, err := RootCmd.Find(args)
	if err != nil {
		die(err.Error())
	}
	RootCmd.SetArgs(args)
	if err := command.Execute(); err != nil {
		die(err.Error())
	}
}

func init() {
	// set up logging to stderr
	appLogger.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StderrHandler))

	// global flags
	RootCmd.PersistentFlags().StringVar(&deployment, "deployment", internal.DefaultDeployment(appLogger), "use production or development config")
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug messages from seqrun's components to STDERR")

	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config = internal.ConfigLoad(deployment, false, appLogger)
}

// realUsername returns the username of the current user.
func realUsername() string {
	username, err := internal.Username()
	if err != nil {
		die("could not get username: %s", err)
	}
	return username
}

// info is a convenience to log a message at the Info level.
func info(msg string, a ...interface{}) {
	appLogger.Info(fmt.Sprintf(msg, a...))
}

// warn is a convenience to log a message at the Warn level.
func warn(msg string, a ...interface{}) {
	appLogger.Warn(fmt.Sprintf(msg, a...))
}

// die is a convenience to log a message at the Error level and exit non zero.
func die(msg string, a ...interface{}) {
	appLogger.Error(fmt.Sprintf(msg, a...))
	exit(1)
}

// setupLogging is a function to provide a new logger who's logging depends on
// debug.
func setupLogging(debug bool) log15.Logger {
	// for debug purposes, set up logging to STDERR
	myLogger := log15.New()
	logLevel := log15.LvlWarn
	if debug {
		logLevel = log15.LvlDebug
	}
	myLogger.SetHandler(log15.LvlFilterHandler(logLevel, l15h.CallerInfoHandler(log15.StderrHandler)))
	return myLogger
}

// openMockScheduler opens the configured mock scheduler job table and returns
// a Scheduler using it. Dies on error.
func openMockScheduler(logger log15.Logger) *mocksched.Scheduler {
	store, err := mocksched.OpenStore(config.MockStore, config.MockDBFile)
	if err != nil {
		die("could not open the mock scheduler's %s job table %s: %s", config.MockStore, config.MockDBFile, err)
	}

	sched, err := mocksched.New(mocksched.Config{
		Dir:              config.MockDir,
		MaxJobs:          config.MockMaxJobs,
		SbatchDelay:      time.Duration(config.MockSbatchDelay) * time.Second,
		Shell:            config.Shell,
		DefaultPartition: config.MockPartition,
	}, store, logger)
	if err != nil {
		die("could not create the mock scheduler: %s", err)
	}
	return sched
}

// newRunner creates a Runner for the named backend, configured from our config
// and the given log directory. The returned function must be called when you're
// done with the Runner. Dies on error.
func newRunner(name, logDir string, logger log15.Logger) (*runner.Runner, func()) {
	if logDir != "" {
		abs, err := filepath.Abs(internal.TildaToHome(logDir))
		if err != nil {
			die("bad log directory %s: %s", logDir, err)
		}
		logDir = abs
		if err = os.MkdirAll(logDir, 0755); err != nil {
			die("could not create log directory %s: %s", logDir, err)
		}
	}

	var rconfig interface{}
	closer := func() {}
	switch name {
	case "local":
		rconfig = &runner.ConfigLocal{Shell: config.Shell, LogDir: logDir}
	case "cluster":
		rconfig = &runner.ConfigCluster{
			Dialect:  config.ClusterDialect,
			Queue:    config.ClusterQueue,
			LogDir:   logDir,
			CacheTTL: time.Duration(config.ClusterQueryCacheSecs) * time.Second,
		}
	case "drmaa":
		rconfig = &runner.ConfigDRMAA{LogDir: logDir}
	case "mock":
		sched := openMockScheduler(logger)
		rconfig = &runner.ConfigMock{Scheduler: sched, LogDir: logDir}
		closer = func() {
			if err := sched.Close(); err != nil {
				warn("closing the mock scheduler failed: %s", err)
			}
		}
	}

	r, err := runner.New(name, rconfig, logger)
	if err != nil {
		closer()
		die("could not create the %s runner: %s", name, err)
	}

	return r, func() {
		r.Cleanup()
		closer()
	}
}
