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


/*
Package main is a stub for seqrun's command line interface, with the actual
implementation in the cmd package.

seqrun runs lists of commands on a job execution backend, never running more
than a configured number at once, and waits for them to finish. It is the glue
between a sequencing facility's pipelines and whatever is available to run
them on.

Basics

Put the commands you want to run in a text file, one per line, and:

    seqrun run -f myCommands.txt --runner local --max 4

Each command's output ends up in <name>.o<id> and <name>.e<id> files.

Package Overview

The jobqueue package implements the Job and the Dispatcher, which queues Jobs
and submits them through a Runner in order, keeping the number running under a
ceiling and polling to find out when they finish.

The jobqueue/runner package implements the Runner backends: local processes,
Grid Engine or Slurm clusters driven through their command line tools, DRMAA
sessions, and the mock scheduler.

The mocksched package is a simulated batch scheduler that runs jobs as local
processes, with a persistent job table, so that pipelines can be tested without
a real cluster. seqrun acts as its sbatch, squeue and scancel if invoked through
symlinks with those names.

The limiter package implements the limit groups the Dispatcher uses to cap the
number of concurrent jobs of a particular kind.

The internal package contains general utility functions, and most notably
config.go holds the code for how the command line interface deals with config
options.
*/
package main

import (
	"os"
	"path/filepath"

	"github.com/VertebrateResequencing/seqrun/cmd"
)

func main() {
	// handle our executable being a symlink named sbatch, in which case we act
	// as `seqrun mock submit`; likewise for squeue and scancel. Otherwise our
	// root command handles everything
	cmd.ExecuteAs(filepath.Base(os.Args[0]))
}
