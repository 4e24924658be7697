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
Package jobqueue lets you run a list of commands through a job execution
backend (see the runner package) without running too many at once.

A Job is a single command to run in a working directory. Jobs are added to a
Dispatcher, which keeps them in a first-in first-out queue and submits them
through its Runner as slots become free. A Dispatcher does not get told when
jobs finish: it finds out by asking the Runner which jobs are still active each
time Update() is called, which Run() does for you every poll interval.

It guarantees:

  # Jobs are started in the order they were added.
  # No more than the maximum number of jobs run at once (counted either as the
    jobs this Dispatcher started, or every job the backend lists; see Ceiling).
  # Jobs in a limit group (see SetLimit()) never exceed that group's limit.
  # A Job is only ever submitted once unless you Restart() it.
  # A job that fails to submit, or that the backend reports as being in an
    error state, ends up completed rather than holding up the queue.

Usage:

    import (
        "context"
        "github.com/VertebrateResequencing/seqrun/jobqueue"
        "github.com/VertebrateResequencing/seqrun/jobqueue/runner"
    )

    r, err := runner.New("local", &runner.ConfigLocal{Shell: "bash"})
    d := jobqueue.New(r, 10, jobqueue.WithPollInterval(5*time.Second))
    d.SetLimit("irods", 2)
    job := d.AddCommand("qc_lane1", "/data/run1", "fastqc", "lane1.fq")
    job.LimitGroups = []string{"irods"}
    err = d.Run(context.Background(), true)
    for _, job := range d.Completed() {
        fmt.Println(job.Name, job.Status(), job.LogPath())
    }
*/
package jobqueue
