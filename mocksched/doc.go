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
Package mocksched is a simulated batch scheduler. It accepts jobs, queues them,
runs them as local processes with no more than a configured number at once, and
lets you query and cancel them, mirroring the sbatch, squeue and scancel
commands of a real cluster. It exists so that pipelines (and their tests) can
exercise the cluster code paths on a single machine.

The job table lives in a Store (SQLite, bolt or in-memory) and is the only
source of truth, so a Scheduler can be recreated by a new process, eg. each
invocation of the seqrun mock commands. Rows move through the states PD
(pending), R (running), F (failed to start), CA (marked for cancellation) and c
(completed), only along the edges in ValidTransitions.

There is no daemon: every public command first runs a reconciliation pass that
reaps finished jobs, kills cancelled ones and admits pending ones, in strict
submission order.

    import "github.com/VertebrateResequencing/seqrun/mocksched"
    store, err := mocksched.OpenStore(mocksched.StoreSQLite, "/tmp/mock/jobs.db")
    s, err := mocksched.New(mocksched.Config{Dir: "/tmp/mock", MaxJobs: 2}, store)
    id, err := s.Submit(ctx, mocksched.SubmitRequest{Command: "sleep", Args: []string{"5"}})
    recs, err := s.Query(ctx, "")
    results := s.Cancel(ctx, id)
*/
package mocksched
