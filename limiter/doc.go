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
Package limiter provides a way of limiting the number of jobs that belong to
one or more limit groups. It can be used concurrently.

You first create a Limiter with a callback that provides the limit of each
group. Then when you want to start a job in one or more of those groups, you
call Increment(). If limits have not been reached, it returns true. When the
job is done, Decrement().

Your callback is only called once per group while that group is in use: the
limit you provide is stored in memory. But Decrement() removes groups from
memory when the count becomes zero. If you need to change the limit of a group,
your callback should start returning the new limit, and you should call
SetLimit() to change the memorised limit, if any.

	import "github.com/VertebrateResequencing/seqrun/limiter"

	cb := func(name string) int {
	    if name == "irods" {
	        return 3
	    }
	    return limiter.Unlimited
	}

	l := limiter.New(cb)

	if l.Increment([]string{"irods", "lustre"}) { // true
	    // start a job that may only run if irods has not reached its limit,
	    // then once it has finished:
	    l.Decrement([]string{"irods", "lustre"})
	}
*/
package limiter
