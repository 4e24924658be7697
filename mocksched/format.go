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

package mocksched

// This file contains rendering of Query() results in the fixed width layout
// of squeue's default output.

import (
	"fmt"
	"io"
	"time"
)

// queueHeader is the first line of WriteQueue() output.
var queueHeader = fmt.Sprintf("%18s %9s %8s %8s %2s %10s %6s %s", "JOBID", "PARTITION", "NAME", "USER", "ST", "TIME", "NODES", "NODELIST(REASON)")

// WriteQueue writes a header line and then one line per record, with elapsed
// times calculated relative to now.
func WriteQueue(w io.Writer, recs []*Record, hostname string, now time.Time) error {
	if _, err := fmt.Fprintln(w, queueHeader); err != nil {
		return err
	}

	for _, rec := range recs {
		_, err := fmt.Fprintf(w, "%18s %9s %8s %8s %2s %10s %6d %s\n",
			truncate(fmt.Sprintf("%d", rec.ID), 18),
			truncate(rec.Partition, 9),
			truncate(rec.Name, 8),
			truncate(rec.User, 8),
			truncate(string(rec.State), 2),
			FormatElapsed(elapsed(rec, now)),
			1,
			nodelistReason(rec, hostname),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// truncate cuts s down to at most n bytes.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// elapsed is how long a row has been running, or ran for.
func elapsed(rec *Record, now time.Time) time.Duration {
	if rec.StartTime.IsZero() {
		return 0
	}
	end := now
	if !rec.EndTime.IsZero() {
		end = rec.EndTime
	}
	if end.Before(rec.StartTime) {
		return 0
	}
	return end.Sub(rec.StartTime)
}

// FormatElapsed formats a duration like squeue does: M:SS, H:MM:SS or
// D-HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	mins := (total % 3600) / 60
	secs := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, mins, secs)
	case hours > 0:
		return fmt.Sprintf("%d:%02d:%02d", hours, mins, secs)
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// nodelistReason is the last column: the node a job runs on, or why it isn't
// running.
func nodelistReason(rec *Record, hostname string) string {
	switch rec.State {
	case StatePending:
		return "(Resources)"
	case StateFailed:
		return "(JobLaunchFailure)"
	case StateCancelled:
		if rec.PID == 0 {
			return "(None)"
		}
	}
	return hostname
}
