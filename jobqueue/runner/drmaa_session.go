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

//go:build drmaa
// +build drmaa

package runner

// This file contains the DRMSession implementation backed by the DRMAA v1 C
// library. It is only built with the drmaa build tag, since it needs cgo and
// the library's headers.

import (
	"github.com/dgruber/drmaa"
)

// drmaaSession wraps a real DRMAA session.
type drmaaSession struct {
	session drmaa.Session
}

func newDRMSession() (DRMSession, error) {
	session, err := drmaa.MakeSession()
	if err != nil {
		return nil, Error{"drmaa", "initialize", err.Error()}
	}
	return &drmaaSession{session: session}, nil
}

// RunJob fills in a job template and runs it.
func (d *drmaaSession) RunJob(name, workingDir, command string, args []string, outputPath, errorPath string) (string, error) {
	jt, err := d.session.AllocateJobTemplate()
	if err != nil {
		return "", err
	}
	defer d.session.DeleteJobTemplate(&jt) //nolint:errcheck

	if err = jt.SetRemoteCommand(command); err != nil {
		return "", err
	}
	if len(args) > 0 {
		if err = jt.SetArgs(args); err != nil {
			return "", err
		}
	}
	if err = jt.SetJobName(name); err != nil {
		return "", err
	}
	if workingDir != "" {
		if err = jt.SetWD(workingDir); err != nil {
			return "", err
		}
	}
	if err = jt.SetOutputPath(outputPath); err != nil {
		return "", err
	}
	if err = jt.SetErrorPath(errorPath); err != nil {
		return "", err
	}

	return d.session.RunJob(&jt)
}

func (d *drmaaSession) Terminate(id string) error {
	return d.session.Control(id, drmaa.Terminate)
}

func (d *drmaaSession) JobState(id string) (DRMState, error) {
	ps, err := d.session.JobPs(id)
	if err != nil {
		return DRMStateUndetermined, err
	}

	switch ps {
	case drmaa.PsQueuedActive:
		return DRMStateQueued, nil
	case drmaa.PsSystemOnHold:
		return DRMStateSystemOnHold, nil
	case drmaa.PsUserOnHold:
		return DRMStateUserOnHold, nil
	case drmaa.PsUserSystemOnHold:
		return DRMStateUserSystemOnHold, nil
	case drmaa.PsRunning:
		return DRMStateRunning, nil
	case drmaa.PsSystemSuspended:
		return DRMStateSystemSuspended, nil
	case drmaa.PsUserSuspended:
		return DRMStateUserSuspended, nil
	case drmaa.PsUserSystemSuspended:
		return DRMStateUserSystemSuspended, nil
	case drmaa.PsDone:
		return DRMStateDone, nil
	case drmaa.PsFailed:
		return DRMStateFailed, nil
	}
	return DRMStateUndetermined, nil
}

func (d *drmaaSession) Exit() error {
	return d.session.Exit()
}
