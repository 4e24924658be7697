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

// This file contains parsing of --export specs, which control what
// environment a job's command sees.

import (
	"regexp"
	"strings"
)

// ExportAll and ExportNone are the special --export values.
const (
	ExportAll  = "ALL"
	ExportNone = "NONE"
)

var envNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// exportVar is one NAME or NAME=value item of an export spec.
type exportVar struct {
	name     string
	value    string
	hasValue bool
}

// ExportSpec is a parsed --export value.
type ExportSpec struct {
	all  bool
	vars []exportVar
}

// ParseExport parses an export spec: ALL (the default, used for the empty
// string), NONE, or a comma separated list of NAME and NAME=value items,
// optionally including ALL.
func ParseExport(spec string) (*ExportSpec, error) {
	if spec == "" || spec == ExportAll {
		return &ExportSpec{all: true}, nil
	}
	if spec == ExportNone {
		return &ExportSpec{}, nil
	}

	e := &ExportSpec{}
	for _, item := range strings.Split(spec, ",") {
		switch item {
		case ExportAll:
			e.all = true
			continue
		case ExportNone, "":
			return nil, Error{Op: "ParseExport", Err: ErrBadRequest + ": bad export item [" + item + "] in " + spec}
		}

		v := exportVar{name: item}
		if eq := strings.Index(item, "="); eq != -1 {
			v = exportVar{name: item[:eq], value: item[eq+1:], hasValue: true}
		}
		if !envNameRegex.MatchString(v.name) {
			return nil, Error{Op: "ParseExport", Err: ErrBadRequest + ": bad variable name [" + v.name + "] in " + spec}
		}
		e.vars = append(e.vars, v)
	}
	return e, nil
}

// Environ returns the environment a job should get, given the environment
// of the submitter. When not exporting ALL, PATH and HOME are still passed
// through, so that the job's command can be found.
func (e *ExportSpec) Environ(base []string) []string {
	baseVals := make(map[string]string, len(base))
	var order []string
	for _, kv := range base {
		eq := strings.Index(kv, "=")
		if eq == -1 {
			continue
		}
		name := kv[:eq]
		if _, seen := baseVals[name]; !seen {
			order = append(order, name)
		}
		baseVals[name] = kv[eq+1:]
	}

	vals := make(map[string]string)
	var names []string
	set := func(name, val string) {
		if _, seen := vals[name]; !seen {
			names = append(names, name)
		}
		vals[name] = val
	}

	if e.all {
		for _, name := range order {
			set(name, baseVals[name])
		}
	} else {
		for _, name := range []string{"PATH", "HOME"} {
			if val, found := baseVals[name]; found {
				set(name, val)
			}
		}
	}

	for _, v := range e.vars {
		if v.hasValue {
			set(v.name, v.value)
		} else if val, found := baseVals[v.name]; found {
			set(v.name, val)
		}
	}

	env := make([]string, len(names))
	for i, name := range names {
		env[i] = name + "=" + vals[name]
	}
	return env
}
