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

// This file contains generation of the one-shot wrapper script each admitted
// job runs under.

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
)

var wrapperTemplate = template.Must(template.New("wrapper").Parse(`#!{{.Shell}}
{{range .Env}}export {{.}}
{{end}}{{.Command}} >{{.Output}} 2>{{.Error}} </dev/null
ec=$?
echo $ec >{{.MarkerTmp}} && mv -f {{.MarkerTmp}} {{.Marker}}
exit $ec
`))

// wrapperData is what wrapperTemplate is executed with. Everything except
// Shell must already be shell quoted.
type wrapperData struct {
	Shell     string
	Env       []string
	Command   string
	Output    string
	Error     string
	Marker    string
	MarkerTmp string
}

// wrapperPath is where the wrapper script for the job with the given id is
// written.
func (s *Scheduler) wrapperPath(id int64) string {
	return filepath.Join(s.config.Dir, strconv.FormatInt(id, 10)+".sh")
}

// markerPath is where the wrapper script for the job with the given id writes
// its command's exit code.
func (s *Scheduler) markerPath(id int64) string {
	return filepath.Join(s.config.Dir, strconv.FormatInt(id, 10)+".exitcode")
}

// jobEnv returns the scheduler environment variables a job's command sees.
func (s *Scheduler) jobEnv(rec *Record) []string {
	id := strconv.FormatInt(rec.ID, 10)
	nslots := strconv.Itoa(rec.NSlots)
	return []string{
		"SLURM_JOB_ID=" + id,
		"SLURM_JOBID=" + id,
		"SLURM_JOB_NAME=" + shellescape.Quote(rec.Name),
		"SLURM_NTASKS=" + nslots,
		"SLURM_NPROCS=" + nslots,
		"SLURM_JOB_PARTITION=" + shellescape.Quote(rec.Partition),
		"SLURM_SUBMIT_DIR=" + shellescape.Quote(rec.WorkingDir),
		"SLURM_JOB_USER=" + shellescape.Quote(rec.User),
	}
}

// writeWrapper writes the wrapper script for the given row and returns its
// path.
func (s *Scheduler) writeWrapper(rec *Record) (string, error) {
	marker := s.markerPath(rec.ID)
	data := wrapperData{
		Shell:     s.shellPath,
		Env:       s.jobEnv(rec),
		Command:   shellescape.QuoteCommand(append([]string{rec.Command}, rec.Args...)),
		Output:    shellescape.Quote(OutputPath(rec.OutputTmpl, rec)),
		Error:     shellescape.Quote(OutputPath(rec.ErrorTmpl, rec)),
		Marker:    shellescape.Quote(marker),
		MarkerTmp: shellescape.Quote(marker + ".tmp"),
	}

	path := s.wrapperPath(rec.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0700)
	if err != nil {
		return "", err
	}

	if err = wrapperTemplate.Execute(f, data); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// removeJobFiles deletes the wrapper and marker files of the job with the given
// id, logging failures other than the files not existing.
func (s *Scheduler) removeJobFiles(id int64) {
	for _, path := range []string{s.wrapperPath(id), s.markerPath(id), s.markerPath(id) + ".tmp"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.Warn("could not remove job file", "id", id, "path", path, "err", err)
		}
	}
}

// ExpandTemplate substitutes %j with the job id, %x with the job name, %u
// with the user and %% with %. Other % sequences are left alone.
func ExpandTemplate(tmpl string, id int64, name, user string) string {
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' || i == len(tmpl)-1 {
			b.WriteByte(tmpl[i])
			continue
		}

		switch tmpl[i+1] {
		case 'j':
			b.WriteString(strconv.FormatInt(id, 10))
		case 'x':
			b.WriteString(name)
		case 'u':
			b.WriteString(user)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(tmpl[i+1])
		}
		i++
	}
	return b.String()
}

// OutputPath expands the given output template for the row, rooting
// relative results in the row's working directory.
func OutputPath(tmpl string, rec *Record) string {
	path := ExpandTemplate(tmpl, rec.ID, rec.Name, rec.User)
	if !filepath.IsAbs(path) {
		path = filepath.Join(rec.WorkingDir, path)
	}
	return path
}
