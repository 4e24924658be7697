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

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTemplates(t *testing.T) {
	Convey("ExpandTemplate substitutes the supported sequences", t, func() {
		So(ExpandTemplate(DefaultOutputTmpl, 42, "qc", "u"), ShouldEqual, "qc.o42")
		So(ExpandTemplate(DefaultErrorTmpl, 42, "qc", "u"), ShouldEqual, "qc.e42")
		So(ExpandTemplate("logs/%u/%x-%j.txt", 7, "align", "bob"), ShouldEqual, "logs/bob/align-7.txt")
		So(ExpandTemplate("100%%_%A_%", 1, "n", "u"), ShouldEqual, "100%_%A_%")
	})

	Convey("OutputPath roots relative paths in the working directory", t, func() {
		rec := &Record{ID: 5, Name: "qc", User: "u", WorkingDir: "/data/run"}
		So(OutputPath("%x.o%j", rec), ShouldEqual, "/data/run/qc.o5")
		So(OutputPath("/logs/%j.out", rec), ShouldEqual, "/logs/5.out")
	})
}
