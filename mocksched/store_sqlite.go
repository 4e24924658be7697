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

// This file contains the Store implementation backed by an embedded SQLite
// database.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the sqlite driver
)

// schema is applied in order when the database is opened.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user        TEXT NOT NULL,
		state       TEXT NOT NULL,
		name        TEXT NOT NULL,
		command     TEXT NOT NULL,
		args        TEXT NOT NULL DEFAULT '[]',
		working_dir TEXT NOT NULL,
		nslots      INTEGER NOT NULL DEFAULT 1,
		partition   TEXT NOT NULL,
		output_tmpl TEXT NOT NULL,
		error_tmpl  TEXT NOT NULL,
		export      TEXT NOT NULL,
		pid         INTEGER,
		sbatch_time TEXT NOT NULL,
		start_time  TEXT,
		end_time    TEXT,
		exit_code   INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user)`,
}

const jobColumns = `id, user, state, name, command, args, working_dir, nslots, partition,
	output_tmpl, error_tmpl, export, pid, sbatch_time, start_time, end_time, exit_code`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath. Use
// ":memory:" for a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// every connection to :memory: would be a different database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores a new row.
func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) (int64, error) {
	if err := checkState("Insert", rec); err != nil {
		return 0, err
	}
	argsJSON, err := json.Marshal(rec.Args)
	if err != nil {
		return 0, fmt.Errorf("marshal args: %w", err)
	}
	if rec.Args == nil {
		argsJSON = []byte("[]")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (user, state, name, command, args, working_dir, nslots, partition,
			output_tmpl, error_tmpl, export, sbatch_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.User, string(rec.State), rec.Name, rec.Command, string(argsJSON), rec.WorkingDir,
		rec.NSlots, rec.Partition, rec.OutputTmpl, rec.ErrorTmpl, rec.Export,
		formatTime(rec.SbatchTime),
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	rec.ID = id
	return id, nil
}

// Get returns the row with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, Error{Op: "Get", ID: id, Err: ErrNotFound}
	}
	return rec, err
}

// List returns the rows that pass the filter, in id order.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*Record, error) {
	var where []string
	var args []interface{}

	if f.User != "" {
		where = append(where, "user = ?")
		args = append(args, f.User)
	}
	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, state := range f.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		where = append(where, "state IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Transition updates the row in a single conditional statement, so that the
// row only changes if it is still in the from state.
func (s *SQLiteStore) Transition(ctx context.Context, rec *Record, from State) error {
	if !from.CanTransitionTo(rec.State) {
		return checkTransition(&Record{State: from}, rec, from)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, pid = ?, start_time = ?, end_time = ?, exit_code = ?
		 WHERE id = ? AND state = ?`,
		string(rec.State), nullInt(rec.PID, rec.PID != 0), nullTime(rec.StartTime), nullTime(rec.EndTime),
		nullInt(rec.ExitCode, rec.State == StateCompleted), rec.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %d: %w", rec.ID, err)
	}
	if n == 1 {
		return nil
	}

	// work out why nothing was updated
	current, err := s.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	return checkTransition(current, rec, from)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var state, argsJSON, sbatchTime string
	var pid, exitCode sql.NullInt64
	var startTime, endTime sql.NullString

	err := row.Scan(&rec.ID, &rec.User, &state, &rec.Name, &rec.Command, &argsJSON, &rec.WorkingDir,
		&rec.NSlots, &rec.Partition, &rec.OutputTmpl, &rec.ErrorTmpl, &rec.Export,
		&pid, &sbatchTime, &startTime, &endTime, &exitCode)
	if err != nil {
		return nil, err
	}

	rec.State = State(state)
	if err := checkState("scan", &rec); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	if len(rec.Args) == 0 {
		rec.Args = nil
	}
	rec.PID = int(pid.Int64)
	rec.ExitCode = int(exitCode.Int64)
	rec.SbatchTime, _ = time.Parse(time.RFC3339Nano, sbatchTime)
	if startTime.Valid {
		rec.StartTime, _ = time.Parse(time.RFC3339Nano, startTime.String)
	}
	if endTime.Valid {
		rec.EndTime, _ = time.Parse(time.RFC3339Nano, endTime.String)
	}

	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullInt(i int, valid bool) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: valid}
}
