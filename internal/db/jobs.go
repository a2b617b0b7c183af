package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one compile-and-stream run recorded in the database.
type Job struct {
	ID         uuid.UUID
	Source     string
	State      string
	Commands   int
	Segments   int
	Frames     int
	Duration   time.Duration
	Error      *string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// JobResult carries the final counters written when a job ends.
type JobResult struct {
	State    string
	Commands int
	Segments int
	Frames   int
	Duration time.Duration
	Message  string // error text, empty on success
}

// CreateJob inserts a new job row in the given initial state and stamps
// job.CreatedAt.
func (db *DB) CreateJob(ctx context.Context, job *Job) error {
	job.CreatedAt = time.Now().UTC()
	_, err := db.ExecContext(ctx,
		`INSERT INTO jobs (id, source, state, created_us) VALUES (?, ?, ?, ?)`,
		job.ID.String(), job.Source, job.State, job.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobState records a stage transition.
func (db *DB) UpdateJobState(ctx context.Context, id uuid.UUID, state string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET state = ? WHERE id = ?`, state, id.String())
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update job %s: no such job", id)
	}
	return nil
}

// FinishJob writes the terminal state and counters for a job.
func (db *DB) FinishJob(ctx context.Context, id uuid.UUID, res JobResult) error {
	errText := sql.NullString{String: res.Message, Valid: res.Message != ""}
	r, err := db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = ?, commands = ?, segments = ?, frames = ?,
		     duration_us = ?, error = ?, finished_us = ?
		 WHERE id = ?`,
		res.State, res.Commands, res.Segments, res.Frames,
		res.Duration.Microseconds(), errText, time.Now().UTC().UnixMicro(),
		id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish job %s: no such job", id)
	}
	return nil
}

// Job loads a single job by id.
func (db *DB) Job(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, source, state, commands, segments, frames,
		        duration_us, error, created_us, finished_us
		 FROM jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: not found", id)
	}
	return job, err
}

// RecentJobs lists the newest jobs first, up to limit. A limit of zero or
// less returns all jobs.
func (db *DB) RecentJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1 // sqlite: negative LIMIT means unbounded
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, source, state, commands, segments, frames,
		        duration_us, error, created_us, finished_us
		 FROM jobs ORDER BY created_us DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		idStr      string
		job        Job
		durationUS int64
		errText    sql.NullString
		createdUS  int64
		finishedUS sql.NullInt64
	)
	err := row.Scan(&idStr, &job.Source, &job.State,
		&job.Commands, &job.Segments, &job.Frames,
		&durationUS, &errText, &createdUS, &finishedUS)
	if err != nil {
		return nil, err
	}

	job.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	job.Duration = time.Duration(durationUS) * time.Microsecond
	job.CreatedAt = time.UnixMicro(createdUS).UTC()
	if errText.Valid {
		job.Error = &errText.String
	}
	if finishedUS.Valid {
		t := time.UnixMicro(finishedUS.Int64).UTC()
		job.FinishedAt = &t
	}
	return &job, nil
}
