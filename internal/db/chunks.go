package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// FrameChunk is one packed block of frame records as stored on disk.
type FrameChunk struct {
	FirstSeq uint64
	Count    int
	Data     []byte
}

// AppendFrameChunk stores one packed record block for a job. Satisfies
// opal.ChunkStore so a RecordSink can write straight into the database.
func (db *DB) AppendFrameChunk(ctx context.Context, jobID uuid.UUID, firstSeq uint64, count int, data []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO frame_chunks (job_id, first_seq, frame_count, data)
		 VALUES (?, ?, ?, ?)`,
		jobID.String(), int64(firstSeq), count, data,
	)
	if err != nil {
		return fmt.Errorf("append chunk %d for job %s: %w", firstSeq, jobID, err)
	}
	return nil
}

// FrameChunks returns a job's recorded chunks in stream order.
func (db *DB) FrameChunks(ctx context.Context, jobID uuid.UUID) ([]FrameChunk, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT first_seq, frame_count, data
		 FROM frame_chunks WHERE job_id = ? ORDER BY first_seq ASC`,
		jobID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []FrameChunk
	for rows.Next() {
		var (
			c        FrameChunk
			firstSeq int64
		)
		if err := rows.Scan(&firstSeq, &c.Count, &c.Data); err != nil {
			return nil, err
		}
		c.FirstSeq = uint64(firstSeq)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// JobFrameCount sums the recorded frames for a job.
func (db *DB) JobFrameCount(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(frame_count), 0) FROM frame_chunks WHERE job_id = ?`,
		jobID.String()).Scan(&n)
	return n, err
}
