package opal

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ogcode-dev/ogcode/internal/xy2"
)

// ChunkStore persists packed frame-record blocks for one job. *db.DB
// implements it.
type ChunkStore interface {
	AppendFrameChunk(ctx context.Context, jobID uuid.UUID, firstSeq uint64, count int, data []byte) error
}

// DefaultChunkFrames is how many records a RecordSink packs per chunk:
// 2048 frames is 24 KiB per blob and about 20 ms of stream at the default
// sample period.
const DefaultChunkFrames = 2048

// RecordSink packs accepted frames into fixed-size record chunks and appends
// them to the job database. It is the audit/replay sink; chain it behind a
// TeeSink to record what was sent to hardware.
type RecordSink struct {
	ctx    context.Context
	store  ChunkStore
	jobID  uuid.UUID
	chunkN int

	buf   []byte
	first uint64
	count int
}

// NewRecordSink returns a sink recording under the given job. chunkFrames
// of zero or less selects DefaultChunkFrames.
func NewRecordSink(ctx context.Context, store ChunkStore, jobID uuid.UUID, chunkFrames int) *RecordSink {
	if chunkFrames <= 0 {
		chunkFrames = DefaultChunkFrames
	}
	return &RecordSink{
		ctx:    ctx,
		store:  store,
		jobID:  jobID,
		chunkN: chunkFrames,
	}
}

// Accept buffers the frame, appending a chunk to the store whenever the
// buffer fills.
func (r *RecordSink) Accept(f xy2.FramePair) error {
	if r.count == 0 {
		r.first = f.Seq
	}
	r.buf = AppendRecord(r.buf, f)
	r.count++
	if r.count >= r.chunkN {
		return r.flushChunk()
	}
	return nil
}

// Flush appends any partial chunk.
func (r *RecordSink) Flush() error {
	if r.count == 0 {
		return nil
	}
	return r.flushChunk()
}

func (r *RecordSink) flushChunk() error {
	data := make([]byte, len(r.buf))
	copy(data, r.buf)
	if err := r.store.AppendFrameChunk(r.ctx, r.jobID, r.first, r.count, data); err != nil {
		return fmt.Errorf("record chunk at %d: %w", r.first, err)
	}
	r.buf = r.buf[:0]
	r.count = 0
	return nil
}
