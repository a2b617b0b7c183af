package opal

import (
	"fmt"
	"sync"
	"time"

	"github.com/ogcode-dev/ogcode/internal/xy2"
)

// SimSink is an in-memory sink for tests and --dry-run. It can impose a
// per-frame accept latency and fail one scripted accept, which is enough to
// exercise backpressure and the emergency-stop path without hardware.
type SimSink struct {
	mu      sync.Mutex
	frames  []xy2.FramePair
	flushes int

	// AcceptLatency delays every accept, simulating a slow link.
	AcceptLatency time.Duration

	failSeq uint64
	failArm bool
}

// NewSimSink returns an empty simulation sink.
func NewSimSink() *SimSink {
	return &SimSink{}
}

// FailAtSeq arms a one-shot accept failure for the given sequence number.
func (s *SimSink) FailAtSeq(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSeq = seq
	s.failArm = true
}

// Accept records the frame after the configured latency.
func (s *SimSink) Accept(f xy2.FramePair) error {
	if s.AcceptLatency > 0 {
		time.Sleep(s.AcceptLatency)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failArm && f.Seq == s.failSeq {
		s.failArm = false
		return fmt.Errorf("simulated link failure at frame %d", f.Seq)
	}
	s.frames = append(s.frames, f)
	return nil
}

// Flush counts flushes; buffered behavior is not simulated.
func (s *SimSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Frames returns a copy of everything accepted so far.
func (s *SimSink) Frames() []xy2.FramePair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]xy2.FramePair, len(s.frames))
	copy(out, s.frames)
	return out
}

// FlushCount returns how many times Flush was called.
func (s *SimSink) FlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}
