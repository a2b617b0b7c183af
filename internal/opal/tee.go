package opal

import (
	"github.com/ogcode-dev/ogcode/internal/emitter"
	"github.com/ogcode-dev/ogcode/internal/xy2"
)

// TeeSink fans every frame out to several sinks, typically hardware plus a
// recording sink. All sinks receive each frame even when an earlier one
// fails, so a recorder keeps the full picture of an aborted job; the first
// error is reported upstream.
type TeeSink struct {
	sinks []emitter.Sink
}

// NewTeeSink builds a tee over the given sinks in order.
func NewTeeSink(sinks ...emitter.Sink) *TeeSink {
	return &TeeSink{sinks: sinks}
}

// Accept delivers the frame to every sink and returns the first error.
func (t *TeeSink) Accept(f xy2.FramePair) error {
	var first error
	for _, s := range t.sinks {
		if err := s.Accept(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Flush flushes every sink and returns the first error.
func (t *TeeSink) Flush() error {
	var first error
	for _, s := range t.sinks {
		if err := s.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
