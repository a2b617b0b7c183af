package opal

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/ogcode-dev/ogcode/internal/xy2"
)

func mkFrame(seq uint64, x, y uint16, on bool, estop bool) xy2.FramePair {
	f := xy2.EncodeFrame(seq, x, y, on, 80)
	f.EStop = estop
	return f
}

func TestAppendRecordLayout(t *testing.T) {
	f := xy2.FramePair{
		Seq:   9,
		X:     0x20001,
		Y:     0x3FFFF,
		Laser: 0x1FF,
		EStop: true,
	}
	got := AppendRecord(nil, f)
	want := []byte{
		0x01, 0x00, 0x02, 0x00, // x word LE
		0xFF, 0xFF, 0x03, 0x00, // y word LE
		0xFF, 0x01, // laser word
		0x01, 0x00, // flags: estop
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("record = % x, want % x", got, want)
	}
}

func TestRecordCodecRoundTrip(t *testing.T) {
	in := []xy2.FramePair{
		mkFrame(100, 0, 0, false, false),
		mkFrame(101, 32768, 40000, true, false),
		mkFrame(102, 65535, 1, false, true),
	}
	var data []byte
	for _, f := range in {
		data = AppendRecord(data, f)
	}

	got, err := DecodeRecords(data, 100)
	if err != nil {
		t.Fatalf("DecodeRecords: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRecordsBadLength(t *testing.T) {
	if _, err := DecodeRecords(make([]byte, RecordSize+1), 0); err == nil {
		t.Fatal("DecodeRecords accepted a truncated block")
	}
}

func TestPortOptionsNormalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := PortOptions{BaudRate: 3000000, DataBits: 8, StopBits: 1, Parity: "N"}
	if opts != want {
		t.Errorf("defaults = %+v, want %+v", opts, want)
	}

	bad := []PortOptions{
		{DataBits: 4},
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "M"},
	}
	for _, o := range bad {
		if _, err := o.Normalize(); err == nil {
			t.Errorf("Normalize(%+v) accepted invalid options", o)
		}
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 115200, Parity: "even"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode: %v", err)
	}
	if mode.BaudRate != 115200 || mode.DataBits != 8 || mode.Parity != serial.EvenParity {
		t.Errorf("mode = %+v", mode)
	}
}

type fakePort struct {
	bytes.Buffer
	closed bool
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func TestSerialSinkWritesRecords(t *testing.T) {
	port := &fakePort{}
	sink := newSerialSink(port, nil, "fake")

	frames := []xy2.FramePair{
		mkFrame(0, 32768, 32768, false, false),
		mkFrame(1, 32769, 32768, true, false),
		mkFrame(2, 32770, 32768, true, false),
	}
	var want []byte
	for _, f := range frames {
		if err := sink.Accept(f); err != nil {
			t.Fatalf("Accept: %v", err)
		}
		want = AppendRecord(want, f)
	}
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !bytes.Equal(port.Bytes(), want) {
		t.Fatalf("port received % x, want % x", port.Bytes(), want)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !port.closed {
		t.Error("Close did not close the port")
	}
}

func TestSimSinkScriptedFailure(t *testing.T) {
	sink := NewSimSink()
	sink.FailAtSeq(1)

	if err := sink.Accept(mkFrame(0, 1, 1, false, false)); err != nil {
		t.Fatalf("Accept(0): %v", err)
	}
	if err := sink.Accept(mkFrame(1, 2, 2, false, false)); err == nil {
		t.Fatal("Accept(1) did not fail")
	}
	// One-shot: the stop tail may reuse the sequence number.
	if err := sink.Accept(mkFrame(1, 2, 2, false, true)); err != nil {
		t.Fatalf("Accept(1) retry: %v", err)
	}
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := sink.Frames(); len(got) != 2 {
		t.Errorf("recorded %d frames, want 2", len(got))
	}
	if sink.FlushCount() != 1 {
		t.Errorf("FlushCount = %d, want 1", sink.FlushCount())
	}
}

func TestTeeSinkFansOut(t *testing.T) {
	a, b := NewSimSink(), NewSimSink()
	tee := NewTeeSink(a, b)

	for i := uint64(0); i < 3; i++ {
		if err := tee.Accept(mkFrame(i, uint16(i), 0, false, false)); err != nil {
			t.Fatalf("Accept(%d): %v", i, err)
		}
	}
	if err := tee.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(a.Frames()) != 3 || len(b.Frames()) != 3 {
		t.Fatalf("sinks got %d and %d frames, want 3 each", len(a.Frames()), len(b.Frames()))
	}
	if a.FlushCount() != 1 || b.FlushCount() != 1 {
		t.Error("flush did not reach both sinks")
	}
}

func TestTeeSinkFirstErrorWins(t *testing.T) {
	a, b := NewSimSink(), NewSimSink()
	a.FailAtSeq(0)
	tee := NewTeeSink(a, b)

	if err := tee.Accept(mkFrame(0, 1, 1, false, false)); err == nil {
		t.Fatal("tee swallowed the sink error")
	}
	// The second sink still received the frame.
	if len(b.Frames()) != 1 {
		t.Fatalf("second sink got %d frames, want 1", len(b.Frames()))
	}
}

type chunkRec struct {
	jobID    uuid.UUID
	firstSeq uint64
	count    int
	data     []byte
}

type fakeStore struct {
	chunks []chunkRec
}

func (s *fakeStore) AppendFrameChunk(_ context.Context, jobID uuid.UUID, firstSeq uint64, count int, data []byte) error {
	s.chunks = append(s.chunks, chunkRec{jobID, firstSeq, count, data})
	return nil
}

func TestRecordSinkChunks(t *testing.T) {
	store := &fakeStore{}
	jobID := uuid.New()
	sink := NewRecordSink(context.Background(), store, jobID, 4)

	var sent []xy2.FramePair
	for i := uint64(0); i < 10; i++ {
		f := mkFrame(i, uint16(i), uint16(i), true, false)
		sent = append(sent, f)
		if err := sink.Accept(f); err != nil {
			t.Fatalf("Accept(%d): %v", i, err)
		}
	}
	if err := sink.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(store.chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(store.chunks))
	}
	wantChunks := []struct {
		first uint64
		count int
	}{{0, 4}, {4, 4}, {8, 2}}
	var decoded []xy2.FramePair
	for i, c := range store.chunks {
		if c.jobID != jobID {
			t.Errorf("chunk %d recorded under %s, want %s", i, c.jobID, jobID)
		}
		if c.firstSeq != wantChunks[i].first || c.count != wantChunks[i].count {
			t.Errorf("chunk %d = (first %d, count %d), want (%d, %d)",
				i, c.firstSeq, c.count, wantChunks[i].first, wantChunks[i].count)
		}
		frames, err := DecodeRecords(c.data, c.firstSeq)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		decoded = append(decoded, frames...)
	}
	if diff := cmp.Diff(sent, decoded); diff != "" {
		t.Errorf("recorded frames mismatch (-want +got):\n%s", diff)
	}
}
