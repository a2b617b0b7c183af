package opal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"go.bug.st/serial"

	"github.com/ogcode-dev/ogcode/internal/monitoring"
	"github.com/ogcode-dev/ogcode/internal/xy2"
)

// PortOptions describes the host-link serial parameters. The fields mirror
// the [serial] section of the machine configuration so they can be passed
// through without translation.
type PortOptions struct {
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	StopBits int    `toml:"stop_bits"`
	Parity   string `toml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
// The default baud rate assumes a high-speed USB bridge; the controller
// regenerates the 100 kHz sample timing itself.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 3000000
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// SerialMode converts the options into the serial.Mode structure required by
// go.bug.st/serial when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.StopBits(opts.StopBits),
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", opts.Parity)
	}

	return mode, nil
}

// hostPort is the slice of the serial API the sink uses. go.bug.st's
// serial.Port satisfies it; tests substitute an in-memory writer.
type hostPort interface {
	io.Writer
	io.Closer
}

// SerialSink streams host-link records to the scan head controller over a
// serial device. A file lock keyed on the device name keeps two jobs from
// interleaving frames on one head.
type SerialSink struct {
	port hostPort
	w    *bufio.Writer
	lock *flock.Flock
	path string
	buf  []byte
}

// OpenSerialSink acquires the device lock and opens the host link.
func OpenSerialSink(path string, opts PortOptions) (*SerialSink, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	lk := flock.New(lockPathFor(path))
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire device lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("device %s is held by another job", path)
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		_ = lk.Unlock()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	monitoring.Logf("[opal] host link open on %s at %d baud", path, mode.BaudRate)
	return newSerialSink(port, lk, path), nil
}

func newSerialSink(port hostPort, lk *flock.Flock, path string) *SerialSink {
	return &SerialSink{
		port: port,
		w:    bufio.NewWriterSize(port, 4096),
		lock: lk,
		path: path,
	}
}

// lockPathFor derives a lock file name from the device path, under the
// system temp directory so unprivileged runs work.
func lockPathFor(device string) string {
	name := strings.ReplaceAll(strings.TrimPrefix(device, "/"), "/", "-")
	return filepath.Join(os.TempDir(), "ogcode-"+name+".lock")
}

// Accept buffers one record; the bufio layer batches port writes.
func (s *SerialSink) Accept(f xy2.FramePair) error {
	s.buf = AppendRecord(s.buf[:0], f)
	_, err := s.w.Write(s.buf)
	return err
}

// Flush pushes buffered records to the device.
func (s *SerialSink) Flush() error {
	return s.w.Flush()
}

// Close flushes, closes the port and releases the device lock.
func (s *SerialSink) Close() error {
	ferr := s.w.Flush()
	cerr := s.port.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	if ferr != nil {
		return ferr
	}
	return cerr
}
