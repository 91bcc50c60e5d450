package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Mode selects the output container.
type Mode int

const (
	ModeRaw Mode = iota
	ModeWAV
)

func (m Mode) String() string {
	if m == ModeWAV {
		return "wav"
	}
	return "raw"
}

// DefaultBufferSize is the write buffer used between the delivery callback
// and the file.
const DefaultBufferSize = 16 * 1024

var (
	// ErrClosed is returned when writing to a closed Writer.
	ErrClosed = errors.New("container writer closed")
	// ErrNotStarted is returned by Append before Begin has been called.
	ErrNotStarted = errors.New("container not started")
	// ErrFinished is returned by Append after Finish.
	ErrFinished = errors.New("container already finished")
)

// Writer owns the output file handle. It is not safe for concurrent use;
// the capture session serialises access.
type Writer struct {
	path string
	mode Mode

	file afero.File
	buf  *bufio.Writer

	started   bool
	finished  bool
	closed    bool
	oversized bool
	payload   uint64
}

type options struct {
	overwrite  bool
	bufferSize int
}

// Option configures Create.
type Option func(*options)

// WithOverwrite truncates an existing file instead of failing.
func WithOverwrite() Option {
	return func(o *options) { o.overwrite = true }
}

// WithBufferSize sets the write buffer size. Values below
// DefaultBufferSize are raised to it.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > o.bufferSize {
			o.bufferSize = n
		}
	}
}

// Create opens path for exclusive writing on fs.
func Create(fs afero.Fs, path string, mode Mode, opts ...Option) (*Writer, error) {
	o := options{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if o.overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	f, err := fs.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &Writer{
		path: path,
		mode: mode,
		file: f,
		buf:  bufio.NewWriterSize(f, o.bufferSize),
	}, nil
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// Mode returns the container mode.
func (w *Writer) Mode() Mode { return w.mode }

// Payload returns the number of payload bytes appended so far.
func (w *Writer) Payload() uint64 { return w.payload }

// Oversized reports whether Finish had to saturate a 32-bit size field.
func (w *Writer) Oversized() bool { return w.oversized }

// Begin writes the placeholder header in WAV mode. Raw mode writes nothing.
func (w *Writer) Begin(d Descriptor) error {
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return nil
	}
	if w.mode == ModeWAV {
		h := placeholderHeader()
		h.FormatTag = d.FormatTag
		h.Channels = d.Channels
		h.SampleRate = d.SampleRate
		h.BitsPerSample = d.BitsPerSample
		if _, err := h.WriteTo(w.buf); err != nil {
			return fmt.Errorf("write placeholder header: %w", err)
		}
	}
	w.started = true
	return nil
}

// Append writes p and returns the number of bytes accepted. A short count
// is always paired with an error; there is no retry.
func (w *Writer) Append(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if !w.started {
		return 0, ErrNotStarted
	}
	if w.finished {
		return 0, ErrFinished
	}
	n, err := w.buf.Write(p)
	w.payload += uint64(n)
	return n, err
}

// Finish finalises the container. In WAV mode it flushes buffered data,
// measures the file, rewrites the header in place and restores the
// stream position. payload is the authoritative number of sample bytes.
// The header is rewritten even when the flush fails, sized to what
// actually reached the file.
func (w *Writer) Finish(d Descriptor, payload uint64) error {
	if w.closed {
		return ErrClosed
	}
	if w.finished {
		return nil
	}
	w.finished = true

	var flushErr error
	if err := w.buf.Flush(); err != nil {
		flushErr = fmt.Errorf("flush %s: %w", w.path, err)
	}

	if w.mode == ModeWAV && w.started {
		if err := w.patchHeader(d, payload); err != nil && flushErr == nil {
			return err
		}
	}
	return flushErr
}

func (w *Writer) patchHeader(d Descriptor, payload uint64) error {
	pos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locate end of %s: %w", w.path, err)
	}
	if pos < HeaderSize {
		return fmt.Errorf("rewrite header of %s: file truncated to %d bytes", w.path, pos)
	}
	if onDisk := uint64(pos) - HeaderSize; payload > onDisk {
		payload = onDisk
	}

	h, oversized := NewHeader(d, uint64(pos), payload)
	w.oversized = oversized

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", w.path, err)
	}
	if _, err := h.WriteTo(w.file); err != nil {
		return fmt.Errorf("rewrite header of %s: %w", w.path, err)
	}
	if _, err := w.file.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("restore position in %s: %w", w.path, err)
	}
	return nil
}

// Close flushes any buffered data and releases the file. It is safe to
// call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var flushErr error
	if !w.finished {
		flushErr = w.buf.Flush()
	}
	closeErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", w.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", w.path, closeErr)
	}
	return nil
}
