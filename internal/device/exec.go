package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-cmd/cmd"
	"github.com/petems/iqcapture/internal/sample"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cast"
)

const (
	defaultSamplesPerTransfer = 65536
	spoolPollInterval         = 50 * time.Millisecond
)

var (
	// ErrNoCommand is returned by NewExec for an empty argv.
	ErrNoCommand = errors.New("no receiver command configured")
	// ErrReceiverFailed is returned by StopStream when the receiver command
	// exited on its own with a failure.
	ErrReceiverFailed = errors.New("receiver command failed")
)

// Exec runs an external receiver program (airspy_rx, rtl_sdr, ...) that
// writes raw samples to a file, and tails that file into the callback.
// The argv may reference receiver parameters with {placeholders}; see
// Placeholders.
type Exec struct {
	argv               []string
	samplesPerTransfer int
	log                zerolog.Logger

	mu        sync.Mutex
	open      bool
	spool     *os.File
	params    Params
	args      []string
	command   *cmd.Cmd
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	wg        *conc.WaitGroup
	streaming atomic.Bool

	// failure is set by the tail goroutine, which cannot take mu.
	failMu  sync.Mutex
	failure error
}

// NewExec creates a driver around the receiver command argv.
func NewExec(argv []string, samplesPerTransfer int, log zerolog.Logger) (*Exec, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, ErrNoCommand
	}
	if samplesPerTransfer <= 0 {
		samplesPerTransfer = defaultSamplesPerTransfer
	}
	return &Exec{
		argv:               append([]string(nil), argv...),
		samplesPerTransfer: samplesPerTransfer,
		log:                log.With().Str("driver", DriverExec).Logger(),
	}, nil
}

func (e *Exec) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.open {
		return nil
	}
	if _, err := exec.LookPath(e.argv[0]); err != nil {
		return fmt.Errorf("receiver command %q: %w", e.argv[0], err)
	}

	spool, err := os.CreateTemp("", "iqcapture-spool-*.raw")
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}

	e.spool = spool
	e.open = true
	e.log.Debug().Str("spool", spool.Name()).Msg("Created spool file")
	return nil
}

// Placeholders returns the values substituted into the receiver argv.
func Placeholders(p Params, output string) map[string]string {
	serial := ""
	if p.HasSerial {
		serial = fmt.Sprintf("%016X", p.Serial)
	}
	return map[string]string{
		"{freq_hz}":     cast.ToString(p.FrequencyHz),
		"{freq_mhz}":    cast.ToString(float64(p.FrequencyHz) / 1e6),
		"{sample_rate}": cast.ToString(p.SampleRate),
		"{sample_type}": cast.ToString(int(p.Format)),
		"{vga_gain}":    cast.ToString(p.Gains.VGA),
		"{mixer_gain}":  cast.ToString(p.Gains.Mixer),
		"{lna_gain}":    cast.ToString(p.Gains.LNA),
		"{bias_tee}":    cast.ToString(cast.ToInt(p.BiasTee)),
		"{serial}":      serial,
		"{output}":      output,
	}
}

// ExpandArgs substitutes placeholders in every argument.
func ExpandArgs(argv []string, values map[string]string) []string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, k, v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

func (e *Exec) Configure(params Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrNotOpen
	}

	e.params = params
	e.args = ExpandArgs(e.argv, Placeholders(params, e.spool.Name()))
	e.log.Debug().Strs("argv", e.args).Msg("Receiver command configured")
	return nil
}

func (e *Exec) StartStream(cb Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return ErrNotOpen
	}
	if e.command != nil {
		return ErrAlreadyStreaming
	}

	reader, err := os.Open(e.spool.Name())
	if err != nil {
		return fmt.Errorf("failed to open spool file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		reader.Close()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(e.spool.Name())); err != nil {
		watcher.Close()
		reader.Close()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	e.command = cmd.NewCmd(e.args[0], e.args[1:]...)
	status := e.command.Start()
	e.watcher = watcher
	e.stopCh = make(chan struct{})
	e.wg = conc.NewWaitGroup()
	e.streaming.Store(true)

	e.log.Info().Str("command", e.args[0]).Msg("Started receiver command")

	e.failMu.Lock()
	e.failure = nil
	e.failMu.Unlock()

	t := &tail{
		reader:    reader,
		name:      filepath.Base(e.spool.Name()),
		format:    e.params.Format,
		chunk:     e.samplesPerTransfer * e.params.Format.FrameSize(),
		cb:        cb,
		streaming: &e.streaming,
		log:       e.log,
	}
	stopCh := e.stopCh
	command := e.command
	e.wg.Go(func() {
		defer reader.Close()
		st, exited := t.run(stopCh, watcher, status)
		if !exited {
			return
		}
		e.log.Info().Int("exit", st.Exit).Err(st.Error).Msg("Receiver command exited")
		if err := exitFailure(st); err != nil {
			e.failMu.Lock()
			e.failure = err
			e.failMu.Unlock()
		}
	})
	return nil
}

func (e *Exec) IsStreaming() bool {
	return e.streaming.Load()
}

func (e *Exec) StopStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.streaming.Store(false)
	if e.command == nil {
		return nil
	}

	close(e.stopCh)
	e.wg.Wait()

	err := e.command.Stop()
	e.watcher.Close()
	e.command = nil
	e.watcher = nil

	e.failMu.Lock()
	failure := e.failure
	e.failure = nil
	e.failMu.Unlock()
	if failure != nil {
		return failure
	}
	if err != nil && !errors.Is(err, cmd.ErrNotStarted) {
		return fmt.Errorf("failed to stop receiver command: %w", err)
	}
	return nil
}

// exitFailure reports a receiver command that ended unsuccessfully.
func exitFailure(st cmd.Status) error {
	if st.Error != nil {
		return fmt.Errorf("%w: %v", ErrReceiverFailed, st.Error)
	}
	if st.Exit != 0 {
		return fmt.Errorf("%w: exit status %d", ErrReceiverFailed, st.Exit)
	}
	return nil
}

func (e *Exec) Close() error {
	if err := e.StopStream(); err != nil {
		e.log.Warn().Err(err).Msg("Stopping receiver command during close")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return nil
	}
	e.open = false

	name := e.spool.Name()
	e.spool.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spool file: %w", err)
	}
	return nil
}

// tail follows a growing spool file and hands whole frames to the callback.
type tail struct {
	reader    io.Reader
	name      string
	format    sample.Format
	chunk     int
	cb        Callback
	streaming *atomic.Bool
	log       zerolog.Logger

	pending []byte
	buf     []byte
}

// run follows the spool until stopped, the callback refuses more data or
// the command exits. exited is true only in the last case.
func (t *tail) run(stop <-chan struct{}, watcher *fsnotify.Watcher, status <-chan cmd.Status) (st cmd.Status, exited bool) {
	poll := time.NewTicker(spoolPollInterval)
	defer poll.Stop()

	events, errs := watcher.Events, watcher.Errors
	for {
		select {
		case <-stop:
			return cmd.Status{}, false

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != t.name || event.Op&fsnotify.Write == 0 {
				continue
			}
			if !t.drain() {
				return cmd.Status{}, false
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.log.Warn().Err(err).Msg("Spool watcher error")

		case <-poll.C:
			if !t.drain() {
				return cmd.Status{}, false
			}

		case st = <-status:
			t.drain()
			t.streaming.Store(false)
			return st, true
		}
	}
}

// drain reads everything currently in the spool and delivers it in
// transfers of at most chunk bytes. A trailing partial frame is held back
// until the rest of it arrives. It returns false once streaming has ended.
func (t *tail) drain() bool {
	if t.buf == nil {
		t.buf = make([]byte, t.chunk)
	}
	frame := t.format.FrameSize()

	for t.streaming.Load() {
		n, err := t.reader.Read(t.buf)
		t.pending = append(t.pending, t.buf[:n]...)
		exhausted := n == 0 || err != nil

		for len(t.pending) >= t.chunk || (exhausted && len(t.pending) >= frame) {
			size := len(t.pending) - len(t.pending)%frame
			if size > t.chunk {
				size = t.chunk
			}
			if !t.deliver(t.pending[:size]) {
				return false
			}
			t.pending = append(t.pending[:0], t.pending[size:]...)
		}

		if err != nil && err != io.EOF {
			t.log.Error().Err(err).Msg("Failed to read spool file")
			t.streaming.Store(false)
			return false
		}
		if exhausted {
			return true
		}
	}
	return false
}

func (t *tail) deliver(p []byte) bool {
	frames := len(p) / t.format.FrameSize()
	if t.cb(Transfer{Samples: p, SampleCount: frames, Format: t.format}) != Continue {
		t.streaming.Store(false)
		return false
	}
	return true
}
