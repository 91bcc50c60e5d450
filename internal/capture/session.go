// Package capture runs a single receiver capture: it drives the device
// through open, configure, stream and close, feeds every delivered buffer
// through the sample budget into the output container, and reports
// throughput once per interval until something stops it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petems/iqcapture/internal/container"
	"github.com/petems/iqcapture/internal/device"
	"github.com/petems/iqcapture/internal/sample"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// DefaultReportInterval is how often throughput is reported and stalls
// are checked.
const DefaultReportInterval = time.Second

type State int32

const (
	StateIdle State = iota
	StateConfiguring
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// StopReason records why streaming ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopBudget
	StopInterrupted
	StopStreamEnded
	StopStalled
	StopIOFailed
	StopConfigFailed
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopBudget:
		return "budget exhausted"
	case StopInterrupted:
		return "user cancel"
	case StopStreamEnded:
		return "stream ended"
	case StopStalled:
		return "stalled"
	case StopIOFailed:
		return "i/o failure"
	case StopConfigFailed:
		return "configuration failure"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Progress is one throughput sample from the reporting loop.
type Progress struct {
	Bytes    uint64        // delivered during the interval
	Interval time.Duration // actual length of the interval
	Elapsed  time.Duration // since streaming started
}

// MiB returns the interval byte count in mebibytes.
func (p Progress) MiB() float64 { return float64(p.Bytes) / (1 << 20) }

// Rate returns the interval throughput in MiB/s.
func (p Progress) Rate() float64 {
	if p.Interval <= 0 {
		return 0
	}
	return p.MiB() / p.Interval.Seconds()
}

// Reporter receives progress from the reporting loop. It is optional.
type Reporter interface {
	Started(id, path string)
	Progress(p Progress)
	Finished(r *Result)
}

// Result describes a finished session.
type Result struct {
	SessionID string
	Path      string
	Reason    StopReason
	Bytes     uint64 // payload bytes written
	Duration  time.Duration
	Oversized bool
	Err       error
}

// ExitCode maps the result to the process exit status.
func (r *Result) ExitCode() int {
	if r.Err != nil {
		return 1
	}
	return 0
}

type Config struct {
	Driver device.Driver
	Params device.Params

	Fs         afero.Fs // defaults to the OS filesystem
	Path       string
	Mode       container.Mode
	Overwrite  bool
	BufferSize int

	Budget         *Accountant // nil means unlimited
	ReportInterval time.Duration
	// HandleSignals arms interrupt and fault signal handling while streaming.
	HandleSignals bool

	Reporter Reporter // Optional - can be nil
	Logger   zerolog.Logger
}

type Session struct {
	id       string
	driver   device.Driver
	params   device.Params
	format   sample.Format
	desc     container.Descriptor
	fs       afero.Fs
	path     string
	mode     container.Mode
	opts     []container.Option
	acct     *Accountant
	interval time.Duration
	signals  bool
	reporter Reporter
	log      zerolog.Logger

	state atomic.Int32

	// The delivery callback and drain share writer, total and finalized
	// under writeMu.
	writeMu   sync.Mutex
	writer    *container.Writer
	total     uint64
	finalized bool

	intervalBytes atomic.Uint64
	stopping      atomic.Bool
	interrupted   atomic.Bool
	wake          chan struct{}

	stopMu sync.Mutex
	reason StopReason
	err    error
}

func New(cfg Config) *Session {
	id := uuid.NewString()

	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	acct := cfg.Budget
	if acct == nil {
		acct = Unlimited()
	}
	interval := cfg.ReportInterval
	if interval <= 0 {
		interval = DefaultReportInterval
	}

	var opts []container.Option
	if cfg.Overwrite {
		opts = append(opts, container.WithOverwrite())
	}
	if cfg.BufferSize > 0 {
		opts = append(opts, container.WithBufferSize(cfg.BufferSize))
	}

	return &Session{
		id:       id,
		driver:   cfg.Driver,
		params:   cfg.Params,
		format:   cfg.Params.Format,
		desc:     container.DescriptorFor(cfg.Params.Format, cfg.Params.SampleRate),
		fs:       fs,
		path:     cfg.Path,
		mode:     cfg.Mode,
		opts:     opts,
		acct:     acct,
		interval: interval,
		signals:  cfg.HandleSignals,
		reporter: cfg.Reporter,
		log:      cfg.Logger.With().Str("session_id", id).Logger(),
		wake:     make(chan struct{}, 1),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug().Stringer("state", st).Msg("Session state changed")
}

// Interrupt asks a streaming session to drain and finish successfully.
// It only sets a flag; the reporting loop performs the stop.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
	s.wakeLoop()
}

func (s *Session) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop records the first stop reason. A later failure replaces an
// earlier successful reason so that a failed finalisation is not lost.
func (s *Session) stop(reason StopReason, err error) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.reason == StopNone || (s.err == nil && err != nil) {
		s.reason = reason
		s.err = err
	}
}

func (s *Session) outcome() (StopReason, error) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.reason, s.err
}

// Run executes the session to completion. The returned error is the
// Result's Err; budget exhaustion, interrupts and the end of the stream
// are not errors. A session can only run once.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConfiguring)) {
		return nil, ErrSessionUsed
	}

	result := &Result{SessionID: s.id, Path: s.path}

	if err := s.configure(); err != nil {
		reason := StopConfigFailed
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			reason = StopIOFailed
		}
		s.setState(StateClosed)
		result.Reason = reason
		result.Err = err
		s.log.Error().Err(err).Msg("Capture could not start")
		s.finished(result)
		return result, err
	}

	start := time.Now()
	s.setState(StateStreaming)
	s.stream(ctx, start)
	s.drain()

	result.Duration = time.Since(start)
	result.Reason, result.Err = s.outcome()
	s.writeMu.Lock()
	result.Bytes = s.total
	result.Oversized = s.writer.Oversized()
	s.writeMu.Unlock()

	ev := s.log.Info()
	if result.Err != nil {
		ev = s.log.Error().Err(result.Err)
	}
	ev.Stringer("reason", result.Reason).
		Uint64("bytes", result.Bytes).
		Dur("duration", result.Duration).
		Msg("Capture finished")

	s.finished(result)
	return result, result.Err
}

func (s *Session) finished(r *Result) {
	if s.reporter != nil {
		s.reporter.Finished(r)
	}
}

// configure opens and configures the device, then creates the container.
// Every failure leaves the device closed.
func (s *Session) configure() error {
	if !s.format.Valid() {
		return &ConfigError{Op: "select sample format", Err: fmt.Errorf("unknown format %d", int(s.format))}
	}

	if err := s.driver.Open(); err != nil {
		s.closeDriver()
		return &ConfigError{Op: "open device", Err: err}
	}
	if err := s.driver.Configure(s.params); err != nil {
		s.closeDriver()
		return &ConfigError{Op: "configure device", Err: err}
	}

	w, err := container.Create(s.fs, s.path, s.mode, s.opts...)
	if err != nil {
		s.closeDriver()
		return &IOError{Op: "open", Path: s.path, Err: err}
	}
	if err := w.Begin(s.desc); err != nil {
		w.Close()
		s.closeDriver()
		return &IOError{Op: "write header", Path: s.path, Err: err}
	}
	s.writer = w

	if s.acct.Limited() && s.format.ElementWidth() != bytesPerBudgetSample {
		s.log.Warn().
			Stringer("format", s.format).
			Uint64("budget_bytes", s.acct.Remaining()).
			Msg("Sample budget counts 2 bytes per sample; fewer samples than requested will be captured")
	}

	s.log.Info().
		Str("path", s.path).
		Stringer("mode", s.mode).
		Stringer("format", s.format).
		Uint64("frequency_hz", s.params.FrequencyHz).
		Uint32("sample_rate", s.params.SampleRate).
		Bool("limited", s.acct.Limited()).
		Msg("Capture configured")
	return nil
}

func (s *Session) closeDriver() {
	if err := s.driver.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close device")
	}
}

// stream starts the device and runs the reporting loop until a stop
// condition is reached.
func (s *Session) stream(ctx context.Context, start time.Time) {
	sigCh := make(chan os.Signal, 1)
	if s.signals {
		signal.Notify(sigCh, captureSignals...)
		defer signal.Stop(sigCh)
	}

	if err := s.driver.StartStream(s.onTransfer); err != nil {
		s.stop(StopConfigFailed, &ConfigError{Op: "start stream", Err: err})
		return
	}
	if s.reporter != nil {
		s.reporter.Started(s.id, s.path)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	last := start

	for {
		select {
		case <-ctx.Done():
			s.interrupted.Store(true)

		case sig := <-sigCh:
			s.log.Info().Stringer("signal", sig).Msg("Caught signal")
			s.interrupted.Store(true)

		case <-s.wake:

		case now := <-ticker.C:
			n := s.intervalBytes.Swap(0)
			p := Progress{Bytes: n, Interval: now.Sub(last), Elapsed: now.Sub(start)}
			last = now
			s.report(p)

			if s.checkStop() {
				return
			}
			if n == 0 {
				s.stop(StopStalled, &StallError{Interval: p.Interval})
				return
			}
			continue
		}

		if s.checkStop() {
			return
		}
	}
}

func (s *Session) report(p Progress) {
	s.log.Debug().
		Uint64("bytes", p.Bytes).
		Float64("mib_per_sec", p.Rate()).
		Dur("elapsed", p.Elapsed).
		Msg("Throughput")
	if s.reporter != nil {
		s.reporter.Progress(p)
	}
}

// checkStop reports whether streaming should end. Reasons already set by
// the callback win over an interrupt, which wins over the driver going
// quiet on its own.
func (s *Session) checkStop() bool {
	if reason, _ := s.outcome(); reason != StopNone {
		return true
	}
	if s.interrupted.Load() {
		s.stop(StopInterrupted, nil)
		return true
	}
	if !s.driver.IsStreaming() {
		s.stop(StopStreamEnded, nil)
		return true
	}
	return false
}

// onTransfer is the delivery callback. It runs on the driver's goroutine.
func (s *Session) onTransfer(t device.Transfer) int {
	if s.stopping.Load() {
		return device.Stop
	}

	n := s.format.PayloadLength(uint64(t.SampleCount))
	s.intervalBytes.Add(n)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.finalized {
		return device.Stop
	}
	if n > uint64(len(t.Samples)) {
		s.stop(StopIOFailed, &IOError{Op: "read transfer", Path: s.path,
			Err: fmt.Errorf("%w: %d samples need %d bytes, got %d", ErrShortTransfer, t.SampleCount, n, len(t.Samples))})
		s.wakeLoop()
		return device.Stop
	}

	toWrite, exhausted := s.acct.Admit(n)
	if toWrite > 0 {
		if err := s.appendLocked(t.Samples[:toWrite]); err != nil {
			s.stop(StopIOFailed, &IOError{Op: "write", Path: s.path, Err: err})
			s.wakeLoop()
			return device.Stop
		}
	}

	if exhausted {
		s.stop(StopBudget, nil)
		s.wakeLoop()
		return device.Stop
	}
	return device.Continue
}

func (s *Session) appendLocked(p []byte) error {
	if s.writeMu.TryLock() {
		s.writeMu.Unlock()
		panic("capture: append without write lock")
	}

	written, err := s.writer.Append(p)
	s.total += uint64(written)
	if err != nil {
		return err
	}
	if written < len(p) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, written, len(p))
	}
	return nil
}

// drain refuses new buffers, stops and closes the device, then finalises
// and closes the container.
func (s *Session) drain() {
	s.setState(StateDraining)
	s.stopping.Store(true)

	if err := s.driver.StopStream(); err != nil {
		// A receiver that ended the stream by failing is a failed capture
		if reason, _ := s.outcome(); reason == StopStreamEnded {
			s.stop(StopConfigFailed, &ConfigError{Op: "run receiver", Err: err})
		} else {
			s.log.Warn().Err(err).Msg("Failed to stop stream")
		}
	}
	s.closeDriver()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.finalized = true

	if err := s.writer.Finish(s.desc, s.total); err != nil {
		s.stop(StopIOFailed, &IOError{Op: "finalize", Path: s.path, Err: err})
	}
	if s.writer.Oversized() {
		s.log.Warn().Uint64("bytes", s.total).Msg("Capture exceeds 4 GiB; WAV size fields saturated")
	}
	if err := s.writer.Close(); err != nil {
		s.stop(StopIOFailed, &IOError{Op: "close", Path: s.path, Err: err})
	}

	s.setState(StateClosed)
}
