package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/iqcapture/internal/container"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
)

// Replay plays back a previously captured file as if it came from a
// receiver. WAV files have their header skipped; anything else is read as
// raw samples in the configured format. Streaming ends at end of file.
type Replay struct {
	fs                 afero.Fs
	path               string
	samplesPerTransfer int
	realtime           bool
	log                zerolog.Logger

	mu        sync.Mutex
	file      afero.File
	params    Params
	stopCh    chan struct{}
	wg        *conc.WaitGroup
	streaming atomic.Bool
}

// NewReplay creates a replay driver reading path from fs. With realtime
// set, transfers are paced at the configured sample rate.
func NewReplay(fs afero.Fs, path string, samplesPerTransfer int, realtime bool, log zerolog.Logger) *Replay {
	if samplesPerTransfer <= 0 {
		samplesPerTransfer = defaultSamplesPerTransfer
	}
	return &Replay{
		fs:                 fs,
		path:               path,
		samplesPerTransfer: samplesPerTransfer,
		realtime:           realtime,
		log:                log.With().Str("driver", DriverReplay).Logger(),
	}
}

func (r *Replay) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return nil
	}
	if r.path == "" {
		return errors.New("no replay file configured")
	}

	f, err := r.fs.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}

	if err := skipWAVHeader(f); err != nil {
		f.Close()
		return err
	}

	r.file = f
	r.log.Info().Str("path", r.path).Msg("Opened replay file")
	return nil
}

// skipWAVHeader leaves f positioned after the header when it starts with
// one, and at the start otherwise.
func skipWAVHeader(f afero.File) error {
	head := make([]byte, container.HeaderSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read replay file: %w", err)
	}

	offset := int64(0)
	if n == container.HeaderSize {
		if _, err := container.ReadHeader(bytes.NewReader(head)); err == nil {
			offset = container.HeaderSize
		}
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek replay file: %w", err)
	}
	return nil
}

func (r *Replay) Configure(params Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return ErrNotOpen
	}
	if !params.Format.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, params.Format)
	}
	if r.realtime && params.SampleRate == 0 {
		return errors.New("realtime replay needs a sample rate")
	}
	r.params = params
	return nil
}

func (r *Replay) StartStream(cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return ErrNotOpen
	}
	if r.wg != nil {
		return ErrAlreadyStreaming
	}

	r.stopCh = make(chan struct{})
	r.wg = conc.NewWaitGroup()
	r.streaming.Store(true)

	file, params, stopCh := r.file, r.params, r.stopCh
	r.wg.Go(func() {
		defer r.streaming.Store(false)
		r.play(file, params, cb, stopCh)
	})
	return nil
}

func (r *Replay) play(file io.Reader, params Params, cb Callback, stop <-chan struct{}) {
	frame := params.Format.FrameSize()
	buf := make([]byte, r.samplesPerTransfer*frame)
	start := time.Now()
	var delivered uint64

	for r.streaming.Load() {
		n, err := io.ReadFull(file, buf)
		n -= n % frame
		if n > 0 {
			count := n / frame
			if cb(Transfer{Samples: buf[:n], SampleCount: count, Format: params.Format}) != Continue {
				return
			}
			delivered += uint64(count)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				r.log.Error().Err(err).Msg("Failed to read replay file")
			} else {
				r.log.Info().Uint64("samples", delivered).Msg("Reached end of replay file")
			}
			return
		}

		if r.realtime {
			due := start.Add(time.Duration(float64(delivered) / float64(params.SampleRate) * float64(time.Second)))
			select {
			case <-stop:
				return
			case <-time.After(time.Until(due)):
			}
		}
	}
}

func (r *Replay) IsStreaming() bool {
	return r.streaming.Load()
}

func (r *Replay) StopStream() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streaming.Store(false)
	if r.wg == nil {
		return nil
	}
	close(r.stopCh)
	r.wg.Wait()
	r.wg = nil
	return nil
}

func (r *Replay) Close() error {
	r.StopStream()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
