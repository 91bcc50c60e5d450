package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/petems/iqcapture/internal/config"
	"github.com/petems/iqcapture/internal/sample"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Callback return values.
const (
	Continue = 0
	Stop     = -1
)

// Transfer is one buffer of samples handed to the callback. Samples holds
// at least Format.PayloadLength(SampleCount) bytes and is only valid for
// the duration of the callback.
type Transfer struct {
	Samples     []byte
	SampleCount int
	Format      sample.Format
}

// Callback receives sample buffers from the driver on the driver's own
// goroutine. It returns Continue to keep streaming or any other value to
// ask the driver to stop.
type Callback func(t Transfer) int

// Gains holds the receiver gain stages.
type Gains struct {
	VGA   uint8
	Mixer uint8
	LNA   uint8
}

// Params is the receiver configuration applied before streaming.
type Params struct {
	FrequencyHz uint64
	SampleRate  uint32
	Format      sample.Format
	Gains       Gains
	BiasTee     bool
	// Serial selects a specific board when HasSerial is set.
	Serial    uint64
	HasSerial bool
}

// Driver defines the contract of a receiver driver
type Driver interface {
	Open() error
	Configure(p Params) error
	StartStream(cb Callback) error
	IsStreaming() bool
	// StopStream stops delivery and returns once no callback is running.
	StopStream() error
	Close() error
}

// Driver names accepted by New.
const (
	DriverPortAudio = "portaudio"
	DriverExec      = "exec"
	DriverReplay    = "replay"
)

var (
	// ErrNotOpen is returned when a driver is used before Open.
	ErrNotOpen = errors.New("device not open")
	// ErrAlreadyStreaming is returned by StartStream on a running stream.
	ErrAlreadyStreaming = errors.New("device already streaming")
	// ErrUnsupportedFormat is returned by Configure for formats the driver cannot deliver.
	ErrUnsupportedFormat = errors.New("sample format not supported by driver")
)

// New creates the driver selected by cfg.Driver
func New(cfg config.DeviceConfig, log zerolog.Logger) (Driver, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPortAudio:
		return NewPortAudio(cfg.Name, cfg.SamplesPerTransfer, log), nil
	case DriverExec:
		return NewExec(cfg.Exec, cfg.SamplesPerTransfer, log)
	case DriverReplay:
		return NewReplay(afero.NewOsFs(), cfg.ReplayFile, cfg.SamplesPerTransfer, cfg.ReplayRealtime, log), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
