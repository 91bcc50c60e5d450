package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/iqcapture/internal/sample"
	"github.com/rs/zerolog"
)

const defaultFramesPerBuffer = 2048

// PortAudio drives sound-card IQ receivers, which present the I and Q
// channels as a stereo capture device. Tuning and gain are handled by the
// receiver's own control path, so those parameters are only recorded.
type PortAudio struct {
	deviceName      string
	framesPerBuffer int
	log             zerolog.Logger

	mu        sync.Mutex
	open      bool
	device    *portaudio.DeviceInfo
	params    Params
	stream    *portaudio.Stream
	cb        Callback
	buf       []byte
	streaming atomic.Bool
}

// NewPortAudio creates a PortAudio-backed driver. An empty deviceName
// selects the default input device.
func NewPortAudio(deviceName string, framesPerBuffer int, log zerolog.Logger) *PortAudio {
	if framesPerBuffer <= 0 {
		framesPerBuffer = defaultFramesPerBuffer
	}
	return &PortAudio{
		deviceName:      deviceName,
		framesPerBuffer: framesPerBuffer,
		log:             log.With().Str("driver", DriverPortAudio).Logger(),
	}
}

func (p *PortAudio) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := p.findDevice()
	if err != nil {
		portaudio.Terminate()
		return err
	}

	p.device = device
	p.open = true
	p.log.Info().Str("device", device.Name).Int("max_input_channels", device.MaxInputChannels).Msg("Opened capture device")
	return nil
}

func (p *PortAudio) findDevice() (*portaudio.DeviceInfo, error) {
	if p.deviceName == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == p.deviceName && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", p.deviceName)
}

func (p *PortAudio) Configure(params Params) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrNotOpen
	}

	switch params.Format {
	case sample.ComplexFloat32, sample.RealFloat32, sample.ComplexInt16, sample.RealInt16:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, params.Format)
	}

	if p.device.MaxInputChannels < params.Format.Channels() {
		return fmt.Errorf("device %s has %d input channels, %s needs %d",
			p.device.Name, p.device.MaxInputChannels, params.Format, params.Format.Channels())
	}

	p.log.Debug().
		Uint64("frequency_hz", params.FrequencyHz).
		Uint8("vga_gain", params.Gains.VGA).
		Uint8("mixer_gain", params.Gains.Mixer).
		Uint8("lna_gain", params.Gains.LNA).
		Bool("bias_tee", params.BiasTee).
		Msg("Tuning and gain are not controlled through the sound card")

	p.params = params
	return nil
}

func (p *PortAudio) StartStream(cb Callback) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrNotOpen
	}
	if p.stream != nil {
		return ErrAlreadyStreaming
	}

	p.cb = cb
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   p.device,
			Channels: p.params.Format.Channels(),
			Latency:  p.device.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.params.SampleRate),
		FramesPerBuffer: p.framesPerBuffer,
	}

	var processor interface{}
	switch p.params.Format {
	case sample.ComplexFloat32, sample.RealFloat32:
		processor = p.processFloat32
	default:
		processor = p.processInt16
	}

	stream, err := portaudio.OpenStream(params, processor)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	p.streaming.Store(true)
	if err := stream.Start(); err != nil {
		p.streaming.Store(false)
		stream.Close()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.stream = stream
	return nil
}

// processFloat32 runs on the PortAudio callback thread.
func (p *PortAudio) processFloat32(in []float32) {
	if !p.streaming.Load() {
		return
	}
	p.buf = encodeFloat32(p.buf, in)
	p.deliver(len(in))
}

// processInt16 runs on the PortAudio callback thread.
func (p *PortAudio) processInt16(in []int16) {
	if !p.streaming.Load() {
		return
	}
	p.buf = encodeInt16(p.buf, in)
	p.deliver(len(in))
}

func (p *PortAudio) deliver(elements int) {
	t := Transfer{
		Samples:     p.buf,
		SampleCount: elements / p.params.Format.Channels(),
		Format:      p.params.Format,
	}
	// Stopping the stream from inside its own callback deadlocks, so only
	// the flag is cleared here; StopStream does the rest.
	if p.cb(t) != Continue {
		p.streaming.Store(false)
	}
}

func (p *PortAudio) IsStreaming() bool {
	return p.streaming.Load()
}

func (p *PortAudio) StopStream() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.streaming.Store(false)
	if p.stream == nil {
		return nil
	}

	stream := p.stream
	p.stream = nil
	stopErr := stream.Stop()
	closeErr := stream.Close()
	if stopErr != nil {
		return fmt.Errorf("failed to stop audio stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close audio stream: %w", closeErr)
	}
	return nil
}

func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil
	}
	if p.stream != nil {
		p.stream.Close()
		p.stream = nil
	}
	p.open = false
	return portaudio.Terminate()
}

// encodeFloat32 writes in as little-endian float32 values, reusing dst.
func encodeFloat32(dst []byte, in []float32) []byte {
	dst = grow(dst, len(in)*4)
	for i, v := range in {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
	return dst
}

// encodeInt16 writes in as little-endian int16 values, reusing dst.
func encodeInt16(dst []byte, in []int16) []byte {
	dst = grow(dst, len(in)*2)
	for i, v := range in {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(v))
	}
	return dst
}

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}
