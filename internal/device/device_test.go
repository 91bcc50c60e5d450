package device

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/iqcapture/internal/config"
	"github.com/petems/iqcapture/internal/container"
	"github.com/petems/iqcapture/internal/sample"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// collector records every transfer handed to a callback.
type collector struct {
	mu     sync.Mutex
	data   []byte
	counts []int
	stopAt int
}

func (c *collector) callback(t Transfer) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, t.Samples[:t.Format.PayloadLength(uint64(t.SampleCount))]...)
	c.counts = append(c.counts, t.SampleCount)
	if c.stopAt > 0 && len(c.counts) >= c.stopAt {
		return Stop
	}
	return Continue
}

func (c *collector) snapshot() ([]byte, []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data...), append([]int(nil), c.counts...)
}

func waitStopped(t *testing.T, d Driver) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.IsStreaming() {
		if time.Now().After(deadline) {
			t.Fatal("driver still streaming after 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DeviceConfig
		wantErr bool
	}{
		{name: "portaudio", cfg: config.DeviceConfig{Driver: "portaudio"}},
		{name: "replay", cfg: config.DeviceConfig{Driver: "replay", ReplayFile: "in.raw"}},
		{name: "exec upper case", cfg: config.DeviceConfig{Driver: "EXEC", Exec: []string{"airspy_rx"}}},
		{name: "exec without command", cfg: config.DeviceConfig{Driver: "exec"}, wantErr: true},
		{name: "unknown", cfg: config.DeviceConfig{Driver: "usb"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.cfg, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && d == nil {
				t.Fatal("New() returned nil driver")
			}
		})
	}
}

func TestExpandArgs(t *testing.T) {
	p := Params{
		FrequencyHz: 433_920_000,
		SampleRate:  2_500_000,
		Format:      sample.ComplexInt16,
		Gains:       Gains{VGA: 5, Mixer: 8, LNA: 14},
		BiasTee:     true,
		Serial:      0x1234,
		HasSerial:   true,
	}
	argv := []string{
		"airspy_rx", "-f", "{freq_mhz}", "-a", "{sample_rate}", "-t", "{sample_type}",
		"-v", "{vga_gain}", "-m", "{mixer_gain}", "-l", "{lna_gain}", "-b", "{bias_tee}",
		"-s", "0x{serial}", "-r", "{output}", "--hz={freq_hz}",
	}
	got := ExpandArgs(argv, Placeholders(p, "/tmp/spool.raw"))
	want := []string{
		"airspy_rx", "-f", "433.92", "-a", "2500000", "-t", "2",
		"-v", "5", "-m", "8", "-l", "14", "-b", "1",
		"-s", "0x0000000000001234", "-r", "/tmp/spool.raw", "--hz=433920000",
	}
	if len(got) != len(want) {
		t.Fatalf("ExpandArgs() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %q, want %q", i, got[i], want[i])
		}
	}

	if got := Placeholders(Params{}, "")["{serial}"]; got != "" {
		t.Errorf("serial without HasSerial = %q, want empty", got)
	}
}

func TestTailDeliversWholeFrames(t *testing.T) {
	var spool bytes.Buffer
	spool.Write(bytes.Repeat([]byte{0xAB}, 42))

	var c collector
	tl := &tail{
		reader:    &spool,
		format:    sample.ComplexInt16,
		chunk:     4 * sample.ComplexInt16.FrameSize(),
		cb:        c.callback,
		streaming: new(atomic.Bool),
		log:       zerolog.Nop(),
	}
	tl.streaming.Store(true)

	if !tl.drain() {
		t.Fatal("drain() stopped unexpectedly")
	}
	data, counts := c.snapshot()
	if len(data) != 40 {
		t.Errorf("delivered %d bytes, want 40", len(data))
	}
	if len(counts) != 3 || counts[0] != 4 || counts[1] != 4 || counts[2] != 2 {
		t.Errorf("sample counts = %v, want [4 4 2]", counts)
	}

	// The held-back half frame completes with the next write.
	spool.Write([]byte{0xAB, 0xAB})
	tl.drain()
	data, counts = c.snapshot()
	if len(data) != 44 || counts[len(counts)-1] != 1 {
		t.Errorf("after completing frame: %d bytes, counts %v", len(data), counts)
	}
}

func TestTailStopsWhenCallbackStops(t *testing.T) {
	spool := bytes.NewBuffer(make([]byte, 64))
	c := collector{stopAt: 1}
	tl := &tail{
		reader:    spool,
		format:    sample.RealInt16,
		chunk:     8,
		cb:        c.callback,
		streaming: new(atomic.Bool),
		log:       zerolog.Nop(),
	}
	tl.streaming.Store(true)

	if tl.drain() {
		t.Error("drain() should report stop")
	}
	if tl.streaming.Load() {
		t.Error("streaming flag should be cleared")
	}
	if _, counts := c.snapshot(); len(counts) != 1 {
		t.Errorf("got %d transfers, want 1", len(counts))
	}
}

func TestReplayRaw(t *testing.T) {
	fs := afero.NewMemMapFs()
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	afero.WriteFile(fs, "in.raw", payload, 0o644)

	r := NewReplay(fs, "in.raw", 4, false, zerolog.Nop())
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := r.Configure(Params{Format: sample.ComplexInt16}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	var c collector
	if err := r.StartStream(c.callback); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	waitStopped(t, r)
	r.StopStream()
	r.Close()

	data, counts := c.snapshot()
	if !bytes.Equal(data, payload) {
		t.Errorf("replayed %v, want %v", data, payload)
	}
	if len(counts) != 3 || counts[2] != 2 {
		t.Errorf("sample counts = %v, want [4 4 2]", counts)
	}
}

func TestReplaySkipsWAVHeader(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := container.Create(fs, "in.wav", container.ModeWAV)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	d := container.DescriptorFor(sample.RealInt16, 48000)
	w.Begin(d)
	w.Append([]byte{1, 2, 3, 4, 5, 6})
	w.Finish(d, 6)
	w.Close()

	r := NewReplay(fs, "in.wav", 0, false, zerolog.Nop())
	if err := r.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	r.Configure(Params{Format: sample.RealInt16})

	var c collector
	r.StartStream(c.callback)
	waitStopped(t, r)
	r.Close()

	if data, _ := c.snapshot(); !bytes.Equal(data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("replayed %v, want payload only", data)
	}
}

func TestReplayStopsOnCallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "in.raw", make([]byte, 1024), 0o644)

	r := NewReplay(fs, "in.raw", 8, false, zerolog.Nop())
	r.Open()
	r.Configure(Params{Format: sample.ComplexFloat32})

	c := collector{stopAt: 1}
	r.StartStream(c.callback)
	waitStopped(t, r)
	r.Close()

	if _, counts := c.snapshot(); len(counts) != 1 {
		t.Errorf("got %d transfers after Stop, want 1", len(counts))
	}
}

func TestReplayErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	if err := NewReplay(fs, "missing.raw", 0, false, zerolog.Nop()).Open(); err == nil {
		t.Error("Open() of missing file should fail")
	}

	r := NewReplay(fs, "x.raw", 0, true, zerolog.Nop())
	if err := r.Configure(Params{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Configure() before Open error = %v, want ErrNotOpen", err)
	}
	afero.WriteFile(fs, "x.raw", nil, 0o644)
	r.Open()
	if err := r.Configure(Params{Format: sample.ComplexInt16}); err == nil {
		t.Error("realtime replay without a sample rate should fail")
	}
	if err := r.Configure(Params{Format: sample.Format(9), SampleRate: 1}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Configure(bad format) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExecCapturesCommandOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	e, err := NewExec([]string{"sh", "-c", `head -c 4000 /dev/zero > "$0"`, "{output}"}, 256, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExec() error = %v", err)
	}
	if err := e.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	spool := e.spool.Name()
	if err := e.Configure(Params{Format: sample.ComplexInt16}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	var c collector
	if err := e.StartStream(c.callback); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	waitStopped(t, e)
	if err := e.StopStream(); err != nil {
		t.Errorf("StopStream() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if data, _ := c.snapshot(); len(data) != 4000 {
		t.Errorf("received %d bytes, want 4000", len(data))
	}
	if _, err := os.Stat(spool); !os.IsNotExist(err) {
		t.Errorf("spool file should be removed on Close, stat error = %v", err)
	}
}

func TestExecMissingCommand(t *testing.T) {
	e, err := NewExec([]string{"iqcapture-no-such-receiver"}, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExec() error = %v", err)
	}
	if err := e.Open(); err == nil {
		t.Error("Open() should fail for a command not on PATH")
	}
	if _, err := NewExec(nil, 0, zerolog.Nop()); !errors.Is(err, ErrNoCommand) {
		t.Errorf("NewExec(nil) error = %v, want ErrNoCommand", err)
	}
}

func TestExecReportsReceiverFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	tests := []struct {
		name    string
		script  string
		stopNow bool
		wantErr bool
	}{
		{name: "non-zero exit", script: "exit 3", wantErr: true},
		{name: "clean exit", script: "exit 0"},
		{name: "stopped while running", script: "sleep 10", stopNow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewExec([]string{"sh", "-c", tt.script}, 0, zerolog.Nop())
			if err != nil {
				t.Fatalf("NewExec() error = %v", err)
			}
			if err := e.Open(); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer e.Close()
			if err := e.Configure(Params{Format: sample.ComplexInt16}); err != nil {
				t.Fatalf("Configure() error = %v", err)
			}

			var c collector
			if err := e.StartStream(c.callback); err != nil {
				t.Fatalf("StartStream() error = %v", err)
			}
			if !tt.stopNow {
				waitStopped(t, e)
			}

			err = e.StopStream()
			if tt.wantErr {
				if !errors.Is(err, ErrReceiverFailed) {
					t.Fatalf("StopStream() error = %v, want ErrReceiverFailed", err)
				}
				if !strings.Contains(err.Error(), "exit status 3") {
					t.Errorf("error should carry the exit status: %v", err)
				}
			} else if err != nil {
				t.Errorf("StopStream() error = %v, want nil", err)
			}

			if err := e.StopStream(); err != nil {
				t.Errorf("second StopStream() error = %v, want nil", err)
			}
		})
	}
}
