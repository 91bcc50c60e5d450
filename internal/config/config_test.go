package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/petems/iqcapture/internal/sample"
	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("IQCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func validConfig() *Config {
	cfg := Default()
	cfg.Output.WAV = true
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Receiver.FrequencyMHz != 900 {
		t.Errorf("FrequencyMHz = %v, want 900", cfg.Receiver.FrequencyMHz)
	}
	if cfg.Receiver.VGAGain != 1 || cfg.Receiver.MixerGain != 8 || cfg.Receiver.LNAGain != 8 {
		t.Errorf("gains = %d/%d/%d, want 1/8/8", cfg.Receiver.VGAGain, cfg.Receiver.MixerGain, cfg.Receiver.LNAGain)
	}
	if f, err := cfg.Format(); err != nil || f != sample.ComplexInt16 {
		t.Errorf("Format() = %v, %v, want int16_iq", f, err)
	}
	if cfg.SampleRateHz() != SampleRate10M {
		t.Errorf("SampleRateHz() = %d, want %d", cfg.SampleRateHz(), SampleRate10M)
	}
	if cfg.Capture.ReportInterval != time.Second {
		t.Errorf("ReportInterval = %v, want 1s", cfg.Capture.ReportInterval)
	}
	if cfg.Capture.LimitSamples {
		t.Error("default capture should be unlimited")
	}
	if cfg.Output.WAVPrefix != "AirSpy" {
		t.Errorf("WAVPrefix = %q, want AirSpy", cfg.Output.WAVPrefix)
	}
}

func TestLoadRequiresOutput(t *testing.T) {
	_, err := Load(newViper())
	if err == nil {
		t.Fatal("Load() without output should fail")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if verrs[0].Field != "output" {
		t.Errorf("first error field = %q, want output", verrs[0].Field)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IQCAPTURE_OUTPUT_RAW_FILE", "capture.raw")
	t.Setenv("IQCAPTURE_RECEIVER_FREQUENCY_MHZ", "433.92")
	t.Setenv("IQCAPTURE_RECEIVER_SAMPLE_TYPE", "0")
	t.Setenv("IQCAPTURE_CAPTURE_NUM_SAMPLES", "1000")
	t.Setenv("IQCAPTURE_CAPTURE_REPORT_INTERVAL", "250ms")

	cfg, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output.RawFile != "capture.raw" {
		t.Errorf("RawFile = %q", cfg.Output.RawFile)
	}
	if cfg.FrequencyHz() != 433_920_000 {
		t.Errorf("FrequencyHz() = %d, want 433920000", cfg.FrequencyHz())
	}
	if f, _ := cfg.Format(); f != sample.ComplexFloat32 {
		t.Errorf("Format() = %v, want float32_iq", f)
	}
	if !cfg.Capture.LimitSamples || cfg.Capture.NumSamples != 1000 {
		t.Errorf("capture limit = %v/%d, want true/1000", cfg.Capture.LimitSamples, cfg.Capture.NumSamples)
	}
	if cfg.Capture.ReportInterval != 250*time.Millisecond {
		t.Errorf("ReportInterval = %v, want 250ms", cfg.Capture.ReportInterval)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
output:
  wav: true
  wav_prefix: Rx
receiver:
  frequency_mhz: 100.1
  sample_rate: 1
  serial: "0x1234"
device:
  driver: exec
  exec: ["airspy_rx", "-r", "{output}"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Output.WAV || cfg.Output.WAVPrefix != "Rx" {
		t.Errorf("output = %+v", cfg.Output)
	}
	if cfg.SampleRateHz() != SampleRate2_5M {
		t.Errorf("SampleRateHz() = %d, want %d", cfg.SampleRateHz(), SampleRate2_5M)
	}
	if serial, ok, err := cfg.SerialNumber(); err != nil || !ok || serial != 0x1234 {
		t.Errorf("SerialNumber() = %#x, %v, %v", serial, ok, err)
	}
	if len(cfg.Device.Exec) != 3 || cfg.Device.Exec[2] != "{output}" {
		t.Errorf("Exec = %v", cfg.Device.Exec)
	}
	if cfg.Capture.LimitSamples {
		t.Error("num_samples not given, capture should be unlimited")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "frequency too low", modify: func(c *Config) { c.Receiver.FrequencyMHz = 23.9 }, field: "receiver.frequency_mhz"},
		{name: "frequency at upper bound", modify: func(c *Config) { c.Receiver.FrequencyMHz = 1900 }, field: "receiver.frequency_mhz"},
		{name: "frequency at lower bound", modify: func(c *Config) { c.Receiver.FrequencyMHz = 24 }},
		{name: "vga gain", modify: func(c *Config) { c.Receiver.VGAGain = 16 }, field: "receiver.vga_gain"},
		{name: "mixer gain", modify: func(c *Config) { c.Receiver.MixerGain = 16 }, field: "receiver.mixer_gain"},
		{name: "lna gain", modify: func(c *Config) { c.Receiver.LNAGain = 15 }, field: "receiver.lna_gain"},
		{name: "lna gain max", modify: func(c *Config) { c.Receiver.LNAGain = 14 }},
		{name: "sample type", modify: func(c *Config) { c.Receiver.SampleType = "int8_iq" }, field: "receiver.sample_type"},
		{name: "binary serial", modify: func(c *Config) { c.Receiver.Serial = "0b101" }},
		{name: "bad serial", modify: func(c *Config) { c.Receiver.Serial = "0xZZ" }, field: "receiver.serial"},
		{name: "both outputs", modify: func(c *Config) { c.Output.RawFile = "x.raw" }, field: "output"},
		{name: "unknown driver", modify: func(c *Config) { c.Device.Driver = "usb" }, field: "device.driver"},
		{name: "exec without command", modify: func(c *Config) { c.Device.Driver = "exec" }, field: "device.exec"},
		{name: "replay without file", modify: func(c *Config) { c.Device.Driver = "replay" }, field: "device.replay_file"},
		{name: "too many samples", modify: func(c *Config) {
			c.Capture.LimitSamples = true
			c.Capture.NumSamples = MaxSamples
		}, field: "capture.num_samples"},
		{name: "zero samples", modify: func(c *Config) {
			c.Capture.LimitSamples = true
			c.Capture.NumSamples = 0
		}},
		{name: "report interval", modify: func(c *Config) { c.Capture.ReportInterval = 0 }, field: "capture.report_interval"},
		{name: "log level", modify: func(c *Config) { c.Log.Level = "loud" }, field: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			errs := cfg.Validate()

			if tt.field == "" {
				if len(errs) != 0 {
					t.Fatalf("Validate() = %v, want no errors", errs)
				}
				return
			}
			if len(errs) != 1 {
				t.Fatalf("Validate() = %v, want one error", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("error field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") || !strings.Contains(msg, "b: worse (got: 2)") {
		t.Errorf("Error() = %q", msg)
	}
	if ValidationErrors(errs[:1]).Error() != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", errs[:1].Error())
	}
}

func TestPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/cfg")
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	if runtime.GOOS != "darwin" && runtime.GOOS != "windows" {
		if got := ConfigDir(); got != filepath.Join("/tmp/cfg", "iqcapture") {
			t.Errorf("ConfigDir() = %q", got)
		}
		if got := LogPath(); got != filepath.Join("/tmp/state", "iqcapture", "iqcapture.log") {
			t.Errorf("LogPath() = %q", got)
		}
	}
}

func TestLoadBiasTee(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    bool
		wantErr bool
	}{
		{name: "numeric on", value: 1, want: true},
		{name: "numeric off", value: 0, want: false},
		{name: "boolean", value: "true", want: true},
		{name: "out of range", value: 7, wantErr: true},
		{name: "negative", value: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set("output.wav", true)
			v.Set("receiver.bias_tee", tt.value)

			cfg, err := Load(v)
			if tt.wantErr {
				var verrs ValidationErrors
				if !errors.As(err, &verrs) || verrs[len(verrs)-1].Field != "receiver.bias_tee" {
					t.Fatalf("Load() error = %v, want receiver.bias_tee validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Receiver.BiasTee != tt.want {
				t.Errorf("BiasTee = %v, want %v", cfg.Receiver.BiasTee, tt.want)
			}
		})
	}
}
