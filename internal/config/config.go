package config

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/petems/iqcapture/internal/sample"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Legacy sample-rate indices accepted by --sample-rate.
const (
	SampleRate10M  = 10_000_000
	SampleRate2_5M = 2_500_000
)

// MaxSamples is the exclusive upper bound of --num-samples.
const MaxSamples = uint64(1) << 63

type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Receiver ReceiverConfig `mapstructure:"receiver"`
	Device   DeviceConfig   `mapstructure:"device"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Log      LogConfig      `mapstructure:"log"`
}

type OutputConfig struct {
	RawFile    string `mapstructure:"raw_file"`
	WAV        bool   `mapstructure:"wav"` // auto-named WAV capture
	WAVPrefix  string `mapstructure:"wav_prefix"`
	Directory  string `mapstructure:"directory"` // where auto-named files go
	Overwrite  bool   `mapstructure:"overwrite"`
	BufferSize int    `mapstructure:"buffer_size"`
}

type ReceiverConfig struct {
	FrequencyMHz float64 `mapstructure:"frequency_mhz"`
	SampleRate   uint32  `mapstructure:"sample_rate"` // Hz, or legacy index 0/1
	SampleType   string  `mapstructure:"sample_type"` // name or legacy number
	VGAGain      uint    `mapstructure:"vga_gain"`
	MixerGain    uint    `mapstructure:"mixer_gain"`
	LNAGain      uint    `mapstructure:"lna_gain"`
	BiasTee      bool    `mapstructure:"bias_tee"`
	Serial       string  `mapstructure:"serial"` // 0x / 0b prefixes accepted
}

type DeviceConfig struct {
	Driver             string   `mapstructure:"driver"` // "portaudio", "exec" or "replay"
	Name               string   `mapstructure:"name"`
	SamplesPerTransfer int      `mapstructure:"samples_per_transfer"`
	Exec               []string `mapstructure:"exec"`
	ReplayFile         string   `mapstructure:"replay_file"`
	ReplayRealtime     bool     `mapstructure:"replay_realtime"`
}

type CaptureConfig struct {
	NumSamples     uint64        `mapstructure:"num_samples"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	// LimitSamples is set when num_samples was given explicitly.
	LimitSamples bool `mapstructure:"-"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		Output: OutputConfig{
			WAVPrefix:  "AirSpy",
			BufferSize: 16 * 1024,
		},
		Receiver: ReceiverConfig{
			FrequencyMHz: 900,
			SampleRate:   SampleRate10M,
			SampleType:   sample.DefaultFormat.String(),
			VGAGain:      1,
			MixerGain:    8,
			LNAGain:      8,
		},
		Device: DeviceConfig{
			Driver:             "portaudio",
			SamplesPerTransfer: 0, // driver default
		},
		Capture: CaptureConfig{
			ReportInterval: time.Second,
		},
		Log: LogConfig{
			Level: "info",
			File:  LogPath(),
		},
	}
}

// SetDefaults registers Default() with v. num_samples has no default so
// that an explicit value can be told apart from "unlimited".
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("output.raw_file", d.Output.RawFile)
	v.SetDefault("output.wav", d.Output.WAV)
	v.SetDefault("output.wav_prefix", d.Output.WAVPrefix)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.overwrite", d.Output.Overwrite)
	v.SetDefault("output.buffer_size", d.Output.BufferSize)

	v.SetDefault("receiver.frequency_mhz", d.Receiver.FrequencyMHz)
	v.SetDefault("receiver.sample_rate", d.Receiver.SampleRate)
	v.SetDefault("receiver.sample_type", d.Receiver.SampleType)
	v.SetDefault("receiver.vga_gain", d.Receiver.VGAGain)
	v.SetDefault("receiver.mixer_gain", d.Receiver.MixerGain)
	v.SetDefault("receiver.lna_gain", d.Receiver.LNAGain)
	v.SetDefault("receiver.bias_tee", d.Receiver.BiasTee)
	v.SetDefault("receiver.serial", d.Receiver.Serial)

	v.SetDefault("device.driver", d.Device.Driver)
	v.SetDefault("device.name", d.Device.Name)
	v.SetDefault("device.samples_per_transfer", d.Device.SamplesPerTransfer)
	v.SetDefault("device.exec", d.Device.Exec)
	v.SetDefault("device.replay_file", d.Device.ReplayFile)
	v.SetDefault("device.replay_realtime", d.Device.ReplayRealtime)

	v.SetDefault("capture.report_interval", d.Capture.ReportInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if v.IsSet("capture.num_samples") {
		cfg.Capture.LimitSamples = true
		cfg.Capture.NumSamples = v.GetUint64("capture.num_samples")
	}

	errs := cfg.Validate()
	if err := checkBiasTee(v.Get("receiver.bias_tee")); err != nil {
		errs = append(errs, *err)
	}
	if len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// checkBiasTee accepts the numeric switch 0 or 1, or a boolean. Decoding
// into the bool field would otherwise read any non-zero number as on.
func checkBiasTee(val any) *ValidationError {
	if val == nil {
		return nil
	}
	if n, err := cast.ToIntE(val); err == nil {
		if n == 0 || n == 1 {
			return nil
		}
	} else if _, err := cast.ToBoolE(val); err == nil {
		return nil
	}
	return &ValidationError{Field: "receiver.bias_tee", Value: val, Message: "must be 0 or 1"}
}

// FrequencyHz returns the tuning frequency in Hz.
func (c *Config) FrequencyHz() uint64 {
	return uint64(math.Round(c.Receiver.FrequencyMHz * 1e6))
}

// SampleRateHz resolves the legacy rate indices 0 and 1.
func (c *Config) SampleRateHz() uint32 {
	switch c.Receiver.SampleRate {
	case 0:
		return SampleRate10M
	case 1:
		return SampleRate2_5M
	default:
		return c.Receiver.SampleRate
	}
}

// Format returns the parsed sample type.
func (c *Config) Format() (sample.Format, error) {
	return sample.ParseFormat(c.Receiver.SampleType)
}

// SerialNumber parses the configured board serial. ok is false when no
// serial was given.
func (c *Config) SerialNumber() (serial uint64, ok bool, err error) {
	if c.Receiver.Serial == "" {
		return 0, false, nil
	}
	serial, err = strconv.ParseUint(c.Receiver.Serial, 0, 64)
	if err != nil {
		return 0, false, err
	}
	return serial, true, nil
}

// ConfigDir returns the platform-specific config directory
func ConfigDir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "iqcapture")
}

// LogPath returns the platform-specific default log file path
func LogPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "iqcapture", "iqcapture.log")
}
