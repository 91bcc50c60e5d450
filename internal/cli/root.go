// Package cli implements the iqcapture command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/petems/iqcapture/internal/config"
	"github.com/petems/iqcapture/internal/device"
	"github.com/petems/iqcapture/internal/permissions"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the configuration.
const EnvPrefix = "IQCAPTURE"

// DriverFactory builds the receiver driver for a capture.
type DriverFactory func(cfg config.DeviceConfig, log zerolog.Logger) (device.Driver, error)

// exitError carries a non-zero exit status for a failure that has already
// been reported to the user.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type app struct {
	v         *viper.Viper
	fs        afero.Fs
	newDriver DriverFactory
	now       func() time.Time
	version   string

	ensureAudioInput func() error
}

// Option customises the root command, mostly for tests.
type Option func(*app)

// WithFs replaces the filesystem used for capture output and inspection.
func WithFs(fs afero.Fs) Option {
	return func(a *app) { a.fs = fs }
}

// WithDriverFactory replaces device.New.
func WithDriverFactory(f DriverFactory) Option {
	return func(a *app) { a.newDriver = f }
}

// WithClock replaces time.Now for automatic file names.
func WithClock(now func() time.Time) Option {
	return func(a *app) { a.now = now }
}

// WithVersion sets the string printed by --version.
func WithVersion(version string) Option {
	return func(a *app) { a.version = version }
}

// NewRootCommand builds the iqcapture command tree with its own viper
// instance.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{
		v:         viper.New(),
		fs:        afero.NewOsFs(),
		newDriver: device.New,
		now:       time.Now,
		version:   "dev",

		ensureAudioInput: permissions.EnsureMicrophone,
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "iqcapture [flags] [-- receiver command...]",
		Short: "Capture raw IQ samples from an SDR receiver",
		Long: `iqcapture streams raw IQ samples from a software-defined-radio receiver
to disk, either as a raw sample file (-r) or as an automatically named
WAV file (-w). Capture runs until the requested number of samples has
been written (-n), the receiver stops, or it is interrupted with Ctrl-C.

With the exec driver, arguments after -- form the receiver command.`,
		Version:       a.version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		RunE: a.runCapture,
	}

	a.registerCaptureFlags(root.Flags())
	root.PersistentFlags().StringP("config", "c", "", "config file (default is "+config.ConfigDir()+"/config.yaml)")

	root.AddCommand(a.newInspectCommand(), newFormatsCommand())
	return root
}

func (a *app) registerCaptureFlags(f *pflag.FlagSet) {
	d := config.Default()

	f.StringP("raw-file", "r", "", "write raw samples to `file`")
	f.BoolP("wav", "w", false, "write an automatically named WAV file")
	f.String("wav-prefix", d.Output.WAVPrefix, "file name prefix for -w")
	f.String("output-dir", "", "directory for automatically named files")
	f.Bool("overwrite", false, "replace an existing output file")
	f.Int("buffer-size", d.Output.BufferSize, "output write buffer in bytes")

	f.StringP("serial", "s", "", "open the receiver with this 64-bit serial number (0x prefix for hex)")
	f.Float64P("freq", "f", d.Receiver.FrequencyMHz, "frequency in MHz, 24 to 1900")
	f.Uint32P("sample-rate", "a", d.Receiver.SampleRate, "sample rate in Hz (0 = 10 MSPS, 1 = 2.5 MSPS)")
	f.StringP("sample-type", "t", d.Receiver.SampleType, "sample type, by name or number (see 'iqcapture formats')")
	f.IntP("bias-tee", "b", 0, "antenna bias tee: 1 enables, 0 disables")
	f.UintP("vga-gain", "v", d.Receiver.VGAGain, "VGA (IF) gain, 0 to 15")
	f.UintP("mixer-gain", "m", d.Receiver.MixerGain, "mixer gain, 0 to 15")
	f.UintP("lna-gain", "l", d.Receiver.LNAGain, "LNA gain, 0 to 14")
	f.Uint64P("num-samples", "n", 0, "stop after this many samples (default unlimited)")

	f.String("driver", d.Device.Driver, "receiver driver: "+strings.Join(config.ValidDrivers(), ", "))
	f.String("device", "", "audio input device name for the portaudio driver")
	f.Int("samples-per-transfer", 0, "samples delivered per transfer (exec and replay drivers)")
	f.StringArray("exec", nil, "receiver command argument for the exec driver (repeatable)")
	f.String("replay", "", "raw or WAV `file` to replay instead of a live receiver")
	f.Bool("replay-realtime", false, "pace replay at the configured sample rate")

	f.Duration("report-interval", d.Capture.ReportInterval, "throughput report and stall detection interval")
	f.String("log-level", d.Log.Level, "log level: "+strings.Join(config.ValidLogLevels(), ", "))
	f.String("log-file", d.Log.File, "also log to this file (empty disables)")

	bindings := map[string]string{
		"output.raw_file":             "raw-file",
		"output.wav":                  "wav",
		"output.wav_prefix":           "wav-prefix",
		"output.directory":            "output-dir",
		"output.overwrite":            "overwrite",
		"output.buffer_size":          "buffer-size",
		"receiver.serial":             "serial",
		"receiver.frequency_mhz":      "freq",
		"receiver.sample_rate":        "sample-rate",
		"receiver.sample_type":        "sample-type",
		"receiver.bias_tee":           "bias-tee",
		"receiver.vga_gain":           "vga-gain",
		"receiver.mixer_gain":         "mixer-gain",
		"receiver.lna_gain":           "lna-gain",
		"capture.num_samples":         "num-samples",
		"device.driver":               "driver",
		"device.name":                 "device",
		"device.samples_per_transfer": "samples-per-transfer",
		"device.exec":                 "exec",
		"device.replay_file":          "replay",
		"device.replay_realtime":      "replay-realtime",
		"capture.report_interval":     "report-interval",
		"log.level":                   "log-level",
		"log.file":                    "log-file",
	}
	for key, name := range bindings {
		_ = a.v.BindPFlag(key, f.Lookup(name))
	}
}

func (a *app) initConfig(cmd *cobra.Command) error {
	config.SetDefaults(a.v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(config.ConfigDir())
		// A missing default config file is fine
		_ = a.v.ReadInConfig()
	}

	a.v.AutomaticEnv()
	a.v.SetEnvPrefix(EnvPrefix)
	// IQCAPTURE_RECEIVER_FREQUENCY_MHZ for receiver.frequency_mhz
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return nil
}

// Execute runs the command line and returns the process exit status.
func Execute(version string) int {
	root := NewRootCommand(WithVersion(version))
	return exitCode(root.Execute(), root.ErrOrStderr())
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
