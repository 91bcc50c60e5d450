package cli

import (
	"path/filepath"
	"strings"

	"github.com/petems/iqcapture/internal/capture"
	"github.com/petems/iqcapture/internal/config"
	"github.com/petems/iqcapture/internal/container"
	"github.com/petems/iqcapture/internal/device"
	"github.com/petems/iqcapture/internal/logging"
	"github.com/spf13/cobra"
)

func (a *app) runCapture(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		a.v.Set("device.exec", args)
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(logging.Options{
		Level:   level,
		File:    cfg.Log.File,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer closeLog()

	// Sound-card receivers need microphone approval on macOS
	if strings.EqualFold(cfg.Device.Driver, device.DriverPortAudio) {
		if err := a.ensureAudioInput(); err != nil {
			log.Error().Err(err).Msg("Audio input permission required")
			return err
		}
	}

	params, err := receiverParams(cfg)
	if err != nil {
		return err
	}
	path, mode := a.outputPath(cfg)

	budget := capture.Unlimited()
	if cfg.Capture.LimitSamples {
		if budget, err = capture.NewBudget(cfg.Capture.NumSamples); err != nil {
			return err
		}
	}

	drv, err := a.newDriver(cfg.Device, log)
	if err != nil {
		return err
	}

	session := capture.New(capture.Config{
		Driver:         drv,
		Params:         params,
		Fs:             a.fs,
		Path:           path,
		Mode:           mode,
		Overwrite:      cfg.Output.Overwrite,
		BufferSize:     cfg.Output.BufferSize,
		Budget:         budget,
		ReportInterval: cfg.Capture.ReportInterval,
		HandleSignals:  true,
		Reporter:       capture.NewConsoleReporter(cmd.ErrOrStderr()),
		Logger:         log,
	})

	res, err := session.Run(cmd.Context())
	if err != nil {
		if res == nil {
			return err
		}
		// Already reported by the console reporter
		return &exitError{code: res.ExitCode()}
	}
	return nil
}

func receiverParams(cfg *config.Config) (device.Params, error) {
	format, err := cfg.Format()
	if err != nil {
		return device.Params{}, err
	}
	serial, hasSerial, err := cfg.SerialNumber()
	if err != nil {
		return device.Params{}, err
	}

	return device.Params{
		FrequencyHz: cfg.FrequencyHz(),
		SampleRate:  cfg.SampleRateHz(),
		Format:      format,
		Gains: device.Gains{
			VGA:   uint8(cfg.Receiver.VGAGain),
			Mixer: uint8(cfg.Receiver.MixerGain),
			LNA:   uint8(cfg.Receiver.LNAGain),
		},
		BiasTee:   cfg.Receiver.BiasTee,
		Serial:    serial,
		HasSerial: hasSerial,
	}, nil
}

// outputPath picks the explicit raw file or an automatic WAV name.
func (a *app) outputPath(cfg *config.Config) (string, container.Mode) {
	if cfg.Output.RawFile != "" {
		return cfg.Output.RawFile, container.ModeRaw
	}
	name := container.AutoName(cfg.Output.WAVPrefix, a.now(), cfg.FrequencyHz())
	return filepath.Join(cfg.Output.Directory, name), container.ModeWAV
}
