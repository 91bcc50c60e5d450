package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Receiver limits.
const (
	MinFrequencyMHz = 24
	MaxFrequencyMHz = 1900 // exclusive
	MaxVGAGain      = 15
	MaxMixerGain    = 15
	MaxLNAGain      = 14
)

// ValidDrivers returns the accepted device.driver values
func ValidDrivers() []string {
	return []string{"portaudio", "exec", "replay"}
}

// ValidLogLevels returns the accepted log.level values
func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

// Validate checks the Config and returns every problem found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateOutput()...)
	errs = append(errs, c.validateReceiver()...)
	errs = append(errs, c.validateDevice()...)
	errs = append(errs, c.validateCapture()...)
	errs = append(errs, c.validateLog()...)
	return errs
}

func (c *Config) validateOutput() []ValidationError {
	var errs []ValidationError
	o := c.Output

	if o.RawFile == "" && !o.WAV {
		errs = append(errs, ValidationError{
			Field:   "output",
			Value:   "",
			Message: "either a raw file (-r) or WAV output (-w) is required",
		})
	}
	if o.RawFile != "" && o.WAV {
		errs = append(errs, ValidationError{
			Field:   "output",
			Value:   o.RawFile,
			Message: "raw (-r) and WAV (-w) output are mutually exclusive",
		})
	}
	if o.BufferSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "output.buffer_size",
			Value:   o.BufferSize,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateReceiver() []ValidationError {
	var errs []ValidationError
	r := c.Receiver

	if r.FrequencyMHz < MinFrequencyMHz || r.FrequencyMHz >= MaxFrequencyMHz {
		errs = append(errs, ValidationError{
			Field:   "receiver.frequency_mhz",
			Value:   r.FrequencyMHz,
			Message: fmt.Sprintf("must be between %d and %d MHz", MinFrequencyMHz, MaxFrequencyMHz),
		})
	}
	if _, err := c.Format(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "receiver.sample_type",
			Value:   r.SampleType,
			Message: err.Error(),
		})
	}

	gains := []struct {
		field string
		value uint
		max   uint
	}{
		{"receiver.vga_gain", r.VGAGain, MaxVGAGain},
		{"receiver.mixer_gain", r.MixerGain, MaxMixerGain},
		{"receiver.lna_gain", r.LNAGain, MaxLNAGain},
	}
	for _, g := range gains {
		if g.value > g.max {
			errs = append(errs, ValidationError{
				Field:   g.field,
				Value:   g.value,
				Message: fmt.Sprintf("must be between 0 and %d", g.max),
			})
		}
	}

	if _, _, err := c.SerialNumber(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "receiver.serial",
			Value:   r.Serial,
			Message: "must be a 64-bit number (0x and 0b prefixes accepted)",
		})
	}
	return errs
}

func (c *Config) validateDevice() []ValidationError {
	var errs []ValidationError
	d := c.Device

	driver := strings.ToLower(d.Driver)
	if !slices.Contains(ValidDrivers(), driver) {
		errs = append(errs, ValidationError{
			Field:   "device.driver",
			Value:   d.Driver,
			Message: fmt.Sprintf("must be one of %v", ValidDrivers()),
		})
	}
	if driver == "exec" && len(d.Exec) == 0 {
		errs = append(errs, ValidationError{
			Field:   "device.exec",
			Value:   d.Exec,
			Message: "the exec driver needs a receiver command",
		})
	}
	if driver == "replay" && d.ReplayFile == "" {
		errs = append(errs, ValidationError{
			Field:   "device.replay_file",
			Value:   d.ReplayFile,
			Message: "the replay driver needs an input file",
		})
	}
	if d.SamplesPerTransfer < 0 {
		errs = append(errs, ValidationError{
			Field:   "device.samples_per_transfer",
			Value:   d.SamplesPerTransfer,
			Message: "must not be negative",
		})
	}
	return errs
}

func (c *Config) validateCapture() []ValidationError {
	var errs []ValidationError

	if c.Capture.LimitSamples && c.Capture.NumSamples >= MaxSamples {
		errs = append(errs, ValidationError{
			Field:   "capture.num_samples",
			Value:   c.Capture.NumSamples,
			Message: "must be less than 2^63",
		})
	}
	if c.Capture.ReportInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "capture.report_interval",
			Value:   c.Capture.ReportInterval,
			Message: "must be positive",
		})
	}
	return errs
}

func (c *Config) validateLog() []ValidationError {
	if slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		return nil
	}
	return []ValidationError{{
		Field:   "log.level",
		Value:   c.Log.Level,
		Message: fmt.Sprintf("must be one of %v", ValidLogLevels()),
	}}
}
