package capture

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionUsed is returned by Run on a session that has already run.
	ErrSessionUsed = errors.New("capture session already used")
	// ErrShortWrite is reported when the writer accepts fewer bytes than admitted.
	ErrShortWrite = errors.New("short write")
	// ErrShortTransfer is reported when a driver hands over fewer bytes than
	// its sample count implies.
	ErrShortTransfer = errors.New("transfer shorter than its sample count")
	// ErrBudgetTooLarge is returned by NewBudget for sample counts of 2^63 or more.
	ErrBudgetTooLarge = errors.New("sample budget must be less than 2^63")
)

// ConfigError is a parameter or device failure before streaming starts.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IOError is a failure to create, write or finalise the output file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// StallError reports a full reporting interval without any delivered bytes.
type StallError struct {
	Interval time.Duration
}

func (e *StallError) Error() string {
	return fmt.Sprintf("couldn't transfer any bytes for %s", e.Interval)
}
