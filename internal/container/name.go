package container

import (
	"fmt"
	"time"
)

// DefaultPrefix is the file name prefix used for automatically named
// WAV captures.
const DefaultPrefix = "AirSpy"

// AutoName builds the default WAV file name:
// <prefix>_<YYYYMMDD_HHMMSS>Z_<freqKHz>kHz_IQ.wav, with the timestamp in UTC.
func AutoName(prefix string, at time.Time, freqHz uint64) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s_%sZ_%dkHz_IQ.wav", prefix, at.UTC().Format("20060102_150405"), freqHz/1000)
}
