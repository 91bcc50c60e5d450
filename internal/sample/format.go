// Package sample describes the on-disk byte layout of the sample
// representations a receiver can deliver.
package sample

import (
	"fmt"
	"strconv"
	"strings"
)

// Format is the numeric encoding of one delivered sample. The numeric
// values match the receiver's sample type codes (-t 0..4).
type Format int

const (
	ComplexFloat32 Format = iota // interleaved I/Q float32
	RealFloat32
	ComplexInt16 // interleaved I/Q int16
	RealInt16
	RealUint16
)

// DefaultFormat is the format used when none is configured.
const DefaultFormat = ComplexInt16

// WAV format tags.
const (
	TagPCM   = 1
	TagFloat = 3
)

var formatNames = map[Format]string{
	ComplexFloat32: "float32_iq",
	RealFloat32:    "float32_real",
	ComplexInt16:   "int16_iq",
	RealInt16:      "int16_real",
	RealUint16:     "uint16_real",
}

// Formats returns every supported format in code order.
func Formats() []Format {
	return []Format{ComplexFloat32, RealFloat32, ComplexInt16, RealInt16, RealUint16}
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	_, ok := formatNames[f]
	return ok
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ElementWidth is the size in bytes of one numeric element.
func (f Format) ElementWidth() int {
	switch f {
	case ComplexFloat32, RealFloat32:
		return 4
	case ComplexInt16, RealInt16, RealUint16:
		return 2
	default:
		return 0
	}
}

// IsComplex reports whether each sample carries an I and a Q element.
func (f Format) IsComplex() bool {
	return f == ComplexFloat32 || f == ComplexInt16
}

// Channels is 2 for complex formats and 1 for real ones.
func (f Format) Channels() int {
	if !f.Valid() {
		return 0
	}
	if f.IsComplex() {
		return 2
	}
	return 1
}

// FrameSize is the number of bytes one sample occupies on disk.
func (f Format) FrameSize() int {
	return f.ElementWidth() * f.Channels()
}

// BitsPerSample is the width of a single element in bits.
func (f Format) BitsPerSample() int {
	return f.ElementWidth() * 8
}

// WAVFormatTag returns the WAVE format code for f.
func (f Format) WAVFormatTag() uint16 {
	if f == ComplexFloat32 || f == RealFloat32 {
		return TagFloat
	}
	return TagPCM
}

// PayloadLength converts a delivered sample count into the number of
// payload bytes it occupies.
func (f Format) PayloadLength(count uint64) uint64 {
	return count * uint64(f.ElementWidth()) * uint64(f.Channels())
}

// ParseFormat accepts either a numeric sample type code or a format name
// such as "int16_iq".
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, err := strconv.ParseUint(s, 0, 8); err == nil {
		f := Format(code)
		if !f.Valid() {
			return 0, fmt.Errorf("sample type %d out of range [0, %d]", code, int(RealUint16))
		}
		return f, nil
	}
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown sample type %q", s)
}
