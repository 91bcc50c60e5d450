// Package container writes captured sample payloads to disk, either raw or
// wrapped in a WAV (RIFF) container whose header is back-patched once the
// final size is known.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/petems/iqcapture/internal/sample"
)

// HeaderSize is the size of the fixed WAV header in bytes.
const HeaderSize = 44

// fmtChunkSize is the size of the fmt chunk body for PCM/float data.
const fmtChunkSize = 16

var (
	riffID = [4]byte{'R', 'I', 'F', 'F'}
	waveID = [4]byte{'W', 'A', 'V', 'E'}
	fmtID  = [4]byte{'f', 'm', 't', ' '}
	dataID = [4]byte{'d', 'a', 't', 'a'}
)

// ErrNotWAV is returned by ReadHeader when the magic values do not match.
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// Header is the packed 44-byte RIFF/WAVE header. Field order and widths
// match the on-disk layout exactly; it is serialised with encoding/binary.
type Header struct {
	// RIFF group header
	RiffID   [4]byte // "RIFF"
	RiffSize uint32  // file size - 8
	WaveID   [4]byte // "WAVE"

	// fmt chunk
	FmtID          [4]byte // "fmt "
	FmtSize        uint32  // 16
	FormatTag      uint16  // 1 = PCM, 3 = float
	Channels       uint16
	SampleRate     uint32
	AvgBytesPerSec uint32 // SampleRate * BlockAlign
	BlockAlign     uint16 // Channels * BitsPerSample/8
	BitsPerSample  uint16

	// data chunk
	DataID   [4]byte // "data"
	DataSize uint32  // payload bytes
}

// Descriptor carries the format fields written into the fmt chunk.
type Descriptor struct {
	FormatTag     uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// DescriptorFor derives the fmt chunk fields for a sample format.
func DescriptorFor(f sample.Format, sampleRate uint32) Descriptor {
	return Descriptor{
		FormatTag:     f.WAVFormatTag(),
		Channels:      uint16(f.Channels()),
		SampleRate:    sampleRate,
		BitsPerSample: uint16(f.BitsPerSample()),
	}
}

// BlockAlign is the size in bytes of one sample frame.
func (d Descriptor) BlockAlign() uint16 {
	return d.Channels * (d.BitsPerSample / 8)
}

// AvgBytesPerSec is the byte rate of the payload.
func (d Descriptor) AvgBytesPerSec() uint32 {
	return d.SampleRate * uint32(d.BlockAlign())
}

// placeholderHeader is written before streaming starts: magic values set,
// every size and format field zero.
func placeholderHeader() Header {
	return Header{
		RiffID:  riffID,
		WaveID:  waveID,
		FmtID:   fmtID,
		FmtSize: fmtChunkSize,
		DataID:  dataID,
	}
}

// NewHeader builds a finalised header for a file of fileSize bytes holding
// payload bytes of sample data. Sizes that do not fit in 32 bits saturate
// and oversized is reported true.
func NewHeader(d Descriptor, fileSize, payload uint64) (h Header, oversized bool) {
	h = placeholderHeader()
	h.FormatTag = d.FormatTag
	h.Channels = d.Channels
	h.SampleRate = d.SampleRate
	h.AvgBytesPerSec = d.AvgBytesPerSec()
	h.BlockAlign = d.BlockAlign()
	h.BitsPerSample = d.BitsPerSample

	var riffOver, dataOver bool
	h.RiffSize, riffOver = saturate32(fileSize - 8)
	h.DataSize, dataOver = saturate32(payload)
	return h, riffOver || dataOver
}

func saturate32(v uint64) (uint32, bool) {
	if v > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(v), false
}

// WriteTo serialises the header in little-endian order.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return 0, err
	}
	return HeaderSize, nil
}

// ReadHeader parses a 44-byte WAV header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("read wav header: %w", err)
	}
	if h.RiffID != riffID || h.WaveID != waveID || h.FmtID != fmtID || h.DataID != dataID {
		return Header{}, ErrNotWAV
	}
	return h, nil
}
