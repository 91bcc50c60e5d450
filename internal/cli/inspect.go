package cli

import (
	"fmt"
	"time"

	"github.com/petems/iqcapture/internal/container"
	"github.com/petems/iqcapture/internal/sample"
	"github.com/spf13/cobra"
)

func (a *app) newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.wav>",
		Short: "Print the header of a captured WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.fs.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			h, err := container.ReadHeader(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File:            %s\n", args[0])
			fmt.Fprintf(out, "Format:          %s\n", formatTagName(h.FormatTag))
			fmt.Fprintf(out, "Sample type:     %s\n", headerSampleType(h))
			fmt.Fprintf(out, "Channels:        %d\n", h.Channels)
			fmt.Fprintf(out, "Sample rate:     %d Hz\n", h.SampleRate)
			fmt.Fprintf(out, "Bits per sample: %d\n", h.BitsPerSample)
			fmt.Fprintf(out, "Block align:     %d\n", h.BlockAlign)
			fmt.Fprintf(out, "Byte rate:       %d\n", h.AvgBytesPerSec)
			fmt.Fprintf(out, "Data size:       %d bytes\n", h.DataSize)
			if h.AvgBytesPerSec > 0 {
				d := time.Duration(float64(h.DataSize) / float64(h.AvgBytesPerSec) * float64(time.Second))
				fmt.Fprintf(out, "Duration:        %s\n", d.Round(time.Microsecond))
			}
			if h.RiffSize == 0xFFFFFFFF || h.DataSize == 0xFFFFFFFF {
				fmt.Fprintln(out, "Warning:         size fields saturated, capture exceeds 4 GiB")
			}
			return nil
		},
	}
}

func formatTagName(tag uint16) string {
	switch tag {
	case sample.TagPCM:
		return "PCM"
	case sample.TagFloat:
		return "IEEE float"
	default:
		return fmt.Sprintf("unknown (%d)", tag)
	}
}

// headerSampleType maps fmt chunk fields back to a sample format. uint16
// and int16 captures share a header, so 16-bit real data reads as int16_real.
func headerSampleType(h container.Header) string {
	for _, f := range sample.Formats() {
		if f.WAVFormatTag() == h.FormatTag &&
			f.Channels() == int(h.Channels) &&
			f.BitsPerSample() == int(h.BitsPerSample) {
			return f.String()
		}
	}
	return "unknown"
}
