package cli

import (
	"fmt"

	"github.com/petems/iqcapture/internal/sample"
	"github.com/spf13/cobra"
)

func newFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the sample types accepted by -t",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-4s %-13s %-6s %-8s %s\n", "-t", "NAME", "WIDTH", "CHANNELS", "BYTES/SAMPLE")
			for _, f := range sample.Formats() {
				marker := ""
				if f == sample.DefaultFormat {
					marker = " (default)"
				}
				fmt.Fprintf(out, "%-4d %-13s %-6d %-8d %d%s\n",
					int(f), f.String(), f.ElementWidth(), f.Channels(), f.FrameSize(), marker)
			}
		},
	}
}
