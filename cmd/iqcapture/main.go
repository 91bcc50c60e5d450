package main

import (
	"os"

	"github.com/petems/iqcapture/internal/cli"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	os.Exit(cli.Execute(Version + " (" + Commit + ")"))
}
