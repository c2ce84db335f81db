// Command voicesync records per-participant voice tracks from RTP streams
// and plans their synchronized mix.
//
// Usage:
//
//	voicesync [flags] <command> [args]
//
// Commands:
//
//	record    - run the ingest server and record sessions
//	mix       - print the mixing command for a recorded session
//	drift     - report clock drift of a recorded session's tracks
//	sessions  - list and inspect indexed sessions
package main

import (
	"fmt"
	"os"

	"github.com/channel-io/go-voicesync/cmd/voicesync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
