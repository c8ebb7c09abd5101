// Command voicestream runs the streaming voice pipeline.
//
// Usage:
//
//	voicestream [flags] <command> [args]
//
// Commands:
//
//	say      - Run one text turn and print the reply
//	listen   - Run one audio turn from a WAV file or an RTP stream
//	serve    - Serve the pipeline over HTTP and WebSocket
//	replay   - Summarize a recorded event trace
//	presets  - List provider presets
//
// Configuration is layered: defaults, preset, YAML file (--config), .env and
// environment variables, then command-line flags.
package main

import (
	"fmt"
	"os"

	"github.com/teslashibe/go-voicestream/cmd/voicestream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
