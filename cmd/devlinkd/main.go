// Command devlinkd is the local hardware access broker daemon.
//
// It exposes printers, serial ports, USB HID devices, raw network devices
// and biometric terminals to local clients over a WebSocket JSON-RPC
// endpoint.
//
// Usage:
//
//	devlinkd serve [--config path] [--trace-log path]
//	devlinkd trace view file.dlog
//	devlinkd trace stats file.dlog
//	devlinkd version
package main

import (
	"fmt"
	"os"

	"github.com/devlink-broker/devlink-go/cmd/devlinkd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
