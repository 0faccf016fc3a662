// Package commands implements the devlinkd CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devlink-broker/devlink-go/pkg/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "devlinkd",
	Short: "devlinkd - local hardware access broker",
	Long: `devlinkd brokers local hardware to clients over a WebSocket JSON-RPC
endpoint: printers, serial ports, USB HID devices, raw TCP devices and
biometric terminals.

Use "devlinkd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("devlinkd %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "devlink.yaml", "settings file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
