// Package cmd is the mdbctl command-line surface: a long-running "serve"
// daemon plus thin one-shot commands that drive it over its control API.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mdbctl",
	Short: "Vending-machine MDB peripheral controller",
	Long: `mdbctl drives a banknote validator, coin acceptor/dispenser, and
optional cashless reader over an ASCII-framed MDB serial bridge.

Run "mdbctl serve" to start the peripheral controller, its control API, and
its event/telemetry websocket. The remaining subcommands are thin clients
that call a running serve instance's control API.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api", "", "Control API base URL (default http://<api.host>:<api.port>)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
