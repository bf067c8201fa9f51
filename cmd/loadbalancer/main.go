// Command loadbalancer runs the TCP reverse proxy: accept loop, health
// prober, and metrics endpoint wired together from a loaded Config.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "loadbalancer",
	Short:   "Layer-4 TCP reverse proxy with adaptive backend selection",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
