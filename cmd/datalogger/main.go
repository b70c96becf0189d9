package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "datalogger: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "datalogger",
		Short: "Serve the storage root and live channel readings over HTTP",
		Long: `datalogger samples eight analog channels into CSV log files and
serves the storage root over HTTP: a file browser with upload, download
and delete, a JSON telemetry API, a websocket feed and WebDAV.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), passwdCmd())
	return root
}
