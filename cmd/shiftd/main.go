// Command shiftd operates the shiftbeat sync engine: it runs the sync
// daemon and provides inspection commands for the local store and queue.
//
// The engine itself is an embedded library; the app's screens call it
// directly. shiftd exists for operating and debugging a device's local
// database outside the app.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shiftd",
	Short: "Offline-first sync engine for shiftbeat",
	Long: `shiftd operates the shiftbeat local-first sync engine.

The engine mirrors the app's tables (jobs, attendance, accomplishments,
reports, profile) in a local SQLite database and replays queued mutations
against the remote backend when connectivity allows.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./shiftd.yaml, ~/.shiftbeat/shiftd.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
