// Command nd is the notedeck sync backend CLI.
//
// It manages the local database, runs the sync server, and operates the
// pending-change queue.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the --config flag, shared by all commands.
	configPath string

	// dbPath is the --db flag; overrides the configured database path.
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "nd",
	Short: "notedeck offline-first sync backend",
	Long: `nd runs the notedeck synchronization backend.

The backend reconciles offline client mutations with shared server state:
clients accumulate changes while disconnected, submit them in a batch, and
receive per-change outcomes (applied, conflicted, errored) plus the server-
side delta since their last sync.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
