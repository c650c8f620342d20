package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notedeck/notedeck/internal/store"
	"github.com/notedeck/notedeck/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	Long:  `Print per-table record counts and pending queue depth.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	path, err := resolveDBPath()
	if err != nil {
		return err
	}

	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	counts, err := db.Counts(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n\n", ui.RenderAccent("Database:"), db.Path())
	for _, table := range []string{"groups", "notes", "comments", "assignments", "change_log"} {
		fmt.Printf("  %-12s %d\n", table, counts[table])
	}

	pending := counts["pending_queue"]
	marker := ui.RenderPass("✓")
	if pending > 0 {
		marker = ui.RenderWarn("!")
	}
	fmt.Printf("\n%s Queue entries: %d\n", marker, pending)
	return nil
}
