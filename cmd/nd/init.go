package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notedeck/notedeck/internal/config"
	"github.com/notedeck/notedeck/internal/store"
	"github.com/notedeck/notedeck/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database",
	Long:  `Create the database file and schema. Safe to run on an existing database.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := resolveDBPath()
	if err != nil {
		return err
	}

	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.InitSchemaContext(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	fmt.Printf("%s Initialized database at %s\n", ui.RenderPass("✓"), db.Path())
	return nil
}

// resolveDBPath applies the flag/config/default precedence shared by the
// non-server commands.
func resolveDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.DBPath, nil
}
