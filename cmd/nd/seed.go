package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/notedeck/notedeck/internal/store"
	"github.com/notedeck/notedeck/internal/ui"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load groups and memberships from a YAML file",
	Long: `Load groups and their members from a YAML file, for example:

  groups:
    - id: g-eng
      name: Engineering
      members: [alice, bob]

Re-applying a seed file updates group names in place and never removes
existing memberships.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "seed file (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

// seedDoc mirrors the seed file layout.
type seedDoc struct {
	Groups []struct {
		ID      string   `yaml:"id"`
		Name    string   `yaml:"name"`
		Members []string `yaml:"members"`
	} `yaml:"groups"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var doc seedDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(doc.Groups) == 0 {
		return fmt.Errorf("seed file defines no groups")
	}

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

	var members int
	for _, g := range doc.Groups {
		if g.ID == "" || g.Name == "" {
			return fmt.Errorf("group entries need both id and name")
		}
		if err := db.CreateGroup(cmd.Context(), g.ID, g.Name); err != nil {
			return fmt.Errorf("failed to create group %s: %w", g.ID, err)
		}
		for _, user := range g.Members {
			if err := db.AddMember(cmd.Context(), g.ID, user); err != nil {
				return fmt.Errorf("failed to add %s to group %s: %w", user, g.ID, err)
			}
			members++
		}
	}

	fmt.Printf("%s Seeded %d groups, %d memberships\n",
		ui.RenderPass("✓"), len(doc.Groups), members)
	return nil
}
