package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/notedeck/notedeck/internal/changelog"
	"github.com/notedeck/notedeck/internal/engine"
	"github.com/notedeck/notedeck/internal/queue"
	"github.com/notedeck/notedeck/internal/store"
	"github.com/notedeck/notedeck/internal/ui"
)

var queueUser string

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and operate the pending-change queue",
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Drain a user's queued changes",
	Long: `Apply a user's pending and failed queue entries through the
reconciliation engine. Conflicted entries are left in place for the user
to resolve.`,
	RunE: runQueueDrain,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's queue entries",
	RunE:  runQueueList,
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueUser, "user", "", "user id (required)")
	_ = queueCmd.MarkPersistentFlagRequired("user")

	queueCmd.AddCommand(queueDrainCmd)
	queueCmd.AddCommand(queueListCmd)
	rootCmd.AddCommand(queueCmd)
}

// openQueue wires a queue over the resolved database, with the engine as
// its applier.
func openQueue() (*store.DB, *queue.Queue, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger := log.New(os.Stderr, "[nd] ", log.LstdFlags)
	eng := engine.New(db, db, changelog.New(db.RawDB()), logger)
	return db, queue.New(db.RawDB(), eng, logger), nil
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	db, q, err := openQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := q.Drain(cmd.Context(), queueUser)
	if err != nil {
		return err
	}

	if result.Processed == 0 {
		fmt.Println("Nothing to drain")
		return nil
	}
	fmt.Printf("%s Drained %d entries: %s completed, %s failed, %s conflicted\n",
		ui.RenderAccent("→"), result.Processed,
		ui.RenderPass(fmt.Sprintf("%d", result.Completed)),
		ui.RenderFail(fmt.Sprintf("%d", result.Failed)),
		ui.RenderWarn(fmt.Sprintf("%d", result.Conflicted)))
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	db, q, err := openQueue()
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := q.List(cmd.Context(), queueUser)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("#%d %s %s %s status=%s retries=%d",
			e.ID, e.Change.Action, e.Change.Table, e.Change.RecordID, e.Status, e.RetryCount)
		if e.LastError != "" {
			line += " error=" + e.LastError
		}
		switch e.Status {
		case queue.StatusConflicted:
			fmt.Println(ui.RenderWarn(line))
		case queue.StatusFailed:
			fmt.Println(ui.RenderFail(line))
		default:
			fmt.Println(line)
		}
	}
	return nil
}
