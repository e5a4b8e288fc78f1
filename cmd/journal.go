package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ravenhall/lodestar/internal/config"
	"github.com/ravenhall/lodestar/internal/journal"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List the events recorded in the edit journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer j.Close() //nolint:errcheck

		events, err := j.Events(cmd.Context())
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(os.Stdout, "journal is empty")
			return nil
		}
		for _, ev := range events {
			target := ev.Event.TargetID
			if target == "" && ev.Event.Task != nil {
				target = ev.Event.Task.ID
			}
			fmt.Fprintf(os.Stdout, "%6d  %-19s  %-16s  %s\n",
				ev.Seq, ev.CreatedAt, ev.Event.Type, target)
		}
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Force a journal snapshot and compact the event log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer j.Close() //nolint:errcheck

		ctx := cmd.Context()
		state, err := j.Recover(ctx)
		if err != nil {
			return err
		}
		if err := j.Snapshot(ctx, state); err != nil {
			return err
		}
		n, err := j.EventCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "snapshot written: %d tasks, %d events remain\n",
			state.Tasks.Len(), n)
		return nil
	},
}

// openJournal opens the journal named by --db or the configured default.
func openJournal(cmd *cobra.Command) (*journal.Journal, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = cfg.JournalPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no journal at %s", path)
	}
	return journal.Open(cmd.Context(), path, cfg.SnapshotPolicy())
}

func init() {
	logCmd.Flags().String("db", "", "journal database (default from config)")
	snapshotCmd.Flags().String("db", "", "journal database (default from config)")
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(snapshotCmd)
}
