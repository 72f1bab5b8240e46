package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shiftbeat/shiftbeat/internal/config"
	"github.com/shiftbeat/shiftbeat/internal/schema"
	"github.com/shiftbeat/shiftbeat/internal/store"
	"github.com/shiftbeat/shiftbeat/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and queue status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()

		pending, parked, err := st.QueueCounts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue counts: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Database: %s\n\n", ui.RenderAccent(cfg.DBPath))
		fmt.Printf("Queue: %d pending", pending)
		if parked > 0 {
			fmt.Printf(", %s parked", ui.RenderFail(fmt.Sprintf("%d", parked)))
		}
		fmt.Println()
		fmt.Println()

		fmt.Printf("%-16s %8s %8s %8s\n", "TABLE", "DIRTY", "SYNCED", "STUCK")
		for _, table := range schema.Tables() {
			counts, err := st.StateCounts(ctx, table)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", table, err)
				os.Exit(1)
			}
			fmt.Printf("%-16s %8d %8d %8d\n", table,
				counts[schema.StateDirty],
				counts[schema.StateSynced],
				counts[schema.StateStuck])
		}
	},
}
