package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shiftbeat/shiftbeat/internal/config"
	"github.com/shiftbeat/shiftbeat/internal/store"
	"github.com/shiftbeat/shiftbeat/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the sync queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and parked queue items in replay order",
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		items, err := st.ListQueue(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing queue: %v\n", err)
			os.Exit(1)
		}

		if len(items) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%-6s %-16s %-38s %-8s %-9s %s\n",
			"ID", "TABLE", "ENTITY", "OP", "ATTEMPTS", "STATE")
		for _, item := range items {
			state := "pending"
			if item.Parked {
				state = ui.RenderFail("parked")
			}
			fmt.Printf("%-6d %-16s %-38s %-8s %-9d %s\n",
				item.QueueID, item.Table, item.EntityID, item.Op, item.AttemptCount, state)
			if item.LastError != "" {
				fmt.Printf("       %s %s\n", ui.RenderWarn("last error:"), item.LastError)
			}
		}
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Revive parked queue items for another sync attempt",
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		n, err := st.RetryParked(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reviving parked items: %v\n", err)
			os.Exit(1)
		}

		if n == 0 {
			fmt.Println("No parked items to retry")
			return
		}
		fmt.Printf("%s Revived %d parked item(s); run 'shiftd sync' to replay\n",
			ui.RenderPass("✓"), n)
	},
}

// openStore opens the configured store or exits.
func openStore() *store.Store {
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

	if err := st.InitSchema(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}

	return st
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
}
