package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shiftbeat/shiftbeat/internal/schema"
	"github.com/shiftbeat/shiftbeat/internal/store"
	"github.com/shiftbeat/shiftbeat/internal/ui"
)

var (
	listStuckOnly bool
	listLimit     int
)

var listCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List locally cached records for a table",
	Long: `List a table's records with their sync state, newest first.

Valid tables: ` + fmt.Sprintf("%v", schema.Tables()),
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		table := args[0]
		if err := schema.ValidateTable(table); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st := openStore()
		defer st.Close()

		filter := store.ListFilter{Limit: listLimit}
		if listStuckOnly {
			stuck := schema.StateStuck
			filter.SyncState = &stuck
		}

		recs, err := st.List(context.Background(), table, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing %s: %v\n", table, err)
			os.Exit(1)
		}

		if len(recs) == 0 {
			fmt.Printf("No records in %s\n", table)
			return
		}

		fmt.Printf("%-38s %-30s %s\n", "ID", "UPDATED", "STATE")
		for _, rec := range recs {
			fmt.Printf("%-38s %-30s %s\n",
				rec.ID, rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"), ui.Badge(rec.SyncState))
		}
	},
}

func init() {
	listCmd.Flags().BoolVar(&listStuckOnly, "stuck", false, "only records stuck after exhausted retries")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum records to show (0 for all)")
}
