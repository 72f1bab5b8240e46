package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiftbeat/shiftbeat/internal/config"
	"github.com/shiftbeat/shiftbeat/internal/engine"
	"github.com/shiftbeat/shiftbeat/internal/remote"
	"github.com/shiftbeat/shiftbeat/internal/store"
	"github.com/shiftbeat/shiftbeat/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one drain pass against the remote backend",
	Long: `Drain the pending sync queue once and exit.

This is the manual equivalent of the app's pull-to-refresh: every
eligible queue item is replayed in order, retryable failures are left
pending with backoff, and terminal failures are dropped and reported.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		if cfg.Remote.BaseURL == "" {
			fmt.Fprintf(os.Stderr, "Error: remote.base_url is not configured\n")
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

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)

		client, err := remote.NewClient(&remote.Config{
			BaseURL:           cfg.Remote.BaseURL,
			Timeout:           cfg.Remote.Timeout,
			RequestsPerSecond: cfg.Remote.RequestsPerSecond,
			Burst:             cfg.Remote.Burst,
			Logger:            logger,
		}, remote.StaticToken(os.Getenv("SHIFTD_TOKEN")))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating remote client: %v\n", err)
			os.Exit(1)
		}

		eng, err := engine.New(st, client, &engine.Config{
			BatchSize:   cfg.Engine.BatchSize,
			MaxAttempts: cfg.Engine.MaxAttempts,
			BackoffBase: cfg.Engine.BackoffBase,
			BackoffCap:  cfg.Engine.BackoffCap,
			Logger:      logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		start := time.Now()

		if err := eng.Drain(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during drain: %v\n", err)
			os.Exit(1)
		}

		pending, parked, err := st.QueueCounts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue counts: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Drain complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Pending: %d\n", pending)
		if parked > 0 {
			fmt.Printf("   Parked:  %s\n", ui.RenderFail(fmt.Sprintf("%d", parked)))
			fmt.Printf("   Run 'shiftd queue retry' to revive parked items\n")
		}
	},
}
