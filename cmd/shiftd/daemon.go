package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shiftbeat/shiftbeat/internal/config"
	"github.com/shiftbeat/shiftbeat/internal/dashboard"
	"github.com/shiftbeat/shiftbeat/internal/engine"
	"github.com/shiftbeat/shiftbeat/internal/remote"
	"github.com/shiftbeat/shiftbeat/internal/store"
	"github.com/shiftbeat/shiftbeat/internal/trigger"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the sync engine, trigger, and (optionally) the monitoring
dashboard until interrupted.

The daemon:
  1. Opens the local database and initializes the schema
  2. Starts the trigger (periodic timer + connectivity probe)
  3. Drains the sync queue against the remote backend
  4. Broadcasts sync events to dashboard clients when enabled

When started with --config, edits to the config file are applied by
restarting the component set with the new settings; the local database
and queue carry over untouched.

The remote bearer token is read from SHIFTD_TOKEN.`,
	Run: func(cmd *cobra.Command, args []string) {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		for {
			cfg, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}

			restart, err := runDaemon(cfg, sig)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !restart {
				return
			}
		}
	},
}

// runDaemon builds the component set from cfg and runs it until a
// shutdown signal (restart=false) or a config change (restart=true).
func runDaemon(cfg *config.Config, sig <-chan os.Signal) (restart bool, err error) {
	if cfg.Remote.BaseURL == "" {
		return false, fmt.Errorf("remote.base_url is not configured")
	}

	logger := newDaemonLogger(cfg.Log)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return false, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := st.InitSchema(); err != nil {
		return false, fmt.Errorf("failed to initialize schema: %w", err)
	}

	client, err := remote.NewClient(&remote.Config{
		BaseURL:           cfg.Remote.BaseURL,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.Burst,
		Logger:            logger,
	}, remote.StaticToken(os.Getenv("SHIFTD_TOKEN")))
	if err != nil {
		return false, fmt.Errorf("failed to create remote client: %w", err)
	}

	eng, err := engine.New(st, client, &engine.Config{
		BatchSize:   cfg.Engine.BatchSize,
		MaxAttempts: cfg.Engine.MaxAttempts,
		BackoffBase: cfg.Engine.BackoffBase,
		BackoffCap:  cfg.Engine.BackoffCap,
		Logger:      logger,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create engine: %w", err)
	}

	trig, err := trigger.New(eng, &trigger.Config{
		Debounce:      cfg.Trigger.Debounce,
		Interval:      cfg.Trigger.Interval,
		ProbeURL:      cfg.Remote.BaseURL,
		ProbeInterval: cfg.Trigger.ProbeInterval,
		Logger:        logger,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create trigger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := trig.Start(ctx); err != nil {
		return false, fmt.Errorf("failed to start trigger: %w", err)
	}
	defer trig.Stop()

	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(st, &dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: logger,
		})
		if err := srv.Start(); err != nil {
			return false, fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer srv.Stop()

		handler := dashboard.NewHandler(srv, logger)
		handler.Attach(eng)
		defer handler.Detach()

		fmt.Printf("Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n",
			cfg.Dashboard.Port, cfg.Dashboard.Port)
	}

	// An edited config is applied by tearing this component set down and
	// rebuilding it from a fresh Load; the store closes cleanly and the
	// queue is untouched.
	reload := make(chan struct{}, 1)
	if configPath != "" {
		stopWatch, err := config.Watch(configPath, 0, logger, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
		if err != nil {
			logger.Printf("Warning: config watch disabled: %v", err)
		} else {
			defer stopWatch()
		}
	}

	// Kick an initial drain so a backlog left by a crash is retried
	// without waiting for the periodic timer.
	trig.Notify(trigger.ReasonForeground)

	fmt.Printf("shiftd daemon running (db: %s, remote: %s)\n", cfg.DBPath, cfg.Remote.BaseURL)
	fmt.Println("Press Ctrl+C to stop...")

	select {
	case <-sig:
		logger.Printf("Shutdown signal received")
		return false, nil
	case <-reload:
		logger.Printf("Reloading configuration")
		return true, nil
	}
}

// newDaemonLogger builds the daemon logger, rotating the log file when
// one is configured.
func newDaemonLogger(cfg config.LogConfig) *log.Logger {
	if cfg.File == "" {
		return log.New(os.Stderr, "[shiftd] ", log.LstdFlags)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	return log.New(io.MultiWriter(os.Stderr, rotator), "[shiftd] ", log.LstdFlags)
}
