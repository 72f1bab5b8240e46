// Package trigger decides when the sync engine runs.
//
// Drain requests come from four sources: the app entering the foreground,
// connectivity transitioning from offline to online, explicit user action,
// and a coarse periodic timer as a safety net. Bursts of requests (for
// example connectivity flapping) are debounced into a single drain pass.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shiftbeat/shiftbeat/internal/engine"
)

// Reason identifies what asked for a drain.
type Reason string

const (
	// ReasonForeground fires when the app returns to the foreground.
	ReasonForeground Reason = "foreground"
	// ReasonConnectivity fires on an offline-to-online transition.
	ReasonConnectivity Reason = "connectivity"
	// ReasonManual fires on explicit user action, e.g. pull-to-refresh.
	ReasonManual Reason = "manual"
	// ReasonPeriodic fires from the safety-net timer.
	ReasonPeriodic Reason = "periodic"
)

// Drainer runs one drain pass. Satisfied by *engine.Engine.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Config holds trigger configuration.
type Config struct {
	// Debounce collapses bursts of requests into one drain (default: 500ms).
	Debounce time.Duration

	// Interval is the periodic safety-net timer (default: 5m, 0 disables).
	Interval time.Duration

	// ProbeURL, when set, is HEAD-requested to detect connectivity.
	ProbeURL string

	// ProbeInterval is how often connectivity is probed (default: 15s).
	ProbeInterval time.Duration

	// ProbeTimeout bounds one probe request (default: 5s).
	ProbeTimeout time.Duration

	// Logger for trigger activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:      500 * time.Millisecond,
		Interval:      5 * time.Minute,
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Logger:        log.New(os.Stderr, "[trigger] ", log.LstdFlags),
	}
}

// Trigger coordinates when the engine drains.
type Trigger struct {
	engine Drainer
	cfg    *Config
	logger *log.Logger

	kicks chan Reason

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a trigger driving the given engine.
func New(drainer Drainer, cfg *Config) (*Trigger, error) {
	if drainer == nil {
		return nil, fmt.Errorf("drainer cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[trigger] ", log.LstdFlags)
	}

	return &Trigger{
		engine: drainer,
		cfg:    cfg,
		logger: logger,
		kicks:  make(chan Reason, 16),
	}, nil
}

// Notify requests a drain for the given reason. Non-blocking; requests
// arriving while one is already queued are folded into it.
func (t *Trigger) Notify(reason Reason) {
	select {
	case t.kicks <- reason:
	default:
		// A drain request is already queued; this burst folds into it.
	}
}

// Start launches the trigger loops. It returns immediately; call Stop to
// shut down. Returns an error if already running.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("trigger already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true

	t.wg.Add(1)
	go t.debounceLoop(ctx)

	if t.cfg.Interval > 0 {
		t.wg.Add(1)
		go t.periodicLoop(ctx)
	}

	if t.cfg.ProbeURL != "" {
		t.wg.Add(1)
		go t.probeLoop(ctx)
	}

	t.logger.Printf("Trigger started (debounce=%v interval=%v)", t.cfg.Debounce, t.cfg.Interval)
	return nil
}

// Stop shuts the trigger down and waits for its loops to exit.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	t.wg.Wait()
	t.logger.Printf("Trigger stopped")
}

// debounceLoop folds drain requests into single drain passes.
func (t *Trigger) debounceLoop(ctx context.Context) {
	defer t.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case reason := <-t.kicks:
			t.logger.Printf("Drain requested: %s", reason)
			if timer == nil {
				timer = time.NewTimer(t.cfg.Debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(t.cfg.Debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			t.drain(ctx)
		}
	}
}

// periodicLoop fires the safety-net timer.
func (t *Trigger) periodicLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Notify(ReasonPeriodic)
		}
	}
}

// drain runs one engine pass, ignoring the signals that mean "nothing to
// do right now".
func (t *Trigger) drain(ctx context.Context) {
	err := t.engine.Drain(ctx)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrAlreadyDraining):
		// Single-flight: a pass is running, the queue will be drained.
	case errors.Is(err, engine.ErrPaused):
		t.logger.Printf("Drain skipped: engine paused")
	default:
		t.logger.Printf("Drain failed: %v", err)
	}
}

// probeLoop watches for offline-to-online transitions.
func (t *Trigger) probeLoop(ctx context.Context) {
	defer t.wg.Done()

	client := &http.Client{Timeout: t.cfg.ProbeTimeout}
	ticker := time.NewTicker(t.cfg.ProbeInterval)
	defer ticker.Stop()

	online := t.probe(ctx, client)

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			now := t.probe(ctx, client)
			if now && !online {
				t.logger.Printf("Connectivity regained")
				t.Notify(ReasonConnectivity)
			}
			online = now
		}
	}
}

// probe reports whether the backend is reachable. Any HTTP response
// counts as reachable; only transport failures mean offline.
func (t *Trigger) probe(ctx context.Context, client *http.Client) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
