// Package engine provides the sync worker that drains the local sync
// queue against the remote backend.
//
// The engine runs as a single-flight state machine: Idle -> Draining ->
// Idle, with Paused entered when the session expires. A trigger arriving
// while a drain is in progress is ignored; at most one drain pass runs at
// a time, enforced by an in-process lock.
//
// Engine errors never propagate to the caller's write path. Outcomes are
// reported through the observable status stream (status.go) and through
// per-record sync state in the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/shiftbeat/shiftbeat/internal/remote"
	"github.com/shiftbeat/shiftbeat/internal/schema"
	"github.com/shiftbeat/shiftbeat/internal/store"
)

// State is the engine's lifecycle state.
type State int

const (
	// StateIdle means no drain pass is running.
	StateIdle State = iota
	// StateDraining means a drain pass is replaying queue items.
	StateDraining
	// StatePaused means the engine stopped because the session expired;
	// Resume returns it to Idle once re-authentication completes.
	StatePaused
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ErrAlreadyDraining is returned when a drain is requested while one is
// already running. Triggers treat this as success.
var ErrAlreadyDraining = errors.New("drain already in progress")

// ErrPaused is returned when a drain is requested while the engine is
// paused waiting for re-authentication.
var ErrPaused = errors.New("engine paused awaiting re-authentication")

// Applier replays a single queue item against the remote backend. Every
// call must be idempotent; the engine retries after ambiguous failures.
type Applier interface {
	Apply(ctx context.Context, item *schema.QueueItem) error
}

// Config holds engine configuration.
type Config struct {
	// BatchSize bounds how many items one dequeue pass reads (default: 50).
	BatchSize int

	// MaxAttempts is the retry budget before an item is parked (default: 8).
	MaxAttempts int

	// BackoffBase is the first retry delay (default: 2s).
	BackoffBase time.Duration

	// BackoffCap bounds the exponential delay (default: 5m).
	BackoffCap time.Duration

	// OnAuthExpired, if set, is invoked once when a drain pauses on an
	// expired session. The collaborator should re-authenticate and then
	// call Resume.
	OnAuthExpired func()

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:   50,
		MaxAttempts: 8,
		BackoffBase: 2 * time.Second,
		BackoffCap:  5 * time.Minute,
		Logger:      log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine drains the sync queue against the remote backend.
type Engine struct {
	store  *store.Store
	remote Applier
	cfg    *Config
	logger *log.Logger

	mu    sync.Mutex
	state State

	subsMu sync.RWMutex
	subs   map[chan Event]bool
}

// New creates an engine draining st's queue through the given applier.
func New(st *store.Store, applier Applier, cfg *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:  st,
		remote: applier,
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
		subs:   make(map[chan Event]bool),
	}, nil
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Drain replays pending queue items until the queue is empty or a pause
// signal is observed.
//
// Returns ErrAlreadyDraining if a pass is running and ErrPaused if the
// engine is waiting on re-authentication; both mean no work was started.
// A local store failure aborts the pass with the error; unsettled items
// stay queued for the next pass. A context cancellation mid-pass stops
// before the next item; the item in flight is allowed to finish so
// partial application stays unambiguous.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateDraining:
		e.mu.Unlock()
		return ErrAlreadyDraining
	case StatePaused:
		e.mu.Unlock()
		return ErrPaused
	}
	e.state = StateDraining
	e.mu.Unlock()

	paused := false
	defer func() {
		e.mu.Lock()
		if paused {
			e.state = StatePaused
		} else {
			e.state = StateIdle
		}
		e.mu.Unlock()
	}()

	start := time.Now()
	var applied, retried, dropped int

	for {
		if ctx.Err() != nil {
			e.logger.Printf("Drain cancelled after %d items", applied)
			return nil
		}

		batch, err := e.store.DequeueBatch(ctx, e.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to dequeue batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, item := range batch {
			// Do not start new items once cancellation is observed.
			if ctx.Err() != nil {
				e.logger.Printf("Drain cancelled after %d items", applied)
				return nil
			}

			outcome, err := e.applyOne(ctx, item)
			if err != nil {
				// A failing local store would otherwise re-apply the same
				// item in a hot loop; stop the pass and let the next
				// trigger find the item still queued.
				return err
			}
			switch outcome {
			case outcomeApplied:
				applied++
			case outcomeRetry:
				retried++
			case outcomeDropped:
				dropped++
			case outcomeAuthExpired:
				paused = true
				e.publish(Event{Kind: EventAuthExpired, Time: time.Now()})
				e.logger.Printf("Session expired, pausing sync")
				if e.cfg.OnAuthExpired != nil {
					go e.cfg.OnAuthExpired()
				}
				return nil
			}
		}

		// Items that just failed are deferred by backoff, so the next
		// DequeueBatch only returns work that is still eligible.
	}

	e.publish(Event{Kind: EventDrainComplete, Time: time.Now()})
	e.logger.Printf("Drain complete in %v: applied=%d retried=%d dropped=%d",
		time.Since(start).Round(time.Millisecond), applied, retried, dropped)
	return nil
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeRetry
	outcomeDropped
	outcomeAuthExpired
)

// applyOne replays a single item and settles it in the queue. A non-nil
// error means the local store failed to settle the item; the caller must
// abort the pass.
func (e *Engine) applyOne(ctx context.Context, item *schema.QueueItem) (outcome, error) {
	err := e.remote.Apply(ctx, item)
	if err == nil {
		settled, ackErr := e.store.Ack(ctx, item)
		if ackErr != nil {
			return outcomeApplied, fmt.Errorf("failed to ack %s/%s: %w", item.Table, item.EntityID, ackErr)
		}
		// A newer local write may have superseded the acked snapshot; the
		// record is then still dirty and its own drain pass reports it.
		if settled {
			e.publish(Event{
				Kind:     EventSynced,
				Table:    item.Table,
				EntityID: item.EntityID,
				Op:       item.Op,
				Time:     time.Now(),
			})
		}
		return outcomeApplied, nil
	}

	switch {
	case remote.IsAuthExpired(err):
		return outcomeAuthExpired, nil

	case remote.IsTerminal(err):
		// Dropped, not retried. The failure is reported so it is never
		// silently discarded.
		e.logger.Printf("Warning: dropping %s %s/%s after terminal failure: %v",
			item.Op, item.Table, item.EntityID, err)
		if _, ackErr := e.store.Ack(ctx, item); ackErr != nil {
			return outcomeDropped, fmt.Errorf("failed to drop %s/%s: %w", item.Table, item.EntityID, ackErr)
		}
		e.publish(Event{
			Kind:     EventDropped,
			Table:    item.Table,
			EntityID: item.EntityID,
			Op:       item.Op,
			Err:      err.Error(),
			Time:     time.Now(),
		})
		return outcomeDropped, nil

	default:
		attempts := item.AttemptCount + 1
		park := attempts >= e.cfg.MaxAttempts
		delay := e.backoffFor(attempts)

		if failErr := e.store.Fail(ctx, item, err, delay, park); failErr != nil {
			return outcomeRetry, fmt.Errorf("failed to record failure for %s/%s: %w",
				item.Table, item.EntityID, failErr)
		}

		if park {
			e.logger.Printf("Parking %s %s/%s after %d attempts: %v",
				item.Op, item.Table, item.EntityID, attempts, err)
			e.publish(Event{
				Kind:     EventStuck,
				Table:    item.Table,
				EntityID: item.EntityID,
				Op:       item.Op,
				Err:      err.Error(),
				Attempts: attempts,
				Time:     time.Now(),
			})
		} else {
			e.logger.Printf("Retrying %s %s/%s in %v (attempt %d): %v",
				item.Op, item.Table, item.EntityID, delay.Round(time.Millisecond), attempts, err)
			e.publish(Event{
				Kind:     EventRetrying,
				Table:    item.Table,
				EntityID: item.EntityID,
				Op:       item.Op,
				Err:      err.Error(),
				Attempts: attempts,
				Time:     time.Now(),
			})
		}
		return outcomeRetry, nil
	}
}

// backoffFor computes the delay before an item's next attempt:
// base * 2^(attempts-1), capped, with +/-25% jitter.
func (e *Engine) backoffFor(attempts int) time.Duration {
	base := e.cfg.BackoffBase
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= e.cfg.BackoffCap {
			delay = e.cfg.BackoffCap
			break
		}
	}
	if delay > e.cfg.BackoffCap {
		delay = e.cfg.BackoffCap
	}

	jitter := time.Duration(rand.Int64N(int64(delay)/2+1)) - delay/4
	return delay + jitter
}

// Pause moves the engine to Paused. An in-progress drain finishes its
// current item and stops.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		e.state = StatePaused
	}
	// A draining engine transitions on its own when it observes the
	// pause cause; flipping mid-drain here would race the defer above.
}

// Resume returns a paused engine to Idle so the next trigger can drain.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePaused {
		e.state = StateIdle
	}
}
