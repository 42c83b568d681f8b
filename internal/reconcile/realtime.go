package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conto/internal/core"
)

// ChangeSource delivers change events pushed by other clients. It blocks
// until the context is cancelled or the underlying channel fails.
type ChangeSource interface {
	ConsumeChanges(ctx context.Context, handler func(core.ChangeEvent) error) error
}

// SubscriberConfig holds configuration for the realtime subscriber
type SubscriberConfig struct {
	// MaxAttempts is how many consecutive failed subscriptions to retry
	// before giving up (default: 10). Polling keeps running either way.
	MaxAttempts int

	// BaseDelay is the first reconnect delay; it doubles per attempt
	// (default: 1s).
	BaseDelay time.Duration

	// MaxDelay caps the reconnect delay (default: 30s).
	MaxDelay time.Duration

	// ResetAfter is how long a subscription must survive for the attempt
	// counter to reset (default: 30s).
	ResetAfter time.Duration
}

// DefaultSubscriberConfig returns sensible defaults
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		MaxAttempts: 10,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		ResetAfter:  30 * time.Second,
	}
}

// Subscriber feeds pushed change events into the bus, reconnecting with
// exponential backoff when the channel drops.
type Subscriber struct {
	source ChangeSource
	bus    *Bus
	config SubscriberConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSubscriber(source ChangeSource, bus *Bus, config SubscriberConfig) *Subscriber {
	defaults := DefaultSubscriberConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = defaults.ResetAfter
	}
	return &Subscriber{
		source: source,
		bus:    bus,
		config: config,
	}
}

// Start begins the consume loop. Returns an error if already running.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("realtime subscriber is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Realtime subscriber started",
		"max_attempts", s.config.MaxAttempts,
		"base_delay", s.config.BaseDelay)

	return nil
}

// Stop gracefully stops the subscriber and waits for completion.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		slog.InfoContext(ctx, "Realtime subscriber stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Realtime subscriber stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

// IsRunning returns whether the subscriber is currently running
func (s *Subscriber) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Subscriber) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-consumeCtx.Done():
		}
	}()

	handler := func(change core.ChangeEvent) error {
		return s.bus.Apply(consumeCtx, change, true)
	}

	attempt := 0
	for {
		started := time.Now()
		err := s.source.ConsumeChanges(consumeCtx, handler)
		if errors.Is(err, context.Canceled) || consumeCtx.Err() != nil {
			return
		}

		// A subscription that survived a while counts as a successful
		// (re)connect, so the backoff starts over.
		if time.Since(started) >= s.config.ResetAfter {
			attempt = 0
		}

		if attempt >= s.config.MaxAttempts {
			slog.ErrorContext(consumeCtx, "Giving up on realtime channel, polling remains active",
				"attempts", attempt,
				"error", err)
			return
		}

		delay := reconnectDelay(attempt, s.config.BaseDelay, s.config.MaxDelay)
		attempt++

		slog.WarnContext(consumeCtx, "Realtime channel dropped, reconnecting",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-consumeCtx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// reconnectDelay doubles the base delay per attempt up to the cap.
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		return max
	}
	return delay
}
