package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig holds the write-amplification bounds.
type SchedulerConfig struct {
	// Debounce is the quiet period after the last save request before a
	// flush happens.
	Debounce time.Duration

	// FlushInterval flushes periodically regardless of activity.
	FlushInterval time.Duration
}

// DefaultSchedulerConfig returns the production intervals.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Debounce:      2 * time.Second,
		FlushInterval: 30 * time.Second,
	}
}

// Scheduler debounces and periodically flushes the in-memory cache into
// the durable store. The cache can change many times per second during
// optimistic edits; without this every change would hit disk.
type Scheduler struct {
	flush  func(ctx context.Context) error
	config SchedulerConfig

	requests chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler wraps a flush function. flush is only ever called from the
// scheduler's own goroutine, never concurrently with itself.
func NewScheduler(flush func(ctx context.Context) error, config SchedulerConfig) *Scheduler {
	return &Scheduler{
		flush:    flush,
		config:   config,
		requests: make(chan struct{}, 1),
	}
}

// RequestSave schedules a debounced flush. Back-to-back requests coalesce
// into one pending timer; each request restarts the quiet period.
func (s *Scheduler) RequestSave() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Start begins the flush loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("persistence scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Persistence scheduler started",
		"debounce", s.config.Debounce,
		"flush_interval", s.config.FlushInterval)

	return nil
}

// Stop flushes one final time and stops the loop, waiting for completion
// or ctx expiry.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	// A single debounce timer exists at a time; a new request restarts it.
	var debounce *time.Timer
	var debounceC <-chan time.Time
	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
			debounce = nil
			debounceC = nil
		}
	}

	for {
		select {
		case <-s.stopCh:
			stopDebounce()
			s.doFlush(ctx, "shutdown")
			return
		case <-ctx.Done():
			stopDebounce()
			s.doFlush(context.WithoutCancel(ctx), "shutdown")
			return
		case <-s.requests:
			stopDebounce()
			debounce = time.NewTimer(s.config.Debounce)
			debounceC = debounce.C
		case <-debounceC:
			stopDebounce()
			s.doFlush(ctx, "debounce")
		case <-ticker.C:
			s.doFlush(ctx, "interval")
		}
	}
}

func (s *Scheduler) doFlush(ctx context.Context, reason string) {
	if err := s.flush(ctx); err != nil {
		slog.ErrorContext(ctx, "Cache flush failed", "reason", reason, "error", err)
		return
	}
	slog.DebugContext(ctx, "Cache flushed", "reason", reason)
}
