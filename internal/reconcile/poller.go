package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conto/internal/core"
	"conto/internal/remote"
)

// PollerConfig holds configuration for the change poller
type PollerConfig struct {
	// Interval is how often to ask the remote store for updated records
	// (default: 30s). Polls are also skipped while the last sync is more
	// recent than this interval.
	Interval time.Duration
}

// DefaultPollerConfig returns sensible defaults
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval: 30 * time.Second,
	}
}

// Poller periodically asks the remote store for records updated since the
// last sync and invalidates the partitions they belong to. It runs
// regardless of realtime channel health, as the fallback change source.
type Poller struct {
	userID string
	store  remote.TransactionStore
	bus    *Bus
	config PollerConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	now func() time.Time
}

func NewPoller(userID string, store remote.TransactionStore, bus *Bus, config PollerConfig) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultPollerConfig().Interval
	}
	return &Poller{
		userID: userID,
		store:  store,
		bus:    bus,
		config: config,
		now:    time.Now,
	}
}

// Start begins the polling loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Change poller started", "interval", p.config.Interval)

	return nil
}

// Stop gracefully stops the poller and waits for completion.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Change poller stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Change poller stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the poller is currently running
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches records updated since the last sync and invalidates their
// month and year partitions. A poll is skipped when another change source
// synced within the configured interval.
func (p *Poller) Poll(ctx context.Context) {
	since := p.bus.LastSync()
	if !since.IsZero() && p.now().Sub(since) < p.config.Interval {
		slog.DebugContext(ctx, "Skipping poll, recently synced", "last_sync", since)
		return
	}
	if since.IsZero() {
		since = p.now().Add(-p.config.Interval)
	}

	updated, err := p.store.ListUpdatedSince(ctx, p.userID, since)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to poll for updated records", "error", err)
		return
	}

	if len(updated) == 0 {
		p.bus.MarkSynced()
		return
	}

	slog.InfoContext(ctx, "Poll found updated records", "count", len(updated))

	for _, tx := range updated {
		change := core.ChangeEvent{
			Op:            core.OpUpdate,
			TransactionID: tx.ID,
			NewDate:       tx.Date,
		}
		// fromBroadcast: these changes already live on the server, so
		// there is nothing to re-publish.
		if err := p.bus.Apply(ctx, change, true); err != nil {
			slog.WarnContext(ctx, "Failed to apply polled change",
				"transaction_id", tx.ID,
				"error", err)
		}
	}
}
