package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"conto/internal/core"
)

func TestReconnectDelay(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{40, 30 * time.Second}, // shift overflow also caps
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := reconnectDelay(tt.attempt, base, max)
			if result != tt.expected {
				t.Errorf("reconnectDelay(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

type scriptedSource struct {
	consumes int64
	deliver  []core.ChangeEvent
	err      error
}

func (s *scriptedSource) ConsumeChanges(ctx context.Context, handler func(core.ChangeEvent) error) error {
	atomic.AddInt64(&s.consumes, 1)
	for _, ch := range s.deliver {
		if err := handler(ch); err != nil {
			return err
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSubscriber_DeliversChangesToBus(t *testing.T) {
	cache := &recordingCache{}
	bus := NewBus(cache, nil)
	source := &scriptedSource{deliver: []core.ChangeEvent{
		{Op: core.OpDelete, TransactionID: "tx-9", OldDate: time.Date(2024, 8, 3, 0, 0, 0, 0, time.UTC)},
	}}
	sub := NewSubscriber(source, bus, DefaultSubscriberConfig())

	ctx := context.Background()
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(cache.keys()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	found := false
	for _, key := range cache.keys() {
		if key == "transactions-2024-8" {
			found = true
		}
	}
	if !found {
		t.Errorf("pushed change did not invalidate its month partition, got %v", cache.keys())
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sub.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSubscriber_GivesUpAfterMaxAttempts(t *testing.T) {
	cache := &recordingCache{}
	bus := NewBus(cache, nil)
	source := &scriptedSource{err: errors.New("channel closed")}
	sub := NewSubscriber(source, bus, SubscriberConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		ResetAfter:  time.Hour,
	})

	ctx := context.Background()
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&source.consumes) < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	// Initial subscribe plus MaxAttempts reconnects, then the loop exits.
	if got := atomic.LoadInt64(&source.consumes); got != 4 {
		t.Errorf("ConsumeChanges called %d times, want 4", got)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sub.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSubscriber_DoubleStartFails(t *testing.T) {
	cache := &recordingCache{}
	bus := NewBus(cache, nil)
	source := &scriptedSource{}
	sub := NewSubscriber(source, bus, DefaultSubscriberConfig())

	ctx := context.Background()
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := sub.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := sub.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
