package mutate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"conto/internal/core"
	"conto/internal/remote"
)

// BatchConverterConfig bounds how hard the batch converter leans on the
// upstream rate service.
type BatchConverterConfig struct {
	// Concurrency is the max number of simultaneous conversion calls.
	Concurrency int

	// Interval paces call starts so bursts stay under upstream limits.
	Interval time.Duration

	// MaxRetries is the number of attempts per item before it is
	// reported failed.
	MaxRetries int

	// RetryBase is the first retry delay; later attempts double it.
	RetryBase time.Duration
}

// DefaultBatchConverterConfig returns sensible defaults.
func DefaultBatchConverterConfig() BatchConverterConfig {
	return BatchConverterConfig{
		Concurrency: 3,
		Interval:    200 * time.Millisecond,
		MaxRetries:  3,
		RetryBase:   500 * time.Millisecond,
	}
}

// ConversionResult reports the outcome for one transaction in a batch.
// Err carries the original failure message after retries are exhausted;
// Pending marks rates the upstream flagged unavailable.
type ConversionResult struct {
	ID      string
	EUR     *float64
	Rate    *float64
	Pending bool
	Err     error
}

// BatchConverter resolves EUR amounts for many transactions at once.
type BatchConverter struct {
	converter remote.CurrencyConverter
	config    BatchConverterConfig
	limiter   *rate.Limiter
}

// NewBatchConverter builds a converter with the given pacing config.
func NewBatchConverter(converter remote.CurrencyConverter, config BatchConverterConfig) *BatchConverter {
	return &BatchConverter{
		converter: converter,
		config:    config,
		limiter:   rate.NewLimiter(rate.Every(config.Interval), config.Concurrency),
	}
}

// Convert resolves EUR values for every transaction still missing one.
// EUR rows normalize locally; the rest go upstream with bounded
// concurrency, paced starts and per-item retry.
func (b *BatchConverter) Convert(ctx context.Context, txs []core.Transaction) ([]ConversionResult, error) {
	results := make([]ConversionResult, len(txs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Concurrency)

	for i, tx := range txs {
		i, tx := i, tx
		if tx.EURAmount != nil {
			results[i] = ConversionResult{ID: tx.ID, EUR: tx.EURAmount, Rate: tx.ExchangeRate}
			continue
		}
		if tx.Currency == "EUR" {
			results[i] = ConversionResult{ID: tx.ID, EUR: core.Float64(tx.Amount), Rate: core.Float64(1)}
			continue
		}

		g.Go(func() error {
			if err := b.limiter.Wait(ctx); err != nil {
				results[i] = ConversionResult{ID: tx.ID, Err: err}
				return nil
			}
			results[i] = b.convertOne(ctx, tx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("batch conversion: %w", err)
	}
	return results, nil
}

func (b *BatchConverter) convertOne(ctx context.Context, tx core.Transaction) ConversionResult {
	var lastErr error
	for attempt := 0; attempt < b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := b.config.RetryBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ConversionResult{ID: tx.ID, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		conv, err := b.converter.ConvertToEUR(ctx, tx.Amount, tx.Currency, tx.Date)
		if err != nil {
			lastErr = err
			slog.WarnContext(ctx, "Conversion attempt failed",
				"id", tx.ID,
				"currency", tx.Currency,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		if conv == nil {
			// Rate unavailable upstream: pending, not an error. Whether
			// and when to retry these is the rate service's call.
			return ConversionResult{ID: tx.ID, Pending: true}
		}
		return ConversionResult{
			ID:   tx.ID,
			EUR:  core.Float64(core.RoundEUR(conv.EURAmount)),
			Rate: core.Float64(conv.ExchangeRate),
		}
	}
	return ConversionResult{ID: tx.ID, Err: lastErr}
}
