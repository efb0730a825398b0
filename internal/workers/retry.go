package workers

import (
	"context"
	"log/slog"

	"curator/internal/logging"
	"curator/internal/queue"
)

// retryBatchSize bounds how many errored items are promoted per cycle.
const retryBatchSize = 10

// RetryStore is the queue surface the retry stage needs.
type RetryStore interface {
	ListRetryEligible(ctx context.Context, limit int) ([]*queue.Item, error)
	ResetForRetry(ctx context.Context, id int64) (*queue.Item, error)
}

// RetryProcessor promotes errored items whose backoff has elapsed back into
// the pipeline.
type RetryProcessor struct {
	store  RetryStore
	logger *slog.Logger
}

// NewRetryProcessor builds the retry promoter.
func NewRetryProcessor(store RetryStore, logger *slog.Logger) *RetryProcessor {
	return &RetryProcessor{
		store:  store,
		logger: logging.NewComponentLogger(logger, "retry"),
	}
}

// Name implements Processor.
func (p *RetryProcessor) Name() string { return "retry" }

// ProcessOne promotes one batch of retry-eligible items.
func (p *RetryProcessor) ProcessOne(ctx context.Context) (bool, error) {
	eligible, err := p.store.ListRetryEligible(ctx, retryBatchSize)
	if err != nil {
		return false, err
	}
	if len(eligible) == 0 {
		return false, nil
	}

	for _, item := range eligible {
		p.logger.Info("retrying item",
			logging.ItemID(item.ID),
			logging.Int("attempt", item.RetryCount))
		if _, err := p.store.ResetForRetry(ctx, item.ID); err != nil {
			p.logger.Error("reset for retry failed", logging.ItemID(item.ID), logging.Error(err))
		}
	}
	p.logger.Info("reset items for retry", logging.Int("count", len(eligible)))
	return true, nil
}
