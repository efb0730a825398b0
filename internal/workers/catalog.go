package workers

import (
	"context"
	"fmt"
	"log/slog"

	"curator/internal/logging"
	"curator/internal/metadata"
	"curator/internal/metrics"
	"curator/internal/queue"
	"curator/internal/services/emby"
)

// CatalogStore is the queue surface the catalog stage needs.
type CatalogStore interface {
	ClaimNextMoved(ctx context.Context) (*queue.Item, error)
	UpdateStatus(ctx context.Context, id int64, status queue.Status, opts ...queue.StatusUpdate) (*queue.Item, error)
}

// Catalog is the Emby surface the catalog stage needs.
type Catalog interface {
	Scan(ctx context.Context) error
	FindByPathWithRetry(ctx context.Context, path string) (*emby.Item, error)
	UpdateMetadata(ctx context.Context, itemID string, movie *metadata.Movie) error
	UploadImages(ctx context.Context, itemID, imageURL string) error
}

// CatalogProcessor takes moved items through the Emby scan, discovery,
// metadata write, and artwork upload.
type CatalogProcessor struct {
	store   CatalogStore
	catalog Catalog
	logger  *slog.Logger
}

// NewCatalogProcessor builds the moved-stage processor.
func NewCatalogProcessor(store CatalogStore, catalog Catalog, logger *slog.Logger) *CatalogProcessor {
	return &CatalogProcessor{
		store:   store,
		catalog: catalog,
		logger:  logging.NewComponentLogger(logger, "catalog"),
	}
}

// Name implements Processor.
func (p *CatalogProcessor) Name() string { return "catalog" }

// ProcessOne claims and processes a single moved item.
func (p *CatalogProcessor) ProcessOne(ctx context.Context) (bool, error) {
	item, err := p.store.ClaimNextMoved(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	p.logger.Info("processing item",
		logging.ItemID(item.ID), logging.String("path", item.NewPath))

	if err := p.catalog.Scan(ctx); err != nil {
		p.logger.Warn("library scan failed", logging.ItemID(item.ID), logging.Error(err))
		return true, p.fail(ctx, item.ID, "Emby library scan failed")
	}

	found, err := p.catalog.FindByPathWithRetry(ctx, item.NewPath)
	if err != nil {
		return true, p.fail(ctx, item.ID, fmt.Sprintf("Emby item lookup failed: %v", err))
	}
	if found == nil {
		return true, p.fail(ctx, item.ID, fmt.Sprintf("Emby item not found for path: %s", item.NewPath))
	}

	if item.MetadataJSON != "" {
		movie, err := metadata.ParseMovie([]byte(item.MetadataJSON))
		if err != nil {
			return true, p.fail(ctx, item.ID, fmt.Sprintf("stored metadata unreadable: %v", err))
		}

		if err := p.catalog.UpdateMetadata(ctx, found.ID, movie); err != nil {
			p.logger.Warn("metadata update failed",
				logging.ItemID(item.ID),
				logging.String("emby_item_id", found.ID),
				logging.Error(err))
			// Keep the discovered id so a retry skips re-discovery.
			metrics.PipelineItems.WithLabelValues(p.Name(), metrics.ResultError).Inc()
			if _, uerr := p.store.UpdateStatus(ctx, item.ID, queue.StatusError,
				queue.WithErrorMessage(fmt.Sprintf("failed to update Emby metadata for item %s", found.ID)),
				queue.WithEmbyItemID(found.ID)); uerr != nil {
				return true, fmt.Errorf("mark error: %w", uerr)
			}
			return true, nil
		}

		if imageURL := movie.ImageURL(); imageURL != "" {
			if err := p.catalog.UploadImages(ctx, found.ID, imageURL); err != nil {
				p.logger.Warn("image upload failed",
					logging.ItemID(item.ID),
					logging.String("emby_item_id", found.ID),
					logging.Error(err))
			}
		} else {
			p.logger.Info("no image url in metadata", logging.ItemID(item.ID))
		}
	}

	if _, err := p.store.UpdateStatus(ctx, item.ID, queue.StatusCompleted,
		queue.WithEmbyItemID(found.ID)); err != nil {
		return true, fmt.Errorf("mark completed: %w", err)
	}
	p.logger.Info("completed item",
		logging.ItemID(item.ID), logging.String("emby_item_id", found.ID))
	metrics.PipelineItems.WithLabelValues(p.Name(), metrics.ResultSuccess).Inc()
	return true, nil
}

func (p *CatalogProcessor) fail(ctx context.Context, id int64, message string) error {
	metrics.PipelineItems.WithLabelValues(p.Name(), metrics.ResultError).Inc()
	if _, err := p.store.UpdateStatus(ctx, id, queue.StatusError,
		queue.WithErrorMessage(message)); err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return nil
}
