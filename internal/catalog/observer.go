package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/normalize"
	"github.com/iconidentify/likevault/internal/repository"
)

// Observer records media URLs seen in live traffic. Observed items are
// never reconciled against the listing; an observed item and a synced item
// for the same video under different keys both remain.
type Observer struct {
	repo       repository.CatalogRepository
	normalizer *normalize.Normalizer
	events     domain.EventEmitter
	logger     *slog.Logger
	clock      domain.Clock
}

// NewObserver creates an Observer. events may be nil.
func NewObserver(repo repository.CatalogRepository, normalizer *normalize.Normalizer, events domain.EventEmitter, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		repo:       repo,
		normalizer: normalizer,
		events:     events,
		logger:     logger,
		clock:      domain.RealClock{},
	}
}

// SetClock replaces the time source.
func (o *Observer) SetClock(c domain.Clock) {
	o.clock = c
}

// AddObserved stores rawURL as an observed item. It reports false without
// error when the URL is not mp4 video.
func (o *Observer) AddObserved(ctx context.Context, rawURL string) (domain.CatalogItem, bool, error) {
	item, ok := o.normalizer.Observed(rawURL, o.clock.Now())
	if !ok {
		return domain.CatalogItem{}, false, nil
	}

	catalog, err := o.repo.Update(ctx, func(c *domain.Catalog) error {
		c.Items = Upsert(c.Items, item)
		return nil
	})
	if err != nil {
		return domain.CatalogItem{}, false, fmt.Errorf("add observed: %w", err)
	}

	o.logger.Debug("observed media", "url", item.URL, "items", catalog.Len())
	if o.events != nil {
		o.events.CatalogUpdated("observed", catalog.Len())
	}
	return item, true, nil
}
