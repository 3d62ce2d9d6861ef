package sources

import (
	"context"
	"fmt"
	"log/slog"

	"ConcertTracker/internal/domain"
	"ConcertTracker/internal/ports"
	"ConcertTracker/internal/source"
)

// MultiSource implements the pipeline's post source by running the
// configured strategies in order and merging their results. Posts are
// deduplicated by external id, first strategy wins.
type MultiSource struct {
	registry *source.Registry
	enabled  []string
	logger   *slog.Logger
}

var _ ports.PostSource = (*MultiSource)(nil)

// NewMultiSource wires the strategy registry with the enabled strategy
// names from config.
func NewMultiSource(registry *source.Registry, enabled []string, logger *slog.Logger) *MultiSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiSource{registry: registry, enabled: enabled, logger: logger}
}

// Name identifies the composite source.
func (m *MultiSource) Name() string {
	return "multi"
}

// Fetch queries each enabled strategy for the entity.
func (m *MultiSource) Fetch(ctx context.Context, entity domain.TrackedEntity, sinceID string, limit int) ([]domain.Post, error) {
	if m.registry == nil {
		return nil, fmt.Errorf("source registry is not configured")
	}

	req := source.Request{Entity: entity, SinceID: sinceID, Limit: limit}

	var merged []domain.Post
	seen := map[string]struct{}{}
	for _, name := range m.enabled {
		strategy, err := m.registry.Resolve(name)
		if err != nil {
			return nil, err
		}

		posts, err := strategy.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}

		for _, p := range posts {
			if _, dup := seen[p.ExternalID]; dup {
				continue
			}
			seen[p.ExternalID] = struct{}{}
			merged = append(merged, p)
		}
		m.logger.Debug("strategy fetched posts", "strategy", name, "entity", entity.Name, "count", len(posts))
	}
	return merged, nil
}
