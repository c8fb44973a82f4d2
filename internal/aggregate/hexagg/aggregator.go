// Package hexagg replaces region boundaries with the outline of the H3
// cells covering them.
package hexagg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/aggregate"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/mapper"
)

var (
	ErrInvalidResolution = errors.New("resolution must be non-negative")
	ErrAggregation       = errors.New("hexagon aggregation failed")
	ErrEmptyCellSet      = errors.New("feature covers no cell centers")
)

type Aggregator struct {
	mapper mapper.Interface
	log    *slog.Logger
}

var _ aggregate.Interface = (*Aggregator)(nil)

func New(m mapper.Interface, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{mapper: m, log: log}
}

// Aggregate returns a new MultiPolygon feature built from the cells covering
// f at res, carrying a copy of f's properties. f is not modified.
func (a *Aggregator) Aggregate(f *geojson.Feature, res int) (*geojson.Feature, error) {
	if res < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, res)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: nil feature", ErrAggregation)
	}

	cells, err := a.mapper.FeatureToCellSet(f, res)
	if err != nil {
		return nil, fmt.Errorf("%w: cell set at res %d: %w", ErrAggregation, res, err)
	}
	if len(cells) == 0 {
		return nil, ErrEmptyCellSet
	}

	out, err := a.mapper.CellSetToFeature(cells)
	if err != nil {
		return nil, fmt.Errorf("%w: merge %d cells: %w", ErrAggregation, len(cells), err)
	}
	out.ID = f.ID
	out.Properties = f.Properties.Clone()
	return out, nil
}

// AggregateAll aggregates features in order at res. A feature that fails is
// logged and skipped so one bad region does not blank the whole bucket.
func (a *Aggregator) AggregateAll(ctx context.Context, features []*geojson.Feature, res int) ([]*geojson.Feature, error) {
	if res < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResolution, res)
	}
	out := make([]*geojson.Feature, 0, len(features))
	for i, f := range features {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("aggregate res %d: %w", res, err)
		}
		agg, err := a.Aggregate(f, res)
		switch {
		case err == nil:
			out = append(out, agg)
		case errors.Is(err, ErrEmptyCellSet):
			observability.IncAggregationFailure("empty")
			a.log.DebugContext(ctx, "region smaller than a cell; skipped", "index", i, "res", res)
		default:
			observability.IncAggregationFailure("indexing")
			a.log.WarnContext(ctx, "aggregation failed; feature skipped", "index", i, "res", res, "err", err)
		}
	}
	return out, nil
}
