// Package mapper converts between region geometry and H3 cell sets.
package mapper

import (
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
)

type Interface interface {
	FeatureToCellSet(f *geojson.Feature, res int) (model.Cells, error)
	CellSetToFeature(cells model.Cells) (*geojson.Feature, error)
}
