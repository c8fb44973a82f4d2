// Package aggregate defines how region features are turned into their
// hexagon-grid approximation.
package aggregate

import "github.com/paulmach/orb/geojson"

type Interface interface {
	Aggregate(f *geojson.Feature, res int) (*geojson.Feature, error)
}
