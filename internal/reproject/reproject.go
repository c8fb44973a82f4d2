// Package reproject moves dataset coordinates between the web mercator and
// WGS84 coordinate reference systems.
package reproject

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var ErrProjection = errors.New("projection produced a non-finite coordinate")

type Transformer struct {
	proj     orb.Projection
	polygons bool
}

type Option func(*Transformer)

// WithPolygons also reprojects plain Polygon features. By default only
// MultiPolygon features are touched.
func WithPolygons(on bool) Option {
	return func(t *Transformer) { t.polygons = on }
}

func NewTransformer(src, dst string, opts ...Option) (*Transformer, error) {
	p, err := Lookup(src, dst)
	if err != nil {
		return nil, err
	}
	t := &Transformer{proj: p}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// MultiPolygon returns a reprojected copy of mp with the same nesting and
// point order.
func (t *Transformer) MultiPolygon(mp orb.MultiPolygon) (orb.MultiPolygon, error) {
	out := make(orb.MultiPolygon, len(mp))
	for i, p := range mp {
		np, err := t.Polygon(p)
		if err != nil {
			return nil, fmt.Errorf("polygon %d: %w", i, err)
		}
		out[i] = np
	}
	return out, nil
}

func (t *Transformer) Polygon(p orb.Polygon) (orb.Polygon, error) {
	out := make(orb.Polygon, len(p))
	for ri, r := range p {
		nr := make(orb.Ring, len(r))
		for pi, pt := range r {
			q := t.proj(pt)
			if !finite(q) {
				return nil, fmt.Errorf("%w: ring %d point %d %v", ErrProjection, ri, pi, pt)
			}
			nr[pi] = q
		}
		out[ri] = nr
	}
	return out, nil
}

// FeatureCollection returns a new collection with every MultiPolygon feature
// reprojected. Other features are deep-copied unchanged. One bad coordinate
// fails the whole collection.
func (t *Transformer) FeatureCollection(fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	out.ExtraMembers = fc.ExtraMembers.Clone()
	out.Features = make([]*geojson.Feature, 0, len(fc.Features))

	for i, f := range fc.Features {
		nf := &geojson.Feature{
			ID:         f.ID,
			Type:       f.Type,
			Properties: f.Properties.Clone(),
		}
		switch g := f.Geometry.(type) {
		case orb.MultiPolygon:
			mp, err := t.MultiPolygon(g)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			nf.Geometry = mp
		case orb.Polygon:
			if !t.polygons {
				nf.Geometry = g.Clone()
				nf.BBox = f.BBox
				break
			}
			p, err := t.Polygon(g)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			nf.Geometry = p
		default:
			if g != nil {
				nf.Geometry = orb.Clone(g)
			}
			nf.BBox = f.BBox
		}
		out.Features = append(out.Features, nf)
	}
	return out, nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
