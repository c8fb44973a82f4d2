package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/mapper"
)

var (
	ErrInvalidResolution = errors.New("invalid H3 resolution")
	ErrUnsupportedType   = errors.New("unsupported geometry type")
)

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

// FeatureToCellSet returns the sorted, de-duplicated cells whose centers fall
// inside the feature's Polygon or MultiPolygon geometry. Points are [lon, lat]
// in EPSG:4326.
func (m *Mapper) FeatureToCellSet(f *geojson.Feature, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if f == nil || f.Geometry == nil {
		return nil, errors.New("feature has no geometry")
	}

	switch g := f.Geometry.(type) {
	case orb.Polygon:
		return polyfill(g, res)
	case orb.MultiPolygon:
		if len(g) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		seen := make(map[string]struct{})
		var out []string
		for pi, p := range g {
			cells, err := polyfill(p, res)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			for _, c := range cells {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		}
		sort.Strings(out)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, f.Geometry.GeoJSONType())
	}
}

// CellSetToFeature merges the cells into their outline and returns it as a
// MultiPolygon feature with no properties. All cells must share one
// resolution.
func (m *Mapper) CellSetToFeature(cells model.Cells) (*geojson.Feature, error) {
	idx := make([]h3.Cell, 0, len(cells))
	seen := make(map[h3.Cell]struct{}, len(cells))
	res := -1
	for _, s := range cells {
		var c h3.Cell
		if err := c.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("parse cell %q: %w", s, err)
		}
		if !c.IsValid() {
			return nil, fmt.Errorf("invalid h3 cell %q", s)
		}
		if res == -1 {
			res = c.Resolution()
		} else if c.Resolution() != res {
			return nil, fmt.Errorf("mixed resolutions %d and %d in cell set", res, c.Resolution())
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		idx = append(idx, c)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })

	mp := orb.MultiPolygon{}
	if len(idx) > 0 {
		polys, err := h3.CellsToMultiPolygon(idx)
		if err != nil {
			return nil, fmt.Errorf("h3 cells to multipolygon: %w", err)
		}
		mp = make(orb.MultiPolygon, 0, len(polys))
		for _, gp := range polys {
			p := orb.Polygon{toRing(gp.GeoLoop)}
			for _, hole := range gp.Holes {
				p = append(p, toRing(hole))
			}
			mp = append(mp, p)
		}
	}
	return geojson.NewFeature(mp), nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("%w %d (must be 0..15)", ErrInvalidResolution, res)
	}
	return nil
}

// Convert an orb ring to an h3.GeoLoop (in degrees).
// If the ring is explicitly closed (last == first), drop the trailing duplicate.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p.Lat(), Lng: p.Lon()})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

// toRing closes the loop so the output is valid GeoJSON.
func toRing(loop h3.GeoLoop) orb.Ring {
	r := make(orb.Ring, 0, len(loop)+1)
	for _, ll := range loop {
		r = append(r, orb.Point{ll.Lng, ll.Lat})
	}
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}

// polyfill computes unique cells and returns them sorted for determinism.
func polyfill(p orb.Polygon, res int) (model.Cells, error) {
	if len(p) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(p[0])
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 distinct vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(p); i++ {
		h := toLoop(p[i])
		if len(h) < 3 {
			return nil, fmt.Errorf("hole %d has < 3 distinct vertices", i-1)
		}
		holes = append(holes, h)
	}

	indexes, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
