package overlay

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
)

type State int

const (
	Active State = iota
	Pruned
)

func (s State) String() string {
	if s == Pruned {
		return "pruned"
	}
	return "active"
}

// Polygon is one rendered ring of an aggregated feature.
type Polygon struct {
	ID     uint64
	Bucket model.Bucket
	Path   orb.Ring
	Style  model.Style

	state State
}

func (p *Polygon) State() State { return p.state }

func (p *Polygon) Bound() orb.Bound { return p.Path.Bound() }

type Styler struct {
	ColorProperty string
	DefaultColor  string
	FillOpacity   float64
}

func (s Styler) Style(props geojson.Properties) model.Style {
	color := ""
	if v, ok := props[s.ColorProperty]; ok && v != nil {
		color = strings.TrimSpace(fmt.Sprint(v))
	}
	color = strings.TrimPrefix(color, "#")
	if color == "" {
		color = strings.TrimPrefix(s.DefaultColor, "#")
	}
	return model.Style{
		FillColor:     "#" + color,
		FillOpacity:   s.FillOpacity,
		StrokeColor:   "#000000",
		StrokeOpacity: 0.8,
		StrokeWeight:  2,
	}
}

// Materialize creates one polygon per outer ring of every feature. IDs are
// drawn from next.
func Materialize(feats []*geojson.Feature, b model.Bucket, s Styler, next *uint64) []*Polygon {
	var out []*Polygon
	add := func(p orb.Polygon, st model.Style) {
		if len(p) == 0 || len(p[0]) == 0 {
			return
		}
		*next++
		out = append(out, &Polygon{ID: *next, Bucket: b, Path: p[0], Style: st})
	}
	for _, f := range feats {
		st := s.Style(f.Properties)
		switch g := f.Geometry.(type) {
		case orb.MultiPolygon:
			for _, p := range g {
				add(p, st)
			}
		case orb.Polygon:
			add(g, st)
		}
	}
	return out
}
