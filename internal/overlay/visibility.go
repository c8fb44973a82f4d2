package overlay

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
)

// EmptyViewport is reported by surfaces before any bounds are known.
var EmptyViewport = orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}

// Visibility keeps the polygons of the rendered bucket partitioned into an
// active set (attached to the surface) and a pruned set (detached).
type Visibility struct {
	surface Surface
	active  []*Polygon
	pruned  []*Polygon
}

func NewVisibility(s Surface) *Visibility {
	return &Visibility{surface: s}
}

func hasArea(b orb.Bound) bool {
	return b.Min[1] <= b.Max[1]
}

// intersects tests p against a viewport given as west/south, east/north.
// A viewport with west > east crosses the antimeridian and is tested as its
// two halves.
func intersects(p *Polygon, view orb.Bound) bool {
	pb := p.Bound()
	if view.Min[0] <= view.Max[0] {
		return pb.Intersects(view)
	}
	east := orb.Bound{Min: view.Min, Max: orb.Point{180, view.Max[1]}}
	west := orb.Bound{Min: orb.Point{-180, view.Min[1]}, Max: view.Max}
	return pb.Intersects(east) || pb.Intersects(west)
}

// Load replaces the managed polygons. With known bounds only intersecting
// polygons are attached; otherwise all of them are.
func (v *Visibility) Load(polys []*Polygon, bounds orb.Bound, known bool) {
	v.Release()
	known = known && hasArea(bounds)
	for _, p := range polys {
		if known && !intersects(p, bounds) {
			p.state = Pruned
			v.pruned = append(v.pruned, p)
			continue
		}
		p.state = Active
		v.surface.Attach(p)
		v.active = append(v.active, p)
	}
	observability.AddPolygons(len(v.active), len(v.pruned))
}

// Update moves active polygons outside bounds to the pruned set and
// reattaches pruned polygons that intersect it again. An empty viewport is
// a no-op.
func (v *Visibility) Update(bounds orb.Bound) (hidden, restored int) {
	if !hasArea(bounds) || len(v.active)+len(v.pruned) == 0 {
		return 0, 0
	}

	var active, pruned []*Polygon
	for _, p := range v.active {
		if intersects(p, bounds) {
			active = append(active, p)
			continue
		}
		v.surface.Detach(p)
		p.state = Pruned
		pruned = append(pruned, p)
		hidden++
	}
	for _, p := range v.pruned {
		if !intersects(p, bounds) {
			pruned = append(pruned, p)
			continue
		}
		p.state = Active
		v.surface.Attach(p)
		active = append(active, p)
		restored++
	}
	v.active, v.pruned = active, pruned
	if hidden != 0 || restored != 0 {
		observability.AddPolygons(restored-hidden, hidden-restored)
	}
	return hidden, restored
}

// Release detaches every active polygon and forgets both sets.
func (v *Visibility) Release() int {
	for _, p := range v.active {
		v.surface.Detach(p)
	}
	n := len(v.active) + len(v.pruned)
	observability.AddPolygons(-len(v.active), -len(v.pruned))
	v.active, v.pruned = nil, nil
	return n
}

func (v *Visibility) Active() []*Polygon { return v.active }

func (v *Visibility) Pruned() []*Polygon { return v.pruned }

func (v *Visibility) Len() int { return len(v.active) + len(v.pruned) }
