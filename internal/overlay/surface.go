package overlay

import "github.com/paulmach/orb"

type Event string

const (
	EventZoomChanged   Event = "zoom_changed"
	EventBoundsChanged Event = "bounds_changed"
)

// Surface is the map the overlay draws on. Listeners may be invoked from
// any goroutine.
type Surface interface {
	Zoom() (int, bool)
	Bounds() (orb.Bound, bool)
	Subscribe(ev Event, fn func()) (cancel func())
	Attach(p *Polygon)
	Detach(p *Polygon)
}
