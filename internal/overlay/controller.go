// Package overlay drives the hexagon layer of one map session: it picks the
// resolution bucket for the current zoom, materializes the cached features
// as polygons and keeps only the ones inside the viewport attached.
package overlay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/cache/rescache"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/logger"
)

var (
	ErrStopped   = errors.New("overlay controller stopped")
	ErrNoSurface = errors.New("overlay: surface is required")
)

// EventSink receives one event per rebuild. Publish must not block.
type EventSink interface {
	Publish(ev model.RenderEvent)
}

type Options struct {
	Session    string
	Surface    Surface
	Cache      *rescache.Cache
	Fill       rescache.FillFunc
	Styler     Styler
	ZoomOffset int
	Debounce   time.Duration
	Clock      Clock
	Events     EventSink
	Log        *slog.Logger
}

// Stats is a point-in-time view of a controller.
type Stats struct {
	Bucket   model.Bucket `json:"bucket"`
	Rendered bool         `json:"rendered"`
	Active   int          `json:"active"`
	Pruned   int          `json:"pruned"`
	Rebuilds int          `json:"rebuilds"`
}

// Controller owns all overlay state of a session. State is only touched on
// the goroutine running Run; everything else posts closures into it.
type Controller struct {
	opt Options
	log *slog.Logger

	inbox   chan func()
	stopped chan struct{}

	ctx      context.Context
	vis      *Visibility
	debounce *Debouncer

	bucket   model.Bucket
	rendered bool
	zoom     int
	rebuilds int
	nextID   uint64
}

func New(opt Options) (*Controller, error) {
	if opt.Surface == nil {
		return nil, ErrNoSurface
	}
	if opt.Cache == nil || opt.Fill == nil {
		return nil, errors.New("overlay: cache and fill are required")
	}
	if opt.Log == nil {
		opt.Log = slog.Default()
	}
	c := &Controller{
		opt:     opt,
		log:     opt.Log.With("component", "overlay"),
		inbox:   make(chan func(), 64),
		stopped: make(chan struct{}),
		vis:     NewVisibility(opt.Surface),
	}
	c.debounce = NewDebouncer(opt.Clock, opt.Debounce, c.post, c.onZoomSettled)
	return c, nil
}

func (c *Controller) post(fn func()) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// Run renders the initial bucket once the surface reports a zoom and then
// serves surface events until ctx is done. On return every polygon has been
// detached.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = logger.WithSession(ctx, c.opt.Session)
	defer close(c.stopped)

	cancels := []func(){
		c.opt.Surface.Subscribe(EventZoomChanged, func() { c.post(c.onZoomChanged) }),
		c.opt.Surface.Subscribe(EventBoundsChanged, func() { c.post(c.onBoundsChanged) }),
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		c.debounce.Stop()
		n := c.vis.Release()
		c.log.DebugContext(c.ctx, "overlay released", "polygons", n)
	}()

	c.tryInitialRender()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.inbox:
			fn()
		}
	}
}

// Do runs fn on the controller goroutine and waits for it.
func (c *Controller) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.Do(ctx, func() {
		s = Stats{
			Bucket:   c.bucket,
			Rendered: c.rendered,
			Active:   len(c.vis.Active()),
			Pruned:   len(c.vis.Pruned()),
			Rebuilds: c.rebuilds,
		}
	})
	return s, err
}

func (c *Controller) bucketFor(zoom int) model.Bucket {
	lo, hi := c.opt.Cache.Range()
	return BucketForZoom(zoom, c.opt.ZoomOffset, lo, hi)
}

func (c *Controller) tryInitialRender() {
	if c.rendered || c.debounce.Pending() {
		return
	}
	zoom, ok := c.opt.Surface.Zoom()
	if !ok {
		return
	}
	c.zoom = zoom
	c.render(c.bucketFor(zoom))
}

func (c *Controller) onZoomChanged() {
	zoom, ok := c.opt.Surface.Zoom()
	if !ok {
		return
	}
	c.zoom = zoom
	if c.rendered && c.bucketFor(zoom) != c.bucket {
		n := c.vis.Release()
		c.rendered = false
		c.log.DebugContext(c.ctx, "overlay cleared", "zoom", zoom, "polygons", n)
	}
	c.debounce.Trigger()
}

func (c *Controller) onZoomSettled() {
	b := c.bucketFor(c.zoom)
	if c.rendered && b == c.bucket {
		return
	}
	c.render(b)
}

func (c *Controller) onBoundsChanged() {
	if !c.rendered {
		c.tryInitialRender()
		return
	}
	bounds, ok := c.opt.Surface.Bounds()
	if !ok {
		return
	}
	hidden, restored := c.vis.Update(bounds)
	if hidden != 0 || restored != 0 {
		c.log.DebugContext(c.ctx, "visibility updated",
			"hidden", hidden, "restored", restored,
			"active", len(c.vis.Active()), "pruned", len(c.vis.Pruned()))
	}
}

func (c *Controller) render(b model.Bucket) {
	ctx := logger.WithBucket(c.ctx, int(b))
	feats, hit, err := c.opt.Cache.GetOrPopulate(ctx, b, c.opt.Fill)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.ErrorContext(ctx, "bucket populate failed", "err", err)
		}
		return
	}

	polys := Materialize(feats, b, c.opt.Styler, &c.nextID)
	bounds, known := c.opt.Surface.Bounds()
	c.vis.Load(polys, bounds, known)
	c.bucket, c.rendered = b, true
	c.rebuilds++

	observability.IncRebuild(int(b))
	c.log.InfoContext(ctx, "overlay rendered",
		"zoom", c.zoom, "cache_hit", hit,
		"features", len(feats), "polygons", len(polys), "active", len(c.vis.Active()))

	if c.opt.Events != nil {
		c.opt.Events.Publish(model.RenderEvent{
			Session:  c.opt.Session,
			Bucket:   int(b),
			Zoom:     c.zoom,
			Polygons: len(polys),
			CacheHit: hit,
			TS:       time.Now().UTC(),
		})
	}
}
