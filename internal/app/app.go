// Package app wires the dataset pipeline, the resolution cache and the
// per-connection overlay sessions together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/aggregate/hexagg"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/cache/rescache"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/config"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/logger"
	h3mapper "github.com/mohammed-shakir/h3-hexoverlay/internal/mapper/h3"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/overlay"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/reproject"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/session"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/surface"
)

var ErrNotReady = errors.New("dataset not loaded")

// Source returns the raw dataset document.
type Source interface {
	Load(ctx context.Context, source string) ([]byte, error)
}

type App struct {
	cfg    config.Config
	log    *slog.Logger
	cache  *rescache.Cache
	agg    *hexagg.Aggregator
	worker *reproject.Worker
	events overlay.EventSink
	clock  overlay.Clock

	features atomic.Pointer[[]*geojson.Feature]
	sessions *session.Registry
	wg       sync.WaitGroup
}

// New builds the app. events may be nil.
func New(cfg config.Config, log *slog.Logger, events overlay.EventSink) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	var opts []reproject.Option
	if cfg.ReprojectPolygons {
		opts = append(opts, reproject.WithPolygons(true))
	}
	tr, err := reproject.NewTransformer(cfg.SourceCRS, cfg.TargetCRS, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	reg, err := session.NewRegistry(cfg.SessionsMax, log)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return &App{
		cfg:      cfg,
		log:      log,
		cache:    rescache.New(model.Bucket(cfg.BucketMin), model.Bucket(cfg.BucketMax)),
		agg:      hexagg.New(h3mapper.New(), log),
		worker:   reproject.NewWorker(tr, log),
		events:   events,
		clock:    overlay.RealClock,
		sessions: reg,
	}, nil
}

// Start runs the reprojection worker until ctx is done.
func (a *App) Start(ctx context.Context) {
	a.worker.Start(ctx)
}

// Load fetches and reprojects the dataset. The app reports ready once it
// succeeds.
func (a *App) Load(ctx context.Context, src Source) error {
	if a.cfg.DatasetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.DatasetTimeout)
		defer cancel()
	}
	start := time.Now()
	doc, err := src.Load(ctx, a.cfg.DatasetSource)
	if err != nil {
		return err
	}
	fc, err := a.worker.Reproject(ctx, doc)
	if err != nil {
		return fmt.Errorf("app: reproject dataset: %w", err)
	}
	feats := fc.Features
	a.features.Store(&feats)
	a.log.Info("dataset ready",
		"source", a.cfg.DatasetSource,
		"features", len(feats),
		"bytes", len(doc),
		"took", time.Since(start))
	return nil
}

// Prewarm populates every bucket of the configured range.
func (a *App) Prewarm(ctx context.Context) error {
	lo, hi := a.cache.Range()
	buckets := make([]model.Bucket, 0, int(hi-lo)+1)
	for b := lo; b <= hi; b++ {
		buckets = append(buckets, b)
	}
	start := time.Now()
	if err := a.cache.Prewarm(ctx, buckets, a.cfg.PrewarmWorkers, a.fill); err != nil {
		return fmt.Errorf("app: prewarm: %w", err)
	}
	a.log.Info("cache prewarmed", "buckets", len(buckets), "took", time.Since(start))
	return nil
}

func (a *App) fill(ctx context.Context, b model.Bucket) ([]*geojson.Feature, error) {
	feats := a.features.Load()
	if feats == nil {
		return nil, ErrNotReady
	}
	return a.agg.AggregateAll(logger.WithBucket(ctx, int(b)), *feats, b.Resolution())
}

// Features returns the aggregated features of b and whether they were
// already cached.
func (a *App) Features(ctx context.Context, b model.Bucket) ([]*geojson.Feature, bool, error) {
	return a.cache.GetOrPopulate(ctx, b, a.fill)
}

func (a *App) BucketRange() (model.Bucket, model.Bucket) { return a.cache.Range() }

func (a *App) BucketForZoom(zoom int) model.Bucket {
	lo, hi := a.cache.Range()
	return overlay.BucketForZoom(zoom, a.cfg.ZoomOffset, lo, hi)
}

// Readiness reports whether the dataset is loaded and which buckets are
// cached.
func (a *App) Readiness() (bool, []int) {
	if a.features.Load() == nil {
		return false, nil
	}
	bs := a.cache.Buckets()
	out := make([]int, len(bs))
	for i, b := range bs {
		out[i] = int(b)
	}
	return true, out
}

func (a *App) Sessions() *session.Registry { return a.sessions }

const sessionInfoTimeout = time.Second

// ListSessions snapshots every live session, most recently used first.
func (a *App) ListSessions(ctx context.Context) []model.SessionInfo {
	ss := a.sessions.Sessions()
	out := make([]model.SessionInfo, 0, len(ss))
	for _, s := range ss {
		ictx, cancel := context.WithTimeout(ctx, sessionInfoTimeout)
		out = append(out, s.Info(ictx))
		cancel()
	}
	return out
}

// SessionInfo snapshots the session with the given id.
func (a *App) SessionInfo(ctx context.Context, id string) (model.SessionInfo, bool) {
	s, ok := a.sessions.Get(id)
	if !ok {
		return model.SessionInfo{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, sessionInfoTimeout)
	defer cancel()
	return s.Info(ctx), true
}

// Serve runs one overlay session over conn until the browser goes away or
// ctx is done.
func (a *App) Serve(ctx context.Context, conn *websocket.Conn, remote string) error {
	id := session.NewID(remote, time.Now())
	ctx, cancel := context.WithCancel(logger.WithSession(ctx, id))
	defer cancel()

	surf := surface.New(conn, a.log.With("session", id), a.cfg.WSWriteTimeout)
	ctrl, err := overlay.New(overlay.Options{
		Session: id,
		Surface: surf,
		Cache:   a.cache,
		Fill:    a.fill,
		Styler: overlay.Styler{
			ColorProperty: a.cfg.ColorProperty,
			DefaultColor:  a.cfg.DefaultColor,
			FillOpacity:   a.cfg.FillOpacity,
		},
		ZoomOffset: a.cfg.ZoomOffset,
		Debounce:   a.cfg.ZoomDebounce,
		Clock:      a.clock,
		Events:     a.events,
		Log:        a.log,
	})
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.sessions.Add(session.New(id, remote, ctrl, cancel))
	defer a.sessions.Remove(id)

	done := make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(done)
		_ = ctrl.Run(ctx)
	}()

	a.log.InfoContext(ctx, "session started", "remote", remote)
	err = surf.Serve(ctx)
	cancel()
	<-done
	a.log.InfoContext(ctx, "session ended", "err", err)
	return err
}

// Close stops every session and waits for their controllers.
func (a *App) Close() {
	a.sessions.Close()
	a.wg.Wait()
}
