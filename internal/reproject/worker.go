package reproject

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
)

var (
	ErrWorkerUnavailable = errors.New("reprojection worker unavailable")
	ErrMalformed         = errors.New("malformed dataset document")
)

type request struct {
	doc   []byte
	reply chan response
}

type response struct {
	fc  *geojson.FeatureCollection
	err error
}

// Worker runs the transformer on its own goroutine. Each Reproject call is
// one request message and one response message; the worker keeps no state
// between requests and shares none with the caller.
type Worker struct {
	tr  *Transformer
	log *slog.Logger

	reqs chan request
	done chan struct{}

	once    sync.Once
	started chan struct{}
}

func NewWorker(tr *Transformer, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		tr:      tr,
		log:     log,
		reqs:    make(chan request),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Start launches the worker goroutine. It stops when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	w.once.Do(func() {
		close(w.started)
		go w.loop(ctx)
	})
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqs:
			req.reply <- w.handle(req.doc)
		}
	}
}

func (w *Worker) handle(doc []byte) response {
	start := time.Now()
	fc, err := geojson.UnmarshalFeatureCollection(doc)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrMalformed, err)
		observability.ObserveReprojection(err, time.Since(start).Seconds())
		return response{err: err}
	}
	out, err := w.tr.FeatureCollection(fc)
	observability.ObserveReprojection(err, time.Since(start).Seconds())
	if err != nil {
		return response{err: fmt.Errorf("reproject: %w", err)}
	}
	w.log.Debug("dataset reprojected", "features", len(out.Features), "took", time.Since(start))
	return response{fc: out}
}

// Reproject hands doc to the worker and waits for the reprojected
// collection. doc is copied before it crosses the boundary.
func (w *Worker) Reproject(ctx context.Context, doc []byte) (*geojson.FeatureCollection, error) {
	select {
	case <-w.started:
	default:
		return nil, fmt.Errorf("%w: not started", ErrWorkerUnavailable)
	}

	req := request{doc: bytes.Clone(doc), reply: make(chan response, 1)}
	select {
	case w.reqs <- req:
	case <-w.done:
		return nil, fmt.Errorf("%w: stopped", ErrWorkerUnavailable)
	case <-ctx.Done():
		return nil, fmt.Errorf("reproject: %w", ctx.Err())
	}

	select {
	case res := <-req.reply:
		return res.fc, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("reproject: %w", ctx.Err())
	}
}
