package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
)

// Buckets serves the aggregated features of a resolution bucket.
type Buckets interface {
	Features(ctx context.Context, b model.Bucket) ([]*geojson.Feature, bool, error)
	BucketRange() (model.Bucket, model.Bucket)
	BucketForZoom(zoom int) model.Bucket
}

// Sessions runs an overlay session over an upgraded connection.
type Sessions interface {
	Serve(ctx context.Context, conn *websocket.Conn, remote string) error
}

// SessionLister reports the live overlay sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) []model.SessionInfo
	SessionInfo(ctx context.Context, id string) (model.SessionInfo, bool)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func observe(r *http.Request, route string, code int, start time.Time) {
	observability.ObserveHTTP(r.Method, route, code, time.Since(start).Seconds())
}

// HandleBucket serves GET /buckets/{bucket} as GeoJSON with an ETag over
// the body. An optional bbox narrows the features to those intersecting it.
func HandleBucket(logger *slog.Logger, b Buckets, notReady error) http.HandlerFunc {
	const route = "/buckets/{bucket}"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() { observe(r, route, sw.code, start) }()

		bucket, err := parseBucket(chi.URLParam(r, "bucket"), b)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		var bbox *model.BBox
		if raw := strings.TrimSpace(r.URL.Query().Get("bbox")); raw != "" {
			bb, err := parseBBOX(raw)
			if err != nil {
				http.Error(sw, fmt.Sprintf("invalid bbox: %v", err), http.StatusBadRequest)
				return
			}
			bbox = &bb
		}

		feats, hit, err := b.Features(r.Context(), bucket)
		if err != nil {
			if notReady != nil && errors.Is(err, notReady) {
				http.Error(sw, "dataset not loaded", http.StatusServiceUnavailable)
				return
			}
			logger.ErrorContext(r.Context(), "bucket features failed", "bucket", int(bucket), "err", err)
			http.Error(sw, "internal error", http.StatusInternalServerError)
			return
		}

		fc := geojson.NewFeatureCollection()
		for _, f := range feats {
			if bbox != nil && (f.Geometry == nil || !f.Geometry.Bound().Intersects(bbox.Bound())) {
				continue
			}
			fc.Append(f)
		}
		body, err := json.Marshal(fc)
		if err != nil {
			logger.ErrorContext(r.Context(), "encode bucket", "bucket", int(bucket), "err", err)
			http.Error(sw, "internal error", http.StatusInternalServerError)
			return
		}

		etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
		sw.Header().Set("ETag", etag)
		sw.Header().Set("Cache-Control", "public, max-age=300")
		if hit {
			sw.Header().Set("X-Cache", "HIT")
		} else {
			sw.Header().Set("X-Cache", "MISS")
		}
		if matchETag(r.Header.Get("If-None-Match"), etag) {
			sw.WriteHeader(http.StatusNotModified)
			return
		}
		sw.Header().Set("Content-Type", "application/geo+json")
		sw.WriteHeader(http.StatusOK)
		_, _ = sw.Write(body)
	}
}

// HandleZoom serves GET /zoom/{zoom}/bucket.
func HandleZoom(b Buckets) http.HandlerFunc {
	const route = "/zoom/{zoom}/bucket"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() { observe(r, route, sw.code, start) }()

		zoom, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, "zoom")))
		if err != nil {
			http.Error(sw, "zoom must be an integer", http.StatusBadRequest)
			return
		}
		bucket := b.BucketForZoom(zoom)
		sw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(sw).Encode(struct {
			Zoom       int `json:"zoom"`
			Bucket     int `json:"bucket"`
			Resolution int `json:"resolution"`
		}{zoom, int(bucket), bucket.Resolution()})
	}
}

// HandleSessions serves GET /sessions.
func HandleSessions(l SessionLister) http.HandlerFunc {
	const route = "/sessions"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() { observe(r, route, sw.code, start) }()

		ss := l.ListSessions(r.Context())
		sw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(sw).Encode(struct {
			Count    int                 `json:"count"`
			Sessions []model.SessionInfo `json:"sessions"`
		}{len(ss), ss})
	}
}

// HandleSession serves GET /sessions/{id}.
func HandleSession(l SessionLister) http.HandlerFunc {
	const route = "/sessions/{id}"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() { observe(r, route, sw.code, start) }()

		info, ok := l.SessionInfo(r.Context(), chi.URLParam(r, "id"))
		if !ok {
			http.Error(sw, "unknown session", http.StatusNotFound)
			return
		}
		sw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(sw).Encode(info)
	}
}

// HandleWS upgrades GET /ws and hands the connection to s.
func HandleWS(logger *slog.Logger, s Sessions, up *websocket.Upgrader) http.HandlerFunc {
	if up == nil {
		up = &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin:     func(*http.Request) bool { return true },
		}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			logger.WarnContext(r.Context(), "websocket upgrade failed", "err", err)
			observe(r, "/ws", http.StatusBadRequest, time.Now())
			return
		}
		defer func() { _ = conn.Close() }()
		observe(r, "/ws", http.StatusSwitchingProtocols, time.Now())

		// the request context ends with the handler; the session follows
		// the connection instead
		ctx := context.WithoutCancel(r.Context())
		if err := s.Serve(ctx, conn, r.RemoteAddr); err != nil {
			logger.DebugContext(ctx, "session closed", "err", err)
		}
	}
}

func parseBucket(raw string, b Buckets) (model.Bucket, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("bucket must be an integer")
	}
	lo, hi := b.BucketRange()
	if n < int(lo) || n > int(hi) {
		return 0, fmt.Errorf("bucket must be in [%d,%d]", lo, hi)
	}
	return model.Bucket(n), nil
}

func matchETag(header, etag string) bool {
	for v := range strings.SplitSeq(header, ",") {
		v = strings.TrimSpace(v)
		if v == "*" || strings.TrimPrefix(v, "W/") == etag {
			return true
		}
	}
	return false
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 5 {
		return model.BBox{}, errors.New("expected 5 comma-separated values: x1,y1,x2,y2,EPSG:4326")
	}
	var v [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	xMin, yMin, xMax, yMax := v[0], v[1], v[2], v[3]

	srid := strings.ToUpper(strings.TrimSpace(parts[4]))
	if srid != "EPSG:4326" {
		return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported (got %q)", srid)
	}

	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
