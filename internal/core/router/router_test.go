package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
)

var errNotReady = errors.New("not ready")

type fakeBuckets struct {
	feats    []*geojson.Feature
	calls    int
	notReady bool
}

func (f *fakeBuckets) Features(_ context.Context, b model.Bucket) ([]*geojson.Feature, bool, error) {
	if f.notReady {
		return nil, false, errNotReady
	}
	f.calls++
	return f.feats, f.calls > 1, nil
}

func (f *fakeBuckets) BucketRange() (model.Bucket, model.Bucket) { return 0, 4 }

func (f *fakeBuckets) BucketForZoom(zoom int) model.Bucket {
	return model.Bucket(min(max(zoom-2, 0), 4))
}

func square(x, y float64) *geojson.Feature {
	f := geojson.NewFeature(orb.MultiPolygon{{orb.Ring{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}})
	f.Properties["COLOR_HEX"] = "ff0000"
	return f
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func mount(b Buckets) http.Handler {
	r := chi.NewRouter()
	r.Get("/buckets/{bucket}", HandleBucket(quiet(), b, errNotReady))
	r.Get("/zoom/{zoom}/bucket", HandleZoom(b))
	return r
}

func TestParseBBOX_Valid(t *testing.T) {
	bb, err := parseBBOX("11.0,55.0,12.0,56.0,EPSG:4326")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := model.BBox{X1: 11, Y1: 55, X2: 12, Y2: 56, SRID: "EPSG:4326"}
	if bb != want {
		t.Fatalf("got %+v want %+v", bb, want)
	}
}

func TestParseBBOX_Invalid(t *testing.T) {
	for _, raw := range []string{
		"11,55,12,56,EPSG:3857",
		"11,55,12,56",
		"12,55,11,56,EPSG:4326",
		"11,55,200,56,EPSG:4326",
		"a,55,12,56,EPSG:4326",
	} {
		if _, err := parseBBOX(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestHandleBucket_ETagAndConditionalGet(t *testing.T) {
	b := &fakeBuckets{feats: []*geojson.Feature{square(0, 0), square(10, 10)}}
	h := mount(b)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/buckets/2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first request X-Cache=%q", rr.Header().Get("X-Cache"))
	}
	etag := rr.Header().Get("ETag")
	if !strings.HasPrefix(etag, `"`) || len(etag) != 18 {
		t.Fatalf("etag=%q", etag)
	}
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features=%d want 2", len(fc.Features))
	}

	req := httptest.NewRequest(http.MethodGet, "/buckets/2", nil)
	req.Header.Set("If-None-Match", `W/"nope", `+etag)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotModified || rr.Body.Len() != 0 {
		t.Fatalf("status=%d len=%d want 304 empty", rr.Code, rr.Body.Len())
	}
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second request X-Cache=%q", rr.Header().Get("X-Cache"))
	}
}

func TestHandleBucket_BBoxFilter(t *testing.T) {
	b := &fakeBuckets{feats: []*geojson.Feature{square(0, 0), square(10, 10)}}
	rr := httptest.NewRecorder()
	mount(b).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/buckets/1?bbox=9,9,12,12,EPSG:4326", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features=%d want 1", len(fc.Features))
	}
	if got := fc.Features[0].Geometry.Bound().Min; got != (orb.Point{10, 10}) {
		t.Fatalf("wrong feature kept: %v", got)
	}
}

func TestHandleBucket_Errors(t *testing.T) {
	cases := []struct {
		path string
		b    *fakeBuckets
		want int
	}{
		{"/buckets/x", &fakeBuckets{}, http.StatusBadRequest},
		{"/buckets/9", &fakeBuckets{}, http.StatusBadRequest},
		{"/buckets/-1", &fakeBuckets{}, http.StatusBadRequest},
		{"/buckets/1?bbox=1,2,3", &fakeBuckets{}, http.StatusBadRequest},
		{"/buckets/1", &fakeBuckets{notReady: true}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		mount(tc.b).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.want {
			t.Fatalf("%s status=%d want %d", tc.path, rr.Code, tc.want)
		}
	}
}

func TestHandleZoom(t *testing.T) {
	h := mount(&fakeBuckets{})
	for zoom, want := range map[string]int{"0": 0, "2": 0, "5": 3, "12": 4} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/zoom/"+zoom+"/bucket", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("zoom %s status=%d", zoom, rr.Code)
		}
		var out struct {
			Bucket     int `json:"bucket"`
			Resolution int `json:"resolution"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Bucket != want || out.Resolution != want {
			t.Fatalf("zoom %s got %+v want %d", zoom, out, want)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/zoom/far/bucket", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

type echoSessions struct {
	remote chan string
}

func (s *echoSessions) Serve(ctx context.Context, conn *websocket.Conn, remote string) error {
	s.remote <- remote
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return conn.WriteMessage(mt, data)
}

func TestHandleWS_HandsConnectionToSession(t *testing.T) {
	s := &echoSessions{remote: make(chan string, 1)}
	srv := httptest.NewServer(HandleWS(quiet(), s, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	select {
	case r := <-s.remote:
		if r == "" {
			t.Fatalf("empty remote address")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session not started")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ready"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `{"type":"ready"}` {
		t.Fatalf("got %s", got)
	}
}

type fakeLister struct{ infos []model.SessionInfo }

func (f fakeLister) ListSessions(context.Context) []model.SessionInfo { return f.infos }

func (f fakeLister) SessionInfo(_ context.Context, id string) (model.SessionInfo, bool) {
	for _, i := range f.infos {
		if i.ID == id {
			return i, true
		}
	}
	return model.SessionInfo{}, false
}

func TestHandleSessions(t *testing.T) {
	l := fakeLister{infos: []model.SessionInfo{
		{ID: "b", Bucket: 3, Rendered: true, Active: 5, Pruned: 2, Rebuilds: 1},
		{ID: "a", Stale: true},
	}}
	r := chi.NewRouter()
	r.Get("/sessions", HandleSessions(l))
	r.Get("/sessions/{id}", HandleSession(l))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var list struct {
		Count    int                 `json:"count"`
		Sessions []model.SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 2 || list.Sessions[0].ID != "b" || list.Sessions[0].Active != 5 || !list.Sessions[1].Stale {
		t.Fatalf("list=%+v", list)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/b", nil))
	var one model.SessionInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusOK || one.Bucket != 3 || !one.Rendered {
		t.Fatalf("status=%d info=%+v", rr.Code, one)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/zzz", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown session status=%d want 404", rr.Code)
	}
}
