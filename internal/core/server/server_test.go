package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/metrics"
)

type stubApp struct{}

func (stubApp) Features(context.Context, model.Bucket) ([]*geojson.Feature, bool, error) {
	return nil, false, nil
}
func (stubApp) BucketRange() (model.Bucket, model.Bucket) { return 0, 4 }
func (stubApp) BucketForZoom(int) model.Bucket { return 0 }
func (stubApp) Serve(context.Context, *websocket.Conn, string) error {
	return nil
}
func (stubApp) Readiness() (bool, []int) { return true, []int{0} }
func (stubApp) ListSessions(context.Context) []model.SessionInfo {
	return []model.SessionInfo{{ID: "s1"}}
}
func (stubApp) SessionInfo(_ context.Context, id string) (model.SessionInfo, bool) {
	return model.SessionInfo{ID: id}, id == "s1"
}

func TestNewHandler_Routes(t *testing.T) {
	p := metrics.Init(metrics.Config{Path: "/metrics"})
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), Deps{
		Buckets:  stubApp{},
		Sessions: stubApp{},
		Ready:    stubApp{},
		Live:     stubApp{},
		Metrics:  p.Handler(),
	})

	for path, want := range map[string]int{
		"/healthz":        http.StatusOK,
		"/readyz":         http.StatusOK,
		"/buckets/0":      http.StatusOK,
		"/zoom/3/bucket":  http.StatusOK,
		"/ws":             http.StatusBadRequest,
		"/sessions":       http.StatusOK,
		"/sessions/s1":    http.StatusOK,
		"/sessions/nope":  http.StatusNotFound,
		"/does-not-exist": http.StatusNotFound,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s status=%d want %d", path, rr.Code, want)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/buckets/0", nil))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "http_requests_total") {
		t.Fatalf("http metrics not exported")
	}
}
