package reproject

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const tol = 1e-7

func near(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) < tol && math.Abs(a[1]-b[1]) < tol
}

func sampleWGS84() orb.MultiPolygon {
	return orb.MultiPolygon{
		{
			orb.Ring{{26, 39}, {27, 39}, {27, 40}, {26, 40}, {26, 39}},
			orb.Ring{{26.2, 39.2}, {26.4, 39.2}, {26.4, 39.4}, {26.2, 39.2}},
		},
		{
			orb.Ring{{-3.7, 40.4}, {-3.6, 40.4}, {-3.6, 40.5}, {-3.7, 40.4}},
		},
	}
}

func TestLookup(t *testing.T) {
	if _, err := Lookup("epsg:3857", " EPSG:4326 "); err != nil {
		t.Fatalf("3857->4326: %v", err)
	}
	id, err := Lookup(EPSG4326, EPSG4326)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if p := id(orb.Point{1, 2}); p != (orb.Point{1, 2}) {
		t.Fatalf("identity moved the point: %v", p)
	}
	if _, err := Lookup("EPSG:27700", EPSG4326); !errors.Is(err, ErrUnsupportedCRS) {
		t.Fatalf("err=%v want ErrUnsupportedCRS", err)
	}
}

func TestMultiPolygon_RoundTrip(t *testing.T) {
	fwd, err := NewTransformer(EPSG4326, EPSG3857)
	if err != nil {
		t.Fatalf("fwd: %v", err)
	}
	back, err := NewTransformer(EPSG3857, EPSG4326)
	if err != nil {
		t.Fatalf("back: %v", err)
	}

	orig := sampleWGS84()
	merc, err := fwd.MultiPolygon(orig)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if merc[0][0][0][0] < 1e6 {
		t.Fatalf("expected mercator meters, got %v", merc[0][0][0])
	}
	got, err := back.MultiPolygon(merc)
	if err != nil {
		t.Fatalf("back: %v", err)
	}

	if len(got) != len(orig) {
		t.Fatalf("polygons=%d want %d", len(got), len(orig))
	}
	for i := range orig {
		if len(got[i]) != len(orig[i]) {
			t.Fatalf("polygon %d rings=%d want %d", i, len(got[i]), len(orig[i]))
		}
		for j := range orig[i] {
			if len(got[i][j]) != len(orig[i][j]) {
				t.Fatalf("polygon %d ring %d points=%d", i, j, len(got[i][j]))
			}
			for k := range orig[i][j] {
				if !near(got[i][j][k], orig[i][j][k]) {
					t.Fatalf("point %d/%d/%d got %v want %v", i, j, k, got[i][j][k], orig[i][j][k])
				}
			}
		}
	}
	if !orb.Equal(orig, sampleWGS84()) {
		t.Fatalf("input was mutated")
	}
}

func TestMultiPolygon_NonFiniteFailsWholeRequest(t *testing.T) {
	tr, err := NewTransformer(EPSG3857, EPSG4326)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	mp := orb.MultiPolygon{{orb.Ring{{0, 0}, {math.NaN(), 1}, {1, 1}, {0, 0}}}}
	out, err := tr.MultiPolygon(mp)
	if !errors.Is(err, ErrProjection) {
		t.Fatalf("err=%v want ErrProjection", err)
	}
	if out != nil {
		t.Fatalf("expected no partial output")
	}
}

func TestFeatureCollection_OnlyMultiPolygonsTouched(t *testing.T) {
	tr, err := NewTransformer(EPSG3857, EPSG4326)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	mp := orb.MultiPolygon{{orb.Ring{{0, 0}, {20037508.342789244, 0}, {0, 1000}, {0, 0}}}}
	poly := orb.Polygon{orb.Ring{{5, 5}, {6, 5}, {6, 6}, {5, 5}}}

	fc := geojson.NewFeatureCollection()
	a := geojson.NewFeature(mp)
	a.Properties["COLOR_HEX"] = "ff0000"
	fc.Append(a)
	fc.Append(geojson.NewFeature(poly))
	fc.Append(geojson.NewFeature(orb.Point{7, 8}))

	out, err := tr.FeatureCollection(fc)
	if err != nil {
		t.Fatalf("FeatureCollection: %v", err)
	}
	if len(out.Features) != 3 {
		t.Fatalf("features=%d want 3", len(out.Features))
	}

	gotMP := out.Features[0].Geometry.(orb.MultiPolygon)
	if !near(gotMP[0][0][1], orb.Point{180, 0}) {
		t.Fatalf("x=20037508 should map to lon 180, got %v", gotMP[0][0][1])
	}
	if out.Features[0].Properties["COLOR_HEX"] != "ff0000" {
		t.Fatalf("properties lost")
	}
	if !orb.Equal(out.Features[1].Geometry, poly) {
		t.Fatalf("polygon feature should be untouched by default")
	}
	if !orb.Equal(out.Features[2].Geometry, orb.Point{7, 8}) {
		t.Fatalf("point feature should be untouched")
	}
	if fc.Features[0].Geometry.(orb.MultiPolygon)[0][0][1] != (orb.Point{20037508.342789244, 0}) {
		t.Fatalf("input collection was mutated")
	}

	withPolys, err := NewTransformer(EPSG3857, EPSG4326, WithPolygons(true))
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	out, err = withPolys.FeatureCollection(fc)
	if err != nil {
		t.Fatalf("FeatureCollection: %v", err)
	}
	if orb.Equal(out.Features[1].Geometry, poly) {
		t.Fatalf("polygon feature should be reprojected with WithPolygons")
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const doc = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"COLOR_HEX":"00ff00"},
  "geometry":{"type":"MultiPolygon","coordinates":[[[[0,0],[111319.49079327357,0],[111319.49079327357,111325.14286638486],[0,0]]]]}}
]}`

func TestWorker_OneRequestOneResponse(t *testing.T) {
	tr, err := NewTransformer(EPSG3857, EPSG4326)
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}
	w := NewWorker(tr, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := w.Reproject(ctx, []byte(doc)); !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("before Start err=%v want ErrWorkerUnavailable", err)
	}

	w.Start(ctx)
	fc, err := w.Reproject(ctx, []byte(doc))
	if err != nil {
		t.Fatalf("Reproject: %v", err)
	}
	mp := fc.Features[0].Geometry.(orb.MultiPolygon)
	if !near(mp[0][0][1], orb.Point{1, 0}) {
		t.Fatalf("got %v want lon 1", mp[0][0][1])
	}
	if math.Abs(mp[0][0][2][1]-1) > 1e-6 {
		t.Fatalf("got lat %v want 1", mp[0][0][2][1])
	}

	if _, err := w.Reproject(ctx, []byte(`{"type":"Feature"`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("malformed err=%v want ErrMalformed", err)
	}

	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
	if _, err := w.Reproject(context.Background(), []byte(doc)); !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("after stop err=%v want ErrWorkerUnavailable", err)
	}
}
