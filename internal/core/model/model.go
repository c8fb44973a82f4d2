// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Bucket is the zoom-derived tier that selects the H3 resolution.
type Bucket int

func (b Bucket) Resolution() int { return int(b) }

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

type Cells []string

// SessionInfo is a point-in-time view of one live overlay session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Remote   string    `json:"remote"`
	Started  time.Time `json:"started"`
	Bucket   int       `json:"bucket"`
	Rendered bool      `json:"rendered"`
	Active   int       `json:"active"`
	Pruned   int       `json:"pruned"`
	Rebuilds int       `json:"rebuilds"`
	Stale    bool      `json:"stale,omitempty"`
}

// Style is the fill/stroke styling attached to a rendered polygon.
type Style struct {
	FillColor     string  `json:"fillColor"`
	FillOpacity   float64 `json:"fillOpacity"`
	StrokeColor   string  `json:"strokeColor"`
	StrokeOpacity float64 `json:"strokeOpacity"`
	StrokeWeight  int     `json:"strokeWeight"`
}

// RenderEvent describes one overlay rebuild for a session.
type RenderEvent struct {
	Session  string    `json:"session"`
	Bucket   int       `json:"bucket"`
	Zoom     int       `json:"zoom"`
	Polygons int       `json:"polygons"`
	CacheHit bool      `json:"cache_hit"`
	TS       time.Time `json:"ts"`
}
