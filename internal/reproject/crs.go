package reproject

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	EPSG3857 = "EPSG:3857"
	EPSG4326 = "EPSG:4326"
)

var ErrUnsupportedCRS = errors.New("unsupported CRS pair")

type pair struct{ src, dst string }

var projections = map[pair]orb.Projection{
	{EPSG3857, EPSG4326}: project.Mercator.ToWGS84,
	{EPSG4326, EPSG3857}: project.WGS84.ToMercator,
}

var known = map[string]bool{EPSG3857: true, EPSG4326: true}

// Lookup returns the projection taking points from src to dst.
func Lookup(src, dst string) (orb.Projection, error) {
	src = strings.ToUpper(strings.TrimSpace(src))
	dst = strings.ToUpper(strings.TrimSpace(dst))
	if src == dst && known[src] {
		return func(p orb.Point) orb.Point { return p }, nil
	}
	if p, ok := projections[pair{src, dst}]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrUnsupportedCRS, src, dst)
}
