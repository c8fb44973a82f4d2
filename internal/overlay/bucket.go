package overlay

import "github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"

// BucketForZoom derives the resolution bucket for a zoom level:
// max(zoom-offset, 0) clamped to [minB, maxB].
func BucketForZoom(zoom, offset int, minB, maxB model.Bucket) model.Bucket {
	b := model.Bucket(max(zoom-offset, 0))
	if b < minB {
		return minB
	}
	if b > maxB {
		return maxB
	}
	return b
}
