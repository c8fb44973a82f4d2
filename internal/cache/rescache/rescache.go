// Package rescache keeps the aggregated features of each resolution bucket
// for the lifetime of the process.
package rescache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
)

var ErrBucketOutOfRange = errors.New("bucket out of range")

// FillFunc computes the entry of one bucket.
type FillFunc func(ctx context.Context, b model.Bucket) ([]*geojson.Feature, error)

// Cache maps a bucket to its ordered aggregated features. Entries are never
// evicted and must be treated as read-only by callers.
type Cache struct {
	min, max model.Bucket

	mu      sync.RWMutex
	entries map[model.Bucket][]*geojson.Feature

	flight singleflight.Group
}

func New(minBucket, maxBucket model.Bucket) *Cache {
	if minBucket > maxBucket {
		minBucket, maxBucket = maxBucket, minBucket
	}
	return &Cache{
		min:     minBucket,
		max:     maxBucket,
		entries: make(map[model.Bucket][]*geojson.Feature),
	}
}

func (c *Cache) Range() (model.Bucket, model.Bucket) { return c.min, c.max }

func (c *Cache) check(b model.Bucket) error {
	if b < c.min || b > c.max {
		return fmt.Errorf("%w: %d not in %d..%d", ErrBucketOutOfRange, b, c.min, c.max)
	}
	return nil
}

// Get is a pure lookup.
func (c *Cache) Get(b model.Bucket) ([]*geojson.Feature, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[b]
	return e, ok
}

// Populate stores feats for b unless b already has an entry. It reports
// whether feats was stored.
func (c *Cache) Populate(b model.Bucket, feats []*geojson.Feature) (bool, error) {
	if err := c.check(b); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[b]; ok {
		return false, nil
	}
	if feats == nil {
		feats = []*geojson.Feature{}
	}
	c.entries[b] = feats
	return true, nil
}

// GetOrPopulate returns the entry for b, running fill when it is absent.
// Concurrent callers for the same bucket share one fill, which is not
// cancelled when one of them gives up. A failed fill leaves the bucket empty
// so a later call can try again.
func (c *Cache) GetOrPopulate(ctx context.Context, b model.Bucket, fill FillFunc) ([]*geojson.Feature, bool, error) {
	if err := c.check(b); err != nil {
		return nil, false, err
	}
	if e, ok := c.Get(b); ok {
		observability.ObserveCacheLookup(true)
		return e, true, nil
	}
	observability.ObserveCacheLookup(false)

	// The shared fill outlives any single caller; each caller only stops
	// waiting when its own ctx is done.
	fillCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(strconv.Itoa(int(b)), func() (any, error) {
		if e, ok := c.Get(b); ok {
			return e, nil
		}
		start := time.Now()
		feats, err := fill(fillCtx, b)
		if err != nil {
			return nil, fmt.Errorf("populate bucket %d: %w", b, err)
		}
		observability.ObservePopulate(int(b), time.Since(start).Seconds())
		if _, err := c.Populate(b, feats); err != nil {
			return nil, err
		}
		e, _ := c.Get(b)
		return e, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]*geojson.Feature), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Prewarm fills the given buckets in the background of the caller, at most
// workers at a time. It stops at the first failure.
func (c *Cache) Prewarm(ctx context.Context, buckets []model.Bucket, workers int, fill FillFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, b := range buckets {
		g.Go(func() error {
			_, _, err := c.GetOrPopulate(gctx, b, fill)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("prewarm: %w", err)
	}
	return nil
}

// Buckets lists the populated buckets in ascending order.
func (c *Cache) Buckets() []model.Bucket {
	c.mu.RLock()
	out := make([]model.Bucket, 0, len(c.entries))
	for b := range c.entries {
		out = append(out, b)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
