package overlay

import (
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

type fakeSurface struct {
	mu        sync.Mutex
	zoom      int
	hasZoom   bool
	bounds    orb.Bound
	hasBounds bool

	nextSub int
	subs    map[Event]map[int]func()

	attached map[uint64]*Polygon
	attaches map[uint64]int
	detaches map[uint64]int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		subs:     map[Event]map[int]func(){},
		attached: map[uint64]*Polygon{},
		attaches: map[uint64]int{},
		detaches: map[uint64]int{},
	}
}

func (s *fakeSurface) Zoom() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom, s.hasZoom
}

func (s *fakeSurface) Bounds() (orb.Bound, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds, s.hasBounds
}

func (s *fakeSurface) Subscribe(ev Event, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	if s.subs[ev] == nil {
		s.subs[ev] = map[int]func(){}
	}
	s.subs[ev][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[ev], id)
	}
}

func (s *fakeSurface) Attach(p *Polygon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[p.ID] = p
	s.attaches[p.ID]++
}

func (s *fakeSurface) Detach(p *Polygon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, p.ID)
	s.detaches[p.ID]++
}

func (s *fakeSurface) emit(ev Event) {
	s.mu.Lock()
	var fns []func()
	for _, fn := range s.subs[ev] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// setZoom only stores the zoom; use zoomTo to also notify listeners.
func (s *fakeSurface) setZoom(z int) {
	s.mu.Lock()
	s.zoom, s.hasZoom = z, true
	s.mu.Unlock()
}

func (s *fakeSurface) zoomTo(z int) {
	s.setZoom(z)
	s.emit(EventZoomChanged)
}

func (s *fakeSurface) setBounds(b orb.Bound) {
	s.mu.Lock()
	s.bounds, s.hasBounds = b, true
	s.mu.Unlock()
}

func (s *fakeSurface) panTo(b orb.Bound) {
	s.setBounds(b)
	s.emit(EventBoundsChanged)
}

func (s *fakeSurface) attachedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

func (s *fakeSurface) attachCount(id uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches[id]
}

func (s *fakeSurface) subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.subs {
		n += len(m)
	}
	return n
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs due callbacks in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}
