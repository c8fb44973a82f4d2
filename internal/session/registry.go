// Package session tracks the live overlay sessions of the server.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/overlay"
)

type Session struct {
	ID      string
	Remote  string
	Started time.Time
	Ctrl    *overlay.Controller

	cancel context.CancelFunc
}

func New(id, remote string, ctrl *overlay.Controller, cancel context.CancelFunc) *Session {
	return &Session{ID: id, Remote: remote, Started: time.Now().UTC(), Ctrl: ctrl, cancel: cancel}
}

// Stop cancels the session's context.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Info snapshots the session. The overlay counters are read on the
// controller goroutine; if it does not answer before ctx is done the
// snapshot is marked stale.
func (s *Session) Info(ctx context.Context) model.SessionInfo {
	info := model.SessionInfo{ID: s.ID, Remote: s.Remote, Started: s.Started}
	if s.Ctrl == nil {
		info.Stale = true
		return info
	}
	st, err := s.Ctrl.Stats(ctx)
	if err != nil {
		info.Stale = true
		return info
	}
	info.Bucket = int(st.Bucket)
	info.Rendered = st.Rendered
	info.Active, info.Pruned = st.Active, st.Pruned
	info.Rebuilds = st.Rebuilds
	return info
}

// NewID derives a session id from the remote address and start time.
func NewID(remote string, t time.Time) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(fmt.Sprintf("%s|%d", remote, t.UnixNano())))
}

// Registry holds at most size sessions. Adding beyond that evicts and stops
// the least recently touched one.
type Registry struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *Session]
	log *slog.Logger
}

func NewRegistry(size int, log *slog.Logger) (*Registry, error) {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{log: log}
	c, err := lru.NewWithEvict[string, *Session](size, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("session registry: %w", err)
	}
	r.lru = c
	return r, nil
}

func (r *Registry) onEvict(id string, s *Session) {
	s.Stop()
	r.log.Debug("session removed", "session", id, "age", time.Since(s.Started))
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evicted := r.lru.Add(s.ID, s); evicted {
		r.log.Warn("session limit reached, evicted oldest session")
	}
	observability.SetSessions(r.lru.Len())
}

// Get looks up a session and marks it recently used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Get(id)
}

// Remove stops and forgets the session. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Remove(id)
	observability.SetSessions(r.lru.Len())
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// Sessions returns the live sessions, most recently used first.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.lru.Keys()
	out := make([]*Session, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if s, ok := r.lru.Peek(keys[i]); ok {
			out = append(out, s)
		}
	}
	return out
}

// Close stops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Purge()
	observability.SetSessions(0)
}
