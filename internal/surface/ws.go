// Package surface implements overlay.Surface over a websocket connection to
// a browser map.
package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/overlay"
)

const (
	MsgZoomChanged   = "zoom_changed"
	MsgBoundsChanged = "bounds_changed"
	MsgReady         = "ready"
	MsgAttach        = "attach"
	MsgDetach        = "detach"
)

var ErrBadMessage = errors.New("surface: bad message")

// Inbound is sent by the browser. Bounds are [west, south, east, north].
type Inbound struct {
	Type   string    `json:"type"`
	Zoom   *int      `json:"zoom,omitempty"`
	Bounds []float64 `json:"bounds,omitempty"`
}

type Outbound struct {
	Type   string       `json:"type"`
	ID     uint64       `json:"id"`
	Bucket *int         `json:"bucket,omitempty"`
	Path   orb.Ring     `json:"path,omitempty"`
	Style  *model.Style `json:"style,omitempty"`
}

type WS struct {
	conn         *websocket.Conn
	log          *slog.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	zoom      int
	hasZoom   bool
	bounds    orb.Bound
	hasBounds bool
	nextSub   int
	subs      map[overlay.Event]map[int]func()
	broken    bool
}

func New(conn *websocket.Conn, log *slog.Logger, writeTimeout time.Duration) *WS {
	if log == nil {
		log = slog.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &WS{
		conn:         conn,
		log:          log.With("component", "surface"),
		writeTimeout: writeTimeout,
		subs:         map[overlay.Event]map[int]func(){},
	}
}

func (s *WS) Zoom() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom, s.hasZoom
}

func (s *WS) Bounds() (orb.Bound, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds, s.hasBounds
}

func (s *WS) Subscribe(ev overlay.Event, fn func()) func() {
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

func (s *WS) Attach(p *overlay.Polygon) {
	b := int(p.Bucket)
	st := p.Style
	s.write(Outbound{Type: MsgAttach, ID: p.ID, Bucket: &b, Path: p.Path, Style: &st})
}

func (s *WS) Detach(p *overlay.Polygon) {
	s.write(Outbound{Type: MsgDetach, ID: p.ID})
}

// write drops messages once a write has failed; the read loop tears the
// session down.
func (s *WS) write(msg Outbound) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.broken {
		return
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.broken = true
		s.log.Warn("websocket write failed", "type", msg.Type, "id", msg.ID, "err", err)
		_ = s.conn.Close()
	}
}

func (s *WS) emit(ev overlay.Event) {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs[ev]))
	for _, fn := range s.subs[ev] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Serve reads browser messages until the connection fails or ctx is done.
// Malformed messages are logged and skipped.
func (s *WS) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("surface: read: %w", err)
		}
		if err := s.handle(data); err != nil {
			s.log.DebugContext(ctx, "ignored websocket message", "err", err)
		}
	}
}

func (s *WS) handle(data []byte) error {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	var bounds orb.Bound
	if in.Bounds != nil {
		if len(in.Bounds) != 4 {
			return fmt.Errorf("%w: bounds needs 4 numbers, got %d", ErrBadMessage, len(in.Bounds))
		}
		bounds = orb.Bound{
			Min: orb.Point{in.Bounds[0], in.Bounds[1]},
			Max: orb.Point{in.Bounds[2], in.Bounds[3]},
		}
	}

	switch in.Type {
	case MsgZoomChanged:
		if in.Zoom == nil {
			return fmt.Errorf("%w: zoom_changed without zoom", ErrBadMessage)
		}
		s.set(in.Zoom, nil)
		s.emit(overlay.EventZoomChanged)
	case MsgBoundsChanged:
		if in.Bounds == nil {
			return fmt.Errorf("%w: bounds_changed without bounds", ErrBadMessage)
		}
		s.set(nil, &bounds)
		s.emit(overlay.EventBoundsChanged)
	case MsgReady:
		var bp *orb.Bound
		if in.Bounds != nil {
			bp = &bounds
		}
		s.set(in.Zoom, bp)
		s.emit(overlay.EventBoundsChanged)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadMessage, in.Type)
	}
	return nil
}

func (s *WS) set(zoom *int, bounds *orb.Bound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if zoom != nil {
		s.zoom, s.hasZoom = *zoom, true
	}
	if bounds != nil {
		s.bounds, s.hasBounds = *bounds, true
	}
}
