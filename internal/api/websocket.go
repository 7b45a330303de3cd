package api

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/robocore/internal/eventlog"
	"github.com/nerrad567/robocore/internal/infrastructure/config"
	"github.com/nerrad567/robocore/internal/infrastructure/logging"
)

// Event stream frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameAck         = "ack"
	FrameEvent       = "event"
	FrameError       = "error"
)

// AllEvents subscribes to every event name.
const AllEvents = "*"

const (
	// streamBuffer holds an ack plus a full backlog replay.
	streamBuffer = 2 * backlogSize
	backlogSize  = 64

	defaultMaxFrame     = 8192
	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// ClientFrame is a frame sent by an operator console.
//
// Events holds exact names ("routine.started"), families ("routine.*") or
// AllEvents. Backlog asks for up to that many recent matching events to be
// replayed after the ack.
type ClientFrame struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Events  []string `json:"events,omitempty"`
	Backlog int      `json:"backlog,omitempty"`
}

// ServerFrame is a frame sent to an operator console. Acks carry the
// client's full subscription list.
type ServerFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Events []string        `json:"events,omitempty"`
	Event  *eventlog.Event `json:"event,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HubStats reports event stream activity.
type HubStats struct {
	Clients    int    `json:"clients"`
	Relayed    uint64 `json:"relayed"`
	SlowClosed uint64 `json:"slow_closed"`
}

// Hub relays recorded events to operator consoles and remembers the last
// few for late joiners. A console that falls behind is disconnected rather
// than slowing the recorder.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	recent  []eventlog.Event
	relayed uint64
	slow    uint64
}

// NewHub creates a hub. Zero settings take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxFrame
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Run waits for ctx and then closes every stream.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.shutdown(websocket.CloseGoingAway, "robot shutting down")
		delete(h.subs, sub)
	}
}

// HandleEvent relays e to every matching subscriber. It makes the hub an
// event recorder handler.
func (h *Hub) HandleEvent(_ context.Context, e eventlog.Event) error {
	frame, err := json.Marshal(ServerFrame{Type: FrameEvent, Event: &e})
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, e)
	if len(h.recent) > backlogSize {
		h.recent = h.recent[len(h.recent)-backlogSize:]
	}
	h.relayed++
	for sub := range h.subs {
		if sub.wants(e.Name) && !sub.deliver(frame) {
			h.dropSlow(sub)
		}
	}
	return nil
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{Clients: len(h.subs), Relayed: h.relayed, SlowClosed: h.slow}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("event stream opened", "remote", sub.remote, "clients", n)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()
	sub.shutdown(websocket.CloseNormalClosure, "")
	h.logger.Debug("event stream closed", "remote", sub.remote, "clients", n)
}

// dropSlow is called with h.mu held.
func (h *Hub) dropSlow(sub *subscriber) {
	h.slow++
	delete(h.subs, sub)
	sub.shutdown(websocket.ClosePolicyViolation, "event stream fell behind")
	h.logger.Warn("dropped slow event stream", "remote", sub.remote)
}

// subscribe adds patterns, acks, then replays the backlog. Holding h.mu
// throughout keeps live events from overtaking the replay.
func (h *Hub) subscribe(sub *subscriber, f ClientFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	events := sub.addPatterns(f.Events)
	if !sub.send(ServerFrame{Type: FrameAck, ID: f.ID, Events: events}) {
		h.dropSlow(sub)
		return
	}

	want := min(f.Backlog, backlogSize)
	var replay []eventlog.Event
	for i := len(h.recent) - 1; i >= 0 && len(replay) < want; i-- {
		if sub.wants(h.recent[i].Name) {
			replay = append(replay, h.recent[i])
		}
	}
	for i := len(replay) - 1; i >= 0; i-- {
		if !sub.send(ServerFrame{Type: FrameEvent, Event: &replay[i]}) {
			h.dropSlow(sub)
			return
		}
	}
}

func (h *Hub) handleFrame(sub *subscriber, f ClientFrame) {
	switch f.Type {
	case FrameSubscribe:
		if len(f.Events) == 0 {
			sub.send(ServerFrame{Type: FrameError, ID: f.ID, Error: "subscribe needs at least one event pattern"})
			return
		}
		for _, p := range f.Events {
			if !validPattern(p) {
				sub.send(ServerFrame{Type: FrameError, ID: f.ID, Error: fmt.Sprintf("invalid event pattern %q", p)})
				return
			}
		}
		h.subscribe(sub, f)
	case FrameUnsubscribe:
		sub.send(ServerFrame{Type: FrameAck, ID: f.ID, Events: sub.removePatterns(f.Events)})
	case FramePing:
		sub.send(ServerFrame{Type: FramePong, ID: f.ID})
	default:
		sub.send(ServerFrame{Type: FrameError, ID: f.ID, Error: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

// validPattern accepts an exact event name, "family.*" or AllEvents.
func validPattern(p string) bool {
	if p == AllEvents {
		return true
	}
	if family, ok := strings.CutSuffix(p, ".*"); ok {
		return family != "" && !strings.Contains(family, "*")
	}
	return p != "" && !strings.Contains(p, "*")
}

// matchEvent reports whether any pattern selects the event name.
func matchEvent(patterns map[string]struct{}, name string) bool {
	if _, ok := patterns[AllEvents]; ok {
		return true
	}
	if _, ok := patterns[name]; ok {
		return true
	}
	family, _, found := strings.Cut(name, ".")
	if !found {
		return false
	}
	_, ok := patterns[family+".*"]
	return ok
}

// subscriber is one operator console. Lock order is Hub.mu, then
// subscriber.mu.
type subscriber struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	out    chan []byte

	mu        sync.Mutex
	patterns  map[string]struct{}
	closed    bool
	closeCode int
	closeText string
}

func newSubscriber(h *Hub, conn *websocket.Conn, remote string) *subscriber {
	return &subscriber{
		hub:      h,
		conn:     conn,
		remote:   remote,
		out:      make(chan []byte, streamBuffer),
		patterns: make(map[string]struct{}),
	}
}

func (c *subscriber) wants(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return matchEvent(c.patterns, name)
}

func (c *subscriber) addPatterns(events []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range events {
		c.patterns[p] = struct{}{}
	}
	return slices.Sorted(maps.Keys(c.patterns))
}

func (c *subscriber) removePatterns(events []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range events {
		delete(c.patterns, p)
	}
	return slices.Sorted(maps.Keys(c.patterns))
}

// deliver queues an encoded frame without blocking. It reports false only
// when the buffer is full.
func (c *subscriber) deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}

// send encodes and queues a frame. A full buffer closes the stream.
func (c *subscriber) send(f ServerFrame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return true
	}
	if c.deliver(data) {
		return true
	}
	c.shutdown(websocket.ClosePolicyViolation, "event stream fell behind")
	return false
}

// shutdown closes the outbound queue once; the writer then sends a close
// frame with code and text.
func (c *subscriber) shutdown(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeText = code, text
	close(c.out)
}

func (c *subscriber) closeReason() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeText
}

func (c *subscriber) readLoop() {
	h := c.hub
	defer h.remove(c)

	idle := time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	c.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("event stream read failed", "remote", c.remote, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		extend() //nolint:errcheck // a failed deadline surfaces as a read error

		var f ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.send(ServerFrame{Type: FrameError, Error: "frame is not valid JSON"})
			continue
		}
		h.handleFrame(c, f)
	}
}

func (c *subscriber) writeLoop() {
	h := c.hub
	writeWait := time.Duration(h.cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error follows
			if !ok {
				code, text := c.closeReason()
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleWebSocket opens an event stream. Browser consoles must come from an
// origin the CORS settings allow.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed",
			"error", err,
			"remote", r.RemoteAddr,
			"request_id", requestID(r.Context()),
		)
		return
	}

	sub := newSubscriber(s.hub, conn, r.RemoteAddr)
	s.hub.add(sub)
	go sub.writeLoop()
	go sub.readLoop()
}
