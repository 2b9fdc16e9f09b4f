// Package ws streams a viewer's merged reservation list, freshness flags
// and badges over websockets.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rentalBack/internal/rental/clock"
	"rentalBack/internal/rental/counters"
	"rentalBack/internal/rental/freshness"
	"rentalBack/internal/rental/listen"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/seen"
	"rentalBack/internal/rental/store"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
)

// Logger provides minimal logging required by the hub.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Remover hides a reservation from one party's list.
type Remover interface {
	RemoveFromList(ctx context.Context, id, actorUID string) (models.Reservation, error)
}

// Item is a reservation as shown to one viewer.
type Item struct {
	models.Reservation
	IsNew bool `json:"isNew"`
}

// Frame is a server to client message.
type Frame struct {
	Type   string         `json:"type"`
	Items  []Item         `json:"items,omitempty"`
	HasNew bool           `json:"hasNew,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
	Total  int            `json:"total,omitempty"`
	ID     string         `json:"id,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type clientMessage struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	ID       string `json:"id"`
}

// Hub manages reservation list connections.
type Hub struct {
	upgrader  websocket.Upgrader
	agg       *listen.Aggregator
	marks     store.Watermarks
	counters  store.Counters
	seen      *seen.Service
	remover   Remover
	freshness freshness.Config
	clock     clock.Clock
	logger    Logger

	mu    sync.Mutex
	conns map[*client]struct{}
}

// NewHub constructs a Hub.
func NewHub(agg *listen.Aggregator, marks store.Watermarks, counts store.Counters, seenSvc *seen.Service, remover Remover, cfg freshness.Config, clk clock.Clock, logger Logger) *Hub {
	return &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		agg:       agg,
		marks:     marks,
		counters:  counts,
		seen:      seenSvc,
		remover:   remover,
		freshness: cfg,
		clock:     clock.Or(clk),
		logger:    logger,
		conns:     make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and streams uid's view until the client
// disconnects. The view and status query parameters narrow the list.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, uid string) {
	if uid == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}
	opts, err := listen.ParseOptions(r.URL.Query().Get("view"), r.URL.Query()["status"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("reservations ws upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{hub: h, uid: uid, conn: conn, cancel: cancel}
	c.tracker = freshness.NewTracker(uid, seen.NewLocal(h.seen, uid), h.freshness, h.clock, h.logger)
	c.reader = counters.NewReader(uid, c.tracker)

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	if err := c.start(ctx, opts); err != nil {
		h.logger.Errorf("reservations ws for %s: %v", uid, err)
		c.send(Frame{Type: "error", Error: "subscription failed"})
		c.close()
		return
	}
	go c.readLoop(ctx)
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) forget(c *client) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

type client struct {
	hub     *Hub
	uid     string
	conn    *websocket.Conn
	cancel  context.CancelFunc
	tracker *freshness.Tracker
	reader  *counters.Reader

	wmu sync.Mutex
	rmu sync.Mutex

	mu    sync.Mutex
	sub   *listen.Subscription
	subs  []store.Subscription
	items []models.Reservation
	ready bool

	closeOnce sync.Once
}

func (c *client) start(ctx context.Context, opts listen.Options) error {
	h := c.hub
	wsub, err := c.tracker.Start(ctx, h.marks, c.render)
	if err != nil {
		return err
	}
	c.keep(wsub)
	csub, err := c.reader.Start(ctx, h.counters, h.freshness.Resubscribe, c.sendBadge)
	if err != nil {
		return err
	}
	c.keep(csub)
	sub, err := h.agg.Subscribe(ctx, c.uid, opts, c.onUpdate)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return nil
}

func (c *client) keep(s store.Subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
}

func (c *client) onUpdate(u listen.Update) {
	if u.Err != nil {
		c.send(Frame{Type: "error", Error: u.Err.Error()})
		return
	}
	c.mu.Lock()
	c.items = u.Items
	c.ready = true
	c.mu.Unlock()
	c.render()
	c.sendBadge()
}

// render sends the current view with freshness flags. Renders are
// serialized so an older view never overtakes a newer one.
func (c *client) render() {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	c.mu.Lock()
	items, ready := c.items, c.ready
	c.mu.Unlock()
	if !ready {
		return
	}
	c.tracker.Observe(models.CategoryReservations, items)
	fresh := c.tracker.NewIDs(models.CategoryReservations)
	out := make([]Item, 0, len(items))
	for _, r := range items {
		out = append(out, Item{Reservation: r, IsNew: fresh[r.ID]})
	}
	c.send(Frame{Type: "view", Items: out, HasNew: len(fresh) > 0})
}

func (c *client) sendBadge() {
	badges := c.reader.Badges()
	total := 0
	for _, n := range badges {
		total += n
	}
	c.send(Frame{Type: "badge", Counts: badges, Total: total})
}

func (c *client) send(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.hub.logger.Errorf("reservations ws %s write failed: %v", c.uid, err)
	}
}

func (c *client) readLoop(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		if mt != websocket.TextMessage {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(msg)), "ping") {
			c.wmu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			c.wmu.Unlock()
			continue
		}
		var m clientMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			c.send(Frame{Type: "error", Error: "invalid message"})
			continue
		}
		c.handle(ctx, m)
	}
}

func (c *client) handle(ctx context.Context, m clientMessage) {
	switch m.Type {
	case "mark_seen":
		if !models.ValidCategory(m.Category) {
			c.send(Frame{Type: "error", Error: "unknown category"})
			return
		}
		done := c.tracker.MarkSeen(ctx, m.Category)
		c.reader.Decrement(m.Category)
		c.render()
		c.sendBadge()
		go func() {
			if err := <-done; err != nil {
				return
			}
			c.render()
		}()
	case "remove":
		if m.ID == "" {
			c.send(Frame{Type: "error", Error: "id is required"})
			return
		}
		c.mu.Lock()
		sub := c.sub
		c.mu.Unlock()
		if sub != nil {
			sub.Suppress(m.ID)
		}
		go func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
			defer cancel()
			if _, err := c.hub.remover.RemoveFromList(rctx, m.ID, c.uid); err != nil {
				c.hub.logger.Errorf("reservations ws %s remove %s: %v", c.uid, m.ID, err)
				c.send(Frame{Type: "error", ID: m.ID, Error: "remove failed"})
				if sub != nil {
					sub.Unsuppress(m.ID)
				}
			}
		}()
	default:
		c.send(Frame{Type: "error", Error: "unknown message type"})
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		sub, subs := c.sub, c.subs
		c.sub, c.subs = nil, nil
		c.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		for _, s := range subs {
			s.Stop()
		}
		_ = c.conn.Close()
		c.hub.forget(c)
	})
}
