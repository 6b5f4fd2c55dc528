package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/auth"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/metrics"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/ratings"
)

const (
	DefaultSearchDebounce = 300 * time.Millisecond

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 32
	searchPageSize = 12
)

// Message types exchanged over the socket
const (
	TypeSearch        = "search"
	TypeSearchResults = "search_results"
	TypeInvalidated   = "invalidated"
	TypeNotification  = "notification"
	TypeError         = "error"
)

var _ ratings.Notifier = (*Hub)(nil)

// Searcher runs the paginated deals query
type Searcher interface {
	FetchPaginatedDeals(ctx context.Context, page, limit int, filters models.DealFilters) (*models.DealsPage, error)
}

// Inbound is a message sent by a client
type Inbound struct {
	Type     string `json:"type"`
	Search   string `json:"search"`
	Category string `json:"category,omitempty"`
	Sort     string `json:"sort,omitempty"`
}

// Outbound is a message pushed to a client
type Outbound struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Hub tracks websocket clients and fans out search results, cache
// invalidations and notifications
type Hub struct {
	searcher Searcher
	debounce time.Duration
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// Option configures a Hub
type Option func(*Hub)

// WithDebounce sets the search debounce delay
func WithDebounce(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.debounce = d
		}
	}
}

// WithMetrics tracks connected clients
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithCheckOrigin sets the upgrader's origin check
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub creates a hub answering searches with searcher
func NewHub(searcher Searcher, opts ...Option) *Hub {
	h := &Hub{
		searcher: searcher,
		debounce: DefaultSearchDebounce,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run forwards cache events until ctx is done or events is closed. Keys
// owned by a user only reach that user's connections. Open connections are
// closed when ctx is done.
func (h *Hub) Run(ctx context.Context, events <-chan cache.Event) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != cache.EventInvalidated {
				continue
			}
			h.forwardInvalidation(ev.Keys)
		}
	}
}

func (h *Hub) forwardInvalidation(keys []string) {
	var public []string
	owned := make(map[string][]string)
	for _, k := range keys {
		if user, ok := cache.OwnerOf(k); ok {
			owned[user] = append(owned[user], k)
			continue
		}
		public = append(public, k)
	}

	if len(public) > 0 {
		h.broadcast(Outbound{Type: TypeInvalidated, Data: public})
	}
	for user, userKeys := range owned {
		h.sendTo(user, Outbound{Type: TypeInvalidated, Data: userKeys})
	}
}

// Notify sends a notification to every connection of userID
func (h *Hub) Notify(userID string, n ratings.Notification) {
	h.sendTo(userID, Outbound{Type: TypeNotification, Data: n})
}

func (h *Hub) sendTo(userID string, out Outbound) {
	if userID == "" {
		return
	}
	msg, err := json.Marshal(out)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.userID == userID {
			c.enqueue(msg)
		}
	}
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &client{
		id:        uuid.NewString(),
		hub:       h,
		conn:      conn,
		userID:    auth.UserID(r.Context()),
		send:      make(chan []byte, sendBuffer),
		debouncer: NewDebouncer(h.debounce),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.register(c)
	slog.Info("live client connected", "client_id", c.id, "user_id", c.userID)

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.LiveConnected()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.metrics.LiveDisconnected()
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) broadcast(out Outbound) {
	msg, err := json.Marshal(out)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(msg)
	}
}

type client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	userID    string
	send      chan []byte
	debouncer *Debouncer
	searchSeq atomic.Uint64
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// enqueue drops the client when its buffer is full
func (c *client) enqueue(msg []byte) {
	select {
	case <-c.ctx.Done():
	case c.send <- msg:
	default:
		slog.Warn("live client too slow, disconnecting", "client_id", c.id)
		go c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.debouncer.Stop()
		c.cancel()
		c.hub.unregister(c)
		c.conn.Close()
		slog.Info("live client disconnected", "client_id", c.id)
	})
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err, "client_id", c.id)
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("invalid message format", "error", err, "client_id", c.id)
			continue
		}

		switch msg.Type {
		case TypeSearch:
			c.search(msg)
		default:
			slog.Debug("ignoring message", "type", msg.Type, "client_id", c.id)
		}
	}
}

// search coalesces a burst of keystrokes into one query for the last one.
// Results of a query superseded by a newer search are dropped.
func (c *client) search(msg Inbound) {
	filters := models.DealFilters{
		Category: msg.Category,
		Search:   msg.Search,
		Sort:     models.SortKey(msg.Sort),
	}
	seq := c.searchSeq.Add(1)
	c.debouncer.Trigger(func() {
		page, err := c.hub.searcher.FetchPaginatedDeals(c.ctx, 1, searchPageSize, filters)
		if c.ctx.Err() != nil {
			return
		}
		if c.searchSeq.Load() != seq {
			slog.Debug("dropping superseded search results", "query", msg.Search, "client_id", c.id)
			return
		}

		out := Outbound{Type: TypeSearchResults, Query: msg.Search, Data: page}
		if err != nil {
			slog.Warn("live search failed", "error", err, "client_id", c.id)
			out = Outbound{Type: TypeError, Query: msg.Search, Error: apperr.MessageOf(err)}
		}
		data, err := json.Marshal(out)
		if err != nil {
			return
		}
		c.enqueue(data)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
