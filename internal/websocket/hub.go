// Package websocket streams admission-path events to connected dashboard
// clients. The hub itself is a single fan-out loop: registering/
// unregistering clients and publishing events all funnel through one
// goroutine (Run) so client bookkeeping never races, while each client's
// own writer goroutine owns its socket, per gorilla/websocket's
// single-writer rule.
package websocket

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HubConfig toggles which admission-event kinds reach the feed and,
// optionally, gates the feed behind HTTP Basic Auth.
type HubConfig struct {
	BroadcastAdmissions  bool
	BroadcastAdjustments bool
	BroadcastSystem      bool
	BroadcastConnections bool
	// WebSocketUsername and WebSocketPassword gate /ws with HTTP Basic
	// Auth when either is set; both empty (the default) leaves the feed open,
	// since it is meant for a trusted operator network, not a public one.
	WebSocketUsername string
	WebSocketPassword string
}

// Hub is the live dashboard feed: every request that clears admission
// (or is blocked) can be published here, and every connected dashboard
// client receives the subset its subscription and the HubConfig toggles
// allow through.
type Hub struct {
	cfg *HubConfig
	log *zap.Logger

	join    chan *Client
	drop    chan *Client
	publish chan Event

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub constructs a Hub. Run must be started in its own goroutine before
// HandleWebSocket is reachable, or client registrations will block.
func NewHub(cfg *HubConfig, log *zap.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		log:     log,
		join:    make(chan *Client),
		drop:    make(chan *Client),
		publish: make(chan Event, sendBufferSize),
		clients: make(map[*Client]struct{}),
	}
}

// Run drives client registration, removal, and event fan-out until the
// process exits.
func (h *Hub) Run() {
	h.log.Info("admission dashboard hub started")
	for {
		select {
		case c := <-h.join:
			h.addClient(c)
		case c := <-h.drop:
			h.removeClient(c)
		case evt := <-h.publish:
			h.deliver(evt, nil)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("dashboard client connected",
		zap.String("client_id", c.ID), zap.String("client_ip", c.IP))
	h.announce("connected", c)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if !present {
		return
	}

	close(c.Send)
	h.log.Info("dashboard client disconnected",
		zap.String("client_id", c.ID), zap.String("client_ip", c.IP))
	h.announce("disconnected", c)
}

func (h *Hub) announce(action string, c *Client) {
	h.deliver(Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:    action,
			ClientID:  c.ID,
			ClientIP:  c.IP,
			UserAgent: c.UserAgent,
			Message:   fmt.Sprintf("client %s %s", c.ID, action),
		},
	}, nil)
}

// deliver fans evt out to every client whose subscription admits it,
// except exclude (nil to send to everyone). Caller must not hold h.mu.
func (h *Hub) deliver(evt Event, exclude *Client) {
	if !h.shouldBroadcast(evt.Type) {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c == exclude || !h.admits(c, evt) {
			continue
		}
		select {
		case c.Send <- evt:
		default:
			h.log.Warn("dashboard client buffer full, dropping event",
				zap.String("client_id", c.ID))
		}
	}
}

// admits reports whether evt should reach c, honoring an optional
// subscription: an event-type allowlist plus an IP/path filter.
func (h *Hub) admits(c *Client, evt Event) bool {
	sub := c.Subscription
	if sub == nil {
		return true
	}
	if !eventTypeSubscribed(sub.Events, evt.Type) {
		return false
	}
	if sub.Filter == nil {
		return true
	}
	return passesFilter(sub.Filter, evt)
}

func eventTypeSubscribed(wanted []EventType, t EventType) bool {
	for _, w := range wanted {
		if w == t {
			return true
		}
	}
	return false
}

// passesFilter narrows admission/adjustment events by client IP and a
// path substring, for a dashboard watching one IP or route under attack.
func passesFilter(f *EventFilter, evt Event) bool {
	ip, path := eventSubject(evt)

	if len(f.IPWhitelist) > 0 && ip != "" {
		matched := false
		for _, allowed := range f.IPWhitelist {
			if allowed == ip {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.PathPattern != "" && path != "" && !strings.Contains(path, f.PathPattern) {
		return false
	}
	return true
}

// eventSubject extracts the client IP and request path an event's payload
// carries, when it carries one; system-status and connection events
// return "".
func eventSubject(evt Event) (ip, path string) {
	switch data := evt.Data.(type) {
	case AdmissionEvent:
		return data.ClientIP, data.Path
	case AdjustmentEvent:
		return data.ClientIP, ""
	default:
		return "", ""
	}
}

func (h *Hub) shouldBroadcast(t EventType) bool {
	if h.cfg == nil {
		return false
	}
	switch t {
	case EventTypeAdmitted, EventTypeScreened, EventTypeBlocked:
		return h.cfg.BroadcastAdmissions
	case EventTypeAdjustment:
		return h.cfg.BroadcastAdjustments
	case EventTypeSystemStatus:
		return h.cfg.BroadcastSystem
	case EventTypeConnection:
		return h.cfg.BroadcastConnections
	default:
		return false
	}
}

// BroadcastEvent enqueues evt for delivery to subscribed dashboard
// clients. It never blocks the caller: a full publish buffer drops the
// event and logs a warning, since the feed is a best-effort operational
// view, not a guaranteed-delivery channel.
func (h *Hub) BroadcastEvent(evt Event) {
	if !h.shouldBroadcast(evt.Type) {
		return
	}
	select {
	case h.publish <- evt:
	default:
		h.log.Warn("dashboard publish buffer full, dropping event",
			zap.String("event_type", string(evt.Type)))
	}
}

// ActiveClients returns the number of connected dashboard clients, for the
// gauge server.go polls alongside the bucket registry size.
func (h *Hub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades r to a WebSocket connection and hands the
// resulting Client to Run via the join channel.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.cfg.WebSocketUsername != "" || h.cfg.WebSocketPassword != "" {
		if !basicAuthMatches(r, h.cfg.WebSocketUsername, h.cfg.WebSocketPassword) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		ID:          fmt.Sprintf("dash-%d", time.Now().UnixNano()),
		Conn:        conn,
		Send:        make(chan Event, sendBufferSize),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}

	h.join <- c
	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop is the sole writer on c.Conn: it drains c.Send to the socket
// and keeps the connection alive with periodic pings.
func (h *Hub) writeLoop(c *Client) {
	conn := c.Conn.(*websocket.Conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case evt, open := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Error("dashboard write failed",
					zap.String("client_id", c.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains client-to-server traffic (subscription updates, pings)
// until the connection errors or closes, then unregisters the client.
func (h *Hub) readLoop(c *Client) {
	conn := c.Conn.(*websocket.Conn)
	defer func() {
		h.drop <- c
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		c.LastPing = time.Now()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("dashboard read error",
					zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		h.handleMessage(c, msg)
	}
}

func (h *Hub) handleMessage(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		payload, ok := msg.Data.(map[string]interface{})
		if !ok {
			return
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		var sub SubscriptionRequest
		if err := json.Unmarshal(raw, &sub); err != nil {
			return
		}
		// Written under the hub lock: deliver reads Subscription while
		// holding it, and this runs on the client's read goroutine.
		h.mu.Lock()
		c.Subscription = &sub
		h.mu.Unlock()
		h.log.Info("dashboard subscription updated",
			zap.String("client_id", c.ID), zap.Any("subscription", sub))

	case "ping":
		select {
		case c.Send <- Event{Type: "pong", Timestamp: time.Now()}:
		default:
		}
	}
}

// clientIP extracts a best-effort client address for logging/filtering;
// it is independent of ratelimit.IpResolver, which resolves the address
// the admission engine actually trusts.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func basicAuthMatches(r *http.Request, user, pass string) bool {
	typ, data, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || typ != "Basic" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return false
	}
	gotUser, gotPass, found := strings.Cut(string(decoded), ":")
	return found && gotUser == user && gotPass == pass
}
