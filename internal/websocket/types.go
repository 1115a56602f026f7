package websocket

import "time"

// EventType identifies the kind of payload carried by an Event.
type EventType string

const (
	// EventTypeAdmitted fires when a request that did not match the pattern
	// screener is admitted (grace or charged).
	EventTypeAdmitted EventType = "admitted"
	// EventTypeScreened fires when an admitted request matched the pattern
	// screener. A screened request that is rejected is reported as
	// EventTypeBlocked with WasScreened set instead.
	EventTypeScreened EventType = "screened"
	// EventTypeBlocked fires when a request is rejected, either because it
	// tripped the limit or because it arrived inside an existing block
	// window.
	EventTypeBlocked EventType = "blocked"
	// EventTypeAdjustment fires when PostResponseAdjuster refunds or
	// surcharges a bucket.
	EventTypeAdjustment EventType = "adjustment"
	// EventTypeSystemStatus carries periodic registry/server statistics.
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection carries dashboard client connect/disconnect
	// notices.
	EventTypeConnection EventType = "connection"
)

// Event is one message sent to dashboard clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// AdmissionEvent describes one admitted or blocked request.
type AdmissionEvent struct {
	RequestID   string  `json:"request_id"`
	Method      string  `json:"method"`
	Path        string  `json:"path"`
	ClientIP    string  `json:"client_ip"`
	UserAgent   string  `json:"user_agent,omitempty"`
	WasScreened bool    `json:"was_screened"`
	Charged     float64 `json:"charged"`
	Decision    string  `json:"decision"` // "admitted", "denied", "blocked"
}

// AdjustmentEvent describes one post-response token adjustment.
type AdjustmentEvent struct {
	RequestID  string  `json:"request_id"`
	ClientIP   string  `json:"client_ip"`
	StatusCode int     `json:"status_code"`
	Kind       string  `json:"kind"` // "refund" or "penalty"
	Delta      float64 `json:"delta"`
}

// SystemStatusEvent carries periodic operational statistics.
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TrackedBuckets   int    `json:"tracked_buckets"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent describes a dashboard client connect/disconnect.
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage is a message sent from a dashboard client to the server.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest lets a client narrow which event types it receives.
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter further narrows a subscription beyond event type.
type EventFilter struct {
	IPWhitelist []string `json:"ip_whitelist,omitempty"`
	PathPattern string   `json:"path_pattern,omitempty"`
}

// Client is one connected dashboard WebSocket session.
type Client struct {
	ID           string
	Conn         interface{} // concrete type is *websocket.Conn; interface{} keeps this file test-friendly without a real socket
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
