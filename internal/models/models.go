// Package models holds the records shared by the registry, the event store
// and the dispatcher.
package models

import (
	"strings"
	"time"
)

// Defaults applied when a field is omitted on creation.
const (
	DefaultMaxBodyBytes        int64   = 1 << 20
	DefaultMaxRPS              float64 = 5
	DefaultBurst                       = 10
	DefaultMaxInflight                 = 5
	DefaultTimeoutSeconds              = 15
	DefaultConnectTimeoutSecs          = 5
	DefaultBreakerFailureRatio float64 = 0.5
	DefaultBreakerMinRequests          = 20
	DefaultBreakerCooldownSecs         = 60
)

// Source is an authenticated origin for inbound calls.
type Source struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Token        string    `json:"token"`
	MaxBodyBytes int64     `json:"max_body_bytes"`
	IPAllowCIDRs []string  `json:"ip_allow_cidrs"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Destination is an outbound target with its own limits.
type Destination struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	URL                 string            `json:"url"`
	Headers             map[string]string `json:"headers"`
	MaxRPS              float64           `json:"max_rps"`
	Burst               int               `json:"burst"`
	MaxInflight         int               `json:"max_inflight"`
	AppendPath          bool              `json:"append_path"`
	Secret              string            `json:"-"`
	HasSecret           bool              `json:"has_secret"`
	TimeoutSeconds      int               `json:"timeout_s"`
	ConnectTimeoutSecs  int               `json:"connect_timeout_s"`
	VerifyTLS           bool              `json:"verify_tls"`
	BreakerFailureRatio float64           `json:"breaker_failure_ratio"`
	BreakerMinRequests  int               `json:"breaker_min_requests"`
	BreakerCooldownSecs int               `json:"breaker_cooldown_s"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Timeout is the overall per-attempt deadline.
func (d *Destination) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ConnectTimeout bounds dialing the destination.
func (d *Destination) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSecs) * time.Second
}

// BreakerCooldown is how long an open breaker rejects calls.
func (d *Destination) BreakerCooldown() time.Duration {
	return time.Duration(d.BreakerCooldownSecs) * time.Second
}

// Route binds a source to a destination.
type Route struct {
	ID              string    `json:"id"`
	SourceID        string    `json:"source_id"`
	DestinationID   string    `json:"destination_id"`
	ContentTypeLike *string   `json:"content_type_like"`
	Ord             int       `json:"ord"`
	Paused          bool      `json:"paused"`
	Seq             int64     `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Less orders routes by ord, then by creation.
func (r *Route) Less(other *Route) bool {
	if r.Ord != other.Ord {
		return r.Ord < other.Ord
	}
	if r.Seq != other.Seq {
		return r.Seq < other.Seq
	}
	return r.ID < other.ID
}

// Event is an immutable admitted inbound call.
type Event struct {
	ID             string              `json:"id"`
	SourceID       string              `json:"source_id"`
	ReceivedAt     time.Time           `json:"received_at"`
	Method         string              `json:"method"`
	Path           string              `json:"path"`
	Query          string              `json:"query,omitempty"`
	Headers        map[string][]string `json:"headers"`
	Body           []byte              `json:"body"`
	ContentType    string              `json:"content_type"`
	BodySize       int64               `json:"body_size"`
	BodySHA256     string              `json:"body_sha256"`
	RemoteIP       string              `json:"remote_ip,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	// Routed is set once the event's deliveries have been created. An
	// unrouted event is routed again at start-up.
	Routed         bool                `json:"routed"`
}

// Outcome is the state of a delivery.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeOverflow  Outcome = "overflow"
)

// Terminal reports whether no further attempts will be made.
func (o Outcome) Terminal() bool {
	return o != OutcomePending
}

// Delivery tracks forwarding of one event to one destination.
type Delivery struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	DestinationID string    `json:"destination_id"`
	RouteID       string    `json:"route_id"`
	AttemptCount  int       `json:"attempt_count"`
	LastStatus    int       `json:"last_status"`
	LastError     string    `json:"last_error,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Replay        bool      `json:"replay"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Attempt records one outbound try.
type Attempt struct {
	ID              string    `json:"id"`
	DeliveryID      string    `json:"delivery_id"`
	EventID         string    `json:"event_id"`
	DestinationID   string    `json:"destination_id"`
	AttemptNo       int       `json:"attempt_no"`
	StatusCode      int       `json:"status_code"`
	Error           string    `json:"error,omitempty"`
	ResponseSnippet string    `json:"response_snippet,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
	AttemptedAt     time.Time `json:"attempted_at"`
}

// CanonicalHeader normalises a header name for case-insensitive comparison.
func CanonicalHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
