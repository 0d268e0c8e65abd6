// Package http builds the outbound clients used to deliver events and holds
// the JSON response helpers shared by the HTTP handlers.
package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	ConnectTimeout      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool
	FollowRedirects     bool
	AllowPrivate        bool
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             15 * time.Second,
		ConnectTimeout:      5 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the overall per-request deadline
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithConnectTimeout bounds dialing
func WithConnectTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.ConnectTimeout = timeout
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per host
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConnsPerHost = max
	}
}

// WithoutKeepAlives disables keep-alives
func WithoutKeepAlives() ClientOption {
	return func(c *ClientConfig) {
		c.DisableKeepAlives = true
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify() ClientOption {
	return func(c *ClientConfig) {
		c.InsecureSkipVerify = true
	}
}

// WithFollowRedirects lets the client follow 3xx responses
func WithFollowRedirects() ClientOption {
	return func(c *ClientConfig) {
		c.FollowRedirects = true
	}
}

// WithAllowPrivate disables the dial guard so loopback and private
// addresses can be reached
func WithAllowPrivate(allow bool) ClientOption {
	return func(c *ClientConfig) {
		c.AllowPrivate = allow
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// NewHTTPClient creates a new HTTP client with the given options. Unless
// WithFollowRedirects is set the first response is returned as-is.
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		dialer := &net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}
		if !cfg.AllowPrivate {
			dialer.Control = guardControl
		}

		httpTransport := &http.Transport{
			DialContext:           dialer.DialContext,
			MaxIdleConns:          cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			DisableKeepAlives:     cfg.DisableKeepAlives,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ExpectContinueTimeout: time.Second,
			ForceAttemptHTTP2:     true,
		}
		if cfg.InsecureSkipVerify {
			httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 per-destination opt-out
		}
		transport = httpTransport
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// guardControl runs after DNS resolution, so the check applies to the
// address actually dialed.
func guardControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	return CheckAddr(host)
}
