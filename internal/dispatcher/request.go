package dispatcher

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	commonhttp "webhook-relay/internal/common/http"
	"webhook-relay/internal/models"
	"webhook-relay/internal/signature"
)

// Headers added to every outbound call.
const (
	HeaderSourceID        = "X-Source-Id"
	HeaderEventID         = "X-Event-Id"
	HeaderDeliveryID      = "X-Delivery-Id"
	HeaderDeliveryAttempt = "X-Delivery-Attempt"
)

// hopByHop headers apply to a single connection and are never forwarded.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
}

// targetURL returns the URL an event is delivered to. With append_path the
// inbound path is joined to the destination path and the inbound query is
// merged after the destination's own query.
func targetURL(dest *models.Destination, event *models.Event) (string, error) {
	u, err := url.Parse(dest.URL)
	if err != nil {
		return "", err
	}
	if !dest.AppendPath {
		return u.String(), nil
	}

	inPath := event.Path
	if inPath == "" {
		inPath = "/"
	}
	if !strings.HasPrefix(inPath, "/") {
		inPath = "/" + inPath
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + inPath
	u.RawPath = ""

	if event.Query != "" {
		if u.RawQuery != "" {
			u.RawQuery = u.RawQuery + "&" + event.Query
		} else {
			u.RawQuery = event.Query
		}
	}
	return u.String(), nil
}

// outboundHeaders copies the event headers minus hop-by-hop ones, applies
// the destination's static headers and adds the relay headers.
func outboundHeaders(dest *models.Destination, event *models.Event, delivery *models.Delivery, attemptNo int, now time.Time) http.Header {
	header := make(http.Header, len(event.Headers)+len(dest.Headers)+5)

	dropped := make(map[string]bool)
	for name, values := range event.Headers {
		if models.CanonicalHeader(name) != "connection" {
			continue
		}
		for _, value := range values {
			for _, token := range strings.Split(value, ",") {
				dropped[models.CanonicalHeader(token)] = true
			}
		}
	}

	for name, values := range event.Headers {
		key := models.CanonicalHeader(name)
		if hopByHop[key] || dropped[key] {
			continue
		}
		for _, value := range values {
			header.Add(name, value)
		}
	}
	if event.ContentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", event.ContentType)
	}

	// http.Header canonicalises keys, so Set replaces any casing the caller used.
	for name, value := range dest.Headers {
		header.Set(name, value)
	}

	header.Set(HeaderSourceID, event.SourceID)
	header.Set(HeaderEventID, event.ID)
	header.Set(HeaderDeliveryID, delivery.ID)
	header.Set(HeaderDeliveryAttempt, strconv.Itoa(attemptNo))
	if dest.Secret != "" {
		header.Set(signature.Header, signature.Sign(dest.Secret, event.Body, now))
	} else {
		header.Del(signature.Header)
	}
	return header
}

func buildRequest(ctx context.Context, dest *models.Destination, event *models.Event, delivery *models.Delivery, attemptNo int, now time.Time) (*http.Request, error) {
	target, err := targetURL(dest, event)
	if err != nil {
		return nil, err
	}
	method := event.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(event.Body))
	if err != nil {
		return nil, err
	}
	req.Header = outboundHeaders(dest, event, delivery, attemptNo, now)
	return req, nil
}

type clientKey struct {
	timeout        time.Duration
	connectTimeout time.Duration
	verifyTLS      bool
}

// clientCache keeps one client per destination. A client is rebuilt when
// the destination's transport settings change.
type clientCache struct {
	mu           sync.Mutex
	clients      map[string]cachedClient
	allowPrivate bool
	transport    http.RoundTripper
}

type cachedClient struct {
	key    clientKey
	client *http.Client
}

func newClientCache(allowPrivate bool, transport http.RoundTripper) *clientCache {
	return &clientCache{
		clients:      make(map[string]cachedClient),
		allowPrivate: allowPrivate,
		transport:    transport,
	}
}

func (c *clientCache) get(dest *models.Destination) *http.Client {
	key := clientKey{
		timeout:        dest.Timeout(),
		connectTimeout: dest.ConnectTimeout(),
		verifyTLS:      dest.VerifyTLS,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.clients[dest.ID]; ok && cached.key == key {
		return cached.client
	}
	if old, ok := c.clients[dest.ID]; ok {
		old.client.CloseIdleConnections()
	}

	opts := []commonhttp.ClientOption{
		commonhttp.WithTimeout(key.timeout),
		commonhttp.WithConnectTimeout(key.connectTimeout),
		commonhttp.WithAllowPrivate(c.allowPrivate),
	}
	if !key.verifyTLS {
		opts = append(opts, commonhttp.WithInsecureSkipVerify())
	}
	if c.transport != nil {
		opts = append(opts, commonhttp.WithTransport(c.transport))
	}

	client := commonhttp.NewHTTPClient(opts...)
	c.clients[dest.ID] = cachedClient{key: key, client: client}
	return client
}

func (c *clientCache) closeIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cached := range c.clients {
		cached.client.CloseIdleConnections()
	}
}
