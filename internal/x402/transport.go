// Package x402 builds MCP client transports that stay usable behind an HTTP 402
// payment-challenge layer.
//
// The payment layer retries a request after settling a 402 challenge and may
// rebuild the request headers while doing so. MCP streamable HTTP endpoints
// reject requests without the dual Accept value, so the header is enforced on
// the innermost hop, after any payment retry has rewritten the request.
package x402

import (
	"errors"
	"net/http"
	"strings"
	"time"

	mcptransport "github.com/mark3labs/mcp-go/client/transport"
)

// RequiredAccept is the Accept value every MCP streamable HTTP request must carry
const RequiredAccept = "application/json, text/event-stream"

// discoveryPrivateKey is a well-known, never-funded key. Capability listing
// performs no paid calls, so the wallet only has to exist.
const discoveryPrivateKey = "0x1234567890123456789012345678901234567890123456789012345678901234"

// ErrEmptyURL is returned when no target URL is given
var ErrEmptyURL = errors.New("x402: server url is required")

// Credentials identify the wallet a payment layer pays from
type Credentials struct {
	PrivateKey string
	Network    string
}

// ReadOnlyCredentials returns credentials suitable for operations that never
// pay, such as tool discovery. An empty key falls back to the built-in
// zero-balance key.
func ReadOnlyCredentials(privateKey string) Credentials {
	if privateKey == "" {
		privateKey = discoveryPrivateKey
	}
	return Credentials{PrivateKey: privateKey, Network: "base-sepolia"}
}

// PaymentMiddleware wraps a round tripper with payment-challenge handling.
// Implementations may retry requests; they must not be relied on to keep headers.
type PaymentMiddleware func(next http.RoundTripper, creds Credentials) http.RoundTripper

type options struct {
	base    http.RoundTripper
	payment PaymentMiddleware
	headers Header
	timeout time.Duration
}

// Option configures NewClientTransport and NewHTTPClient
type Option func(*options)

// WithBaseTransport sets the transport used for the actual network hop
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithPayment composes a payment-challenge layer in front of the header layer
func WithPayment(mw PaymentMiddleware) Option {
	return func(o *options) { o.payment = mw }
}

// WithHeaders adds static headers sent on every request
func WithHeaders(h Header) Option {
	return func(o *options) { o.headers = o.headers.Merge(h) }
}

// WithTimeout bounds each HTTP exchange
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// NewHTTPClient returns the HTTP client used underneath the MCP transport
func NewHTTPClient(creds Credentials, opts ...Option) *http.Client {
	o := &options{base: http.DefaultTransport, headers: Header{}}
	for _, opt := range opts {
		opt(o)
	}

	var rt http.RoundTripper = &acceptEnforcer{next: o.base, static: o.headers}
	if o.payment != nil {
		rt = o.payment(rt, creds)
	}

	return &http.Client{Transport: rt, Timeout: o.timeout}
}

// NewClientTransport builds a streamable HTTP MCP transport bound to serverURL
func NewClientTransport(serverURL string, creds Credentials, opts ...Option) (*mcptransport.StreamableHTTP, error) {
	if strings.TrimSpace(serverURL) == "" {
		return nil, ErrEmptyURL
	}

	httpClient := NewHTTPClient(creds, opts...)
	return mcptransport.NewStreamableHTTP(serverURL, mcptransport.WithHTTPBasicClient(httpClient))
}

// acceptEnforcer merges headers into one canonical set and pins Accept
type acceptEnforcer struct {
	next   http.RoundTripper
	static Header
}

func (t *acceptEnforcer) RoundTrip(req *http.Request) (*http.Response, error) {
	merged := t.static.Merge(HeaderFromHTTP(req.Header))
	merged.Set("Accept", RequiredAccept)

	out := req.Clone(req.Context())
	out.Header = merged.HTTP()

	return t.next.RoundTrip(out)
}
