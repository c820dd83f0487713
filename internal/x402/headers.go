package x402

import (
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

// Header is the canonical header representation used at the transport
// boundary. Keys are canonical MIME header keys. Repeated values are joined
// with ", " as permitted by RFC 9110, except Cookie which uses "; ".
type Header map[string]string

// HeaderFromHTTP normalizes a net/http header collection
func HeaderFromHTTP(h http.Header) Header {
	out := make(Header, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		sep := ", "
		if textproto.CanonicalMIMEHeaderKey(key) == "Cookie" {
			sep = "; "
		}
		out.Set(key, strings.Join(values, sep))
	}
	return out
}

// HeaderFromPairs normalizes an ordered list of key/value pairs. A key that
// appears more than once keeps its last value.
func HeaderFromPairs(pairs [][2]string) Header {
	out := make(Header, len(pairs))
	for _, pair := range pairs {
		out.Set(pair[0], pair[1])
	}
	return out
}

// HeaderFromMap normalizes a plain key/value mapping
func HeaderFromMap(m map[string]string) Header {
	out := make(Header, len(m))
	for key, value := range m {
		out.Set(key, value)
	}
	return out
}

// Set stores value under the canonical form of key
func (h Header) Set(key, value string) {
	if key == "" {
		return
	}
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Get returns the value stored for key, if any
func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Merge returns a new Header holding h overlaid with other
func (h Header) Merge(other Header) Header {
	out := make(Header, len(h)+len(other))
	for k, v := range h {
		out[k] = v
	}
	for k, v := range other {
		out.Set(k, v)
	}
	return out
}

// HTTP converts the header back into a net/http header collection
func (h Header) HTTP() http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Set(k, v)
	}
	return out
}

// Keys returns the header names in sorted order
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
