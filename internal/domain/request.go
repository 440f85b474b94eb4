package domain

import (
	"fmt"
	"sync"
	"time"
)

// Request is one application-level call flowing through the fabric.
// Headers are mutable in place as the request traverses tiers; each tier
// may add or overwrite entries. Header names are case-sensitive and the
// last write wins.
type Request struct {
	Method    string
	Path      string
	Body      string
	Client    Address
	CreatedAt time.Time

	mu      sync.RWMutex
	headers map[string]string
}

// NewRequest creates a request. The client address may be zero when the
// caller does not model one.
func NewRequest(method, path, body string, client Address) *Request {
	return &Request{
		Method:    method,
		Path:      path,
		Body:      body,
		Client:    client,
		CreatedAt: time.Now(),
		headers:   make(map[string]string),
	}
}

// SetHeader sets a header value, overwriting any previous one
func (r *Request) SetHeader(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers[name] = value
}

// Header returns the value for name and whether it is set
func (r *Request) Header(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.headers[name]
	return v, ok
}

// Headers returns a copy of the header map
func (r *Request) Headers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// String renders a compact summary for logs
func (r *Request) String() string {
	return fmt.Sprintf("%s %s (client %s)", r.Method, r.Path, r.Client)
}
