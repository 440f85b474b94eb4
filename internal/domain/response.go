package domain

import (
	"fmt"
	"sync"
	"time"
)

// Response is the result of serving a request. Exactly one producer
// creates it (a backend, or an engine synthesizing an error response);
// each tier the response passes through may append headers.
type Response struct {
	StatusCode int
	StatusText string
	Body       string
	ProducedBy string
	CreatedAt  time.Time

	mu      sync.RWMutex
	headers map[string]string
}

// NewResponse creates a response with the given status line and body
func NewResponse(statusCode int, statusText, body string) *Response {
	return &Response{
		StatusCode: statusCode,
		StatusText: statusText,
		Body:       body,
		CreatedAt:  time.Now(),
		headers:    make(map[string]string),
	}
}

// SetHeader sets a header value, overwriting any previous one
func (r *Response) SetHeader(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers[name] = value
}

// Header returns the value for name and whether it is set
func (r *Response) Header(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.headers[name]
	return v, ok
}

// Headers returns a copy of the header map
func (r *Response) Headers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[k] = v
	}
	return out
}

// String renders a compact summary for logs
func (r *Response) String() string {
	return fmt.Sprintf("%d %s from %s: %s", r.StatusCode, r.StatusText, r.ProducedBy, r.Body)
}
