package domain

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Backend represents one simulated server instance. It tracks a mutable
// health flag and the number of serve calls currently in flight; the
// in-flight count is observational only and never gates admission.
type Backend struct {
	Name       string
	Host       string
	Port       int
	MinLatency time.Duration
	MaxLatency time.Duration

	// Runtime state - thread-safe using atomic operations
	inFlight    int64
	totalServed int64

	mu      sync.RWMutex
	healthy bool
}

// NewBackend creates a backend with the given simulated latency range.
// A negative lower bound clamps to zero and an upper bound below the
// lower bound is raised to it.
func NewBackend(name, host string, port int, minLatency, maxLatency time.Duration) *Backend {
	if minLatency < 0 {
		minLatency = 0
	}
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &Backend{
		Name:       name,
		Host:       host,
		Port:       port,
		MinLatency: minLatency,
		MaxLatency: maxLatency,
		healthy:    true,
	}
}

// Serve simulates handling one request:
//   - increments the in-flight count for the duration of the call
//   - an unhealthy backend returns 503 immediately, without latency
//   - a healthy backend sleeps for a duration drawn uniformly from
//     [MinLatency, MaxLatency] and returns 200
//
// The in-flight decrement runs on every exit path. The connection is
// accepted for parity with the tier contracts; the backend itself does
// not touch it.
func (b *Backend) Serve(req *Request, conn *Connection) *Response {
	atomic.AddInt64(&b.inFlight, 1)
	defer atomic.AddInt64(&b.inFlight, -1)
	atomic.AddInt64(&b.totalServed, 1)

	if !b.IsHealthy() {
		resp := NewResponse(503, "Service Unavailable", fmt.Sprintf("Backend %s is unhealthy", b.Name))
		resp.ProducedBy = b.Name
		return resp
	}

	time.Sleep(b.drawLatency())

	resp := NewResponse(200, "OK", fmt.Sprintf("Handled by %s (%s:%d) for path: %s", b.Name, b.Host, b.Port, req.Path))
	resp.ProducedBy = b.Name
	resp.SetHeader("X-Backend-Server", b.Name)
	return resp
}

// drawLatency picks a processing delay uniformly from the configured
// range, inclusive on both ends.
func (b *Backend) drawLatency() time.Duration {
	span := int64(b.MaxLatency - b.MinLatency)
	if span <= 0 {
		return b.MinLatency
	}
	return b.MinLatency + time.Duration(rand.Int63n(span+1))
}

// IsHealthy returns the current health flag
func (b *Backend) IsHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// SetHealthy toggles the health flag. Selection observes the new value on
// the next call; in-flight serves are unaffected.
func (b *Backend) SetHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
}

// CurrentConnections returns the number of serve calls in flight
func (b *Backend) CurrentConnections() int64 {
	return atomic.LoadInt64(&b.inFlight)
}

// TotalServed returns the number of serve calls accepted so far,
// including ones answered 503
func (b *Backend) TotalServed() int64 {
	return atomic.LoadInt64(&b.totalServed)
}

// Address renders the backend endpoint as "host:port"
func (b *Backend) Address() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// String renders a compact summary for logs
func (b *Backend) String() string {
	return fmt.Sprintf("backend %s (%s) healthy=%t inFlight=%d latency=[%s,%s]",
		b.Name, b.Address(), b.IsHealthy(), b.CurrentConnections(), b.MinLatency, b.MaxLatency)
}
