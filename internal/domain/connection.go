package domain

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ConnectionState represents the lifecycle state of a simulated connection
type ConnectionState int

const (
	// StateNew indicates the connection was created but the handshake has not completed
	StateNew ConnectionState = iota
	// StateEstablished indicates the handshake completed and data may flow
	StateEstablished
	// StateClosed indicates the connection was terminated
	StateClosed
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Address is a simulated network endpoint
type Address struct {
	IP   string `json:"ip" yaml:"ip"`
	Port int    `json:"port" yaml:"port"`
}

// String renders the address as "ip:port"
func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// IsZero reports whether the address is unset
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// Connection is a simulated transport-level session. It is not a real
// socket: it carries addressing, lifecycle state, byte counters and
// timestamps so the balancing tiers have something to rewrite and trace.
//
// State transitions are monotonic NEW -> ESTABLISHED -> CLOSED. Byte
// counters only grow and never lose increments under concurrent writers.
type Connection struct {
	ID        string
	Client    Address
	Dest      Address
	Protocol  string
	CreatedAt time.Time

	// Traffic counters, updated atomically by the forwarding tiers.
	bytesToBackend int64
	bytesToClient  int64

	mu            sync.RWMutex
	state         ConnectionState
	nat           Address
	natApplied    bool
	tag           string
	establishedAt time.Time
	closedAt      time.Time
}

// NewConnection creates a connection from a client endpoint to a destination.
// The protocol is uppercased and defaults to "TCP" when empty.
func NewConnection(client, dest Address, protocol string) *Connection {
	if protocol == "" {
		protocol = "TCP"
	}
	return &Connection{
		ID:        uuid.NewString(),
		Client:    client,
		Dest:      dest,
		Protocol:  strings.ToUpper(protocol),
		CreatedAt: time.Now(),
		state:     StateNew,
	}
}

// State returns the current lifecycle state
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Establish marks the handshake as completed and records the timestamp.
// It transitions only from NEW; repeated calls and calls on a closed
// connection have no effect.
func (c *Connection) Establish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateNew {
		return
	}
	c.state = StateEstablished
	c.establishedAt = time.Now()
}

// Close transitions the connection to CLOSED and records the timestamp.
// Closing an already closed connection keeps the original timestamp.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.closedAt = time.Now()
}

// ApplyNat records the NAT mapping assigned by the transport tier.
// A later hop may overwrite it.
func (c *Connection) ApplyNat(nat Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nat = nat
	c.natApplied = true
}

// ClearNat removes the NAT mapping
func (c *Connection) ClearNat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nat = Address{}
	c.natApplied = false
}

// Nat returns the NAT mapping and whether one has been applied
func (c *Connection) Nat() (Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nat, c.natApplied
}

// AddBytesToBackend adds n bytes to the client-to-backend counter.
// Non-positive deltas are ignored.
func (c *Connection) AddBytesToBackend(n int64) {
	if n > 0 {
		atomic.AddInt64(&c.bytesToBackend, n)
	}
}

// AddBytesToClient adds n bytes to the backend-to-client counter.
// Non-positive deltas are ignored.
func (c *Connection) AddBytesToClient(n int64) {
	if n > 0 {
		atomic.AddInt64(&c.bytesToClient, n)
	}
}

// BytesToBackend returns the client-to-backend byte count
func (c *Connection) BytesToBackend() int64 {
	return atomic.LoadInt64(&c.bytesToBackend)
}

// BytesToClient returns the backend-to-client byte count
func (c *Connection) BytesToClient() int64 {
	return atomic.LoadInt64(&c.bytesToClient)
}

// SetTag attaches a human-friendly tag used to correlate log lines
func (c *Connection) SetTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tag = tag
}

// Tag returns the tag, or "" when unset
func (c *Connection) Tag() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tag
}

// EstablishedAt returns the establishment timestamp, zero when the
// connection never left NEW
func (c *Connection) EstablishedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.establishedAt
}

// ClosedAt returns the close timestamp, zero while the connection is open
func (c *Connection) ClosedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closedAt
}

// Lifetime is the duration from creation to close, or to now while the
// connection is still open.
func (c *Connection) Lifetime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closedAt.IsZero() {
		return c.closedAt.Sub(c.CreatedAt)
	}
	return time.Since(c.CreatedAt)
}

// String renders a compact single-line summary for logs
func (c *Connection) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var b strings.Builder
	fmt.Fprintf(&b, "conn %s %s->%s", c.ID, c.Client, c.Dest)
	if c.natApplied {
		fmt.Fprintf(&b, " nat=%s", c.nat)
	}
	fmt.Fprintf(&b, " proto=%s state=%s toBackend=%d toClient=%d",
		c.Protocol, c.state,
		atomic.LoadInt64(&c.bytesToBackend), atomic.LoadInt64(&c.bytesToClient))
	return b.String()
}
