package service

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
	"github.com/gowtham/lbsim/pkg/logger"
)

// NAT ports are folded into [20000, 60000)
const (
	natPortBase = 20000
	natPortSpan = 40000
)

// Forwarder is the transport-level balancing tier. It accepts logical
// connections, rewrites their source through a simulated NAT mapping, and
// hands them to one of its downstream targets in round-robin order. Every
// forwarding decision is remembered in a trace table keyed by connection id.
type Forwarder struct {
	// Updated atomically; keep first for alignment
	rrCounter            uint64
	connectionsForwarded int64
	connectionsRejected  int64
	capabilityMismatches int64

	name      string
	publicIP  string
	natBaseIP string
	logger    *logger.Logger

	mu          sync.RWMutex
	downstreams []domain.Downstream

	traceMu sync.RWMutex
	trace   map[string]domain.Downstream
}

// NewForwarder creates a transport-level forwarder. publicIP is the address
// clients connect to; natBaseIP is the address NAT mappings rewrite to.
func NewForwarder(name, publicIP, natBaseIP string, log *logger.Logger) *Forwarder {
	return &Forwarder{
		name:      name,
		publicIP:  publicIP,
		natBaseIP: natBaseIP,
		logger:    log.ForwarderLogger(name),
		trace:     make(map[string]domain.Downstream),
	}
}

// Name returns the forwarder's display name
func (f *Forwarder) Name() string {
	return f.name
}

// PublicIP returns the address clients connect to
func (f *Forwarder) PublicIP() string {
	return f.publicIP
}

// RegisterDownstream appends a target to the forwarding list. Nil targets
// are ignored.
func (f *Forwarder) RegisterDownstream(d domain.Downstream) {
	if d == nil {
		return
	}

	f.mu.Lock()
	f.downstreams = append(f.downstreams, d)
	count := len(f.downstreams)
	f.mu.Unlock()

	f.logger.WithFields(map[string]interface{}{
		"downstream":  d.Name(),
		"downstreams": count,
	}).Info("Registered downstream")
}

// DeregisterDownstream removes every downstream with the given name.
// Unknown names are a no-op.
func (f *Forwarder) DeregisterDownstream(name string) {
	f.mu.Lock()
	kept := f.downstreams[:0]
	removed := 0
	for _, d := range f.downstreams {
		if d.Name() == name {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	f.downstreams = kept
	f.mu.Unlock()

	if removed > 0 {
		f.logger.WithFields(map[string]interface{}{
			"downstream": name,
			"removed":    removed,
		}).Info("Deregistered downstream")
	}
}

// selectDownstream picks the next target in round-robin order, or nil when
// the list is empty
func (f *Forwarder) selectDownstream() domain.Downstream {
	f.mu.RLock()
	defer f.mu.RUnlock()

	size := len(f.downstreams)
	if size == 0 {
		return nil
	}
	next := atomic.AddUint64(&f.rrCounter, 1)
	return f.downstreams[(next-1)%uint64(size)]
}

// applyNat rewrites the connection's NAT mapping to the configured base
// address and a port derived from the connection id, so a given id maps to
// the same port on every run
func (f *Forwarder) applyNat(conn *domain.Connection) {
	conn.ApplyNat(domain.Address{IP: f.natBaseIP, Port: natPort(conn.ID)})
}

// natPort folds a connection id into the NAT port range
func natPort(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32()%natPortSpan) + natPortBase
}

// HandleConnection accepts a connection: NAT is applied, a downstream is
// chosen round-robin, the decision is traced, and the connection is handed
// over. With no downstream available the connection is closed. A downstream
// that cannot accept connections is treated as a handled condition: logged,
// counted, connection closed, nothing propagated. Always returns nil; every
// failure path ends locally.
func (f *Forwarder) HandleConnection(conn *domain.Connection) error {
	if conn == nil {
		return nil
	}

	f.logger.WithFields(map[string]interface{}{
		"connection_id": conn.ID,
		"client":        conn.Client.String(),
		"dest":          conn.Dest.String(),
	}).Info("Accepted connection")

	f.applyNat(conn)
	if nat, ok := conn.Nat(); ok {
		f.logger.WithFields(map[string]interface{}{
			"connection_id": conn.ID,
			"nat":           nat.String(),
		}).Debug("Applied NAT mapping")
	}

	downstream := f.selectDownstream()
	if downstream == nil {
		atomic.AddInt64(&f.connectionsRejected, 1)
		f.logger.WithField("connection_id", conn.ID).
			Warn("No downstreams registered; closing connection")
		conn.Close()
		return nil
	}

	f.traceMu.Lock()
	f.trace[conn.ID] = downstream
	f.traceMu.Unlock()

	f.logger.WithFields(map[string]interface{}{
		"connection_id": conn.ID,
		"downstream":    downstream.Name(),
	}).Info("Forwarding connection")

	if err := downstream.HandleConnection(conn); err != nil {
		if lberrors.HasCode(err, lberrors.ErrCodeConnectionNotSupported) {
			atomic.AddInt64(&f.capabilityMismatches, 1)
			f.logger.WithError(err).WithFields(map[string]interface{}{
				"connection_id": conn.ID,
				"downstream":    downstream.Name(),
			}).Warn("Downstream does not accept connections; closing")
		} else {
			f.logger.WithError(err).WithFields(map[string]interface{}{
				"connection_id": conn.ID,
				"downstream":    downstream.Name(),
			}).Error("Downstream failed to accept connection; closing")
		}
		conn.Close()
		return nil
	}

	atomic.AddInt64(&f.connectionsForwarded, 1)
	return nil
}

// DownstreamForConnection returns the downstream a connection was forwarded
// to, or nil when the id was never traced
func (f *Forwarder) DownstreamForConnection(connectionID string) domain.Downstream {
	f.traceMu.RLock()
	defer f.traceMu.RUnlock()
	return f.trace[connectionID]
}

// Downstreams returns a copy of the registered downstream list
func (f *Forwarder) Downstreams() []domain.Downstream {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]domain.Downstream, len(f.downstreams))
	copy(out, f.downstreams)
	return out
}

// Stats returns a snapshot of the forwarder's counters
func (f *Forwarder) Stats() ForwarderStats {
	f.mu.RLock()
	downstreams := len(f.downstreams)
	f.mu.RUnlock()

	f.traceMu.RLock()
	traced := len(f.trace)
	f.traceMu.RUnlock()

	return ForwarderStats{
		Name:                 f.name,
		PublicAddress:        f.publicIP,
		Downstreams:          downstreams,
		ConnectionsForwarded: atomic.LoadInt64(&f.connectionsForwarded),
		ConnectionsRejected:  atomic.LoadInt64(&f.connectionsRejected),
		CapabilityMismatches: atomic.LoadInt64(&f.capabilityMismatches),
		TracedConnections:    traced,
	}
}
