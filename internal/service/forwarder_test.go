package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
	"github.com/gowtham/lbsim/pkg/logger"
)

// requestOnlyTarget is a downstream that cannot terminate connections, like
// a bare request handler wired in by mistake
type requestOnlyTarget struct {
	name  string
	calls int64
}

func (r *requestOnlyTarget) Name() string { return r.name }

func (r *requestOnlyTarget) HandleConnection(conn *domain.Connection) error {
	atomic.AddInt64(&r.calls, 1)
	return lberrors.NewConnectionNotSupportedError(r.name)
}

func newTestForwarder(t *testing.T) *Forwarder {
	t.Helper()
	return NewForwarder("L4-Main", "52.34.10.5", "10.0.0.2", logger.Discard())
}

func newClientConn(n int) *domain.Connection {
	return domain.NewConnection(
		domain.Address{IP: fmt.Sprintf("203.0.113.%d", 100+n), Port: 40000 + n},
		domain.Address{IP: "52.34.10.5", Port: 443},
		"tcp",
	)
}

func TestForwarderAppliesNat(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t)
	f.RegisterDownstream(NewEngine("App-L7", logger.Discard()))

	conn := newClientConn(1)
	require.NoError(t, f.HandleConnection(conn))

	nat, ok := conn.Nat()
	require.True(t, ok, "NAT must be applied before forwarding")
	assert.Equal(t, "10.0.0.2", nat.IP)
	assert.GreaterOrEqual(t, nat.Port, natPortBase)
	assert.Less(t, nat.Port, natPortBase+natPortSpan)
	assert.Equal(t, natPort(conn.ID), nat.Port, "Port is a pure function of the connection id")

	assert.Equal(t, domain.StateEstablished, conn.State())
}

func TestNatPortDeterministicAndInRange(t *testing.T) {
	t.Parallel()

	ports := make(map[int]bool)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("conn-%d", i)
		port := natPort(id)

		assert.Equal(t, port, natPort(id), "Same id must map to the same port on every call")
		assert.GreaterOrEqual(t, port, natPortBase)
		assert.Less(t, port, natPortBase+natPortSpan)
		ports[port] = true
	}
	assert.Greater(t, len(ports), 1, "Distinct ids should spread across the port range")
}

func TestForwarderRoundRobinAcrossDownstreams(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t)
	e1 := NewEngine("L7-A", logger.Discard())
	e2 := NewEngine("L7-B", logger.Discard())
	f.RegisterDownstream(e1)
	f.RegisterDownstream(e2)

	var got []string
	for i := 0; i < 6; i++ {
		conn := newClientConn(i)
		require.NoError(t, f.HandleConnection(conn))

		d := f.DownstreamForConnection(conn.ID)
		require.NotNil(t, d)
		got = append(got, d.Name())
	}
	assert.Equal(t, []string{"L7-A", "L7-B", "L7-A", "L7-B", "L7-A", "L7-B"}, got)

	stats := f.Stats()
	assert.Equal(t, "L4-Main", stats.Name)
	assert.Equal(t, "52.34.10.5", stats.PublicAddress)
	assert.Equal(t, 2, stats.Downstreams)
	assert.Equal(t, int64(6), stats.ConnectionsForwarded)
	assert.Equal(t, 6, stats.TracedConnections)

	assert.Equal(t, int64(3), e1.Stats().ConnectionsAccepted)
	assert.Equal(t, int64(3), e2.Stats().ConnectionsAccepted)
}

func TestForwarderNoDownstreamClosesConnection(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t)

	conn := newClientConn(1)
	require.NoError(t, f.HandleConnection(conn))

	assert.Equal(t, domain.StateClosed, conn.State())
	assert.Nil(t, f.DownstreamForConnection(conn.ID), "Nothing is traced when no downstream exists")

	stats := f.Stats()
	assert.Equal(t, int64(1), stats.ConnectionsRejected)
	assert.Zero(t, stats.ConnectionsForwarded)
}

func TestForwarderCapabilityMismatch(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t)
	target := &requestOnlyTarget{name: "request-only"}
	f.RegisterDownstream(target)

	conn := newClientConn(2)
	err := f.HandleConnection(conn)
	require.NoError(t, err, "Capability mismatch is handled locally, never propagated")

	assert.Equal(t, domain.StateClosed, conn.State())
	assert.Equal(t, int64(1), atomic.LoadInt64(&target.calls))

	// The forwarding decision was made and traced before the handoff failed
	require.NotNil(t, f.DownstreamForConnection(conn.ID))
	assert.Equal(t, "request-only", f.DownstreamForConnection(conn.ID).Name())

	stats := f.Stats()
	assert.Equal(t, int64(1), stats.CapabilityMismatches)
	assert.Zero(t, stats.ConnectionsForwarded)
}

func TestForwarderDeregisterDownstream(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t)
	f.RegisterDownstream(NewEngine("L7-A", logger.Discard()))
	f.RegisterDownstream(NewEngine("L7-B", logger.Discard()))
	require.Len(t, f.Downstreams(), 2)

	f.DeregisterDownstream("L7-A")
	require.Len(t, f.Downstreams(), 1)
	assert.Equal(t, "L7-B", f.Downstreams()[0].Name())

	// Unknown names are a no-op
	f.DeregisterDownstream("missing")
	assert.Len(t, f.Downstreams(), 1)

	for i := 0; i < 4; i++ {
		conn := newClientConn(i)
		require.NoError(t, f.HandleConnection(conn))
		assert.Equal(t, "L7-B", f.DownstreamForConnection(conn.ID).Name())
	}
}

func TestForwarderIgnoresNilInput(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t)
	f.RegisterDownstream(nil)
	assert.Empty(t, f.Downstreams())

	require.NoError(t, f.HandleConnection(nil))
	assert.Zero(t, f.Stats().ConnectionsRejected)
}

func TestForwarderConcurrentConnections(t *testing.T) {
	t.Parallel()

	f := newTestForwarder(t)
	e1 := NewEngine("L7-A", logger.Discard())
	e2 := NewEngine("L7-B", logger.Discard())
	f.RegisterDownstream(e1)
	f.RegisterDownstream(e2)

	const n = 40
	conns := make([]*domain.Connection, n)
	for i := range conns {
		conns[i] = newClientConn(i)
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *domain.Connection) {
			defer wg.Done()
			assert.NoError(t, f.HandleConnection(c))
		}(conn)
	}
	wg.Wait()

	stats := f.Stats()
	assert.Equal(t, int64(n), stats.ConnectionsForwarded)
	assert.Equal(t, n, stats.TracedConnections)

	for _, conn := range conns {
		assert.Equal(t, domain.StateEstablished, conn.State())
		assert.NotNil(t, f.DownstreamForConnection(conn.ID))
	}

	// The atomic counter hands every call a unique value, so the two
	// downstreams split the load exactly
	assert.Equal(t, int64(n/2), e1.Stats().ConnectionsAccepted)
	assert.Equal(t, int64(n/2), e2.Stats().ConnectionsAccepted)
}
