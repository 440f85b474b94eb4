/*
Package domain contains the core entities of the load-balancing
simulation fabric: connections, requests, responses, backends, and the
contracts the tiers program against.

Nothing in this package performs real network I/O. A Connection is a
logical record of a transport session (addressing, lifecycle state,
byte counters); a Backend simulates serving by sleeping inside a
configured latency range. The balancing tiers in internal/service
rewrite and route these records.

Connection lifecycle:

Connections move monotonically through NEW -> ESTABLISHED -> CLOSED.
Establish only transitions from NEW and is otherwise a no-op; Close
records its timestamp once and keeps it on repeated calls.

	conn := domain.NewConnection(client, dest, "tcp")
	conn.Establish()
	conn.Establish() // no effect
	conn.Close()

Backend entity:

A Backend tracks a mutable health flag and an in-flight serve count.
Both are safe under concurrent access: the count uses atomic operations
so it returns to zero exactly when all concurrent serves finish.

	b := domain.NewBackend("api-1", "10.0.0.11", 8080, 20*time.Millisecond, 40*time.Millisecond)
	resp := b.Serve(req, conn)
	if b.IsHealthy() && b.CurrentConnections() == 0 {
		// idle and routable
	}

Selection strategies:

Strategy is the pluggable selection contract. Implementations live in
internal/service and are keyed by route, never by backend identity, so
one instance serves every route that uses it. New policies plug in
without touching the engines.

Forwarding contract:

Downstream is the capability the transport tier requires of its
targets. A target that cannot terminate connections signals it with a
typed error instead of failing, and the forwarder handles that locally.

Thread safety:

Counters (bytes, in-flight) use atomics; flag and state fields sit
behind read-write mutexes. Header maps on Request and Response are
guarded so tiers can annotate them while observers read.
*/
package domain
