/*
Package service implements the two balancing tiers of the simulation fabric:
the transport-level Forwarder and the application-level Engine, plus the
pluggable backend-selection strategies they dispatch through.

Key Components:

Forwarder (transport tier):
Accepts logical connections, applies a NAT mapping derived deterministically
from the connection id, picks a downstream target round-robin, and hands the
connection over. Forwarding decisions are traced per connection id.

	l4 := service.NewForwarder("L4-Main", "52.34.10.5", "10.0.0.2", log)
	l4.RegisterDownstream(engine)
	l4.HandleConnection(conn)

	// Which downstream owns a connection?
	d := l4.DownstreamForConnection(conn.ID)

Engine (application tier):
Owns the prefix route table. Requests are matched longest-prefix, filtered
to healthy backends, and dispatched through the route's strategy (or the
engine default when the route has none).

	l7 := service.NewEngine("App-L7", log)
	if err := l7.RegisterRoute("/api", apiPool, domain.LeastConnectionsStrategyType); err != nil {
		log.WithError(err).Fatal("Invalid route")
	}

	resp := l7.HandleRequest(req, conn)

HandleRequest never returns an error: routing misses synthesize a 404
response and an empty healthy set synthesizes a 503, both produced by the
engine itself. The call blocks for the chosen backend's simulated latency.

Selection Strategies:
Strategy instances are shared across routes. Round-robin keeps one counter
per route key, so rotation for one route never disturbs another:

	strategy := service.NewRoundRobinStrategy()
	backend := strategy.Select("/api", req, healthyBackends)

Least-connections scans for the lowest in-flight count with a stable,
first-wins tie-break and never reorders its input. Random picks uniformly.
The factory builds instances from configuration names:

	strategy, err := service.NewStrategy(domain.StrategyType("least_connections"))

Statistics:
Both tiers expose point-in-time counter snapshots for inspection:

	es := l7.Stats()  // requests handled, route misses, no-healthy-backend
	fs := l4.Stats()  // connections forwarded, rejected, capability mismatches

Thread Safety:
All operations are safe for concurrent use. Rotation counters and tier
counters use atomic increments so no selection or request is ever lost to a
race; the downstream list, route table, and trace table are guarded by
read-write mutexes so a reader never observes a partial update. Nothing in
this package accepts a deadline: every call runs to completion, including
the backend latency sleep.
*/
package service
