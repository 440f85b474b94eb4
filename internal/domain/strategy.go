package domain

// StrategyType identifies a backend-selection policy for configuration matching
type StrategyType string

const (
	// RoundRobinStrategyType rotates through candidates independently per route
	RoundRobinStrategyType StrategyType = "round_robin"
	// LeastConnectionsStrategyType picks the candidate with the fewest in-flight requests
	LeastConnectionsStrategyType StrategyType = "least_connections"
	// RandomStrategyType picks a uniformly random candidate
	RandomStrategyType StrategyType = "random"
)

// Strategy selects one backend from an already health-filtered candidate
// list. Implementations hold no per-backend identity state; any state they
// keep is keyed by routeKey, so one instance is safely shared across all
// routes that use it.
type Strategy interface {
	// Select returns the chosen backend, or nil when candidates is empty.
	// It must never fail on empty input.
	Select(routeKey string, req *Request, candidates []*Backend) *Backend

	// Name returns the human-readable name of the strategy
	Name() string

	// Type returns the strategy type for configuration matching
	Type() StrategyType
}

// Downstream is a target the transport tier can forward connections to.
// Both balancing tiers implement it.
type Downstream interface {
	// Name returns the display name used in logs and the trace table
	Name() string

	// HandleConnection completes acceptance of a forwarded connection.
	// Targets that cannot terminate transport-level connections return an
	// error carrying the CONNECTION_NOT_SUPPORTED code; the forwarder
	// treats that as an expected, locally handled condition.
	HandleConnection(conn *Connection) error
}
