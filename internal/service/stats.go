package service

// EngineStats is a point-in-time snapshot of one engine's counters. Counter
// fields are read atomically but independently, so a snapshot taken under
// load may be internally skewed by in-flight requests.
type EngineStats struct {
	Name                string `json:"name"`
	DefaultStrategy     string `json:"default_strategy"`
	Routes              int    `json:"routes"`
	RequestsHandled     int64  `json:"requests_handled"`
	RouteMisses         int64  `json:"route_misses"`
	NoHealthyBackend    int64  `json:"no_healthy_backend"`
	ConnectionsAccepted int64  `json:"connections_accepted"`
}

// ForwarderStats is a point-in-time snapshot of one forwarder's counters
type ForwarderStats struct {
	Name                 string `json:"name"`
	PublicAddress        string `json:"public_address"`
	Downstreams          int    `json:"downstreams"`
	ConnectionsForwarded int64  `json:"connections_forwarded"`
	ConnectionsRejected  int64  `json:"connections_rejected"`
	CapabilityMismatches int64  `json:"capability_mismatches"`
	TracedConnections    int    `json:"traced_connections"`
}
