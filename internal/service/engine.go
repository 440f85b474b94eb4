package service

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
	"github.com/gowtham/lbsim/internal/routing"
	"github.com/gowtham/lbsim/pkg/logger"
)

// Engine is the application-level balancing tier. It owns a prefix route
// table, resolves each request to a healthy backend through the route's
// strategy, and annotates traffic with forwarding metadata. All operations
// are safe for concurrent use.
type Engine struct {
	// Counters are updated atomically; keep them first for alignment
	requestsHandled     int64
	routeMisses         int64
	noHealthyBackend    int64
	connectionsAccepted int64

	name   string
	routes *routing.Table
	logger *logger.Logger

	// strategies is populated once at construction and read-only afterwards;
	// instances are shared across routes, which is safe because strategy
	// state is keyed by route key
	strategies map[domain.StrategyType]domain.Strategy

	mu              sync.RWMutex
	defaultStrategy domain.StrategyType
}

// NewEngine creates an application-level engine with the given display name.
// Routes without an explicit strategy use round-robin until the default is
// changed.
func NewEngine(name string, log *logger.Logger) *Engine {
	engineLog := log.EngineLogger(name)

	return &Engine{
		name:   name,
		routes: routing.NewTable(engineLog),
		logger: engineLog,
		strategies: map[domain.StrategyType]domain.Strategy{
			domain.RoundRobinStrategyType:       NewRoundRobinStrategy(),
			domain.LeastConnectionsStrategyType: NewLeastConnectionsStrategy(),
			domain.RandomStrategyType:           NewRandomStrategy(),
		},
		defaultStrategy: domain.RoundRobinStrategyType,
	}
}

// Name returns the engine's display name
func (e *Engine) Name() string {
	return e.name
}

// RegisterRoute maps a path prefix to a backend pool. An empty strategy
// leaves the route on the engine default, resolved at lookup time, so routes
// registered without a strategy follow later default changes.
func (e *Engine) RegisterRoute(prefix string, backends []*domain.Backend, strategy domain.StrategyType) error {
	if strategy != "" {
		if _, ok := e.strategies[strategy]; !ok {
			return lberrors.NewUnknownStrategyError(e.name, string(strategy))
		}
	}
	return e.routes.Register(prefix, backends, strategy)
}

// DeregisterRoute removes a route and its strategy association. Removing an
// unknown prefix is a no-op.
func (e *Engine) DeregisterRoute(prefix string) {
	e.routes.Deregister(prefix)
}

// MatchPrefix returns the longest registered prefix that the path starts
// with, or "" when nothing matches
func (e *Engine) MatchPrefix(path string) string {
	return e.routes.Match(path)
}

// SelectBackend picks a healthy backend for the given registered prefix.
// Health is evaluated fresh on every call. Returns nil when the prefix is
// unknown or no healthy backend exists.
func (e *Engine) SelectBackend(prefix string, req *domain.Request) *domain.Backend {
	backends := e.routes.Backends(prefix)
	if len(backends) == 0 {
		return nil
	}

	healthy := make([]*domain.Backend, 0, len(backends))
	for _, b := range backends {
		if b != nil && b.IsHealthy() {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) == 0 {
		return nil
	}

	return e.strategyFor(prefix).Select(prefix, req, healthy)
}

// strategyFor resolves the effective strategy for a prefix: the route's own
// when set, else the engine default at this moment
func (e *Engine) strategyFor(prefix string) domain.Strategy {
	strategyType := e.routes.StrategyFor(prefix)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if strategyType == "" {
		strategyType = e.defaultStrategy
	}
	return e.strategies[strategyType]
}

// HandleRequest dispatches one request through the full chain: prefix match,
// health-filtered selection, forwarding-header injection, synchronous
// backend serve, response annotation. Routing misses and unavailable pools
// come back as synthesized 404/503 responses rather than errors. The calling
// goroutine blocks for the backend's simulated latency.
func (e *Engine) HandleRequest(req *domain.Request, conn *domain.Connection) *domain.Response {
	if req == nil {
		return nil
	}
	atomic.AddInt64(&e.requestsHandled, 1)

	prefix := e.routes.Match(req.Path)
	if prefix == "" {
		atomic.AddInt64(&e.routeMisses, 1)
		e.logger.WithFields(map[string]interface{}{
			"path":   req.Path,
			"method": req.Method,
		}).Warn("No route for request path")

		resp := domain.NewResponse(http.StatusNotFound, "Not Found", "No route for "+req.Path)
		resp.ProducedBy = e.name
		return resp
	}

	backend := e.SelectBackend(prefix, req)
	if backend == nil {
		atomic.AddInt64(&e.noHealthyBackend, 1)
		e.logger.WithFields(map[string]interface{}{
			"path":   req.Path,
			"prefix": prefix,
		}).Warn("No healthy backend for prefix")

		resp := domain.NewResponse(http.StatusServiceUnavailable, "Service Unavailable", "No healthy backend for "+prefix)
		resp.ProducedBy = e.name
		return resp
	}

	if conn != nil {
		req.SetHeader("X-Forwarded-For", conn.Client.IP)
		req.SetHeader("X-Forwarded-Proto", "https")
	} else if req.Client.IP != "" {
		req.SetHeader("X-Forwarded-For", req.Client.IP)
	}

	e.logger.WithFields(map[string]interface{}{
		"path":    req.Path,
		"prefix":  prefix,
		"backend": backend.Name,
	}).Debug("Routing request to backend")

	resp := backend.Serve(req, conn)

	resp.SetHeader("Via-LB", e.name)

	if conn != nil {
		conn.AddBytesToBackend(int64(len(req.Body)))
		conn.AddBytesToClient(int64(len(resp.Body)))
	}

	e.logger.WithFields(map[string]interface{}{
		"backend": backend.Name,
		"status":  resp.StatusCode,
	}).Debug("Received response from backend")

	return resp
}

// HandleConnection completes acceptance of a forwarded connection by marking
// it established, standing in for handshake termination. Requests arrive
// separately through HandleRequest.
func (e *Engine) HandleConnection(conn *domain.Connection) error {
	if conn == nil {
		return nil
	}
	atomic.AddInt64(&e.connectionsAccepted, 1)

	conn.Establish()
	e.logger.WithFields(map[string]interface{}{
		"connection_id": conn.ID,
		"client":        conn.Client.String(),
	}).Debug("Connection established")

	return nil
}

// SetDefaultStrategy changes the strategy used by routes without an explicit
// one. Takes effect on the next lookup.
func (e *Engine) SetDefaultStrategy(strategyType domain.StrategyType) error {
	if _, ok := e.strategies[strategyType]; !ok {
		return lberrors.NewUnknownStrategyError(e.name, string(strategyType))
	}

	e.mu.Lock()
	e.defaultStrategy = strategyType
	e.mu.Unlock()

	e.logger.Infof("Default strategy set to: %s", strategyType)
	return nil
}

// DefaultStrategy returns the current default strategy type
func (e *Engine) DefaultStrategy() domain.StrategyType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaultStrategy
}

// RegisteredPrefixes returns the registered prefixes in sorted order
func (e *Engine) RegisteredPrefixes() []string {
	return e.routes.Prefixes()
}

// BackendsForPrefix returns a copy of the backend pool registered for an
// exact prefix, or nil when the prefix is unknown
func (e *Engine) BackendsForPrefix(prefix string) []*domain.Backend {
	return e.routes.Backends(prefix)
}

// Routes returns a snapshot of the full route table for inspection
func (e *Engine) Routes() []routing.Route {
	return e.routes.Routes()
}

// Stats returns a snapshot of the engine's counters
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Name:                e.name,
		DefaultStrategy:     string(e.DefaultStrategy()),
		Routes:              e.routes.Len(),
		RequestsHandled:     atomic.LoadInt64(&e.requestsHandled),
		RouteMisses:         atomic.LoadInt64(&e.routeMisses),
		NoHealthyBackend:    atomic.LoadInt64(&e.noHealthyBackend),
		ConnectionsAccepted: atomic.LoadInt64(&e.connectionsAccepted),
	}
}
