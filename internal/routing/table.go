// Package routing implements the prefix route table used by the
// application tier: validated path prefixes mapped to backend pools and
// selection strategies, with longest-prefix matching over the registered
// keys.
package routing

import (
	"sort"
	"strings"
	"sync"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
	"github.com/gowtham/lbsim/pkg/logger"
)

// Route is an inspection snapshot of one table entry
type Route struct {
	Prefix   string              `json:"prefix"`
	Backends []*domain.Backend   `json:"-"`
	Strategy domain.StrategyType `json:"strategy,omitempty"`
}

type routeEntry struct {
	backends []*domain.Backend
	// strategy is empty when the route rides the engine default,
	// resolved at lookup time rather than registration time.
	strategy domain.StrategyType
}

// Table is the prefix route table. Reads dominate; a single RWMutex keeps
// every registration atomic from a matcher's point of view.
type Table struct {
	mu     sync.RWMutex
	routes map[string]routeEntry
	logger *logger.Logger
}

// NewTable creates an empty route table
func NewTable(log *logger.Logger) *Table {
	return &Table{
		routes: make(map[string]routeEntry),
		logger: log,
	}
}

// Register stores or replaces the entry for prefix. The backend list is
// defensively copied so later mutation of the caller's slice does not
// leak into the table. An empty strategy means "use the engine default".
func (t *Table) Register(prefix string, backends []*domain.Backend, strategy domain.StrategyType) error {
	if prefix == "" || !strings.HasPrefix(prefix, "/") {
		return lberrors.NewInvalidPrefixError("route_table", prefix)
	}

	copied := make([]*domain.Backend, len(backends))
	copy(copied, backends)

	t.mu.Lock()
	t.routes[prefix] = routeEntry{backends: copied, strategy: strategy}
	t.mu.Unlock()

	t.logger.WithFields(map[string]interface{}{
		"prefix":   prefix,
		"backends": len(copied),
		"strategy": string(strategy),
	}).Info("Route registered")

	return nil
}

// Deregister removes the entry for prefix along with its strategy
// association. Removing an unknown prefix is a no-op.
func (t *Table) Deregister(prefix string) {
	t.mu.Lock()
	_, existed := t.routes[prefix]
	delete(t.routes, prefix)
	t.mu.Unlock()

	if existed {
		t.logger.WithField("prefix", prefix).Info("Route deregistered")
	}
}

// Match returns the longest registered prefix that is a literal string
// prefix of path, or "" when nothing matches. Matching is not
// segment-aware: "/api" matches "/apiother".
func (t *Table) Match(path string) string {
	if path == "" {
		return ""
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	matched := ""
	for prefix := range t.routes {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(matched) {
			matched = prefix
		}
	}
	return matched
}

// Backends returns a copy of the registered backend list for prefix,
// unfiltered. Unknown prefixes yield an empty slice.
func (t *Table) Backends(prefix string) []*domain.Backend {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.routes[prefix]
	if !ok {
		return nil
	}
	out := make([]*domain.Backend, len(entry.backends))
	copy(out, entry.backends)
	return out
}

// StrategyFor returns the explicit strategy type registered for prefix,
// or "" when the route follows the engine default.
func (t *Table) StrategyFor(prefix string) domain.StrategyType {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.routes[prefix].strategy
}

// Contains reports whether prefix is registered
func (t *Table) Contains(prefix string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.routes[prefix]
	return ok
}

// Prefixes returns the registered prefixes in sorted order
func (t *Table) Prefixes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.routes))
	for prefix := range t.routes {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

// Routes returns an inspection snapshot of every entry, sorted by prefix
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Route, 0, len(t.routes))
	for prefix, entry := range t.routes {
		backends := make([]*domain.Backend, len(entry.backends))
		copy(backends, entry.backends)
		out = append(out, Route{Prefix: prefix, Backends: backends, Strategy: entry.strategy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// Len returns the number of registered routes
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}
