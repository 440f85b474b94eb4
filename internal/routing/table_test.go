package routing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
	"github.com/gowtham/lbsim/pkg/logger"
)

func newTestBackends(names ...string) []*domain.Backend {
	backends := make([]*domain.Backend, 0, len(names))
	for i, name := range names {
		backends = append(backends, domain.NewBackend(name, fmt.Sprintf("10.0.0.%d", 11+i), 8080, 0, 0))
	}
	return backends
}

// TestTableRegisterValidation verifies malformed prefixes never enter the table
func TestTableRegisterValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prefix  string
		wantErr bool
	}{
		{name: "Valid prefix", prefix: "/api", wantErr: false},
		{name: "Root prefix", prefix: "/", wantErr: false},
		{name: "Empty prefix rejected", prefix: "", wantErr: true},
		{name: "Missing separator rejected", prefix: "api", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewTable(logger.Discard())
			err := table.Register(tt.prefix, newTestBackends("api-1"), "")

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeInvalidArgument),
					"Registration failures carry the invalid argument code")
				assert.Equal(t, 0, table.Len(), "Rejected prefixes must not enter the table")
			} else {
				require.NoError(t, err)
				assert.True(t, table.Contains(tt.prefix))
			}
		})
	}
}

// TestTableLongestPrefixMatch verifies longest-match semantics including the
// literal (non segment-aware) edge cases
func TestTableLongestPrefixMatch(t *testing.T) {
	t.Parallel()

	table := NewTable(logger.Discard())
	require.NoError(t, table.Register("/api", newTestBackends("api-1"), ""))
	require.NoError(t, table.Register("/api/v2", newTestBackends("api-2"), ""))

	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{name: "Longer prefix wins", path: "/api/v2/x", expected: "/api/v2"},
		{name: "Shorter prefix for non-v2 path", path: "/api/v1/x", expected: "/api"},
		{name: "Literal match is not segment-aware", path: "/apiother", expected: "/api"},
		{name: "No false match on shorter string", path: "/ap", expected: ""},
		{name: "Unrelated path", path: "/img/photo.jpg", expected: ""},
		{name: "Empty path never matches", path: "", expected: ""},
		{name: "Exact prefix", path: "/api", expected: "/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, table.Match(tt.path))
		})
	}
}

// TestTableDefensiveCopy verifies later mutation of the caller's slice does
// not affect the registered route
func TestTableDefensiveCopy(t *testing.T) {
	t.Parallel()

	table := NewTable(logger.Discard())
	backends := newTestBackends("api-1", "api-2")
	require.NoError(t, table.Register("/api", backends, ""))

	backends[0] = domain.NewBackend("intruder", "10.9.9.9", 9999, 0, 0)

	stored := table.Backends("/api")
	require.Len(t, stored, 2)
	assert.Equal(t, "api-1", stored[0].Name, "Registered list must be isolated from the caller's slice")

	// The snapshot itself is a copy, too
	stored[1] = nil
	again := table.Backends("/api")
	assert.Equal(t, "api-2", again[1].Name)
}

// TestTableReplaceAndDeregister verifies re-registration replaces atomically
// and deregistration is idempotent
func TestTableReplaceAndDeregister(t *testing.T) {
	t.Parallel()

	table := NewTable(logger.Discard())
	require.NoError(t, table.Register("/api", newTestBackends("api-1"), ""))
	require.NoError(t, table.Register("/api", newTestBackends("api-2", "api-3"), domain.LeastConnectionsStrategyType))

	stored := table.Backends("/api")
	require.Len(t, stored, 2)
	assert.Equal(t, "api-2", stored[0].Name)
	assert.Equal(t, domain.LeastConnectionsStrategyType, table.StrategyFor("/api"))

	table.Deregister("/api")
	assert.False(t, table.Contains("/api"))
	assert.Empty(t, table.Backends("/api"))
	assert.Equal(t, domain.StrategyType(""), table.StrategyFor("/api"), "Strategy association goes away with the route")

	// Idempotent on unknown prefixes
	table.Deregister("/api")
	table.Deregister("/never-registered")
}

// TestTableSnapshots verifies the sorted inspection views
func TestTableSnapshots(t *testing.T) {
	t.Parallel()

	table := NewTable(logger.Discard())
	require.NoError(t, table.Register("/img", newTestBackends("img-1"), domain.LeastConnectionsStrategyType))
	require.NoError(t, table.Register("/api", newTestBackends("api-1", "api-2"), ""))

	assert.Equal(t, []string{"/api", "/img"}, table.Prefixes())

	routes := table.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "/api", routes[0].Prefix)
	assert.Len(t, routes[0].Backends, 2)
	assert.Equal(t, domain.StrategyType(""), routes[0].Strategy)
	assert.Equal(t, "/img", routes[1].Prefix)
	assert.Equal(t, domain.LeastConnectionsStrategyType, routes[1].Strategy)
}

// TestTableConcurrentAccess verifies registration is atomic from a matcher's
// point of view
func TestTableConcurrentAccess(t *testing.T) {
	t.Parallel()

	table := NewTable(logger.Discard())
	require.NoError(t, table.Register("/api", newTestBackends("api-1", "api-2", "api-3"), ""))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			prefix := fmt.Sprintf("/svc%d", n)
			assert.NoError(t, table.Register(prefix, newTestBackends("api-1"), ""))
			table.Deregister(prefix)
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if got := table.Match("/api/resource/1"); got != "" {
					assert.Equal(t, "/api", got)
					assert.Len(t, table.Backends(got), 3, "A reader must never observe a half-inserted route")
				}
			}
		}()
	}
	wg.Wait()

	assert.True(t, table.Contains("/api"))
}
