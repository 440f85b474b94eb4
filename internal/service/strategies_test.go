package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
)

// testPool builds zero-latency healthy backends for selection tests
func testPool(names ...string) []*domain.Backend {
	pool := make([]*domain.Backend, 0, len(names))
	for i, name := range names {
		pool = append(pool, domain.NewBackend(name, fmt.Sprintf("10.0.0.%d", 11+i), 8080, 0, 0))
	}
	return pool
}

// occupy launches n serve calls against b and blocks until all of them are
// in flight. The caller waits on wg to drain them.
func occupy(t *testing.T, wg *sync.WaitGroup, b *domain.Backend, n int) {
	t.Helper()

	req := domain.NewRequest("GET", "/api/busy", "", domain.Address{IP: "203.0.113.100", Port: 40000})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Serve(req, nil)
		}()
	}
	require.Eventually(t, func() bool {
		return b.CurrentConnections() == int64(n)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRoundRobinFairRotation(t *testing.T) {
	t.Parallel()

	strategy := NewRoundRobinStrategy()
	pool := testPool("api-1", "api-2", "api-3")

	counts := make(map[string]int)
	for i := 0; i < 300; i++ {
		selected := strategy.Select("/api", nil, pool)
		require.NotNil(t, selected)
		assert.Equal(t, pool[i%3].Name, selected.Name, "Selection must follow strict rotation order")
		counts[selected.Name]++
	}

	for _, b := range pool {
		assert.Equal(t, 100, counts[b.Name], "Backend %s should be selected exactly 100 times", b.Name)
	}
}

func TestRoundRobinCountersIndependentPerRoute(t *testing.T) {
	t.Parallel()

	strategy := NewRoundRobinStrategy()
	pool := testPool("api-1", "api-2", "api-3")

	assert.Equal(t, "api-1", strategy.Select("/api", nil, pool).Name)
	assert.Equal(t, "api-1", strategy.Select("/img", nil, pool).Name, "A fresh route key starts its own rotation")
	assert.Equal(t, "api-2", strategy.Select("/api", nil, pool).Name)
	assert.Equal(t, "api-2", strategy.Select("/img", nil, pool).Name)
	assert.Equal(t, "api-3", strategy.Select("/api", nil, pool).Name)
}

func TestRoundRobinRotationIsPositional(t *testing.T) {
	t.Parallel()

	strategy := NewRoundRobinStrategy()
	pool := testPool("api-1", "api-2", "api-3")

	assert.Equal(t, "api-1", strategy.Select("/api", nil, pool).Name)

	// The counter keeps advancing over positions, not backend identities,
	// when the candidate list shrinks between calls
	shrunk := pool[1:]
	assert.Equal(t, "api-3", strategy.Select("/api", nil, shrunk).Name)
	assert.Equal(t, "api-2", strategy.Select("/api", nil, shrunk).Name)
}

func TestRoundRobinConcurrentFairness(t *testing.T) {
	t.Parallel()

	strategy := NewRoundRobinStrategy()
	pool := testPool("api-1", "api-2", "api-3")

	const workers = 30
	const perWorker = 100

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[string]int)
			for j := 0; j < perWorker; j++ {
				selected := strategy.Select("/api", nil, pool)
				local[selected.Name]++
			}
			mu.Lock()
			for name, n := range local {
				counts[name] += n
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Every call observes a unique counter value, so the split is exact
	// even though per-goroutine ordering is arbitrary
	for _, b := range pool {
		assert.Equal(t, workers*perWorker/3, counts[b.Name], "Increments must never be lost under concurrency")
	}
}

func TestLeastConnectionsStableTieBreak(t *testing.T) {
	t.Parallel()

	strategy := NewLeastConnectionsStrategy()

	const hold = 500 * time.Millisecond
	busy := domain.NewBackend("api-1", "10.0.0.11", 8080, hold, hold)
	tied1 := domain.NewBackend("api-2", "10.0.0.12", 8080, hold, hold)
	tied2 := domain.NewBackend("api-3", "10.0.0.13", 8080, hold, hold)

	var wg sync.WaitGroup
	occupy(t, &wg, busy, 5)
	occupy(t, &wg, tied1, 2)
	occupy(t, &wg, tied2, 2)

	pool := []*domain.Backend{busy, tied1, tied2}
	selected := strategy.Select("/api", nil, pool)
	require.NotNil(t, selected)
	assert.Equal(t, "api-2", selected.Name, "First backend among the tied minimums wins")

	// The input slice is never reordered
	assert.Same(t, busy, pool[0])
	assert.Same(t, tied1, pool[1])
	assert.Same(t, tied2, pool[2])

	wg.Wait()
}

func TestLeastConnectionsAllIdleReturnsFirst(t *testing.T) {
	t.Parallel()

	strategy := NewLeastConnectionsStrategy()
	pool := testPool("api-1", "api-2", "api-3")

	for i := 0; i < 5; i++ {
		assert.Equal(t, "api-1", strategy.Select("/api", nil, pool).Name)
	}
}

func TestRandomSelectsFromCandidates(t *testing.T) {
	t.Parallel()

	strategy := NewRandomStrategy()
	pool := testPool("api-1", "api-2", "api-3")

	seen := make(map[string]bool)
	for i := 0; i < 300; i++ {
		selected := strategy.Select("/img", nil, pool)
		require.NotNil(t, selected)
		seen[selected.Name] = true
	}
	assert.Len(t, seen, 3, "Every candidate should be hit over enough draws")
}

func TestStrategiesTreatEmptyCandidatesAsNoSelection(t *testing.T) {
	t.Parallel()

	strategies := []domain.Strategy{
		NewRoundRobinStrategy(),
		NewLeastConnectionsStrategy(),
		NewRandomStrategy(),
	}
	for _, s := range strategies {
		assert.Nil(t, s.Select("/api", nil, nil), "%s must treat nil candidates as no selection", s.Name())
		assert.Nil(t, s.Select("/api", nil, []*domain.Backend{}), "%s must treat empty candidates as no selection", s.Name())
	}
}

func TestNewStrategyFactory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		strategyType domain.StrategyType
		wantName     string
	}{
		{domain.RoundRobinStrategyType, "Round Robin"},
		{domain.LeastConnectionsStrategyType, "Least Connections"},
		{domain.RandomStrategyType, "Random"},
	}

	for _, tt := range tests {
		s, err := NewStrategy(tt.strategyType)
		require.NoError(t, err)
		assert.Equal(t, tt.wantName, s.Name())
		assert.Equal(t, tt.strategyType, s.Type())
	}

	_, err := NewStrategy(domain.StrategyType("ip_hash"))
	require.Error(t, err)
	assert.True(t, lberrors.HasCode(err, lberrors.ErrCodeUnknownStrategy))

	assert.Len(t, AvailableStrategies(), 3)
}
