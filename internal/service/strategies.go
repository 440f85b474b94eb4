package service

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
)

// RoundRobinStrategy rotates through candidates with an independent counter
// per route key. Rotation is positional: the counter indexes into whatever
// candidate list the caller passes, so when the healthy set shrinks the same
// counter value can land on a different backend than it did a call earlier.
type RoundRobinStrategy struct {
	mu       sync.RWMutex
	counters map[string]*uint64
}

// NewRoundRobinStrategy creates a round-robin strategy. Counters are created
// lazily the first time a route key is seen.
func NewRoundRobinStrategy() domain.Strategy {
	return &RoundRobinStrategy{
		counters: make(map[string]*uint64),
	}
}

func (s *RoundRobinStrategy) Select(routeKey string, req *domain.Request, candidates []*domain.Backend) *domain.Backend {
	if len(candidates) == 0 {
		return nil
	}

	// Every call observes a unique counter value even under contention
	next := atomic.AddUint64(s.counter(routeKey), 1)
	return candidates[(next-1)%uint64(len(candidates))]
}

// counter returns the rotation counter for routeKey, creating it on first use
func (s *RoundRobinStrategy) counter(routeKey string) *uint64 {
	s.mu.RLock()
	c, ok := s.counters[routeKey]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[routeKey]; ok {
		return c
	}
	c = new(uint64)
	s.counters[routeKey] = c
	return c
}

func (s *RoundRobinStrategy) Name() string {
	return "Round Robin"
}

func (s *RoundRobinStrategy) Type() domain.StrategyType {
	return domain.RoundRobinStrategyType
}

// LeastConnectionsStrategy picks the candidate with the fewest in-flight
// requests. Ties go to the earliest candidate in the input order, and the
// input slice is never reordered.
type LeastConnectionsStrategy struct{}

// NewLeastConnectionsStrategy creates a least-connections strategy. It keeps
// no state of its own; the in-flight counts live on the backends.
func NewLeastConnectionsStrategy() domain.Strategy {
	return &LeastConnectionsStrategy{}
}

func (s *LeastConnectionsStrategy) Select(routeKey string, req *domain.Request, candidates []*domain.Backend) *domain.Backend {
	if len(candidates) == 0 {
		return nil
	}

	selected := candidates[0]
	lowest := selected.CurrentConnections()
	for _, candidate := range candidates[1:] {
		if n := candidate.CurrentConnections(); n < lowest {
			selected = candidate
			lowest = n
		}
	}
	return selected
}

func (s *LeastConnectionsStrategy) Name() string {
	return "Least Connections"
}

func (s *LeastConnectionsStrategy) Type() domain.StrategyType {
	return domain.LeastConnectionsStrategyType
}

// RandomStrategy picks a uniformly random candidate
type RandomStrategy struct{}

// NewRandomStrategy creates a random-selection strategy
func NewRandomStrategy() domain.Strategy {
	return &RandomStrategy{}
}

func (s *RandomStrategy) Select(routeKey string, req *domain.Request, candidates []*domain.Backend) *domain.Backend {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

func (s *RandomStrategy) Name() string {
	return "Random"
}

func (s *RandomStrategy) Type() domain.StrategyType {
	return domain.RandomStrategyType
}

// NewStrategy creates a strategy instance for the given type
func NewStrategy(strategyType domain.StrategyType) (domain.Strategy, error) {
	switch strategyType {
	case domain.RoundRobinStrategyType:
		return NewRoundRobinStrategy(), nil
	case domain.LeastConnectionsStrategyType:
		return NewLeastConnectionsStrategy(), nil
	case domain.RandomStrategyType:
		return NewRandomStrategy(), nil
	default:
		return nil, lberrors.NewUnknownStrategyError("strategy_factory", string(strategyType))
	}
}

// AvailableStrategies lists every strategy type the factory can build
func AvailableStrategies() []domain.StrategyType {
	return []domain.StrategyType{
		domain.RoundRobinStrategyType,
		domain.LeastConnectionsStrategyType,
		domain.RandomStrategyType,
	}
}
