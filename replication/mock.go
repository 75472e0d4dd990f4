package replication

import (
	"context"
	"fmt"
	"sync"

	"github.com/getpup/shardmover"
)

// MockStrategy is a mock implementation of Strategy for testing.
// Without hooks every call succeeds and IsCaughtUp reports true.
type MockStrategy struct {
	mu sync.Mutex

	KindValue shardmover.StrategyKind

	StartFunc      func(ctx context.Context) error
	IsCaughtUpFunc func(ctx context.Context) (bool, error)
	RefreshFunc    func(ctx context.Context) error
	StopFunc       func(ctx context.Context) error

	StartCalls      int
	IsCaughtUpCalls int
	RefreshCalls    int
	StopCalls       int
}

var _ Strategy = (*MockStrategy)(nil)

// NewMockStrategy creates a MockStrategy of the given kind.
func NewMockStrategy(kind shardmover.StrategyKind) *MockStrategy {
	return &MockStrategy{KindValue: kind}
}

// Kind implements Strategy.
func (m *MockStrategy) Kind() shardmover.StrategyKind {
	return m.KindValue
}

// Handle implements Strategy.
func (m *MockStrategy) Handle() Handle {
	return Handle{Strategy: m.KindValue}
}

// Start implements Strategy.
func (m *MockStrategy) Start(ctx context.Context) error {
	m.mu.Lock()
	m.StartCalls++
	m.mu.Unlock()

	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return nil
}

// IsCaughtUp implements Strategy.
func (m *MockStrategy) IsCaughtUp(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.IsCaughtUpCalls++
	m.mu.Unlock()

	if m.IsCaughtUpFunc != nil {
		return m.IsCaughtUpFunc(ctx)
	}
	return true, nil
}

// Refresh implements Strategy.
func (m *MockStrategy) Refresh(ctx context.Context) error {
	m.mu.Lock()
	m.RefreshCalls++
	m.mu.Unlock()

	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return nil
}

// Stop implements Strategy.
func (m *MockStrategy) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.StopCalls++
	m.mu.Unlock()

	if m.StopFunc != nil {
		return m.StopFunc(ctx)
	}
	return nil
}

// MockProvider is a mock implementation of Provider for testing.
// Without hooks Probe reports the native strategy as available and New returns
// the strategy registered for the kind in Strategies.
type MockProvider struct {
	mu sync.Mutex

	ProbeFunc  func(ctx context.Context) (bool, error)
	Strategies map[shardmover.StrategyKind]Strategy

	ProbeCalls int
	NewCalls   []shardmover.StrategyKind
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a MockProvider with one mock strategy per kind.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Strategies: map[shardmover.StrategyKind]Strategy{
			shardmover.StrategyNative:   NewMockStrategy(shardmover.StrategyNative),
			shardmover.StrategySnapshot: NewMockStrategy(shardmover.StrategySnapshot),
		},
	}
}

// Native returns the registered native strategy as a mock.
func (m *MockProvider) Native() *MockStrategy {
	s, _ := m.Strategies[shardmover.StrategyNative].(*MockStrategy)
	return s
}

// Snapshot returns the registered snapshot strategy as a mock.
func (m *MockProvider) Snapshot() *MockStrategy {
	s, _ := m.Strategies[shardmover.StrategySnapshot].(*MockStrategy)
	return s
}

// Probe implements Provider.
func (m *MockProvider) Probe(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.ProbeCalls++
	m.mu.Unlock()

	if m.ProbeFunc != nil {
		return m.ProbeFunc(ctx)
	}
	return true, nil
}

// New implements Provider.
func (m *MockProvider) New(kind shardmover.StrategyKind) (Strategy, error) {
	m.mu.Lock()
	m.NewCalls = append(m.NewCalls, kind)
	m.mu.Unlock()

	s, ok := m.Strategies[kind]
	if !ok {
		return nil, fmt.Errorf("no mock strategy for %q", kind)
	}
	return s, nil
}
