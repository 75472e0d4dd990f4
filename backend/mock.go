package backend

import (
	"context"
	"sync"

	"github.com/getpup/shardmover"
)

// MockBackend is a configurable mock implementation of Backend for use in tests.
// Methods without a Func hook succeed with zero values; Query returns an empty slice.
type MockBackend struct {
	mu sync.Mutex

	RefValue     shardmover.ShardRef
	DialectValue Dialect

	ExecFunc           func(ctx context.Context, query string, args ...interface{}) (int64, error)
	QueryFunc          func(ctx context.Context, query string, args ...interface{}) ([]Row, error)
	TxFunc             func(ctx context.Context, fn func(tx Executor) error) error
	SessionFunc        func(ctx context.Context) (Session, error)
	EnsureDatabaseFunc func(ctx context.Context) error
	CreateTableFunc    func(ctx context.Context, spec shardmover.TableSpec) error
	TableExistsFunc    func(ctx context.Context, table string) (bool, error)
	DropTableFunc      func(ctx context.Context, table string) error
	CloseFunc          func() error

	// Call tracking
	ExecCalls           []StatementCall
	QueryCalls          []StatementCall
	TxCalls             int
	SessionCalls        int
	EnsureDatabaseCalls int
	CreateTableCalls    []shardmover.TableSpec
	TableExistsCalls    []string
	DropTableCalls      []string
	CloseCalls          int
}

// StatementCall records one Exec or Query.
type StatementCall struct {
	Query string
	Args  []interface{}
}

var _ Backend = (*MockBackend)(nil)

// NewMockBackend creates a mock for ref using the MySQL dialect.
func NewMockBackend(ref shardmover.ShardRef) *MockBackend {
	return &MockBackend{RefValue: ref, DialectValue: MySQL{}}
}

func (m *MockBackend) Ref() shardmover.ShardRef { return m.RefValue }

func (m *MockBackend) Dialect() Dialect { return m.DialectValue }

// Exec implements Executor.
func (m *MockBackend) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	m.mu.Lock()
	m.ExecCalls = append(m.ExecCalls, StatementCall{Query: query, Args: args})
	m.mu.Unlock()

	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, query, args...)
	}
	return 0, nil
}

// Query implements Executor.
func (m *MockBackend) Query(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	m.mu.Lock()
	m.QueryCalls = append(m.QueryCalls, StatementCall{Query: query, Args: args})
	m.mu.Unlock()

	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, query, args...)
	}
	return []Row{}, nil
}

// Tx implements Backend. Without a hook fn runs against the mock itself.
func (m *MockBackend) Tx(ctx context.Context, fn func(tx Executor) error) error {
	m.mu.Lock()
	m.TxCalls++
	m.mu.Unlock()

	if m.TxFunc != nil {
		return m.TxFunc(ctx, fn)
	}
	return fn(m)
}

// Session implements Backend. Without a hook the session is the mock itself.
func (m *MockBackend) Session(ctx context.Context) (Session, error) {
	m.mu.Lock()
	m.SessionCalls++
	m.mu.Unlock()

	if m.SessionFunc != nil {
		return m.SessionFunc(ctx)
	}
	return mockSession{m}, nil
}

// EnsureDatabase implements Backend.
func (m *MockBackend) EnsureDatabase(ctx context.Context) error {
	m.mu.Lock()
	m.EnsureDatabaseCalls++
	m.mu.Unlock()

	if m.EnsureDatabaseFunc != nil {
		return m.EnsureDatabaseFunc(ctx)
	}
	return nil
}

// CreateTable implements Backend.
func (m *MockBackend) CreateTable(ctx context.Context, spec shardmover.TableSpec) error {
	m.mu.Lock()
	m.CreateTableCalls = append(m.CreateTableCalls, spec)
	m.mu.Unlock()

	if m.CreateTableFunc != nil {
		return m.CreateTableFunc(ctx, spec)
	}
	return nil
}

// TableExists implements Backend.
func (m *MockBackend) TableExists(ctx context.Context, table string) (bool, error) {
	m.mu.Lock()
	m.TableExistsCalls = append(m.TableExistsCalls, table)
	m.mu.Unlock()

	if m.TableExistsFunc != nil {
		return m.TableExistsFunc(ctx, table)
	}
	return true, nil
}

// DropTable implements Backend.
func (m *MockBackend) DropTable(ctx context.Context, table string) error {
	m.mu.Lock()
	m.DropTableCalls = append(m.DropTableCalls, table)
	m.mu.Unlock()

	if m.DropTableFunc != nil {
		return m.DropTableFunc(ctx, table)
	}
	return nil
}

// Close implements Backend.
func (m *MockBackend) Close() error {
	m.mu.Lock()
	m.CloseCalls++
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Statements returns every Exec query in call order.
func (m *MockBackend) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.ExecCalls))
	for i, c := range m.ExecCalls {
		out[i] = c.Query
	}
	return out
}

// Reset clears all recorded calls.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExecCalls = nil
	m.QueryCalls = nil
	m.TxCalls = 0
	m.SessionCalls = 0
	m.EnsureDatabaseCalls = 0
	m.CreateTableCalls = nil
	m.TableExistsCalls = nil
	m.DropTableCalls = nil
	m.CloseCalls = 0
}

type mockSession struct {
	*MockBackend
}

func (mockSession) Close() error { return nil }
