package routing

import (
	"context"
	"sync"

	"github.com/getpup/shardmover"
)

// MockStore is a configurable mock implementation of Store for use in tests.
// A method with a Func hook calls the hook; otherwise it forwards to Delegate when set,
// and returns zero values when not.
type MockStore struct {
	mu sync.Mutex

	// Delegate receives calls that have no hook (optional).
	Delegate Store

	PathExistsFunc     func(ctx context.Context, path string) (bool, error)
	CreatePathFunc     func(ctx context.Context, path string) error
	ReadDocumentFunc   func(ctx context.Context, path string) (shardmover.RoutingDocument, error)
	WriteDocumentFunc  func(ctx context.Context, path string, doc shardmover.RoutingDocument) error
	ReadVersionFunc    func(ctx context.Context, path string) (shardmover.RoutingDocument, int64, error)
	CompareAndSwapFunc func(ctx context.Context, path string, doc shardmover.RoutingDocument, version int64) error

	// Call tracking
	PathExistsCalls     []string
	CreatePathCalls     []string
	ReadDocumentCalls   []string
	WriteDocumentCalls  []WriteDocumentCall
	ReadVersionCalls    []string
	CompareAndSwapCalls []CompareAndSwapCall
}

// WriteDocumentCall records one WriteDocument.
type WriteDocumentCall struct {
	Path     string
	Document shardmover.RoutingDocument
}

// CompareAndSwapCall records one CompareAndSwap.
type CompareAndSwapCall struct {
	Path     string
	Document shardmover.RoutingDocument
	Version  int64
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a mock forwarding unhooked calls to delegate, which may be nil.
func NewMockStore(delegate Store) *MockStore {
	return &MockStore{Delegate: delegate}
}

// PathExists implements Store.
func (m *MockStore) PathExists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	m.PathExistsCalls = append(m.PathExistsCalls, path)
	m.mu.Unlock()

	switch {
	case m.PathExistsFunc != nil:
		return m.PathExistsFunc(ctx, path)
	case m.Delegate != nil:
		return m.Delegate.PathExists(ctx, path)
	}
	return false, nil
}

// CreatePath implements Store.
func (m *MockStore) CreatePath(ctx context.Context, path string) error {
	m.mu.Lock()
	m.CreatePathCalls = append(m.CreatePathCalls, path)
	m.mu.Unlock()

	switch {
	case m.CreatePathFunc != nil:
		return m.CreatePathFunc(ctx, path)
	case m.Delegate != nil:
		return m.Delegate.CreatePath(ctx, path)
	}
	return nil
}

// ReadDocument implements Store.
func (m *MockStore) ReadDocument(ctx context.Context, path string) (shardmover.RoutingDocument, error) {
	m.mu.Lock()
	m.ReadDocumentCalls = append(m.ReadDocumentCalls, path)
	m.mu.Unlock()

	switch {
	case m.ReadDocumentFunc != nil:
		return m.ReadDocumentFunc(ctx, path)
	case m.Delegate != nil:
		return m.Delegate.ReadDocument(ctx, path)
	}
	return shardmover.RoutingDocument{}, shardmover.ErrNotFound
}

// WriteDocument implements Store.
func (m *MockStore) WriteDocument(ctx context.Context, path string, doc shardmover.RoutingDocument) error {
	m.mu.Lock()
	m.WriteDocumentCalls = append(m.WriteDocumentCalls, WriteDocumentCall{Path: path, Document: doc})
	m.mu.Unlock()

	switch {
	case m.WriteDocumentFunc != nil:
		return m.WriteDocumentFunc(ctx, path, doc)
	case m.Delegate != nil:
		return m.Delegate.WriteDocument(ctx, path, doc)
	}
	return nil
}

// ReadVersion implements Store.
func (m *MockStore) ReadVersion(ctx context.Context, path string) (shardmover.RoutingDocument, int64, error) {
	m.mu.Lock()
	m.ReadVersionCalls = append(m.ReadVersionCalls, path)
	m.mu.Unlock()

	switch {
	case m.ReadVersionFunc != nil:
		return m.ReadVersionFunc(ctx, path)
	case m.Delegate != nil:
		return m.Delegate.ReadVersion(ctx, path)
	}
	return shardmover.NewRoutingDocument(), 0, nil
}

// CompareAndSwap implements Store.
func (m *MockStore) CompareAndSwap(ctx context.Context, path string, doc shardmover.RoutingDocument, version int64) error {
	m.mu.Lock()
	m.CompareAndSwapCalls = append(m.CompareAndSwapCalls, CompareAndSwapCall{Path: path, Document: doc, Version: version})
	m.mu.Unlock()

	switch {
	case m.CompareAndSwapFunc != nil:
		return m.CompareAndSwapFunc(ctx, path, doc, version)
	case m.Delegate != nil:
		return m.Delegate.CompareAndSwap(ctx, path, doc, version)
	}
	return nil
}

// WriteCount returns the number of WriteDocument and CompareAndSwap calls.
func (m *MockStore) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.WriteDocumentCalls) + len(m.CompareAndSwapCalls)
}
