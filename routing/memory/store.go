package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/routing"
)

type node struct {
	data    []byte
	version int64
}

// Store is an in-memory implementation of routing.Store for tests and single-process setups.
// Versions start at 0 when a node is created and increase on every write.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]node
}

var _ routing.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{nodes: make(map[string]node)}
}

// PathExists reports whether path exists.
func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.nodes[path]
	return ok, nil
}

// CreatePath creates path and its parents.
func (s *Store) CreatePath(ctx context.Context, path string) error {
	prefixes, err := routing.Parents(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range prefixes {
		if _, ok := s.nodes[p]; !ok {
			s.nodes[p] = node{}
		}
	}
	return nil
}

// ReadDocument returns the document at path.
func (s *Store) ReadDocument(ctx context.Context, path string) (shardmover.RoutingDocument, error) {
	s.mu.RLock()
	n, ok := s.nodes[path]
	s.mu.RUnlock()

	if !ok {
		return shardmover.RoutingDocument{}, notFound("read", path)
	}
	doc, err := routing.Decode(n.data)
	if err != nil {
		return shardmover.RoutingDocument{}, &shardmover.CoordinationError{Op: "read", Path: path, Err: err}
	}
	return doc, nil
}

// WriteDocument overwrites the document at path.
func (s *Store) WriteDocument(ctx context.Context, path string, doc shardmover.RoutingDocument) error {
	data, err := routing.Encode(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("write", path)
	}
	s.nodes[path] = node{data: data, version: n.version + 1}
	return nil
}

// ReadVersion returns the document at path with its version.
func (s *Store) ReadVersion(ctx context.Context, path string) (shardmover.RoutingDocument, int64, error) {
	s.mu.RLock()
	n, ok := s.nodes[path]
	s.mu.RUnlock()

	if !ok {
		return shardmover.RoutingDocument{}, 0, notFound("read", path)
	}
	if len(n.data) == 0 {
		return shardmover.NewRoutingDocument(), n.version, nil
	}
	doc, err := routing.Decode(n.data)
	if err != nil {
		return shardmover.RoutingDocument{}, 0, &shardmover.CoordinationError{Op: "read", Path: path, Err: err}
	}
	return doc, n.version, nil
}

// CompareAndSwap writes doc if the stored version equals version.
func (s *Store) CompareAndSwap(ctx context.Context, path string, doc shardmover.RoutingDocument, version int64) error {
	data, err := routing.Encode(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[path]
	if !ok {
		return notFound("write", path)
	}
	if n.version != version {
		return &shardmover.CoordinationError{
			Op:   "write",
			Path: path,
			Err:  fmt.Errorf("%w: stored %d, expected %d", shardmover.ErrVersionConflict, n.version, version),
		}
	}
	s.nodes[path] = node{data: data, version: n.version + 1}
	return nil
}

// Version returns the current version of path, or -1 if it does not exist.
func (s *Store) Version(path string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return -1
	}
	return n.version
}

func notFound(op, path string) error {
	return &shardmover.CoordinationError{Op: op, Path: path, Err: shardmover.ErrNotFound}
}
