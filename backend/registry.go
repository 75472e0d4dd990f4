package backend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/getpup/shardmover"
)

// Registry maps shard references to their credentials and open backends.
// Backends are opened on first use and shared afterwards.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	configs  map[shardmover.ShardRef]Config
	backends map[shardmover.ShardRef]Backend
	open     func(Config) (Backend, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		configs:  make(map[shardmover.ShardRef]Config),
		backends: make(map[shardmover.ShardRef]Backend),
		open: func(cfg Config) (Backend, error) {
			return Open(cfg)
		},
	}
}

// Register records the credentials of a shard and returns its reference.
func (r *Registry) Register(cfg Config) shardmover.ShardRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := cfg.Ref()
	r.configs[ref] = cfg
	return ref
}

// Add registers an already open backend.
func (r *Registry) Add(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.backends[b.Ref()] = b
}

// Get returns the backend of ref, opening it if needed.
// Returns ErrUnknownShard if ref was never registered.
func (r *Registry) Get(ref shardmover.ShardRef) (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.backends[ref]; ok {
		return b, nil
	}

	cfg, ok := r.configs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShard, ref)
	}

	b, err := r.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard %s: %w", ref, err)
	}
	r.backends[ref] = b
	return b, nil
}

// Close closes every open backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for ref, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close shard %s: %w", ref, err))
		}
		delete(r.backends, ref)
	}
	return errors.Join(errs...)
}
