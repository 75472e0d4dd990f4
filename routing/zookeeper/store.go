// Package zookeeper implements routing.Store on Apache ZooKeeper.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/routing"
	"github.com/go-zookeeper/zk"
)

// Conn is the subset of *zk.Conn used by Store.
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
}

// Store keeps the routing document in a single znode.
type Store struct {
	conn  Conn
	close func()
}

var _ routing.Store = (*Store)(nil)

// New wraps an established connection.
func New(conn Conn) *Store {
	return &Store{conn: conn}
}

// Dial connects to a comma separated list of servers, e.g. "localhost:2181".
// Client logs go to logger, or to the library default when it is nil.
func Dial(connectionString string, sessionTimeout time.Duration, logger zk.Logger) (*Store, error) {
	servers := strings.Split(connectionString, ",")
	for i := range servers {
		servers[i] = strings.TrimSpace(servers[i])
	}
	if logger == nil {
		logger = zk.DefaultLogger
	}

	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper %s: %w", connectionString, err)
	}
	return &Store{conn: conn, close: conn.Close}, nil
}

// Close closes the connection when the store owns it.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// PathExists reports whether the znode exists.
func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, _, err := s.conn.Exists(path)
	if err != nil {
		return false, wrap("exists", path, err)
	}
	return ok, nil
}

// CreatePath creates the znode and its parents as persistent, world-accessible nodes.
func (s *Store) CreatePath(ctx context.Context, path string) error {
	prefixes, err := routing.Parents(path)
	if err != nil {
		return err
	}

	for _, p := range prefixes {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return wrap("create", p, err)
		}
	}
	return nil
}

// ReadDocument returns the document stored in the znode.
func (s *Store) ReadDocument(ctx context.Context, path string) (shardmover.RoutingDocument, error) {
	doc, _, err := s.read(ctx, path)
	if err != nil {
		return shardmover.RoutingDocument{}, err
	}
	if doc == nil {
		return shardmover.RoutingDocument{}, &shardmover.CoordinationError{Op: "get", Path: path, Err: shardmover.ErrNotFound}
	}
	return *doc, nil
}

// ReadVersion returns the document and the znode data version.
func (s *Store) ReadVersion(ctx context.Context, path string) (shardmover.RoutingDocument, int64, error) {
	doc, version, err := s.read(ctx, path)
	if err != nil {
		return shardmover.RoutingDocument{}, 0, err
	}
	if doc == nil {
		return shardmover.NewRoutingDocument(), version, nil
	}
	return *doc, version, nil
}

func (s *Store) read(ctx context.Context, path string) (*shardmover.RoutingDocument, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	data, stat, err := s.conn.Get(path)
	if err != nil {
		return nil, 0, wrap("get", path, err)
	}

	var version int64
	if stat != nil {
		version = int64(stat.Version)
	}
	if len(data) == 0 {
		return nil, version, nil
	}

	doc, err := routing.Decode(data)
	if err != nil {
		return nil, 0, &shardmover.CoordinationError{Op: "get", Path: path, Err: err}
	}
	return &doc, version, nil
}

// WriteDocument overwrites the znode regardless of its version.
func (s *Store) WriteDocument(ctx context.Context, path string, doc shardmover.RoutingDocument) error {
	return s.set(ctx, path, doc, -1)
}

// CompareAndSwap writes the znode only if its data version equals version.
func (s *Store) CompareAndSwap(ctx context.Context, path string, doc shardmover.RoutingDocument, version int64) error {
	return s.set(ctx, path, doc, int32(version))
}

func (s *Store) set(ctx context.Context, path string, doc shardmover.RoutingDocument, version int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := routing.Encode(doc)
	if err != nil {
		return err
	}
	if _, err := s.conn.Set(path, data, version); err != nil {
		return wrap("set", path, err)
	}
	return nil
}

// transient lists client errors a retry may get past once the session reconnects.
var transient = []error{
	zk.ErrConnectionClosed,
	zk.ErrNoServer,
	zk.ErrSessionExpired,
	zk.ErrSessionMoved,
}

func wrap(op, path string, err error) error {
	switch {
	case errors.Is(err, zk.ErrNoNode):
		err = fmt.Errorf("%w: %v", shardmover.ErrNotFound, err)
	case errors.Is(err, zk.ErrBadVersion):
		err = fmt.Errorf("%w: %v", shardmover.ErrVersionConflict, err)
	}

	ce := &shardmover.CoordinationError{Op: op, Path: path, Err: err}
	for _, t := range transient {
		if errors.Is(err, t) {
			ce.Transient = true
			break
		}
	}
	return ce
}
