// Package routing stores and publishes the routing document that tells the
// router which shard owns which table.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getpup/shardmover"
)

// DefaultPath is where the routing document lives in the coordination service.
const DefaultPath = "/sharding/config"

// Store is a hierarchical key/value coordination service holding the routing document.
// A document is always written as one blob, so readers observe either the old or the new one.
type Store interface {
	// PathExists reports whether path exists.
	PathExists(ctx context.Context, path string) (bool, error)

	// CreatePath creates path and every missing parent. Existing nodes are left alone.
	CreatePath(ctx context.Context, path string) error

	// ReadDocument returns the document at path.
	// Returns an error wrapping shardmover.ErrNotFound if the path is missing or empty.
	ReadDocument(ctx context.Context, path string) (shardmover.RoutingDocument, error)

	// WriteDocument overwrites the document at path. The path must exist.
	WriteDocument(ctx context.Context, path string, doc shardmover.RoutingDocument) error

	// ReadVersion returns the document at path with its version.
	// An existing path without data yields an empty document.
	// Returns an error wrapping shardmover.ErrNotFound if the path is missing.
	ReadVersion(ctx context.Context, path string) (shardmover.RoutingDocument, int64, error)

	// CompareAndSwap writes doc only if the stored version still equals version.
	// Returns an error wrapping shardmover.ErrVersionConflict otherwise.
	CompareAndSwap(ctx context.Context, path string, doc shardmover.RoutingDocument, version int64) error
}

// Encode serializes a document to its wire form.
func Encode(doc shardmover.RoutingDocument) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode routing document: %w", err)
	}
	return data, nil
}

// Decode parses a stored blob. Empty data is reported as shardmover.ErrNotFound.
func Decode(data []byte) (shardmover.RoutingDocument, error) {
	if len(data) == 0 {
		return shardmover.RoutingDocument{}, shardmover.ErrNotFound
	}
	var doc shardmover.RoutingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return shardmover.RoutingDocument{}, fmt.Errorf("failed to decode routing document: %w", err)
	}
	return doc, nil
}

// Parents returns every prefix of path, root first, e.g. /a, /a/b, /a/b/c.
func Parents(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") || path == "/" || strings.HasSuffix(path, "/") {
		return nil, fmt.Errorf("invalid path %q", path)
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	prefixes := make([]string, 0, len(parts))
	current := ""
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
		current += "/" + p
		prefixes = append(prefixes, current)
	}
	return prefixes, nil
}
