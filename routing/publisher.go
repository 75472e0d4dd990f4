package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/internal/backoff"
	"github.com/getpup/shardmover/metrics"
)

// PublisherConfig holds configuration for a Publisher.
type PublisherConfig struct {
	// Store is the coordination service (required).
	Store Store

	// Path is the znode holding the document (default: /sharding/config).
	Path string

	// CompareAndSwap makes Update write only over the version it read,
	// re-reading and recomputing on conflict.
	CompareAndSwap bool

	// MaxRetries bounds retries of recoverable failures and version conflicts (default: 5).
	// A negative value disables retries.
	MaxRetries int

	// RetryInterval is the initial backoff delay (default: 2s).
	RetryInterval time.Duration

	// Logger is for observability (optional).
	Logger es.Logger

	// MetricsEnabled records publish metrics.
	MetricsEnabled bool
}

// Publisher writes whole routing documents, retrying transient coordination failures.
type Publisher struct {
	config PublisherConfig
}

// NewPublisher creates a Publisher, applying defaults for unset fields.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	return &Publisher{config: cfg}
}

// Path returns the document path.
func (p *Publisher) Path() string {
	return p.config.Path
}

func (p *Publisher) policy(retryIf func(error) bool) backoff.Policy {
	return backoff.Policy{
		MaxRetries: p.config.MaxRetries,
		Interval:   p.config.RetryInterval,
		RetryIf:    retryIf,
		Logger:     p.config.Logger,
	}
}

// Current returns the published document.
// Returns an error wrapping shardmover.ErrNotFound when nothing has been published.
func (p *Publisher) Current(ctx context.Context) (shardmover.RoutingDocument, error) {
	var doc shardmover.RoutingDocument
	err := backoff.Retry(ctx, p.policy(nil), "read routing document", func(ctx context.Context) error {
		var err error
		doc, err = p.config.Store.ReadDocument(ctx, p.config.Path)
		return err
	})
	return doc, err
}

// Publish replaces the document with doc.
func (p *Publisher) Publish(ctx context.Context, doc shardmover.RoutingDocument) error {
	if err := p.ensurePath(ctx); err != nil {
		return err
	}

	attempt := 0
	err := backoff.Retry(ctx, p.policy(nil), "write routing document", func(ctx context.Context) error {
		p.countRetry(attempt)
		attempt++
		return p.config.Store.WriteDocument(ctx, p.config.Path, doc)
	})
	p.observe(ctx, doc, err)
	if err != nil {
		return fmt.Errorf("failed to publish routing document: %w", err)
	}
	return nil
}

// Update derives the next document from the published one and publishes it.
// mutate receives a copy of the current document, or an empty one when nothing is published.
// The returned document is the one that was written.
func (p *Publisher) Update(ctx context.Context, mutate func(current shardmover.RoutingDocument) shardmover.RoutingDocument) (shardmover.RoutingDocument, error) {
	if !p.config.CompareAndSwap {
		current, err := p.Current(ctx)
		if errors.Is(err, shardmover.ErrNotFound) {
			current, err = shardmover.NewRoutingDocument(), nil
		}
		if err != nil {
			return shardmover.RoutingDocument{}, fmt.Errorf("failed to read routing document: %w", err)
		}
		next := mutate(current.Clone())
		return next, p.Publish(ctx, next)
	}

	if err := p.ensurePath(ctx); err != nil {
		return shardmover.RoutingDocument{}, err
	}

	retryIf := func(err error) bool {
		return errors.Is(err, shardmover.ErrVersionConflict) || shardmover.IsRecoverable(err)
	}

	var next shardmover.RoutingDocument
	attempt := 0
	err := backoff.Retry(ctx, p.policy(retryIf), "swap routing document", func(ctx context.Context) error {
		p.countRetry(attempt)
		attempt++

		current, version, err := p.config.Store.ReadVersion(ctx, p.config.Path)
		if err != nil {
			return err
		}
		next = mutate(current.Clone())
		err = p.config.Store.CompareAndSwap(ctx, p.config.Path, next, version)
		if errors.Is(err, shardmover.ErrVersionConflict) && p.config.Logger != nil {
			p.config.Logger.Info(ctx, "routing document changed concurrently, recomputing", "path", p.config.Path, "version", version)
		}
		return err
	})
	p.observe(ctx, next, err)
	if err != nil {
		return shardmover.RoutingDocument{}, fmt.Errorf("failed to publish routing document: %w", err)
	}
	return next, nil
}

func (p *Publisher) ensurePath(ctx context.Context) error {
	err := backoff.Retry(ctx, p.policy(nil), "create routing path", func(ctx context.Context) error {
		return p.config.Store.CreatePath(ctx, p.config.Path)
	})
	if err != nil {
		return fmt.Errorf("failed to create routing path %s: %w", p.config.Path, err)
	}
	return nil
}

func (p *Publisher) countRetry(attempt int) {
	if attempt > 0 && p.config.MetricsEnabled {
		metrics.IncPublishRetries(p.config.Path)
	}
}

func (p *Publisher) observe(ctx context.Context, doc shardmover.RoutingDocument, err error) {
	if p.config.MetricsEnabled {
		metrics.ObservePublish(p.config.Path, err)
	}
	if p.config.Logger == nil {
		return
	}
	if err != nil {
		p.config.Logger.Error(ctx, "routing document publish failed", "path", p.config.Path, "error", err)
		return
	}
	p.config.Logger.Info(ctx, "routing document published", "path", p.config.Path, "tables", doc.TableNames())
}
