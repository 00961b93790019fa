// Package bootstrap assembles the components shared by the facecheck
// binaries from a loaded config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/facecheck/internal/config"
	"github.com/your-org/facecheck/internal/gallery"
	"github.com/your-org/facecheck/internal/storage"
	"github.com/your-org/facecheck/internal/vision"
)

type Components struct {
	DB *storage.PostgresStore
	// Redis is nil unless redis.addr is configured.
	Redis    *redis.Client
	Gallery  *gallery.Gallery
	Vision   *vision.Pool
	Matcher  *gallery.Matcher
	Enroller *gallery.Enroller

	closers []func()
}

// Open connects to Postgres, applies pending migrations, loads the vision
// pool and builds the gallery, matcher and enroller on top of them.
func Open(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{}
	if err := c.open(ctx, cfg); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) open(ctx context.Context, cfg *config.Config) error {
	db, err := storage.NewPostgresStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	c.DB = db
	c.closers = append(c.closers, db.Close)

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		slog.Info("applied migrations", "migrations", applied)
	}

	opts := []gallery.Option{gallery.WithCacheTTL(cfg.Gallery.CacheTTL)}
	if cfg.Redis.Addr != "" {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func() { _ = c.Redis.Close() })
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		opts = append(opts, gallery.WithLocker(gallery.NewRedisLocker(c.Redis, cfg.Redis.LockTTL)))
	}

	var store gallery.Store = db
	if cfg.Gallery.Driver == "file" {
		store = gallery.NewFileStore(cfg.Gallery.FilePath)
	}
	c.Gallery = gallery.New(store, opts...)

	shutdown, err := vision.InitRuntime(cfg.Vision.ONNXLibrary)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, shutdown)

	pool, err := vision.NewPool(cfg.Vision)
	if err != nil {
		return fmt.Errorf("load vision pool: %w", err)
	}
	c.Vision = pool
	c.closers = append(c.closers, pool.Close)

	matcherOpts := []gallery.MatcherOption{
		gallery.WithThreshold(cfg.Matcher.Threshold),
		gallery.WithExtractTimeout(cfg.Vision.ExtractTimeout),
		gallery.WithDescriptorDim(cfg.Vision.EmbeddingDim),
	}
	if cfg.Matcher.Index == "hnsw" {
		matcherOpts = append(matcherOpts, gallery.WithIndex(gallery.NewHNSWIndex(cfg.Vision.EmbeddingDim)))
	}
	c.Matcher = gallery.NewMatcher(c.Gallery, pool, matcherOpts...)

	c.Enroller = gallery.NewEnroller(c.Gallery, pool, db,
		gallery.WithEnrollTimeout(cfg.Vision.ExtractTimeout),
		gallery.WithMaxBatch(cfg.Upload.MaxBatch),
		gallery.WithEnrollDim(cfg.Vision.EmbeddingDim),
	)

	slog.Info("components ready",
		"gallery_driver", cfg.Gallery.Driver,
		"index", cfg.Matcher.Index,
		"threshold", cfg.Matcher.Threshold,
		"vision_workers", pool.Size(),
		"distributed_lock", c.Redis != nil,
	)
	return nil
}

// Close releases everything Open acquired, in reverse order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
