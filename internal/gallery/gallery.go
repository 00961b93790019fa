// Package gallery holds enrolled face descriptors and answers nearest-neighbour
// queries against them.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

const writeLockKey = "gallery"

// Snapshot is an immutable view of the gallery. Version changes whenever the
// entries were reloaded or written.
type Snapshot struct {
	Version uint64
	Entries []models.GalleryEntry
}

func (s *Snapshot) DescriptorCount() int {
	n := 0
	for _, e := range s.Entries {
		n += len(e.Descriptors)
	}
	return n
}

// Gallery is the only mutable shared state of the matching pipeline.
// Reads are served from a cached snapshot; writes go through the Locker so
// concurrent appenders never lose each other's descriptors.
type Gallery struct {
	store  Store
	locker Locker
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	snap     *Snapshot
	loadedAt time.Time
	version  uint64
	// gen counts local writes. A load that raced with a write is returned
	// to its caller but never cached.
	gen uint64
}

type Option func(*Gallery)

// WithCacheTTL bounds how long a snapshot is served before it is reloaded.
// Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gallery) { g.ttl = ttl }
}

func WithLocker(l Locker) Option {
	return func(g *Gallery) { g.locker = l }
}

func New(store Store, opts ...Option) *Gallery {
	g := &Gallery{
		store:  store,
		locker: NewLocalLocker(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Snapshot returns the current gallery contents. Callers must not modify them.
func (g *Gallery) Snapshot(ctx context.Context) (*Snapshot, error) {
	g.mu.RLock()
	if g.snap != nil && g.ttl > 0 && g.now().Sub(g.loadedAt) < g.ttl {
		snap := g.snap
		g.mu.RUnlock()
		return snap, nil
	}
	gen := g.gen
	g.mu.RUnlock()

	entries, err := g.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.version++
	snap := &Snapshot{Version: g.version, Entries: entries}
	if g.gen != gen {
		return snap, nil
	}
	g.snap = snap
	g.loadedAt = g.now()
	observability.GallerySize.Set(float64(snap.DescriptorCount()))
	return snap, nil
}

// Append adds descriptors to an identity's entry, creating it if needed.
// Descriptors are never edited or removed.
func (g *Gallery) Append(ctx context.Context, identityID, displayName string, descriptors []models.Descriptor) error {
	if len(descriptors) == 0 {
		return nil
	}
	add := models.GalleryEntry{
		IdentityID:  identityID,
		DisplayName: displayName,
		Descriptors: descriptors,
	}

	held, unlock, err := g.locker.Lock(ctx, writeLockKey)
	if err != nil {
		return err
	}
	defer unlock()
	defer g.invalidate()

	if ap, ok := g.store.(Appender); ok {
		if err := ap.AppendDescriptors(held, add); err != nil {
			return fmt.Errorf("append descriptors: %w", lockErr(held, err))
		}
		return nil
	}

	entries, err := g.store.Load(held)
	if err != nil {
		return fmt.Errorf("load gallery: %w", lockErr(held, err))
	}
	// The store may ignore ctx, so a lost lock is checked before writing.
	if cause := context.Cause(held); cause != nil {
		return fmt.Errorf("replace gallery: %w", cause)
	}
	entries = appendEntry(entries, add)
	if err := g.store.Replace(held, entries); err != nil {
		return fmt.Errorf("replace gallery: %w", lockErr(held, err))
	}
	return nil
}

// lockErr reports a store error caused by losing the write lock as ErrLockLost.
func lockErr(held context.Context, err error) error {
	if errors.Is(context.Cause(held), ErrLockLost) {
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	return err
}

// Count returns how many descriptors are enrolled for an identity.
func (g *Gallery) Count(ctx context.Context, identityID string) (int, error) {
	snap, err := g.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range snap.Entries {
		if e.IdentityID == identityID {
			return len(e.Descriptors), nil
		}
	}
	return 0, nil
}

func (g *Gallery) invalidate() {
	g.mu.Lock()
	g.gen++
	g.snap = nil
	g.mu.Unlock()
}
