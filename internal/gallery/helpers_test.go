package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/your-org/facecheck/internal/models"
)

// fakeExtractor maps image bytes to descriptors.
type fakeExtractor struct {
	faces map[string]models.Descriptor
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) (models.Descriptor, error) {
	switch key := string(image); key {
	case "slow":
		<-ctx.Done()
		return nil, ctx.Err()
	case "broken":
		return nil, errors.New("decode image: unexpected EOF")
	default:
		d, ok := f.faces[key]
		if !ok {
			return nil, models.ErrNoFace
		}
		return d, nil
	}
}

type fakeImage struct {
	name string
	data []byte

	mu        sync.Mutex
	discarded int
}

func newImage(data string) *fakeImage {
	return &fakeImage{name: data + ".jpg", data: []byte(data)}
}

func (i *fakeImage) Name() string { return i.name }

func (i *fakeImage) Bytes(_ context.Context) ([]byte, error) { return i.data, nil }

func (i *fakeImage) Discard(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.discarded++
	return nil
}

func (i *fakeImage) wasDiscarded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.discarded > 0
}

type fakeDirectory map[string]string

func (d fakeDirectory) GetIdentity(_ context.Context, id string) (*models.Identity, error) {
	name, ok := d[id]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", id, ErrIdentityNotFound)
	}
	return &models.Identity{ID: id, DisplayName: name, Role: models.RoleStudent}, nil
}

// countingStore records how often the gallery was written.
type countingStore struct {
	*MemoryStore
	mu       sync.Mutex
	replaces int
	failWith error
}

func (s *countingStore) Replace(ctx context.Context, entries []models.GalleryEntry) error {
	s.mu.Lock()
	s.replaces++
	err := s.failWith
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Replace(ctx, entries)
}

func vec(v ...float32) models.Descriptor { return models.Descriptor(v) }
