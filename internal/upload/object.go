package upload

import (
	"context"
	"fmt"
)

// ObjectStore is the subset of the object storage client used for staged uploads.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

// StagedObject is an upload parked in object storage until a worker picks it up.
type StagedObject struct {
	store ObjectStore
	key   string
}

func NewStagedObject(store ObjectStore, key string) *StagedObject {
	return &StagedObject{store: store, key: key}
}

func (o *StagedObject) Name() string { return o.key }

func (o *StagedObject) Bytes(ctx context.Context) ([]byte, error) {
	return o.store.GetObject(ctx, o.key)
}

func (o *StagedObject) Discard(ctx context.Context) error {
	if err := o.store.DeleteObject(ctx, o.key); err != nil {
		return fmt.Errorf("delete staged upload %s: %w", o.key, err)
	}
	return nil
}

// StagedObjects wraps every key as an Image.
func StagedObjects(store ObjectStore, keys []string) []Image {
	images := make([]Image, 0, len(keys))
	for _, key := range keys {
		images = append(images, NewStagedObject(store, key))
	}
	return images
}
