package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio"

	"github.com/your-org/facecheck/internal/models"
)

// Store persists the gallery as a whole collection.
type Store interface {
	Load(ctx context.Context) ([]models.GalleryEntry, error)
	Replace(ctx context.Context, entries []models.GalleryEntry) error
}

// Appender is implemented by stores that can append descriptors to one
// identity atomically, without rewriting the collection.
type Appender interface {
	AppendDescriptors(ctx context.Context, entry models.GalleryEntry) error
}

// MemoryStore keeps the gallery in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries []models.GalleryEntry
}

func NewMemoryStore(entries ...models.GalleryEntry) *MemoryStore {
	return &MemoryStore{entries: cloneEntries(entries)}
}

func (s *MemoryStore) Load(_ context.Context) ([]models.GalleryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries), nil
}

func (s *MemoryStore) Replace(_ context.Context, entries []models.GalleryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cloneEntries(entries)
	return nil
}

// FileStore keeps the gallery in a single JSON document.
// Writes replace the file atomically.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(_ context.Context) ([]models.GalleryEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gallery file: %w", err)
	}

	var entries []models.GalleryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse gallery file: %w", err)
	}
	return entries, nil
}

func (s *FileStore) Replace(_ context.Context, entries []models.GalleryEntry) error {
	if entries == nil {
		entries = []models.GalleryEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gallery: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create gallery dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write gallery file: %w", err)
	}
	return nil
}

func cloneEntries(entries []models.GalleryEntry) []models.GalleryEntry {
	if entries == nil {
		return nil
	}
	out := make([]models.GalleryEntry, len(entries))
	for i, e := range entries {
		out[i] = models.GalleryEntry{
			IdentityID:  e.IdentityID,
			DisplayName: e.DisplayName,
			Descriptors: append([]models.Descriptor(nil), e.Descriptors...),
		}
	}
	return out
}

// appendEntry merges descriptors into the identity's entry, creating it when absent.
func appendEntry(entries []models.GalleryEntry, add models.GalleryEntry) []models.GalleryEntry {
	for i := range entries {
		if entries[i].IdentityID == add.IdentityID {
			entries[i].Descriptors = append(entries[i].Descriptors, add.Descriptors...)
			if entries[i].DisplayName == "" {
				entries[i].DisplayName = add.DisplayName
			}
			return entries
		}
	}
	return append(entries, models.GalleryEntry{
		IdentityID:  add.IdentityID,
		DisplayName: add.DisplayName,
		Descriptors: append([]models.Descriptor(nil), add.Descriptors...),
	})
}
