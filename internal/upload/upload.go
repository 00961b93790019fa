// Package upload models transient biometric media. Every Image must be
// discarded once its descriptor has been extracted, whatever the outcome.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge is returned when an uploaded file exceeds the spool limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

type Image interface {
	Name() string
	Bytes(ctx context.Context) ([]byte, error)
	Discard(ctx context.Context) error
}

// DiscardAll releases every image, logging failures. Safe to call on images
// that were already discarded.
func DiscardAll(ctx context.Context, images []Image) {
	for _, img := range images {
		if err := img.Discard(ctx); err != nil {
			slog.Warn("discard upload", "name", img.Name(), "error", err)
		}
	}
}

// Spool writes multipart uploads to a local directory as temp files.
type Spool struct {
	dir     string
	maxSize int64
}

func NewSpool(dir string, maxSize int64) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Spool{dir: dir, maxSize: maxSize}, nil
}

// Save copies one multipart file into the spool directory.
func (s *Spool) Save(fh *multipart.FileHeader) (*TempFile, error) {
	if s.maxSize > 0 && fh.Size > s.maxSize {
		return nil, fmt.Errorf("%s: %w", fh.Filename, ErrTooLarge)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	return s.SaveReader(fh.Filename, src)
}

// SaveReader copies r into the spool directory under a random name.
func (s *Spool) SaveReader(name string, r io.Reader) (*TempFile, error) {
	ext := strings.ToLower(filepath.Ext(name))
	dst, err := os.CreateTemp(s.dir, "upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmp := &TempFile{path: dst.Name(), name: name}

	if s.maxSize > 0 {
		r = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(dst, r)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = fmt.Errorf("%s: %w", name, ErrTooLarge)
	}
	if err != nil {
		_ = tmp.Discard(context.Background())
		return nil, fmt.Errorf("spool upload %s: %w", name, err)
	}
	return tmp, nil
}

// SaveAll spools every file. On failure the files already written are removed.
func (s *Spool) SaveAll(files []*multipart.FileHeader) ([]Image, error) {
	images := make([]Image, 0, len(files))
	for _, fh := range files {
		tmp, err := s.Save(fh)
		if err != nil {
			DiscardAll(context.Background(), images)
			return nil, err
		}
		images = append(images, tmp)
	}
	return images, nil
}

// TempFile is an upload spooled on local disk.
type TempFile struct {
	path string
	name string
}

func (f *TempFile) Name() string { return f.name }

func (f *TempFile) Path() string { return f.path }

func (f *TempFile) Bytes(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", f.name, err)
	}
	return data, nil
}

func (f *TempFile) Discard(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload %s: %w", f.name, err)
	}
	return nil
}
