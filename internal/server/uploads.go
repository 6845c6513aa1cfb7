package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"discussify/internal/preview"

	"github.com/google/uuid"
)

const (
	// uploadMaxEdge bounds both sides of a stored image.
	uploadMaxEdge = 1600
	uploadQuality = 80
	uploadsPath   = "/uploads/"
)

// uploadStore keeps post images on disk as WebP files served under /uploads.
type uploadStore struct {
	dir string
}

func newUploadStore(dir string) (*uploadStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "discussify", "uploads")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &uploadStore{dir: dir}, nil
}

// Save validates and re-encodes an image and returns the URL path it is
// served at.
func (u *uploadStore) Save(name string, content []byte) (string, error) {
	img, err := preview.Decode(name, content)
	if err != nil {
		return "", err
	}
	encoded, _, err := preview.EncodeWebP(img, uploadMaxEdge, uploadQuality)
	if err != nil {
		return "", err
	}
	file := uuid.NewString() + ".webp"
	if err := os.WriteFile(filepath.Join(u.dir, file), encoded, 0o600); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return uploadsPath + file, nil
}

// Remove deletes stored images by the URL paths Save returned. Missing files
// are not an error.
func (u *uploadStore) Remove(urls ...string) error {
	var errs []error
	for _, url := range urls {
		file := strings.TrimPrefix(url, uploadsPath)
		if file == url || file != filepath.Base(file) {
			errs = append(errs, fmt.Errorf("not an upload path: %q", url))
			continue
		}
		if err := os.Remove(filepath.Join(u.dir, file)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove upload: %w", err))
		}
	}
	return errors.Join(errs...)
}
