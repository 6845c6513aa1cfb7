// Package preview manages locally generated previews for attachments of posts
// that the server has not confirmed yet.
//
// A preview is owned by exactly one draft or pending post and must be released
// when that owner is confirmed, fails, or drops the attachment.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"discussify/internal/observability"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// MaxFiles is the number of attachments a single post may carry.
	MaxFiles = 5
	// MaxFileSize is the largest attachment accepted, in bytes.
	MaxFileSize = 5 * 1024 * 1024
	// ThumbnailMaxSize bounds both edges of a generated preview.
	ThumbnailMaxSize = 320
	// WebPQuality is the encoder quality used for previews.
	WebPQuality = 70

	// Scheme prefixes local preview references so they are never mistaken for server URLs.
	Scheme = "preview://"
)

var (
	ErrTooManyFiles     = fmt.Errorf("at most %d attachments per post", MaxFiles)
	ErrFileTooLarge     = fmt.Errorf("attachment exceeds %dMB limit", MaxFileSize/(1024*1024))
	ErrUnsupportedImage = errors.New("attachment is not a supported image")
	ErrEmptyFile        = errors.New("attachment is empty")
	ErrNoAttachment     = errors.New("no attachment at that position")
)

// Ref identifies one local preview.
type Ref struct {
	ID     string
	Name   string
	Path   string
	Size   int64
	Width  int
	Height int
}

// URL is the local reference used in place of a server media URL.
func (r Ref) URL() string {
	return Scheme + r.ID
}

// IsLocal reports whether a media reference points at a local preview.
func IsLocal(ref string) bool {
	return len(ref) > len(Scheme) && ref[:len(Scheme)] == Scheme
}

// Store keeps preview files on disk and tracks which ones are still held.
type Store struct {
	dir string

	mu   sync.Mutex
	refs map[string]Ref
}

// NewStore creates the preview directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	return &Store{dir: dir, refs: make(map[string]Ref)}, nil
}

// Decode checks an attachment against the size and type limits and decodes it.
func Decode(name string, content []byte) (image.Image, error) {
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}
	if len(content) > MaxFileSize {
		return nil, fmt.Errorf("%s (%.2fMB): %w", name, float64(len(content))/(1024*1024), ErrFileTooLarge)
	}
	if !isAllowedImageMIME(http.DetectContentType(content)) {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedImage)
	}

	decoded, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedImage)
	}
	return decoded, nil
}

// EncodeWebP scales img to fit within maxEdge on both sides and encodes it as WebP.
func EncodeWebP(img image.Image, maxEdge int, quality float32) ([]byte, image.Rectangle, error) {
	scaled := resizeToFit(img, maxEdge, maxEdge)
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, scaled, &webp.Options{Quality: quality}); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), scaled.Bounds(), nil
}

// Attach validates an attachment and writes a bounded WebP preview of it.
func (s *Store) Attach(name string, content []byte) (Ref, error) {
	decoded, err := Decode(name, content)
	if err != nil {
		return Ref{}, err
	}
	encoded, b, err := EncodeWebP(decoded, ThumbnailMaxSize, WebPQuality)
	if err != nil {
		return Ref{}, fmt.Errorf("encode preview: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+".webp")
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return Ref{}, fmt.Errorf("write preview: %w", err)
	}

	ref := Ref{
		ID:     id,
		Name:   name,
		Path:   path,
		Size:   int64(len(content)),
		Width:  b.Dx(),
		Height: b.Dy(),
	}

	s.mu.Lock()
	s.refs[id] = ref
	s.mu.Unlock()
	observability.PreviewsOutstanding.Inc()

	return ref, nil
}

// Release frees a preview. Releasing an unknown or already released preview is a no-op.
func (s *Store) Release(ref Ref) error {
	s.mu.Lock()
	held, ok := s.refs[ref.ID]
	if ok {
		delete(s.refs, ref.ID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	observability.PreviewsOutstanding.Dec()

	if err := os.Remove(held.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove preview %s: %w", held.ID, err)
	}
	return nil
}

// Outstanding returns the number of previews not yet released.
func (s *Store) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}

// Close releases every preview still held.
func (s *Store) Close() error {
	s.mu.Lock()
	refs := make([]Ref, 0, len(s.refs))
	for _, r := range s.refs {
		refs = append(refs, r)
	}
	s.mu.Unlock()

	var errs []error
	for _, r := range refs {
		if err := s.Release(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isAllowedImageMIME(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scale := min(float64(maxWidth)/float64(w), float64(maxHeight)/float64(h))
	newW := max(int(float64(w)*scale), 1)
	newH := max(int(float64(h)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}
