package preview

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"discussify/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_AttachWritesBoundedPreview(t *testing.T) {
	s := newTestStore(t)

	ref, err := s.Attach("wide.png", testutil.TinyPNG(t, 1280, 640))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(ref.URL(), Scheme))
	assert.True(t, IsLocal(ref.URL()))
	assert.Equal(t, ThumbnailMaxSize, ref.Width)
	assert.Equal(t, ThumbnailMaxSize/2, ref.Height)
	assert.FileExists(t, ref.Path)
	assert.Equal(t, 1, s.Outstanding())
}

func TestStore_ReleaseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ref, err := s.Attach("a.png", testutil.TinyPNG(t, 4, 4))
	require.NoError(t, err)

	require.NoError(t, s.Release(ref))
	assert.NoFileExists(t, ref.Path)
	assert.Equal(t, 0, s.Outstanding())

	assert.NoError(t, s.Release(ref))
	assert.NoError(t, s.Release(Ref{ID: "never-attached"}))
}

func TestStore_AttachRejectsInvalidFiles(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Attach("empty.png", nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = s.Attach("notes.txt", []byte("plain text is not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	huge := append(testutil.TinyPNG(t, 2, 2), bytes.Repeat([]byte{0}, MaxFileSize)...)
	_, err = s.Attach("huge.png", huge)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	assert.Equal(t, 0, s.Outstanding())
}

func TestStore_CloseReleasesEverything(t *testing.T) {
	s := newTestStore(t)
	var paths []string
	for i := 0; i < 3; i++ {
		ref, err := s.Attach("img.png", testutil.TinyPNG(t, 8, 8))
		require.NoError(t, err)
		paths = append(paths, ref.Path)
	}

	require.NoError(t, s.Close())
	assert.Equal(t, 0, s.Outstanding())
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	}
}

func TestDraft_LimitAndRemove(t *testing.T) {
	s := newTestStore(t)
	d := s.NewDraft()

	for i := 0; i < MaxFiles; i++ {
		_, err := d.Add("img.png", testutil.TinyPNG(t, 2, 2))
		require.NoError(t, err)
	}
	_, err := d.Add("one-too-many.png", testutil.TinyPNG(t, 2, 2))
	assert.ErrorIs(t, err, ErrTooManyFiles)
	assert.Equal(t, MaxFiles, s.Outstanding())

	removed := d.Attachments()[1].Ref
	require.NoError(t, d.Remove(1))
	assert.Equal(t, MaxFiles-1, d.Len())
	assert.NoFileExists(t, removed.Path)
	assert.Equal(t, MaxFiles-1, s.Outstanding())

	assert.ErrorIs(t, d.Remove(42), ErrNoAttachment)
	assert.ErrorIs(t, d.Remove(-1), ErrNoAttachment)
	assert.Equal(t, MaxFiles-1, d.Len())
}

func TestDraft_TakeTransfersOwnership(t *testing.T) {
	s := newTestStore(t)
	d := s.NewDraft()
	_, err := d.Add("a.png", testutil.TinyPNG(t, 2, 2))
	require.NoError(t, err)

	taken := d.Take()
	require.Len(t, taken, 1)
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 1, s.Outstanding(), "previews stay held until the new owner releases them")

	require.NoError(t, d.Discard())
	assert.Equal(t, 1, s.Outstanding())

	require.NoError(t, s.Release(taken[0].Ref))
	assert.Equal(t, 0, s.Outstanding())
}
