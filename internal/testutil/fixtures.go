// Package testutil provides shared test doubles and fixtures for package tests.
package testutil

import (
	"bytes"
	"image"
	"image/png"
	"time"

	"discussify/internal/models"
)

// BaseTime is the creation time of the oldest fixture post.
var BaseTime = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// TinyPNG returns an in-memory PNG byte slice with the requested dimensions.
func TinyPNG(t interface {
	Helper()
	Fatalf(string, ...any)
}, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// Post builds a confirmed post in community "c1" created n minutes after BaseTime.
func Post(id string, n int) models.Post {
	return models.Post{
		ID:          id,
		CommunityID: "c1",
		Author:      models.Author{ID: "u-" + id, Username: "author " + id},
		Title:       "title " + id,
		Content:     "content " + id,
		Type:        models.PostTypeText,
		CreatedAt:   BaseTime.Add(time.Duration(n) * time.Minute),
		Upvotes:     []string{},
	}
}

// NewestFirst returns posts in the order the history endpoint sends them.
func NewestFirst(posts ...models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		out[len(posts)-1-i] = p
	}
	return out
}

// Keys extracts the post IDs of a slice, in order.
func Keys(posts []models.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
