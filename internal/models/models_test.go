package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "short", content: "hello", want: "hello"},
		{name: "trimmed", content: "  hello  ", want: "hello"},
		{name: "empty", content: "", want: ""},
		{name: "cut at fifty", content: strings.Repeat("a", 60), want: strings.Repeat("a", 50)},
		{name: "counts runes", content: strings.Repeat("ü", 55), want: strings.Repeat("ü", 50)},
		{name: "cut then trimmed", content: strings.Repeat("a", 49) + "  tail", want: strings.Repeat("a", 49)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content))
		})
	}
}

func TestPost_CloneSharesNothing(t *testing.T) {
	p := Post{ID: "p1", Images: []string{"a"}, Upvotes: []string{"u1"}}
	c := p.Clone()
	c.Images[0] = "b"
	c.Upvotes = append(c.Upvotes[:0], "u2")

	assert.Equal(t, []string{"a"}, p.Images)
	assert.Equal(t, []string{"u1"}, p.Upvotes)
	assert.True(t, p.HasVoted("u1"))
	assert.False(t, p.HasVoted("u2"))
}

func TestAppError(t *testing.T) {
	cause := errors.New("connection refused")
	netErr := NewNetworkError("create post", cause)
	wrapped := fmt.Errorf("submit: %w", netErr)

	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, HasCode(wrapped, CodeNetwork))
	assert.False(t, HasCode(wrapped, CodeValidation))
	assert.False(t, HasCode(cause, CodeNetwork))
	assert.Equal(t, "create post failed: connection refused", netErr.Error())
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "validation message is shown", err: NewValidationError("Post content is required"), want: "Post content is required"},
		{name: "not found message is shown", err: NewNotFoundError("Post", "p1"), want: "Post with ID p1 not found"},
		{name: "internal falls back", err: NewInternalError(errors.New("boom")), want: "fallback"},
		{name: "network falls back", err: NewNetworkError("vote", errors.New("timeout")), want: "fallback"},
		{name: "plain error falls back", err: errors.New("raw"), want: "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err, "fallback"))
		})
	}
}
