// Package models contains data structures shared by the feed client and the development backend.
package models

import (
	"slices"
	"strings"
	"time"
)

// Post type values as sent by the backend.
const (
	PostTypeText  = "text"
	PostTypeImage = "image"
)

// TitleLength is the number of characters of the content used as post title.
const TitleLength = 50

// DeriveTitle returns the title given to a post created without one: its
// first TitleLength characters.
func DeriveTitle(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > TitleLength {
		runes = runes[:TitleLength]
	}
	return strings.TrimSpace(string(runes))
}

// Author is the embedded author reference of a post or comment.
type Author struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Post represents a community post as delivered by the REST API and the live channel.
type Post struct {
	ID           string    `json:"_id"`
	CommunityID  string    `json:"community"`
	Author       Author    `json:"author"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	Images       []string  `json:"images,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	VoteCount    int       `json:"voteCount"`
	Upvotes      []string  `json:"upvotes"`
	CommentCount int       `json:"commentCount"`
}

// HasVoted reports whether userID is among the post's voters.
func (p Post) HasVoted(userID string) bool {
	return slices.Contains(p.Upvotes, userID)
}

// Clone returns a copy of the post that shares no slices with the receiver.
func (p Post) Clone() Post {
	out := p
	out.Images = slices.Clone(p.Images)
	out.Upvotes = slices.Clone(p.Upvotes)
	return out
}

// Comment is a reply attached to a post.
type Comment struct {
	ID        string    `json:"_id"`
	PostID    string    `json:"post"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Community is a discussion space that owns a feed of posts.
type Community struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
