package database

import "time"

// UserRecord is a registered author.
type UserRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Username  string `gorm:"size:64;not null"`
	Avatar    string `gorm:"size:512"`
	CreatedAt time.Time
}

// TableName overrides the default table name.
func (UserRecord) TableName() string { return "users" }

// CommunityRecord is a discussion space.
type CommunityRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
}

// TableName overrides the default table name.
func (CommunityRecord) TableName() string { return "communities" }

// PostRecord is a stored post. Votes and the author are loaded through
// associations.
type PostRecord struct {
	ID           string       `gorm:"primaryKey;size:64"`
	CommunityID  string       `gorm:"size:64;not null;index:idx_posts_community_created,priority:1"`
	AuthorID     string       `gorm:"size:64;not null"`
	Author       UserRecord   `gorm:"foreignKey:AuthorID"`
	Title        string       `gorm:"size:200"`
	Content      string       `gorm:"type:text"`
	Type         string       `gorm:"size:16;not null"`
	Images       []string     `gorm:"serializer:json;type:text"`
	CommentCount int          `gorm:"not null;default:0"`
	Votes        []VoteRecord `gorm:"foreignKey:PostID"`
	CreatedAt    time.Time    `gorm:"index:idx_posts_community_created,priority:2"`
}

// TableName overrides the default table name.
func (PostRecord) TableName() string { return "posts" }

// VoteRecord is one user's upvote on a post.
type VoteRecord struct {
	PostID    string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

// TableName overrides the default table name.
func (VoteRecord) TableName() string { return "votes" }

// CommentRecord is a reply to a post.
type CommentRecord struct {
	ID        string     `gorm:"primaryKey;size:64"`
	PostID    string     `gorm:"size:64;not null;index"`
	AuthorID  string     `gorm:"size:64;not null"`
	Author    UserRecord `gorm:"foreignKey:AuthorID"`
	Content   string     `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// TableName overrides the default table name.
func (CommentRecord) TableName() string { return "comments" }
