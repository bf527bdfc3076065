// Package models contains the canonical entity shapes consumed by the stores.
package models

import "time"

// UnknownAuthorName is shown when a record arrives without an author.
const UnknownAuthorName = "Unknown neighbor"

// Author is the denormalized author summary embedded in posts and comments.
type Author struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Media is one attachment reference on a post. URL may be empty.
type Media struct {
	URL string `json:"url,omitempty"`
}

// Post represents a feed post.
type Post struct {
	ID       string  `json:"id"`
	Author   Author  `json:"author"`
	Content  string  `json:"content"`
	Media    []Media `json:"media"`
	GroupID  string  `json:"group_id,omitempty"`
	// LikesCount and Liked only change together.
	LikesCount    int        `json:"likes_count"`
	Liked         bool       `json:"liked"`
	CommentsCount int        `json:"comments_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Clone returns a copy that shares no slices or pointers with p.
func (p Post) Clone() Post {
	out := p
	out.Media = append(make([]Media, 0, len(p.Media)), p.Media...)
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// Comment represents a comment on a post.
type Comment struct {
	ID      string  `json:"id"`
	PostID  string  `json:"post_id"`
	Content string  `json:"content"`
	Author  *Author `json:"author,omitempty"`
	// Pending marks a locally fabricated placeholder awaiting confirmation.
	Pending   bool      `json:"pending,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with c.
func (c Comment) Clone() Comment {
	out := c
	if c.Author != nil {
		a := *c.Author
		out.Author = &a
	}
	return out
}
