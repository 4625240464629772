package models

import "bulletin/internal/blob"

// Post is a news post. Counts are server-authoritative.
type Post struct {
	ID             PostID    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Author         Identity  `json:"author"`
	AuthorName     string    `json:"author_name"`
	AuthorVerified bool      `json:"author_verified"`
	Likes          uint64    `json:"likes,string"`
	Shares         uint64    `json:"shares,string"`
	CommentsCount  uint64    `json:"comments_count,string"`
	Image          *blob.Ref `json:"image,omitempty"`
	CreatedAt      Timestamp `json:"created_at,string"`
}

// CreatePostInput is the payload of create-post.
type CreatePostInput struct {
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Image   *blob.Ref `json:"image,omitempty"`
}

// FindPost returns the post with id from posts.
func FindPost(posts []Post, id PostID) (*Post, bool) {
	for i := range posts {
		if posts[i].ID == id {
			return &posts[i], true
		}
	}
	return nil, false
}
