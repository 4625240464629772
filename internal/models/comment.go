package models

// Comment is immutable once created.
type Comment struct {
	ID             CommentID `json:"id"`
	PostID         PostID    `json:"post_id"`
	Author         Identity  `json:"author"`
	AuthorName     string    `json:"author_name"`
	AuthorVerified bool      `json:"author_verified"`
	Text           string    `json:"text"`
	CreatedAt      Timestamp `json:"created_at,string"`
}
