// Package models contains the entities exchanged with the remote service.
package models

import (
	"strconv"
	"time"
)

// Identity is an opaque authenticated principal. The zero value is the anonymous caller.
type Identity string

// Anonymous is the caller without an identity.
const Anonymous Identity = ""

func (id Identity) IsAnonymous() bool { return id == Anonymous }

func (id Identity) String() string {
	if id.IsAnonymous() {
		return "anonymous"
	}
	return string(id)
}

// Timestamp is a nanosecond instant as reported by the remote service.
// It is converted to calendar time only for presentation.
type Timestamp int64

// Time converts t for display.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// PostID identifies a post. It crosses the wire as a decimal string.
type PostID uint64

func (id PostID) String() string { return strconv.FormatUint(uint64(id), 10) }

func (id PostID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *PostID) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return NewValidationError("invalid post id " + strconv.Quote(string(b)))
	}
	*id = PostID(v)
	return nil
}

// ParsePostID parses a decimal post id.
func ParsePostID(s string) (PostID, error) {
	var id PostID
	err := id.UnmarshalText([]byte(s))
	return id, err
}

// CommentID identifies a comment.
type CommentID uint64

func (id CommentID) String() string { return strconv.FormatUint(uint64(id), 10) }

func (id CommentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *CommentID) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return NewValidationError("invalid comment id " + strconv.Quote(string(b)))
	}
	*id = CommentID(v)
	return nil
}
