package models

import "bulletin/internal/blob"

// UserProfile is the onboarding record of an identity. Its existence means
// the identity is registered.
type UserProfile struct {
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Photo        *blob.Ref `json:"photo,omitempty"`
	Role         Role      `json:"role"`
	Verified     bool      `json:"verified"`
	RegisteredAt Timestamp `json:"registered_at,string"`
	SavedPosts   []PostID  `json:"saved_posts"`
}

// HasSaved reports whether id is in the saved set.
func (p *UserProfile) HasSaved(id PostID) bool {
	if p == nil {
		return false
	}
	for _, saved := range p.SavedPosts {
		if saved == id {
			return true
		}
	}
	return false
}

// UserProfileInput is the payload of save-caller-profile.
type UserProfileInput struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Photo       *blob.Ref `json:"photo,omitempty"`
}

// UserProfileSummary is the administrative listing projection.
type UserProfileSummary struct {
	Identity     Identity  `json:"identity"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Photo        *blob.Ref `json:"photo,omitempty"`
	Role         Role      `json:"role"`
	Verified     bool      `json:"verified"`
	RegisteredAt Timestamp `json:"registered_at,string"`
}
