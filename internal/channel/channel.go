// Package channel owns the identity-bound handle to the remote service.
package channel

import (
	"context"

	"bulletin/internal/blob"
	"bulletin/internal/models"
)

// Channel invokes remote operations on behalf of one identity. Every method
// may block and may fail with a classified *models.AppError.
type Channel interface {
	Identity() models.Identity
	// Token is the session credential, empty for the anonymous channel.
	Token() string

	// GetCallerProfile returns nil without error when the caller is not registered.
	GetCallerProfile(ctx context.Context) (*models.UserProfile, error)
	SaveCallerProfile(ctx context.Context, in models.UserProfileInput) error
	GetProfile(ctx context.Context, id models.Identity) (*models.UserProfile, error)
	ListProfileSummaries(ctx context.Context) ([]models.UserProfileSummary, error)

	ListPosts(ctx context.Context) ([]models.Post, error)
	GetPost(ctx context.Context, id models.PostID) (*models.Post, error)
	CreatePost(ctx context.Context, title, content string, image *blob.Ref) (*models.Post, error)
	DeletePost(ctx context.Context, id models.PostID) error
	LikePost(ctx context.Context, id models.PostID) error
	SharePost(ctx context.Context, id models.PostID) error
	SavePost(ctx context.Context, id models.PostID) error
	UnsavePost(ctx context.Context, id models.PostID) error
	ListSavedPosts(ctx context.Context) ([]models.Post, error)

	ListComments(ctx context.Context, postID models.PostID) ([]models.Comment, error)
	AddComment(ctx context.Context, postID models.PostID, text string) (*models.Comment, error)

	GetCallerRole(ctx context.Context) (models.Role, error)
	GetRole(ctx context.Context, id models.Identity) (models.Role, error)
	IsCallerAdmin(ctx context.Context) (bool, error)
	SetRole(ctx context.Context, id models.Identity, role models.Role) error
	GrantVerification(ctx context.Context, id models.Identity) error
	RevokeVerification(ctx context.Context, id models.Identity) error
}

// Credential is what a channel is built from.
type Credential struct {
	Identity models.Identity
	Token    string
}

// Anonymous returns the credential of the caller without identity.
func Anonymous() Credential {
	return Credential{}
}

func (c Credential) IsAnonymous() bool {
	return c.Identity.IsAnonymous()
}

// Builder constructs a channel for cred. A returned error is final for that
// credential: the manager does not retry it.
type Builder func(ctx context.Context, cred Credential) (Channel, error)
