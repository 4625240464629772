// Package roles derives what the current identity is allowed to see.
// It gates views and short-circuits obviously unauthorized writes; the
// remote service remains the authority for every write.
package roles

import (
	"context"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
)

// Source reports the current identity.
type Source interface {
	Await(ctx context.Context) (channel.Snapshot, error)
}

// Authority answers role questions for the current identity through the cache.
type Authority struct {
	source Source
	cache  *cache.Cache
	policy func() cache.Policy
}

// NewAuthority creates an Authority reading through c with the policy returned by policy.
func NewAuthority(source Source, c *cache.Cache, policy func() cache.Policy) *Authority {
	return &Authority{source: source, cache: c, policy: policy}
}

// IsAdmin reports whether the current identity holds the administrator role.
// The anonymous caller is never an administrator and costs no remote call.
func (a *Authority) IsAdmin(ctx context.Context) (bool, error) {
	snap, err := a.source.Await(ctx)
	if err != nil {
		return false, err
	}
	if snap.Identity.IsAnonymous() {
		return false, nil
	}
	return cache.Read(ctx, a.cache, cache.IsAdminKey, a.policy(), func(ctx context.Context, ch channel.Channel) (bool, error) {
		return ch.IsCallerAdmin(ctx)
	})
}

// CallerRole returns the role of the current identity.
func (a *Authority) CallerRole(ctx context.Context) (models.Role, error) {
	snap, err := a.source.Await(ctx)
	if err != nil {
		return "", err
	}
	if snap.Identity.IsAnonymous() {
		return "", models.NewChannelUnavailableError("sign in to read your role")
	}
	return cache.Read(ctx, a.cache, cache.CallerRoleKey, a.policy(), func(ctx context.Context, ch channel.Channel) (models.Role, error) {
		return ch.GetCallerRole(ctx)
	})
}

// Role returns the role of id.
func (a *Authority) Role(ctx context.Context, id models.Identity) (models.Role, error) {
	return cache.Read(ctx, a.cache, cache.UserRoleKey(id), a.policy(), func(ctx context.Context, ch channel.Channel) (models.Role, error) {
		return ch.GetRole(ctx, id)
	})
}

// RequireAdmin fails with Unauthorized unless the current identity is an administrator.
func (a *Authority) RequireAdmin(ctx context.Context) error {
	ok, err := a.IsAdmin(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewUnauthorizedError("administrator role required")
	}
	return nil
}

// CanDelete reports whether the current identity may delete post.
func (a *Authority) CanDelete(ctx context.Context, post *models.Post) (bool, error) {
	snap, err := a.source.Await(ctx)
	if err != nil {
		return false, err
	}
	if snap.Identity.IsAnonymous() {
		return false, nil
	}
	if post != nil && post.Author == snap.Identity {
		return true, nil
	}
	return a.IsAdmin(ctx)
}

// Forget drops the cached role answers so they are derived again.
func (a *Authority) Forget(ctx context.Context) {
	a.cache.Invalidate(ctx, cache.Exact(cache.IsAdminKey), cache.Exact(cache.CallerRoleKey))
}
