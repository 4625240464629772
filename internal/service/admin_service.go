package service

import (
	"context"
	"strings"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
	"bulletin/internal/roles"
)

// VerificationFilter selects users by verified flag.
type VerificationFilter string

const (
	VerificationAll        VerificationFilter = "all"
	VerificationVerified   VerificationFilter = "verified"
	VerificationUnverified VerificationFilter = "unverified"
)

// UserFilter narrows the administrative user listing. Zero values match everything.
type UserFilter struct {
	Query        string
	Role         models.Role
	Verification VerificationFilter
}

// FilterUsers returns the users matching f, preserving order. Query matches
// username or display name, case-insensitively.
func FilterUsers(users []models.UserProfileSummary, f UserFilter) []models.UserProfileSummary {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]models.UserProfileSummary, 0, len(users))
	for _, u := range users {
		if query != "" &&
			!strings.Contains(strings.ToLower(u.Username), query) &&
			!strings.Contains(strings.ToLower(u.DisplayName), query) {
			continue
		}
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		switch f.Verification {
		case VerificationVerified:
			if !u.Verified {
				continue
			}
		case VerificationUnverified:
			if u.Verified {
				continue
			}
		}
		out = append(out, u)
	}
	return out
}

type AdminService struct {
	cache     *cache.Cache
	co        *mutation.Coordinator
	authority *roles.Authority
	policy    func() cache.Policy
}

func NewAdminService(c *cache.Cache, co *mutation.Coordinator, authority *roles.Authority, policy func() cache.Policy) *AdminService {
	return &AdminService{cache: c, co: co, authority: authority, policy: policy}
}

func (s *AdminService) IsAdmin(ctx context.Context) (bool, error) {
	return s.authority.IsAdmin(ctx)
}

// ListUsers returns every profile summary. Only administrators see the listing.
func (s *AdminService) ListUsers(ctx context.Context, f UserFilter) ([]models.UserProfileSummary, error) {
	if err := s.authority.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	users, err := cache.ReadUsers(ctx, s.cache, s.policy())
	if err != nil {
		return nil, err
	}
	return FilterUsers(users, f), nil
}

func (s *AdminService) Role(ctx context.Context, id models.Identity) (models.Role, error) {
	return s.authority.Role(ctx, id)
}

func (s *AdminService) CallerRole(ctx context.Context) (models.Role, error) {
	return s.authority.CallerRole(ctx)
}

func (s *AdminService) SetRole(ctx context.Context, target models.Identity, role models.Role) error {
	if !role.Valid() {
		return models.NewValidationError("unknown role " + string(role))
	}
	return s.co.Execute(ctx, mutation.OpSetRole, mutation.Params{Target: target},
		func(ctx context.Context, ch channel.Channel) error {
			return ch.SetRole(ctx, target, role)
		})
}

func (s *AdminService) GrantVerification(ctx context.Context, target models.Identity) error {
	return s.co.Execute(ctx, mutation.OpGrantVerification, mutation.Params{Target: target},
		func(ctx context.Context, ch channel.Channel) error {
			return ch.GrantVerification(ctx, target)
		})
}

func (s *AdminService) RevokeVerification(ctx context.Context, target models.Identity) error {
	return s.co.Execute(ctx, mutation.OpRevokeVerification, mutation.Params{Target: target},
		func(ctx context.Context, ch channel.Channel) error {
			return ch.RevokeVerification(ctx, target)
		})
}
