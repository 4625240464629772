package service

import (
	"context"
	"log/slog"

	"bulletin/internal/access"
	"bulletin/internal/blob"
	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
	"bulletin/internal/observability"
	"bulletin/internal/validation"
)

type ProfileService struct {
	source   Source
	cache    *cache.Cache
	co       *mutation.Coordinator
	gate     *access.Gate
	uploader blob.Uploader
	policy   func() cache.Policy
}

func NewProfileService(
	source Source,
	c *cache.Cache,
	co *mutation.Coordinator,
	gate *access.Gate,
	uploader blob.Uploader,
	policy func() cache.Policy,
) *ProfileService {
	return &ProfileService{
		source:   source,
		cache:    c,
		co:       co,
		gate:     gate,
		uploader: uploader,
		policy:   policy,
	}
}

// CallerProfile returns the profile of the current identity, or nil when it
// has not registered yet.
func (s *ProfileService) CallerProfile(ctx context.Context) (*models.UserProfile, error) {
	if _, err := requireIdentity(ctx, s.source, "read your profile"); err != nil {
		return nil, err
	}
	return cache.ReadCallerProfile(ctx, s.cache, s.policy())
}

func (s *ProfileService) Profile(ctx context.Context, id models.Identity) (*models.UserProfile, error) {
	return cache.ReadProfile(ctx, s.cache, s.policy(), id)
}

// SaveProfile registers the current identity or updates its profile. The
// role is never part of the payload: registration always yields the default role.
// Once the write succeeds the identity counts as registered; if the profile
// cannot be read back afterwards SaveProfile returns nil without error.
func (s *ProfileService) SaveProfile(ctx context.Context, in models.UserProfileInput) (*models.UserProfile, error) {
	if err := validation.ValidateProfile(in); err != nil {
		return nil, err
	}
	photo, err := upload(ctx, s.source, s.uploader, in.Photo)
	if err != nil {
		return nil, err
	}
	in.Photo = photo

	snap := s.source.Snapshot()
	err = s.co.Execute(ctx, mutation.OpSaveProfile, mutation.Params{}, func(ctx context.Context, ch channel.Channel) error {
		return ch.SaveCallerProfile(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	s.gate.Registered(snap.Identity)

	profile, err := cache.ReadCallerProfile(ctx, s.cache, s.policy())
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "saved profile could not be read back",
			slog.String("identity", snap.Identity.String()), slog.String("error", err.Error()))
		return nil, nil
	}
	return profile, nil
}

// SyncAccess runs the profile-existence check for the current identity and
// feeds the result to the access gate.
func (s *ProfileService) SyncAccess(ctx context.Context) (access.Status, error) {
	snap, err := s.source.Await(ctx)
	if err != nil {
		return s.gate.Status(), err
	}
	s.gate.IdentityChanged(snap.Epoch, snap.Identity)
	if snap.Identity.IsAnonymous() {
		return s.gate.Status(), nil
	}

	s.gate.ProfileCheckStarted(snap.Identity)
	profile, err := cache.ReadCallerProfile(ctx, s.cache, s.policy())
	if err != nil {
		s.gate.ProfileCheckFailed(snap.Identity, err)
		return s.gate.Status(), err
	}
	s.gate.ProfileChecked(snap.Identity, profile != nil)
	return s.gate.Status(), nil
}

func (s *ProfileService) Status() access.Status {
	return s.gate.Status()
}
