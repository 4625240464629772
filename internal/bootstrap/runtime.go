// Package bootstrap assembles the client core from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"bulletin/internal/access"
	"bulletin/internal/blob"
	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/config"
	"bulletin/internal/featureflags"
	"bulletin/internal/mutation"
	"bulletin/internal/notifications"
	"bulletin/internal/observability"
	"bulletin/internal/remote"
	"bulletin/internal/roles"
	"bulletin/internal/service"
	"bulletin/internal/social"
)

// package-level constructor hooks so tests can run the runtime against fakes.
var (
	newBuilder = func(cfg *config.Config) channel.Builder {
		return remote.NewBuilder(cfg.RemoteURL)
	}

	newUploader = func(cfg *config.Config) blob.Uploader {
		return blob.NewHTTPStore(cfg.RemoteURL, nil)
	}

	openBus = defaultBus
)

func defaultBus(ctx context.Context, cfg *config.Config) (notifications.Bus, error) {
	switch cfg.InvalidationBus {
	case "redis":
		rdb, err := notifications.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return notifications.NewRedisBus(rdb), nil
	case "nats":
		bus, err := notifications.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, nil
	}
}

// Runtime is one client process: a channel manager, the cache epoch it
// drives, and the services built on top.
type Runtime struct {
	Config      *config.Config
	Flags       *featureflags.Manager
	Channels    *channel.Manager
	Cache       *cache.Cache
	Authority   *roles.Authority
	Coordinator *mutation.Coordinator
	Ledger      *social.Ledger
	Gate        *access.Gate

	Posts    *service.PostService
	Comments *service.CommentService
	Profiles *service.ProfileService
	Admin    *service.AdminService

	bus             notifications.Bus
	stopBus         context.CancelFunc
	shutdownTracing func(context.Context) error
}

// New builds a runtime for the anonymous caller. Call Login to switch identity.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  "bulletin",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: cfg.TracingSamplerRatio,
		Writer:       os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	rt := &Runtime{
		Config:          cfg,
		Flags:           featureflags.NewManager(cfg.FeatureFlags),
		Channels:        channel.NewManager(newBuilder(cfg)),
		Gate:            access.NewGate(),
		shutdownTracing: shutdownTracing,
	}
	rt.Cache = cache.New(rt.Channels)
	rt.Channels.OnIdentityChange(func(s channel.Snapshot) {
		rt.Gate.IdentityChanged(s.Epoch, s.Identity)
	})
	rt.Authority = roles.NewAuthority(rt.Channels, rt.Cache, rt.policy)

	var opts []mutation.Option
	bus, err := openBus(ctx, cfg)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("open invalidation bus: %w", err)
	}
	if bus != nil {
		rt.bus = bus
		broadcaster := notifications.NewBroadcaster(bus, rt.Cache, rt.Flags)
		busCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		rt.stopBus = cancel
		if err := broadcaster.Start(busCtx); err != nil {
			cancel()
			_ = bus.Close()
			_ = shutdownTracing(ctx)
			return nil, fmt.Errorf("subscribe invalidation bus: %w", err)
		}
		opts = append(opts, mutation.WithPublisher(broadcaster))
		observability.GlobalLogger.InfoContext(ctx, "invalidation bus connected",
			slog.String("bus", bus.Name()),
			slog.String("origin", broadcaster.Origin()),
		)
	}

	rt.Coordinator = mutation.NewCoordinator(rt.Channels, rt.Cache, rt.Authority, opts...)
	rt.Ledger = social.NewLedger(rt.Channels, rt.Cache, rt.Coordinator, rt.policy)

	uploader := newUploader(cfg)
	rt.Posts = service.NewPostService(rt.Channels, rt.Cache, rt.Coordinator, rt.Ledger, uploader, rt.policy)
	rt.Comments = service.NewCommentService(rt.Cache, rt.Coordinator, rt.Ledger, rt.policy)
	rt.Profiles = service.NewProfileService(rt.Channels, rt.Cache, rt.Coordinator, rt.Gate, uploader, rt.policy)
	rt.Admin = service.NewAdminService(rt.Cache, rt.Coordinator, rt.Authority, rt.policy)

	rt.Channels.SetIdentity(ctx, channel.Anonymous())
	return rt, nil
}

// policy is evaluated per read so flag and identity changes apply immediately.
func (rt *Runtime) policy() cache.Policy {
	return cache.Policy{
		StaleTime: rt.Config.StaleTime(),
		Retry:     rt.Flags.EnabledOr(featureflags.ReadRetry, rt.Channels.Identity(), rt.Config.ReadRetry),
	}
}

// Login switches to cred and runs the profile existence check.
func (rt *Runtime) Login(ctx context.Context, cred channel.Credential) (access.Status, error) {
	rt.Channels.SetIdentity(ctx, cred)
	return rt.Profiles.SyncAccess(ctx)
}

// Logout returns to the anonymous caller.
func (rt *Runtime) Logout(ctx context.Context) access.Status {
	rt.Channels.SetIdentity(ctx, channel.Anonymous())
	return rt.Gate.Status()
}

// Close stops the invalidation bus and flushes traces.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.stopBus != nil {
		rt.stopBus()
	}
	if rt.bus != nil {
		if err := rt.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
