package mutation

import (
	"context"
	"errors"
	"fmt"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/observability"
	"bulletin/internal/roles"
)

// Source reports the current channel without waiting for it.
type Source interface {
	Snapshot() channel.Snapshot
}

// Publisher forwards successful invalidations to other processes.
type Publisher interface {
	PublishInvalidation(ctx context.Context, self models.Identity, op Operation, targets []cache.Target)
}

// Call performs the single remote write of a mutation.
type Call[T any] func(ctx context.Context, ch channel.Channel) (T, error)

// Coordinator performs each mutation as exactly one remote call and applies
// its invalidations only after the call succeeded. Mutations are never retried.
type Coordinator struct {
	source    Source
	cache     *cache.Cache
	authority *roles.Authority
	publisher Publisher
	logger    *observability.MutationLogger
	tracer    *observability.TraceLayer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher forwards invalidations through p.
func WithPublisher(p Publisher) Option {
	return func(co *Coordinator) {
		co.publisher = p
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(source Source, c *cache.Cache, authority *roles.Authority, opts ...Option) *Coordinator {
	co := &Coordinator{
		source:    source,
		cache:     c,
		authority: authority,
		logger:    observability.NewMutationLogger(),
		tracer:    observability.GetTraceLayer(),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Execute runs a mutation without a result value.
func (co *Coordinator) Execute(ctx context.Context, op Operation, p Params, call func(ctx context.Context, ch channel.Channel) error) error {
	_, err := Run(ctx, co, op, p, func(ctx context.Context, ch channel.Channel) (struct{}, error) {
		return struct{}{}, call(ctx, ch)
	})
	return err
}

// Run performs op through call. Writes are refused with ChannelUnavailable
// while no channel exists or for the anonymous caller, and with Unauthorized
// when a client-side role check already fails.
func Run[T any](ctx context.Context, co *Coordinator, op Operation, p Params, call Call[T]) (T, error) {
	var zero T
	r, ok := rules[op]
	if !ok {
		return zero, fmt.Errorf("mutation: unknown operation %q", op)
	}

	ctx = observability.EnsureCorrelationID(ctx)
	ctx, span := co.tracer.TraceMutation(ctx, string(op))
	var err error
	defer func() { observability.EndSpan(span, err) }()

	snap := co.source.Snapshot()
	if err = co.precheck(ctx, op, r, p, snap); err != nil {
		co.logger.LogRefused(ctx, string(op), models.Classify(err), err.Error())
		observability.Mutations.WithLabelValues(string(op), "refused").Inc()
		return zero, err
	}

	var result T
	result, err = call(ctx, snap.Channel)
	if err != nil {
		err = co.fail(ctx, op, p, err)
		return zero, err
	}

	targets := r.invalidates(p, snap.Identity)
	matched := co.cache.Invalidate(ctx, targets...)
	if r.prune != nil {
		r.prune(co.cache, p)
	}
	if co.publisher != nil {
		co.publisher.PublishInvalidation(ctx, snap.Identity, op, targets)
	}

	observability.Mutations.WithLabelValues(string(op), "ok").Inc()
	co.logger.LogSuccess(ctx, string(op), map[string]interface{}{
		"epoch":       snap.Epoch,
		"invalidated": matched,
	})
	return result, nil
}

func (co *Coordinator) precheck(ctx context.Context, op Operation, r rule, p Params, snap channel.Snapshot) error {
	if snap.Channel == nil {
		if snap.Initializing {
			return models.NewChannelUnavailableError("channel is initializing")
		}
		return models.NewChannelUnavailableError("no channel available")
	}
	if snap.Identity.IsAnonymous() {
		return models.NewChannelUnavailableError("sign in required")
	}
	if r.adminOnly {
		return co.authority.RequireAdmin(ctx)
	}
	if op == OpDeletePost {
		post, known := co.knownPost(p.PostID)
		if known && post.Author != snap.Identity {
			if err := co.authority.RequireAdmin(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// knownPost looks the post up in the cache without fetching.
func (co *Coordinator) knownPost(id models.PostID) (*models.Post, bool) {
	if post, state := cache.Peek[*models.Post](co.cache, cache.PostKey(id)); state != cache.StateAbsent && post != nil {
		return post, true
	}
	posts, _ := cache.Peek[[]models.Post](co.cache, cache.PostsKey)
	return models.FindPost(posts, id)
}

// fail classifies err and applies only the corrective invalidation for it.
func (co *Coordinator) fail(ctx context.Context, op Operation, p Params, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		observability.Mutations.WithLabelValues(string(op), "canceled").Inc()
		return err
	}

	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		err = models.NewTransientError(err)
	}
	code := models.Classify(err)
	switch code {
	case models.CodeUnauthorized:
		co.authority.Forget(ctx)
	case models.CodeNotFound:
		co.cache.Invalidate(ctx, notFoundTargets(op, p)...)
	}

	observability.Mutations.WithLabelValues(string(op), code).Inc()
	co.logger.LogFailure(ctx, string(op), code, err)
	return err
}
