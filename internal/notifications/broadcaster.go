package notifications

import (
	"context"

	"bulletin/internal/cache"
	"bulletin/internal/featureflags"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
	"bulletin/internal/observability"

	"github.com/google/uuid"
)

// Broadcaster publishes the public part of each successful mutation's
// invalidation set and applies the sets other processes publish.
type Broadcaster struct {
	bus    Bus
	cache  *cache.Cache
	flags  *featureflags.Manager
	origin string
}

// NewBroadcaster creates a broadcaster with a fresh origin id.
func NewBroadcaster(bus Bus, c *cache.Cache, flags *featureflags.Manager) *Broadcaster {
	return &Broadcaster{bus: bus, cache: c, flags: flags, origin: uuid.NewString()}
}

func (b *Broadcaster) Origin() string { return b.origin }

// PublishInvalidation implements mutation.Publisher. Failures are logged and
// counted; the mutation already succeeded.
func (b *Broadcaster) PublishInvalidation(ctx context.Context, self models.Identity, op mutation.Operation, targets []cache.Target) {
	if !b.flags.EnabledOr(featureflags.BroadcastInvalidations, self, true) {
		return
	}
	ev := NewEvent(b.origin, string(op), shared(targets))
	if ev.Empty() {
		return
	}
	payload, err := encodeEvent(ev)
	if err == nil {
		err = b.bus.Publish(context.WithoutCancel(ctx), payload)
	}
	if err != nil {
		observability.BusEvents.WithLabelValues(b.bus.Name(), "publish_error").Inc()
		observability.LogAsyncOperationError(ctx, "publish_invalidation", err, map[string]interface{}{
			"transport": b.bus.Name(),
			"mutation":  string(op),
		})
		return
	}
	observability.BusEvents.WithLabelValues(b.bus.Name(), "published").Inc()
}

// Start subscribes to the bus until ctx ends.
func (b *Broadcaster) Start(ctx context.Context) error {
	return b.bus.Subscribe(ctx, func(payload []byte) {
		b.receive(ctx, payload)
	})
}

func (b *Broadcaster) receive(ctx context.Context, payload []byte) {
	ev, err := decodeEvent(payload)
	if err != nil {
		observability.BusEvents.WithLabelValues(b.bus.Name(), "malformed").Inc()
		observability.LogAsyncOperationError(ctx, "receive_invalidation", err, map[string]interface{}{
			"transport": b.bus.Name(),
		})
		return
	}
	if ev.Origin == b.origin {
		observability.BusEvents.WithLabelValues(b.bus.Name(), "own").Inc()
		return
	}
	targets := shared(ev.Targets())
	if len(targets) == 0 {
		return
	}
	observability.BusEvents.WithLabelValues(b.bus.Name(), "received").Inc()
	b.cache.Invalidate(observability.EnsureCorrelationID(ctx), targets...)
}

// shared drops targets addressing identity-scoped entries; those only make
// sense inside the process that owns the identity.
func shared(targets []cache.Target) []cache.Target {
	out := make([]cache.Target, 0, len(targets))
	for _, t := range targets {
		if cache.IdentityScoped(t.Key) {
			continue
		}
		out = append(out, t)
	}
	return out
}
