// Package notifications carries cache invalidations between client processes.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"bulletin/internal/cache"
)

// InvalidationChannel is the redis channel invalidations are published on.
const InvalidationChannel = "bulletin:invalidations"

// InvalidationSubject is the nats subject invalidations are published on.
const InvalidationSubject = "bulletin.invalidations"

// Bus moves opaque payloads between processes.
type Bus interface {
	// Name identifies the transport in metrics and logs.
	Name() string
	Publish(ctx context.Context, payload []byte) error
	// Subscribe delivers payloads to onMessage until ctx ends. The
	// subscription is active when Subscribe returns.
	Subscribe(ctx context.Context, onMessage func(payload []byte)) error
	Close() error
}

// Event is one published invalidation set.
type Event struct {
	Origin    string   `json:"origin"`
	Operation string   `json:"operation,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	Prefixes  []string `json:"prefixes,omitempty"`
}

// NewEvent splits targets into exact keys and prefixes.
func NewEvent(origin, op string, targets []cache.Target) Event {
	ev := Event{Origin: origin, Operation: op}
	for _, t := range targets {
		if t.Prefix {
			ev.Prefixes = append(ev.Prefixes, t.Key)
		} else {
			ev.Keys = append(ev.Keys, t.Key)
		}
	}
	return ev
}

// Targets converts the event back into cache targets.
func (e Event) Targets() []cache.Target {
	out := make([]cache.Target, 0, len(e.Keys)+len(e.Prefixes))
	for _, k := range e.Keys {
		out = append(out, cache.Exact(k))
	}
	for _, p := range e.Prefixes {
		out = append(out, cache.Prefix(p))
	}
	return out
}

func (e Event) Empty() bool {
	return len(e.Keys) == 0 && len(e.Prefixes) == 0
}

func encodeEvent(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal invalidation: %w", err)
	}
	return b, nil
}

func decodeEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal invalidation: %w", err)
	}
	return e, nil
}
