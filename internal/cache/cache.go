// Package cache is the process-wide entity cache in front of the remote
// channel. Entries belong to one identity epoch; an identity change discards
// them all and responses fetched under an older epoch are never stored.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/observability"

	"golang.org/x/sync/singleflight"
)

// Policy controls one read.
type Policy struct {
	// StaleTime is how long a fetched value is served without refetching.
	StaleTime time.Duration
	// Retry allows one transparent retry on ChannelUnavailable or Transient.
	Retry bool
}

// State describes an entry as seen by Peek.
type State int

const (
	StateAbsent State = iota
	StateFresh
	StateStale
	StateFetching
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateFetching:
		return "fetching"
	default:
		return "absent"
	}
}

// Source supplies the channel reads are issued on.
type Source interface {
	Await(ctx context.Context) (channel.Snapshot, error)
	Snapshot() channel.Snapshot
	OnIdentityChange(fn func(channel.Snapshot))
}

// Fetcher loads the value of one key from the remote service.
type Fetcher[T any] func(ctx context.Context, ch channel.Channel) (T, error)

type entry struct {
	value     any
	fetchedAt time.Time
	stale     bool
}

// Cache coalesces concurrent reads of a key into one fetch and serves the
// last value while it revalidates.
type Cache struct {
	source Source
	clock  Clock
	logger *observability.CacheLogger
	tracer *observability.TraceLayer
	group  singleflight.Group

	mu      sync.Mutex
	epoch   uint64
	gen     uint64
	entries map[string]*entry
	// marks record the generation of the latest invalidation per key and per prefix.
	marks       map[string]uint64
	prefixMarks map[string]uint64
	inflight    map[string]int
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock used to age entries.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// New creates a cache bound to source and subscribes it to identity changes.
func New(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:   source,
		clock:    NewRealClock(),
		logger:   observability.NewCacheLogger(),
		tracer:   observability.GetTraceLayer(),
		inflight: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resetLocked(source.Snapshot().Epoch)
	source.OnIdentityChange(func(s channel.Snapshot) {
		c.Reset(s.Epoch)
	})
	return c
}

// Reset drops every entry and starts epoch. An epoch older than the current
// one is ignored.
func (c *Cache) Reset(epoch uint64) {
	c.mu.Lock()
	if epoch < c.epoch {
		c.mu.Unlock()
		return
	}
	dropped := len(c.entries)
	c.resetLocked(epoch)
	c.mu.Unlock()

	c.logger.LogReset(context.Background(), epoch, dropped)
}

func (c *Cache) resetLocked(epoch uint64) {
	c.epoch = epoch
	c.entries = make(map[string]*entry)
	c.marks = make(map[string]uint64)
	c.prefixMarks = make(map[string]uint64)
}

// Epoch returns the identity epoch the entries belong to.
func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Read returns the value of key, fetching it when absent, stale or older than
// policy.StaleTime.
func Read[T any](ctx context.Context, c *Cache, key string, policy Policy, fetch Fetcher[T]) (T, error) {
	var zero T
	v, err := c.read(ctx, key, policy, func(ctx context.Context, ch channel.Channel) (any, error) {
		return fetch(ctx, ch)
	})
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T", key, v)
	}
	return out, nil
}

// Peek returns the last known value of key without fetching.
func Peek[T any](c *Cache, key string) (T, State) {
	var zero T
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateLocked(key)
	e, ok := c.entries[key]
	if !ok {
		return zero, state
	}
	v, _ := e.value.(T)
	return v, state
}

// Update replaces the value of key with fn applied to it, keeping the entry's
// age and staleness. It reports false when key holds no value of type T. A
// fetch of key already in flight stores its result as stale.
func Update[T any](c *Cache, key string, fn func(T) T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	v, ok := e.value.(T)
	if !ok {
		return false
	}
	e.value = fn(v)
	c.gen++
	c.marks[key] = c.gen
	return true
}

// State reports the state of key.
func (c *Cache) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(key)
}

func (c *Cache) stateLocked(key string) State {
	if c.inflight[flightKey(c.epoch, key)] > 0 {
		return StateFetching
	}
	e, ok := c.entries[key]
	switch {
	case !ok:
		return StateAbsent
	case e.stale:
		return StateStale
	default:
		return StateFresh
	}
}

// Keys lists the cached keys.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// StaleKeys lists the cached keys marked stale.
func (c *Cache) StaleKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for key, e := range c.entries {
		if e.stale {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Invalidate marks every entry matching targets stale, keeping its value.
// Fetches already in flight for a matching key store their result as stale.
// The matched keys are returned.
func (c *Cache) Invalidate(ctx context.Context, targets ...Target) []string {
	if len(targets) == 0 {
		return nil
	}
	c.mu.Lock()
	matched := c.invalidateLocked(targets)
	c.mu.Unlock()

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.String()
	}
	for _, key := range matched {
		observability.CacheInvalidations.WithLabelValues(Family(key)).Inc()
	}
	c.logger.LogInvalidate(ctx, names, matched)
	return matched
}

func (c *Cache) invalidateLocked(targets []Target) []string {
	c.gen++
	for _, t := range targets {
		if t.Prefix {
			c.prefixMarks[t.Key] = c.gen
		} else {
			c.marks[t.Key] = c.gen
		}
	}

	var matched []string
	for key, e := range c.entries {
		for _, t := range targets {
			if t.Matches(key) {
				e.stale = true
				matched = append(matched, key)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}

func (c *Cache) markLocked(key string) uint64 {
	mark := c.marks[key]
	for prefix, gen := range c.prefixMarks {
		if gen > mark && strings.HasPrefix(key, prefix) {
			mark = gen
		}
	}
	return mark
}

func (c *Cache) fresh(e *entry, staleTime time.Duration) bool {
	return !e.stale && c.clock.NowUtc().Sub(e.fetchedAt) < staleTime
}

func (c *Cache) read(ctx context.Context, key string, policy Policy, fetch Fetcher[any]) (any, error) {
	v, err := c.readOnce(ctx, key, policy, fetch)
	if err != nil && policy.Retry && retryable(err) && ctx.Err() == nil {
		v, err = c.readOnce(ctx, key, policy, fetch)
	}
	return v, err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch models.Classify(err) {
	case models.CodeChannelUnavailable, models.CodeTransient:
		return true
	}
	return false
}

func (c *Cache) readOnce(ctx context.Context, key string, policy Policy, fetch Fetcher[any]) (any, error) {
	family := Family(key)
	snap, err := c.source.Await(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if snap.Epoch != c.epoch {
		c.mu.Unlock()
		return nil, models.NewChannelUnavailableError("identity changed while reading " + key)
	}
	e, cached := c.entries[key]
	if cached && c.fresh(e, policy.StaleTime) {
		v := e.value
		c.mu.Unlock()
		observability.CacheReads.WithLabelValues(family, "hit").Inc()
		c.logger.LogHit(ctx, key, snap.Epoch)
		return v, nil
	}
	mark := c.markLocked(key)
	c.mu.Unlock()

	result := "miss"
	if cached {
		result = "stale"
	}

	// The mark is part of the flight key so a read issued after an
	// invalidation never joins a fetch that started before it.
	flight := fmt.Sprintf("%s@%d", flightKey(snap.Epoch, key), mark)
	resCh := c.group.DoChan(flight, func() (any, error) {
		return c.fetch(ctx, key, snap, cached, fetch)
	})

	select {
	case res := <-resCh:
		if res.Shared {
			result = "coalesced"
		}
		observability.CacheReads.WithLabelValues(family, result).Inc()
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fetch runs once per flight. It is detached from the first caller's
// cancellation because other readers may have joined it.
func (c *Cache) fetch(ctx context.Context, key string, snap channel.Snapshot, revalidate bool, fetch Fetcher[any]) (any, error) {
	ctx = context.WithoutCancel(ctx)
	inflight := flightKey(snap.Epoch, key)

	c.mu.Lock()
	startGen := c.gen
	c.inflight[inflight]++
	c.mu.Unlock()

	c.logger.LogFetch(ctx, key, snap.Epoch, revalidate)
	ctx, span := c.tracer.TraceCacheFetch(ctx, key, snap.Epoch)
	done := observability.TrackFetch(Family(key))
	v, err := fetch(ctx, snap.Channel)
	done()
	observability.EndSpan(span, err)

	c.mu.Lock()
	if c.inflight[inflight]--; c.inflight[inflight] <= 0 {
		delete(c.inflight, inflight)
	}
	current := c.epoch
	if snap.Epoch != current {
		c.mu.Unlock()
		observability.CacheDiscards.Inc()
		c.logger.LogDiscard(ctx, key, snap.Epoch, current)
		return nil, models.NewChannelUnavailableError("identity changed while fetching " + key)
	}
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			c.invalidateLocked([]Target{Exact(key)})
		}
		c.mu.Unlock()
		c.logger.LogError(ctx, key, err)
		return nil, err
	}
	c.entries[key] = &entry{
		value:     v,
		fetchedAt: c.clock.NowUtc(),
		stale:     c.markLocked(key) > startGen,
	}
	c.mu.Unlock()
	return v, nil
}

func flightKey(epoch uint64, key string) string {
	return fmt.Sprintf("%d/%s", epoch, key)
}
