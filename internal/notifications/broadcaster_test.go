package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/featureflags"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
	"bulletin/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policy = cache.Policy{StaleTime: time.Hour}

// memoryBus loops payloads back to its subscribers in-process.
type memoryBus struct {
	mu        sync.Mutex
	subs      []func([]byte)
	published [][]byte
	err       error
}

func (b *memoryBus) Name() string { return "memory" }

func (b *memoryBus) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return b.err
	}
	b.published = append(b.published, payload)
	subs := append(([]func([]byte))(nil), b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(payload)
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, onMessage func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, onMessage)
	return nil
}

func (b *memoryBus) Close() error { return nil }

func (b *memoryBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func idleCache() *cache.Cache {
	return cache.New(channel.NewManager(testutil.NewFakeRemote().Builder()))
}

// warmCache returns a cache holding a fresh post list and caller profile.
func warmCache(t *testing.T) (*cache.Cache, models.PostID) {
	t.Helper()
	remote := testutil.NewFakeRemote()
	remote.Register("alice", "alice", "Alice", models.RoleCommonUser)
	post := remote.SeedPost("alice", "hello", "world")

	m := channel.NewManager(remote.Builder())
	c := cache.New(m)
	m.SetIdentity(context.Background(), channel.Credential{Identity: "alice"})
	_, err := m.Await(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.ReadPosts(ctx, c, policy)
	require.NoError(t, err)
	_, err = cache.ReadPost(ctx, c, policy, post)
	require.NoError(t, err)
	_, err = cache.ReadCallerProfile(ctx, c, policy)
	require.NoError(t, err)
	require.Empty(t, c.StaleKeys())
	return c, post
}

func likeTargets(id models.PostID) []cache.Target {
	return mutation.Invalidations(mutation.OpLikePost, mutation.Params{PostID: id}, "alice")
}

func TestEvent_TargetsRoundTrip(t *testing.T) {
	targets := []cache.Target{cache.Exact("posts"), cache.Prefix("comments:")}
	ev := NewEvent("origin", "like_post", targets)

	payload, err := encodeEvent(ev)
	require.NoError(t, err)
	decoded, err := decodeEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, "origin", decoded.Origin)
	assert.ElementsMatch(t, targets, decoded.Targets())
}

func TestBroadcaster_AppliesPeerEvents(t *testing.T) {
	bus := &memoryBus{}
	sender := NewBroadcaster(bus, idleCache(), nil)
	c, post := warmCache(t)
	receiver := NewBroadcaster(bus, c, nil)
	require.NoError(t, receiver.Start(context.Background()))

	sender.PublishInvalidation(context.Background(), "bob", mutation.OpLikePost, likeTargets(post))

	assert.ElementsMatch(t, []string{cache.PostsKey, cache.PostKey(post)}, c.StaleKeys())
}

func TestBroadcaster_IgnoresOwnEvents(t *testing.T) {
	bus := &memoryBus{}
	c, post := warmCache(t)
	b := NewBroadcaster(bus, c, nil)
	require.NoError(t, b.Start(context.Background()))

	b.PublishInvalidation(context.Background(), "alice", mutation.OpLikePost, likeTargets(post))

	assert.Equal(t, 1, bus.count())
	assert.Empty(t, c.StaleKeys())
}

func TestBroadcaster_NeverPublishesIdentityScopedKeys(t *testing.T) {
	bus := &memoryBus{}
	b := NewBroadcaster(bus, idleCache(), nil)

	b.PublishInvalidation(context.Background(), "alice", mutation.OpSaveProfile,
		[]cache.Target{cache.Exact(cache.CurrentProfileKey), cache.Exact(cache.SavedPostsKey)})
	assert.Zero(t, bus.count(), "nothing public to send")

	b.PublishInvalidation(context.Background(), "alice", mutation.OpSavePost,
		[]cache.Target{cache.Exact(cache.SavedPostsKey), cache.Exact(cache.PostsKey)})
	require.Equal(t, 1, bus.count())
	ev, err := decodeEvent(bus.published[0])
	require.NoError(t, err)
	assert.Equal(t, []string{cache.PostsKey}, ev.Keys)
}

func TestBroadcaster_ReceiveDropsIdentityScopedKeys(t *testing.T) {
	c, _ := warmCache(t)
	b := NewBroadcaster(&memoryBus{}, c, nil)

	payload, err := encodeEvent(Event{Origin: "peer", Keys: []string{cache.CurrentProfileKey}})
	require.NoError(t, err)
	b.receive(context.Background(), payload)
	b.receive(context.Background(), []byte("{not json"))

	assert.Empty(t, c.StaleKeys())
}

func TestBroadcaster_FlagGatesPublishing(t *testing.T) {
	bus := &memoryBus{}
	b := NewBroadcaster(bus, idleCache(), featureflags.NewManager("broadcast_invalidations=off"))

	b.PublishInvalidation(context.Background(), "alice", mutation.OpLikePost, likeTargets(1))
	assert.Zero(t, bus.count())
}

func TestBroadcaster_PublishFailureIsSwallowed(t *testing.T) {
	bus := &memoryBus{err: errors.New("bus down")}
	b := NewBroadcaster(bus, idleCache(), nil)

	assert.NotPanics(t, func() {
		b.PublishInvalidation(context.Background(), "alice", mutation.OpLikePost, likeTargets(1))
	})
}

func TestRedisBus_DeliversBetweenProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	pub, err := NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	senderBus := NewRedisBus(pub)
	receiverBus := NewRedisBus(sub)
	defer func() { _ = senderBus.Close() }()
	defer func() { _ = receiverBus.Close() }()

	c, post := warmCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewBroadcaster(receiverBus, c, nil).Start(ctx))

	NewBroadcaster(senderBus, idleCache(), nil).
		PublishInvalidation(context.Background(), "bob", mutation.OpLikePost, likeTargets(post))

	assert.Eventually(t, func() bool {
		return len(c.StaleKeys()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestRedisBus_NilClientIsNoop(t *testing.T) {
	b := NewRedisBus(nil)
	assert.NoError(t, b.Publish(context.Background(), []byte("x")))
	assert.NoError(t, b.Subscribe(context.Background(), func([]byte) {}))
	assert.NoError(t, b.Close())
}

func TestNewRedisClient_RejectsBadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "redis://%zz")
	assert.Error(t, err)
}

func TestNATSBus_DeliversBetweenProcesses(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	senderBus, err := ConnectNATS(srv.ClientURL())
	require.NoError(t, err)
	defer func() { _ = senderBus.Close() }()
	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	receiverBus := NewNATSBus(conn)
	defer func() { _ = receiverBus.Close() }()

	c, post := warmCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewBroadcaster(receiverBus, c, nil).Start(ctx))

	NewBroadcaster(senderBus, idleCache(), nil).
		PublishInvalidation(context.Background(), "bob", mutation.OpLikePost, likeTargets(post))

	assert.Eventually(t, func() bool {
		return len(c.StaleKeys()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
