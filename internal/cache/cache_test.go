package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policy = cache.Policy{StaleTime: time.Minute}

func listPosts(ctx context.Context, ch channel.Channel) ([]models.Post, error) {
	return ch.ListPosts(ctx)
}

type fixture struct {
	remote   *testutil.FakeRemote
	channels *channel.Manager
	cache    *cache.Cache
	clock    *testutil.StubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remote := testutil.NewFakeRemote()
	remote.Register("alice", "alice", "Alice", models.RoleCommonUser)
	remote.SeedPost("alice", "first", "hello")

	clock := testutil.NewStubClock()
	m := channel.NewManager(remote.Builder())
	c := cache.New(m, cache.WithClock(clock))
	m.SetIdentity(context.Background(), channel.Credential{Identity: "alice"})
	_, err := m.Await(context.Background())
	require.NoError(t, err)

	return &fixture{remote: remote, channels: m, cache: c, clock: clock}
}

func TestRead_CoalescesConcurrentReads(t *testing.T) {
	f := newFixture(t)
	release := f.remote.Hold(testutil.MethodListPosts)

	var wg sync.WaitGroup
	results := make([][]models.Post, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			posts, err := cache.Read(context.Background(), f.cache, cache.PostsKey, policy, listPosts)
			assert.NoError(t, err)
			results[i] = posts
		}(i)
	}

	assert.Eventually(t, func() bool {
		return f.cache.State(cache.PostsKey) == cache.StateFetching
	}, time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, f.remote.Calls(testutil.MethodListPosts))
	for _, posts := range results {
		assert.Len(t, posts, 1)
	}
}

func TestRead_ServesFreshEntryWithinStaleTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
		require.NoError(t, err)
		f.clock.Advance(10 * time.Second)
	}
	assert.Equal(t, 1, f.remote.Calls(testutil.MethodListPosts))

	f.clock.Advance(time.Minute)
	_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
	require.NoError(t, err)
	assert.Equal(t, 2, f.remote.Calls(testutil.MethodListPosts))
}

func TestInvalidate_KeepsLastValueVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
	require.NoError(t, err)
	f.remote.SeedPost("alice", "second", "world")

	matched := f.cache.Invalidate(ctx, cache.Exact(cache.PostsKey))
	assert.Equal(t, []string{cache.PostsKey}, matched)

	stale, state := cache.Peek[[]models.Post](f.cache, cache.PostsKey)
	assert.Equal(t, cache.StateStale, state)
	assert.Len(t, stale, 1, "stale value stays visible until the refetch lands")

	posts, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, 2, f.remote.Calls(testutil.MethodListPosts))
	assert.Equal(t, cache.StateFresh, f.cache.State(cache.PostsKey))
}

func TestInvalidate_PrefixMatchesOnlyThatFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.remote.SeedPost("alice", "second", "world")

	_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
	require.NoError(t, err)
	_, err = cache.Read(ctx, f.cache, cache.PostKey(id), policy, func(ctx context.Context, ch channel.Channel) (*models.Post, error) {
		return ch.GetPost(ctx, id)
	})
	require.NoError(t, err)

	matched := f.cache.Invalidate(ctx, cache.Prefix(cache.PostKeyPrefix))
	assert.Equal(t, []string{cache.PostKey(id)}, matched)
	assert.Equal(t, cache.StateFresh, f.cache.State(cache.PostsKey))
}

func TestInvalidate_DuringFetchStoresResultAsStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := f.remote.Hold(testutil.MethodListPosts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
		assert.NoError(t, err)
	}()

	assert.Eventually(t, func() bool {
		return f.remote.Calls(testutil.MethodListPosts) == 1
	}, time.Second, 5*time.Millisecond)
	f.cache.Invalidate(ctx, cache.Exact(cache.PostsKey))
	release()
	<-done

	assert.Equal(t, cache.StateStale, f.cache.State(cache.PostsKey))
	_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
	require.NoError(t, err)
	assert.Equal(t, 2, f.remote.Calls(testutil.MethodListPosts))
}

func TestRead_WaitsForChannelInsteadOfReportingEmpty(t *testing.T) {
	f := newFixture(t)
	release := f.remote.Hold(testutil.MethodBuild)
	f.channels.SetIdentity(context.Background(), channel.Anonymous())

	done := make(chan []models.Post, 1)
	go func() {
		posts, err := cache.Read(context.Background(), f.cache, cache.PostsKey, policy, listPosts)
		assert.NoError(t, err)
		done <- posts
	}()

	assert.Never(t, func() bool { return len(done) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	release()

	select {
	case posts := <-done:
		assert.Len(t, posts, 1)
	case <-time.After(time.Second):
		t.Fatal("read did not resume after the channel was built")
	}
}

func TestRead_DiscardsResponseFromPreviousEpoch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := f.remote.Hold(testutil.MethodGetCallerProfile)

	errCh := make(chan error, 1)
	go func() {
		_, err := cache.Read(ctx, f.cache, cache.CurrentProfileKey, policy, func(ctx context.Context, ch channel.Channel) (*models.UserProfile, error) {
			return ch.GetCallerProfile(ctx)
		})
		errCh <- err
	}()

	assert.Eventually(t, func() bool {
		return f.remote.Calls(testutil.MethodGetCallerProfile) == 1
	}, time.Second, 5*time.Millisecond)
	f.channels.SetIdentity(ctx, channel.Credential{Identity: "bob"})
	release()

	err := <-errCh
	assert.True(t, models.IsCode(err, models.CodeChannelUnavailable))
	assert.Empty(t, f.cache.Keys(), "alice's profile must not land in bob's epoch")
}

func TestRead_RetriesOnceAcrossIdentitySwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := f.remote.Hold(testutil.MethodListPosts)

	result := make(chan []models.Post, 1)
	go func() {
		posts, err := cache.Read(ctx, f.cache, cache.PostsKey, cache.Policy{StaleTime: time.Minute, Retry: true}, listPosts)
		assert.NoError(t, err)
		result <- posts
	}()

	assert.Eventually(t, func() bool {
		return f.remote.Calls(testutil.MethodListPosts) == 1
	}, time.Second, 5*time.Millisecond)
	f.channels.SetIdentity(ctx, channel.Anonymous())
	release()

	assert.Len(t, <-result, 1)
	assert.Equal(t, 2, f.remote.Calls(testutil.MethodListPosts))
	assert.Equal(t, []string{cache.PostsKey}, f.cache.Keys())
}

func TestRead_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		failure   error
		retry     bool
		wantErr   bool
		wantCalls int
	}{
		{"transient retried", models.NewTransientError(errors.New("connection reset")), true, false, 2},
		{"transient without retry", models.NewTransientError(errors.New("connection reset")), false, true, 1},
		{"unauthorized never retried", models.NewUnauthorizedError("denied"), true, true, 1},
		{"validation never retried", models.NewValidationError("bad"), true, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.remote.FailNext(testutil.MethodListPosts, tt.failure)

			_, err := cache.Read(context.Background(), f.cache, cache.PostsKey, cache.Policy{StaleTime: time.Minute, Retry: tt.retry}, listPosts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, f.remote.Calls(testutil.MethodListPosts))
		})
	}
}

func TestRead_NotFoundInvalidatesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.remote.SeedPost("alice", "doomed", "soon gone")
	getPost := func(ctx context.Context, ch channel.Channel) (*models.Post, error) {
		return ch.GetPost(ctx, id)
	}

	_, err := cache.Read(ctx, f.cache, cache.PostKey(id), policy, getPost)
	require.NoError(t, err)

	f.remote.FailNext(testutil.MethodGetPost, models.NewNotFoundError("Post", id))
	f.clock.Advance(2 * time.Minute)
	_, err = cache.Read(ctx, f.cache, cache.PostKey(id), policy, getPost)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	assert.Equal(t, cache.StateStale, f.cache.State(cache.PostKey(id)))
}

func TestReset_OnIdentityChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
	require.NoError(t, err)
	require.NotEmpty(t, f.cache.Keys())

	epoch := f.channels.SetIdentity(ctx, channel.Anonymous())
	assert.Empty(t, f.cache.Keys())
	assert.Equal(t, epoch, f.cache.Epoch())
}

func TestReset_OverlappingIdentityChangesEndOnNewestEpoch(t *testing.T) {
	remote := testutil.NewFakeRemote()
	remote.SeedPost("alice", "first", "hello")
	m := channel.NewManager(remote.Builder())
	c := cache.New(m)

	entered := make(chan struct{})
	release := make(chan struct{})
	m.OnIdentityChange(func(s channel.Snapshot) {
		if s.Identity == "alice" {
			close(entered)
			<-release
		}
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.SetIdentity(context.Background(), channel.Credential{Identity: "alice"})
	}()
	<-entered
	go func() {
		defer wg.Done()
		m.SetIdentity(context.Background(), channel.Credential{Identity: "bob"})
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, uint64(2), m.Epoch())
	assert.Equal(t, m.Epoch(), c.Epoch())
	assert.Equal(t, models.Identity("bob"), m.Identity())

	posts, err := cache.Read(context.Background(), c, cache.PostsKey, cache.Policy{StaleTime: time.Minute, Retry: true}, listPosts)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestReset_IgnoresOlderEpoch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := cache.Read(ctx, f.cache, cache.PostsKey, policy, listPosts)
	require.NoError(t, err)

	f.cache.Reset(f.cache.Epoch() - 1)
	assert.Equal(t, f.channels.Epoch(), f.cache.Epoch())
	assert.Equal(t, cache.StateFresh, f.cache.State(cache.PostsKey))
}
