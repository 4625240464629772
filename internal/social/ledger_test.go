package social_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
	"bulletin/internal/roles"
	"bulletin/internal/social"
	"bulletin/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policy = cache.Policy{StaleTime: time.Hour}

func newLedger(t *testing.T, identity models.Identity) (*social.Ledger, *cache.Cache, *testutil.FakeRemote, models.PostID) {
	t.Helper()
	remote := testutil.NewFakeRemote()
	remote.Register("alice", "alice", "Alice", models.RoleCommonUser)
	post := remote.SeedPost("alice", "hello", "world")

	m := channel.NewManager(remote.Builder())
	c := cache.New(m)
	policyFn := func() cache.Policy { return policy }
	co := mutation.NewCoordinator(m, c, roles.NewAuthority(m, c, policyFn))
	l := social.NewLedger(m, c, co, policyFn)

	cred := channel.Anonymous()
	if !identity.IsAnonymous() {
		cred = channel.Credential{Identity: identity}
	}
	m.SetIdentity(context.Background(), cred)
	_, err := m.Await(context.Background())
	require.NoError(t, err)
	return l, c, remote, post
}

func TestLike_CountersComeFromServerNotLocalArithmetic(t *testing.T) {
	l, c, remote, post := newLedger(t, "alice")
	ctx := context.Background()

	before, err := cache.ReadPost(ctx, c, policy, post)
	require.NoError(t, err)
	require.Zero(t, before.Likes)

	release := remote.Hold(testutil.MethodLikePost)
	likeDone := make(chan error, 1)
	go func() { likeDone <- l.Like(ctx, post) }()

	assert.Eventually(t, func() bool {
		return l.IsPending(post, mutation.OpLikePost)
	}, time.Second, 5*time.Millisecond)

	during, err := cache.ReadPost(ctx, c, policy, post)
	require.NoError(t, err)
	assert.Zero(t, during.Likes, "no optimistic increment while the like is in flight")
	counts, ok := l.Counts(post)
	require.True(t, ok)
	assert.Zero(t, counts.Likes)

	release()
	require.NoError(t, <-likeDone)
	assert.False(t, l.IsPending(post, mutation.OpLikePost))

	after, err := cache.ReadPost(ctx, c, policy, post)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), after.Likes)
}

func TestSave_TwiceKeepsSingleMembership(t *testing.T) {
	l, c, remote, post := newLedger(t, "alice")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Save(ctx, post))
		}()
	}
	wg.Wait()
	require.NoError(t, l.Save(ctx, post))

	profile, err := cache.ReadCallerProfile(ctx, c, policy)
	require.NoError(t, err)
	assert.Equal(t, []models.PostID{post}, profile.SavedPosts)
	assert.Equal(t, 3, remote.Calls(testutil.MethodSavePost))
}

func TestToggleSave(t *testing.T) {
	l, _, _, post := newLedger(t, "alice")
	ctx := context.Background()

	saved, err := l.ToggleSave(ctx, post)
	require.NoError(t, err)
	assert.True(t, saved)
	isSaved, err := l.IsSaved(ctx, post)
	require.NoError(t, err)
	assert.True(t, isSaved, "the profile refetch reflects the save")

	saved, err = l.ToggleSave(ctx, post)
	require.NoError(t, err)
	assert.False(t, saved)
	set, err := l.SavedSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestSavedSet_NeedsIdentity(t *testing.T) {
	l, _, remote, post := newLedger(t, models.Anonymous)

	_, err := l.SavedSet(context.Background())
	assert.True(t, models.IsCode(err, models.CodeChannelUnavailable))

	err = l.Save(context.Background(), post)
	assert.True(t, models.IsCode(err, models.CodeChannelUnavailable))
	assert.Zero(t, remote.Calls(testutil.MethodSavePost))
	assert.Empty(t, l.Pending(post))
}

func TestTrack_CountsOverlappingOperations(t *testing.T) {
	l, _, _, post := newLedger(t, "alice")

	first := l.Track(post, mutation.OpLikePost)
	second := l.Track(post, mutation.OpLikePost)
	share := l.Track(post, mutation.OpSharePost)
	assert.Equal(t, []mutation.Operation{mutation.OpLikePost, mutation.OpSharePost}, l.Pending(post))

	first()
	first()
	assert.True(t, l.IsPending(post, mutation.OpLikePost))
	second()
	share()
	assert.Empty(t, l.Pending(post))
}
