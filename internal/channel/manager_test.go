package channel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_StartsAbsent(t *testing.T) {
	m := channel.NewManager(testutil.NewFakeRemote().Builder())

	_, ok := m.Current()
	assert.False(t, ok)
	assert.False(t, m.IsInitializing())
	assert.Zero(t, m.Epoch())

	_, err := m.Await(context.Background())
	assert.True(t, models.IsCode(err, models.CodeChannelUnavailable))
}

func TestManager_InitializingWhileBuilding(t *testing.T) {
	remote := testutil.NewFakeRemote()
	release := remote.Hold(testutil.MethodBuild)
	m := channel.NewManager(remote.Builder())

	epoch := m.SetIdentity(context.Background(), channel.Credential{Identity: "alice"})
	assert.Equal(t, uint64(1), epoch)
	assert.True(t, m.IsInitializing())
	_, ok := m.Current()
	assert.False(t, ok, "no channel may be exposed while rebuilding")

	release()
	snap, err := m.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Identity("alice"), snap.Channel.Identity())
	assert.False(t, m.IsInitializing())
}

func TestManager_AwaitHonorsContext(t *testing.T) {
	remote := testutil.NewFakeRemote()
	release := remote.Hold(testutil.MethodBuild)
	defer release()
	m := channel.NewManager(remote.Builder())
	m.SetIdentity(context.Background(), channel.Anonymous())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_BuildFailureIsPermanentUntilIdentityChanges(t *testing.T) {
	remote := testutil.NewFakeRemote()
	remote.FailBuilds(errors.New("malformed session"))
	m := channel.NewManager(remote.Builder())

	m.SetIdentity(context.Background(), channel.Credential{Identity: "alice", Token: "bad"})
	_, err := m.Await(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeChannelUnavailable))
	assert.Contains(t, err.Error(), "malformed session")

	remote.FailBuilds(nil)
	// Same credential: no automatic retry.
	m.SetIdentity(context.Background(), channel.Credential{Identity: "alice", Token: "bad"})
	_, err = m.Await(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, remote.Calls(testutil.MethodBuild))

	m.SetIdentity(context.Background(), channel.Credential{Identity: "alice", Token: "good"})
	snap, err := m.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Epoch)
}

func TestManager_SupersededBuildIsDropped(t *testing.T) {
	remote := testutil.NewFakeRemote()
	release := remote.Hold(testutil.MethodBuild)
	m := channel.NewManager(remote.Builder())

	m.SetIdentity(context.Background(), channel.Credential{Identity: "alice"})
	// Second build is held by the same gate; release both after the switch.
	m.SetIdentity(context.Background(), channel.Credential{Identity: "bob"})
	release()

	snap, err := m.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Epoch)
	assert.Equal(t, models.Identity("bob"), snap.Channel.Identity())
}

func TestManager_ListenersRunBeforeSetIdentityReturns(t *testing.T) {
	m := channel.NewManager(testutil.NewFakeRemote().Builder())
	var seen []channel.Snapshot
	m.OnIdentityChange(func(s channel.Snapshot) { seen = append(seen, s) })

	m.SetIdentity(context.Background(), channel.Credential{Identity: "alice"})
	m.SetIdentity(context.Background(), channel.Anonymous())

	require.Len(t, seen, 2)
	assert.Equal(t, models.Identity("alice"), seen[0].Identity)
	assert.True(t, seen[0].Initializing)
	assert.Equal(t, uint64(2), seen[1].Epoch)
	assert.True(t, seen[1].Identity.IsAnonymous())
}
