package remote

import (
	"context"
	"net"
	"testing"
	"time"

	"bulletin/internal/blob"
	"bulletin/internal/channel"
	"bulletin/internal/config"
	"bulletin/internal/devserver"
	"bulletin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "remote-test-secret-at-least-32-chars"

func startDevserver(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{
		Env:             "test",
		DBDriver:        "sqlite",
		DBDSN:           ":memory:",
		JWTSecret:       testSecret,
		AdminIdentities: "root",
	}
	db, err := devserver.Connect(cfg)
	require.NoError(t, err)
	srv, err := devserver.NewServerWithDeps(cfg, db, nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "http://" + ln.Addr().String()
}

func dial(t *testing.T, base string, id models.Identity) channel.Channel {
	t.Helper()
	cred := channel.Anonymous()
	if !id.IsAnonymous() {
		tok, err := devserver.IssueToken(testSecret, id, time.Hour)
		require.NoError(t, err)
		cred = channel.Credential{Identity: id, Token: tok}
	}
	ch, err := NewBuilder(base)(context.Background(), cred)
	require.NoError(t, err)
	return ch
}

func TestClient_EndToEnd(t *testing.T) {
	base := startDevserver(t)
	ctx := context.Background()

	root := dial(t, base, "root")
	alice := dial(t, base, "alice")
	anon := dial(t, base, models.Anonymous)

	profile, err := alice.GetCallerProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, profile, "unregistered caller has no profile")

	require.NoError(t, root.SaveCallerProfile(ctx, models.UserProfileInput{Username: "root", DisplayName: "Root"}))
	require.NoError(t, alice.SaveCallerProfile(ctx, models.UserProfileInput{Username: "alice", DisplayName: "Alice"}))

	admin, err := root.IsCallerAdmin(ctx)
	require.NoError(t, err)
	assert.True(t, admin)
	admin, err = alice.IsCallerAdmin(ctx)
	require.NoError(t, err)
	assert.False(t, admin)

	post, err := alice.CreatePost(ctx, "hello", "world", nil)
	require.NoError(t, err)
	assert.Equal(t, models.Identity("alice"), post.Author)

	require.NoError(t, alice.LikePost(ctx, post.ID))
	require.NoError(t, root.SharePost(ctx, post.ID))
	_, err = alice.AddComment(ctx, post.ID, "nice")
	require.NoError(t, err)

	got, err := anon.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Likes)
	assert.Equal(t, uint64(1), got.Shares)
	assert.Equal(t, uint64(1), got.CommentsCount)

	comments, err := anon.ListComments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Alice", comments[0].AuthorName)

	require.NoError(t, alice.SavePost(ctx, post.ID))
	saved, err := alice.ListSavedPosts(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.NoError(t, alice.UnsavePost(ctx, post.ID))

	require.NoError(t, root.SetRole(ctx, "alice", models.RoleAuthor))
	require.NoError(t, root.GrantVerification(ctx, "alice"))
	role, err := anon.GetRole(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAuthor, role)
	role, err = alice.GetCallerRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAuthor, role)

	users, err := root.ListProfileSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	p, err := anon.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.Verified)
	require.NoError(t, root.RevokeVerification(ctx, "alice"))

	require.NoError(t, alice.DeletePost(ctx, post.ID))
	posts, err := anon.ListPosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	base := startDevserver(t)
	ctx := context.Background()

	alice := dial(t, base, "alice")
	bob := dial(t, base, "bob")
	anon := dial(t, base, models.Anonymous)
	require.NoError(t, alice.SaveCallerProfile(ctx, models.UserProfileInput{Username: "alice", DisplayName: "Alice"}))
	require.NoError(t, bob.SaveCallerProfile(ctx, models.UserProfileInput{Username: "bob", DisplayName: "Bob"}))
	post, err := alice.CreatePost(ctx, "mine", "body", nil)
	require.NoError(t, err)

	_, err = anon.CreatePost(ctx, "t", "c", nil)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "%v", err)

	err = bob.DeletePost(ctx, post.ID)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "%v", err)

	_, err = anon.GetPost(ctx, 424242)
	assert.True(t, models.IsCode(err, models.CodeNotFound), "%v", err)

	err = bob.SaveCallerProfile(ctx, models.UserProfileInput{Username: "alice", DisplayName: "Imposter"})
	assert.True(t, models.IsCode(err, models.CodeValidation), "%v", err)

	_, err = bob.ListProfileSummaries(ctx)
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "%v", err)

	_, err = alice.CreatePost(ctx, "t", "c", blob.FromBytes([]byte("raw")))
	assert.True(t, models.IsCode(err, models.CodeValidation), "%v", err)
}

func TestClient_UnreachableIsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ch, err := NewBuilder("http://" + addr)(context.Background(), channel.Anonymous())
	require.NoError(t, err)
	_, err = ch.ListPosts(context.Background())
	assert.True(t, models.IsCode(err, models.CodeTransient), "%v", err)
}

func TestClient_CanceledContextPassesThrough(t *testing.T) {
	base := startDevserver(t)
	ch := dial(t, base, models.Anonymous)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ch.ListPosts(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBlobUpload_ThroughDevserver(t *testing.T) {
	base := startDevserver(t)
	ctx := context.Background()
	alice := dial(t, base, "alice")
	require.NoError(t, alice.SaveCallerProfile(ctx, models.UserProfileInput{Username: "alice", DisplayName: "Alice"}))

	var progress []int
	ref := blob.FromBytes([]byte("image-bytes")).WithUploadProgress(func(p int) { progress = append(progress, p) })
	stored, err := blob.NewHTTPStore(base, nil).Upload(ctx, ref, alice.Token())
	require.NoError(t, err)
	require.True(t, stored.Uploaded())
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])

	post, err := alice.CreatePost(ctx, "with image", "body", stored)
	require.NoError(t, err)
	require.NotNil(t, post.Image)
	assert.Equal(t, stored.DirectURL(), post.Image.DirectURL())

	data, err := post.Image.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestRequestDevToken(t *testing.T) {
	base := startDevserver(t)
	ctx := context.Background()

	tok, err := RequestDevToken(ctx, nil, base, "carol")
	require.NoError(t, err)

	ch, err := NewBuilder(base)(ctx, channel.Credential{Identity: "carol", Token: tok})
	require.NoError(t, err)
	require.NoError(t, ch.SaveCallerProfile(ctx, models.UserProfileInput{Username: "carol", DisplayName: "Carol"}))

	_, err = RequestDevToken(ctx, nil, base, models.Anonymous)
	assert.True(t, models.IsCode(err, models.CodeValidation), "%v", err)
}
