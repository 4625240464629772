package cache

import (
	"context"

	"bulletin/internal/channel"
	"bulletin/internal/models"
)

// Typed reads of every standard key.

func ReadPosts(ctx context.Context, c *Cache, p Policy) ([]models.Post, error) {
	return Read(ctx, c, PostsKey, p, func(ctx context.Context, ch channel.Channel) ([]models.Post, error) {
		return ch.ListPosts(ctx)
	})
}

func ReadPost(ctx context.Context, c *Cache, p Policy, id models.PostID) (*models.Post, error) {
	return Read(ctx, c, PostKey(id), p, func(ctx context.Context, ch channel.Channel) (*models.Post, error) {
		return ch.GetPost(ctx, id)
	})
}

func ReadComments(ctx context.Context, c *Cache, p Policy, postID models.PostID) ([]models.Comment, error) {
	return Read(ctx, c, CommentsKey(postID), p, func(ctx context.Context, ch channel.Channel) ([]models.Comment, error) {
		return ch.ListComments(ctx, postID)
	})
}

// ReadCallerProfile returns nil without error for an unregistered identity.
func ReadCallerProfile(ctx context.Context, c *Cache, p Policy) (*models.UserProfile, error) {
	return Read(ctx, c, CurrentProfileKey, p, func(ctx context.Context, ch channel.Channel) (*models.UserProfile, error) {
		return ch.GetCallerProfile(ctx)
	})
}

func ReadSavedPosts(ctx context.Context, c *Cache, p Policy) ([]models.Post, error) {
	return Read(ctx, c, SavedPostsKey, p, func(ctx context.Context, ch channel.Channel) ([]models.Post, error) {
		return ch.ListSavedPosts(ctx)
	})
}

func ReadProfile(ctx context.Context, c *Cache, p Policy, id models.Identity) (*models.UserProfile, error) {
	return Read(ctx, c, UserProfileKey(id), p, func(ctx context.Context, ch channel.Channel) (*models.UserProfile, error) {
		return ch.GetProfile(ctx, id)
	})
}

func ReadUsers(ctx context.Context, c *Cache, p Policy) ([]models.UserProfileSummary, error) {
	return Read(ctx, c, UsersKey, p, func(ctx context.Context, ch channel.Channel) ([]models.UserProfileSummary, error) {
		return ch.ListProfileSummaries(ctx)
	})
}
