package service

import (
	"context"

	"bulletin/internal/blob"
	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
	"bulletin/internal/social"
	"bulletin/internal/validation"
)

type PostService struct {
	source   Source
	cache    *cache.Cache
	co       *mutation.Coordinator
	ledger   *social.Ledger
	uploader blob.Uploader
	policy   func() cache.Policy
}

func NewPostService(
	source Source,
	c *cache.Cache,
	co *mutation.Coordinator,
	ledger *social.Ledger,
	uploader blob.Uploader,
	policy func() cache.Policy,
) *PostService {
	return &PostService{
		source:   source,
		cache:    c,
		co:       co,
		ledger:   ledger,
		uploader: uploader,
		policy:   policy,
	}
}

func (s *PostService) ListPosts(ctx context.Context) ([]models.Post, error) {
	return cache.ReadPosts(ctx, s.cache, s.policy())
}

func (s *PostService) GetPost(ctx context.Context, id models.PostID) (*models.Post, error) {
	return cache.ReadPost(ctx, s.cache, s.policy(), id)
}

func (s *PostService) SavedPosts(ctx context.Context) ([]models.Post, error) {
	if _, err := requireIdentity(ctx, s.source, "see saved posts"); err != nil {
		return nil, err
	}
	return cache.ReadSavedPosts(ctx, s.cache, s.policy())
}

// CreatePost uploads the image, if it is not stored yet, then creates the post.
func (s *PostService) CreatePost(ctx context.Context, in models.CreatePostInput) (*models.Post, error) {
	if err := validation.ValidatePost(in.Title, in.Content); err != nil {
		return nil, err
	}
	image, err := upload(ctx, s.source, s.uploader, in.Image)
	if err != nil {
		return nil, err
	}
	return mutation.Run(ctx, s.co, mutation.OpCreatePost, mutation.Params{},
		func(ctx context.Context, ch channel.Channel) (*models.Post, error) {
			return ch.CreatePost(ctx, in.Title, in.Content, image)
		})
}

func (s *PostService) DeletePost(ctx context.Context, id models.PostID) error {
	done := s.ledger.Track(id, mutation.OpDeletePost)
	defer done()
	return s.co.Execute(ctx, mutation.OpDeletePost, mutation.Params{PostID: id},
		func(ctx context.Context, ch channel.Channel) error {
			return ch.DeletePost(ctx, id)
		})
}

func (s *PostService) LikePost(ctx context.Context, id models.PostID) error {
	return s.ledger.Like(ctx, id)
}

func (s *PostService) SharePost(ctx context.Context, id models.PostID) error {
	return s.ledger.Share(ctx, id)
}

// ToggleSave returns whether the post is saved afterwards.
func (s *PostService) ToggleSave(ctx context.Context, id models.PostID) (bool, error) {
	return s.ledger.ToggleSave(ctx, id)
}

func (s *PostService) SavePost(ctx context.Context, id models.PostID) error {
	return s.ledger.Save(ctx, id)
}

func (s *PostService) UnsavePost(ctx context.Context, id models.PostID) error {
	return s.ledger.Unsave(ctx, id)
}
