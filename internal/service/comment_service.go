package service

import (
	"context"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
	"bulletin/internal/social"
	"bulletin/internal/validation"
)

type CommentService struct {
	cache  *cache.Cache
	co     *mutation.Coordinator
	ledger *social.Ledger
	policy func() cache.Policy
}

func NewCommentService(c *cache.Cache, co *mutation.Coordinator, ledger *social.Ledger, policy func() cache.Policy) *CommentService {
	return &CommentService{cache: c, co: co, ledger: ledger, policy: policy}
}

func (s *CommentService) ListComments(ctx context.Context, postID models.PostID) ([]models.Comment, error) {
	return cache.ReadComments(ctx, s.cache, s.policy(), postID)
}

func (s *CommentService) AddComment(ctx context.Context, postID models.PostID, text string) (*models.Comment, error) {
	if err := validation.ValidateComment(text); err != nil {
		return nil, err
	}
	done := s.ledger.Track(postID, mutation.OpAddComment)
	defer done()
	return mutation.Run(ctx, s.co, mutation.OpAddComment, mutation.Params{PostID: postID},
		func(ctx context.Context, ch channel.Channel) (*models.Comment, error) {
			return ch.AddComment(ctx, postID, text)
		})
}
