package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bulletin/internal/blob"
	"bulletin/internal/models"
	"bulletin/internal/validation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store implements the service operations on gorm. Every write re-checks
// the caller; nothing is trusted from the client.
type Store struct {
	db     *gorm.DB
	admins map[models.Identity]bool
	now    func() time.Time
}

// NewStore creates a store. Identities in admins register as administrators.
func NewStore(db *gorm.DB, admins []string) *Store {
	set := make(map[models.Identity]bool, len(admins))
	for _, id := range admins {
		set[models.Identity(id)] = true
	}
	return &Store{db: db, admins: set, now: time.Now}
}

func (s *Store) stamp() int64 {
	return s.now().UnixNano()
}

func dbError(err error) error {
	if err == nil {
		return nil
	}
	return models.NewTransientError(fmt.Errorf("database: %w", err))
}

// EnsureAdmins promotes already registered bootstrap administrators.
func (s *Store) EnsureAdmins(ctx context.Context) error {
	for id := range s.admins {
		res := s.db.WithContext(ctx).Model(&profileRecord{}).
			Where("identity = ?", string(id)).
			Update("role", string(models.RoleAdministrator))
		if res.Error != nil {
			return dbError(res.Error)
		}
	}
	return nil
}

func (s *Store) findProfile(ctx context.Context, id models.Identity) (*profileRecord, error) {
	var rec profileRecord
	err := s.db.WithContext(ctx).First(&rec, "identity = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err)
	}
	return &rec, nil
}

func (s *Store) requireMember(ctx context.Context, id models.Identity) (*profileRecord, error) {
	if id.IsAnonymous() {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	rec, err := s.findProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, models.NewUnauthorizedError("profile required")
	}
	return rec, nil
}

func (s *Store) requireAdmin(ctx context.Context, id models.Identity) error {
	rec, err := s.requireMember(ctx, id)
	if err != nil {
		return err
	}
	if !models.Role(rec.Role).IsAdministrator() {
		return models.NewUnauthorizedError("administrator role required")
	}
	return nil
}

func refOf(url string) *blob.Ref {
	if url == "" {
		return nil
	}
	return blob.FromURL(url)
}

func (s *Store) toProfile(ctx context.Context, rec *profileRecord) (*models.UserProfile, error) {
	var saved []savedPostRecord
	if err := s.db.WithContext(ctx).Where("identity = ?", rec.Identity).Order("saved_at").Find(&saved).Error; err != nil {
		return nil, dbError(err)
	}
	ids := make([]models.PostID, 0, len(saved))
	for _, sp := range saved {
		ids = append(ids, models.PostID(sp.PostID))
	}
	return &models.UserProfile{
		Username:     rec.Username,
		DisplayName:  rec.DisplayName,
		Photo:        refOf(rec.PhotoURL),
		Role:         models.Role(rec.Role),
		Verified:     rec.Verified,
		RegisteredAt: models.Timestamp(rec.RegisteredAt),
		SavedPosts:   ids,
	}, nil
}

// CallerProfile returns nil for an unregistered caller.
func (s *Store) CallerProfile(ctx context.Context, caller models.Identity) (*models.UserProfile, error) {
	if caller.IsAnonymous() {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	rec, err := s.findProfile(ctx, caller)
	if err != nil || rec == nil {
		return nil, err
	}
	return s.toProfile(ctx, rec)
}

// SaveProfile registers caller or updates its display fields. The username
// is fixed after registration.
func (s *Store) SaveProfile(ctx context.Context, caller models.Identity, in models.UserProfileInput) (*models.UserProfile, error) {
	if caller.IsAnonymous() {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	if err := validation.ValidateProfile(in); err != nil {
		return nil, err
	}

	var out *profileRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		key := strings.ToLower(in.Username)
		var taken int64
		if err := tx.Model(&profileRecord{}).
			Where("username_key = ? AND identity <> ?", key, string(caller)).
			Count(&taken).Error; err != nil {
			return dbError(err)
		}
		if taken > 0 {
			return models.NewValidationError("username is already taken")
		}

		var rec profileRecord
		err := tx.First(&rec, "identity = ?", string(caller)).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			role := models.DefaultRole
			if s.admins[caller] {
				role = models.RoleAdministrator
			}
			rec = profileRecord{
				Identity:     string(caller),
				Username:     in.Username,
				UsernameKey:  key,
				DisplayName:  in.DisplayName,
				PhotoURL:     in.Photo.DirectURL(),
				Role:         string(role),
				RegisteredAt: s.stamp(),
			}
			if err := tx.Create(&rec).Error; err != nil {
				return dbError(err)
			}
		case err != nil:
			return dbError(err)
		default:
			if rec.Username != in.Username {
				return models.NewValidationError("username cannot be changed")
			}
			rec.DisplayName = in.DisplayName
			rec.PhotoURL = in.Photo.DirectURL()
			if err := tx.Save(&rec).Error; err != nil {
				return dbError(err)
			}
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.toProfile(ctx, out)
}

func (s *Store) Profile(ctx context.Context, id models.Identity) (*models.UserProfile, error) {
	rec, err := s.findProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, models.NewNotFoundError("Profile", id)
	}
	return s.toProfile(ctx, rec)
}

// Summaries lists every profile in registration order. Administrators only.
func (s *Store) Summaries(ctx context.Context, caller models.Identity) ([]models.UserProfileSummary, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return nil, err
	}
	var recs []profileRecord
	if err := s.db.WithContext(ctx).Order("registered_at, identity").Find(&recs).Error; err != nil {
		return nil, dbError(err)
	}
	out := make([]models.UserProfileSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, models.UserProfileSummary{
			Identity:     models.Identity(r.Identity),
			Username:     r.Username,
			DisplayName:  r.DisplayName,
			Photo:        refOf(r.PhotoURL),
			Role:         models.Role(r.Role),
			Verified:     r.Verified,
			RegisteredAt: models.Timestamp(r.RegisteredAt),
		})
	}
	return out, nil
}

// decorate attaches author fields and comment counts.
func (s *Store) decorate(ctx context.Context, recs []postRecord) ([]models.Post, error) {
	out := make([]models.Post, 0, len(recs))
	if len(recs) == 0 {
		return out, nil
	}

	ids := make([]uint64, 0, len(recs))
	authors := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
		authors = append(authors, r.Author)
	}

	var profiles []profileRecord
	if err := s.db.WithContext(ctx).Where("identity IN ?", authors).Find(&profiles).Error; err != nil {
		return nil, dbError(err)
	}
	byIdentity := make(map[string]profileRecord, len(profiles))
	for _, p := range profiles {
		byIdentity[p.Identity] = p
	}

	var counts []struct {
		PostID uint64
		N      uint64
	}
	if err := s.db.WithContext(ctx).Model(&commentRecord{}).
		Select("post_id, count(*) as n").
		Where("post_id IN ?", ids).
		Group("post_id").
		Scan(&counts).Error; err != nil {
		return nil, dbError(err)
	}
	byPost := make(map[uint64]uint64, len(counts))
	for _, c := range counts {
		byPost[c.PostID] = c.N
	}

	for _, r := range recs {
		author := byIdentity[r.Author]
		out = append(out, models.Post{
			ID:             models.PostID(r.ID),
			Title:          r.Title,
			Content:        r.Content,
			Author:         models.Identity(r.Author),
			AuthorName:     author.DisplayName,
			AuthorVerified: author.Verified,
			Likes:          r.Likes,
			Shares:         r.Shares,
			CommentsCount:  byPost[r.ID],
			Image:          refOf(r.ImageURL),
			CreatedAt:      models.Timestamp(r.PostedAt),
		})
	}
	return out, nil
}

// ListPosts returns every post, newest first.
func (s *Store) ListPosts(ctx context.Context) ([]models.Post, error) {
	var recs []postRecord
	if err := s.db.WithContext(ctx).Order("id desc").Find(&recs).Error; err != nil {
		return nil, dbError(err)
	}
	return s.decorate(ctx, recs)
}

func (s *Store) findPost(ctx context.Context, id models.PostID) (*postRecord, error) {
	var rec postRecord
	err := s.db.WithContext(ctx).First(&rec, uint64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Post", id)
	}
	if err != nil {
		return nil, dbError(err)
	}
	return &rec, nil
}

func (s *Store) GetPost(ctx context.Context, id models.PostID) (*models.Post, error) {
	rec, err := s.findPost(ctx, id)
	if err != nil {
		return nil, err
	}
	posts, err := s.decorate(ctx, []postRecord{*rec})
	if err != nil {
		return nil, err
	}
	return &posts[0], nil
}

func (s *Store) CreatePost(ctx context.Context, caller models.Identity, in models.CreatePostInput) (*models.Post, error) {
	if _, err := s.requireMember(ctx, caller); err != nil {
		return nil, err
	}
	if err := validation.ValidatePost(in.Title, in.Content); err != nil {
		return nil, err
	}
	rec := postRecord{
		Title:    in.Title,
		Content:  in.Content,
		Author:   string(caller),
		ImageURL: in.Image.DirectURL(),
		PostedAt: s.stamp(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, dbError(err)
	}
	return s.GetPost(ctx, models.PostID(rec.ID))
}

// DeletePost removes the post with its comments and saved-set memberships.
// Only the author or an administrator may delete.
func (s *Store) DeletePost(ctx context.Context, caller models.Identity, id models.PostID) error {
	member, err := s.requireMember(ctx, caller)
	if err != nil {
		return err
	}
	post, err := s.findPost(ctx, id)
	if err != nil {
		return err
	}
	if post.Author != string(caller) && !models.Role(member.Role).IsAdministrator() {
		return models.NewUnauthorizedError("only the author or an administrator can delete this post")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&commentRecord{}).Error; err != nil {
			return dbError(err)
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&savedPostRecord{}).Error; err != nil {
			return dbError(err)
		}
		if err := tx.Delete(&postRecord{}, post.ID).Error; err != nil {
			return dbError(err)
		}
		return nil
	})
}

func (s *Store) bump(ctx context.Context, caller models.Identity, id models.PostID, column string) error {
	if _, err := s.requireMember(ctx, caller); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&postRecord{}).
		Where("id = ?", uint64(id)).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1))
	if res.Error != nil {
		return dbError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	return nil
}

func (s *Store) LikePost(ctx context.Context, caller models.Identity, id models.PostID) error {
	return s.bump(ctx, caller, id, "likes")
}

func (s *Store) SharePost(ctx context.Context, caller models.Identity, id models.PostID) error {
	return s.bump(ctx, caller, id, "shares")
}

// SavePost adds id to caller's saved set. Saving twice keeps one membership.
func (s *Store) SavePost(ctx context.Context, caller models.Identity, id models.PostID) error {
	if _, err := s.requireMember(ctx, caller); err != nil {
		return err
	}
	if _, err := s.findPost(ctx, id); err != nil {
		return err
	}
	rec := savedPostRecord{Identity: string(caller), PostID: uint64(id), SavedAt: s.stamp()}
	if err := s.db.WithContext(ctx).
		Where(savedPostRecord{Identity: rec.Identity, PostID: rec.PostID}).
		FirstOrCreate(&rec).Error; err != nil {
		return dbError(err)
	}
	return nil
}

// UnsavePost removes id from caller's saved set; absent ids are ignored.
func (s *Store) UnsavePost(ctx context.Context, caller models.Identity, id models.PostID) error {
	if _, err := s.requireMember(ctx, caller); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).
		Where("identity = ? AND post_id = ?", string(caller), uint64(id)).
		Delete(&savedPostRecord{}).Error; err != nil {
		return dbError(err)
	}
	return nil
}

func (s *Store) SavedPosts(ctx context.Context, caller models.Identity) ([]models.Post, error) {
	if _, err := s.requireMember(ctx, caller); err != nil {
		return nil, err
	}
	var recs []postRecord
	if err := s.db.WithContext(ctx).
		Where("id IN (?)", s.db.Model(&savedPostRecord{}).Select("post_id").Where("identity = ?", string(caller))).
		Order("id desc").
		Find(&recs).Error; err != nil {
		return nil, dbError(err)
	}
	return s.decorate(ctx, recs)
}

func (s *Store) toComments(ctx context.Context, recs []commentRecord) ([]models.Comment, error) {
	authors := make([]string, 0, len(recs))
	for _, r := range recs {
		authors = append(authors, r.Author)
	}
	byIdentity := make(map[string]profileRecord)
	if len(authors) > 0 {
		var profiles []profileRecord
		if err := s.db.WithContext(ctx).Where("identity IN ?", authors).Find(&profiles).Error; err != nil {
			return nil, dbError(err)
		}
		for _, p := range profiles {
			byIdentity[p.Identity] = p
		}
	}
	out := make([]models.Comment, 0, len(recs))
	for _, r := range recs {
		author := byIdentity[r.Author]
		out = append(out, models.Comment{
			ID:             models.CommentID(r.ID),
			PostID:         models.PostID(r.PostID),
			Author:         models.Identity(r.Author),
			AuthorName:     author.DisplayName,
			AuthorVerified: author.Verified,
			Text:           r.Text,
			CreatedAt:      models.Timestamp(r.PostedAt),
		})
	}
	return out, nil
}

// Comments lists the comments of postID, oldest first.
func (s *Store) Comments(ctx context.Context, postID models.PostID) ([]models.Comment, error) {
	if _, err := s.findPost(ctx, postID); err != nil {
		return nil, err
	}
	var recs []commentRecord
	if err := s.db.WithContext(ctx).Where("post_id = ?", uint64(postID)).Order("id").Find(&recs).Error; err != nil {
		return nil, dbError(err)
	}
	return s.toComments(ctx, recs)
}

func (s *Store) AddComment(ctx context.Context, caller models.Identity, postID models.PostID, text string) (*models.Comment, error) {
	if _, err := s.requireMember(ctx, caller); err != nil {
		return nil, err
	}
	if err := validation.ValidateComment(text); err != nil {
		return nil, err
	}
	if _, err := s.findPost(ctx, postID); err != nil {
		return nil, err
	}
	rec := commentRecord{PostID: uint64(postID), Author: string(caller), Text: text, PostedAt: s.stamp()}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, dbError(err)
	}
	out, err := s.toComments(ctx, []commentRecord{rec})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (s *Store) CallerRole(ctx context.Context, caller models.Identity) (models.Role, error) {
	rec, err := s.requireMember(ctx, caller)
	if err != nil {
		return "", err
	}
	return models.Role(rec.Role), nil
}

func (s *Store) Role(ctx context.Context, id models.Identity) (models.Role, error) {
	rec, err := s.findProfile(ctx, id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", models.NewNotFoundError("Profile", id)
	}
	return models.Role(rec.Role), nil
}

// IsAdmin is false for anonymous and unregistered callers.
func (s *Store) IsAdmin(ctx context.Context, caller models.Identity) (bool, error) {
	if caller.IsAnonymous() {
		return false, nil
	}
	rec, err := s.findProfile(ctx, caller)
	if err != nil {
		return false, err
	}
	return rec != nil && models.Role(rec.Role).IsAdministrator(), nil
}

func (s *Store) updateTarget(ctx context.Context, caller, target models.Identity, column string, value any) error {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&profileRecord{}).
		Where("identity = ?", string(target)).
		Update(column, value)
	if res.Error != nil {
		return dbError(res.Error)
	}
	if res.RowsAffected == 0 {
		if rec, err := s.findProfile(ctx, target); err != nil {
			return err
		} else if rec == nil {
			return models.NewNotFoundError("Profile", target)
		}
	}
	return nil
}

func (s *Store) SetRole(ctx context.Context, caller, target models.Identity, role models.Role) error {
	if !role.Valid() {
		return models.NewValidationError(fmt.Sprintf("unknown role %q", role))
	}
	return s.updateTarget(ctx, caller, target, "role", string(role))
}

func (s *Store) SetVerified(ctx context.Context, caller, target models.Identity, verified bool) error {
	return s.updateTarget(ctx, caller, target, "verified", verified)
}

// PutBlob stores data and returns its id.
func (s *Store) PutBlob(ctx context.Context, caller models.Identity, contentType string, data []byte) (string, error) {
	if _, err := s.requireMember(ctx, caller); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", models.NewValidationError("empty upload")
	}
	rec := blobRecord{
		ID:          uuid.NewString(),
		Owner:       string(caller),
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		StoredAt:    s.stamp(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", dbError(err)
	}
	return rec.ID, nil
}

func (s *Store) Blob(ctx context.Context, id string) (*blobRecord, error) {
	var rec blobRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewNotFoundError("Blob", id)
	}
	if err != nil {
		return nil, dbError(err)
	}
	return &rec, nil
}
