// Package testutil provides shared test doubles and fixtures.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bulletin/internal/blob"
	"bulletin/internal/channel"
	"bulletin/internal/models"
)

// Method names accepted by Calls, Hold and FailNext.
const (
	MethodBuild                = "Build"
	MethodGetCallerProfile     = "GetCallerProfile"
	MethodSaveCallerProfile    = "SaveCallerProfile"
	MethodGetProfile           = "GetProfile"
	MethodListProfileSummaries = "ListProfileSummaries"
	MethodListPosts            = "ListPosts"
	MethodGetPost              = "GetPost"
	MethodCreatePost           = "CreatePost"
	MethodDeletePost           = "DeletePost"
	MethodLikePost             = "LikePost"
	MethodSharePost            = "SharePost"
	MethodSavePost             = "SavePost"
	MethodUnsavePost           = "UnsavePost"
	MethodListSavedPosts       = "ListSavedPosts"
	MethodListComments         = "ListComments"
	MethodAddComment           = "AddComment"
	MethodGetCallerRole        = "GetCallerRole"
	MethodGetRole              = "GetRole"
	MethodIsCallerAdmin        = "IsCallerAdmin"
	MethodSetRole              = "SetRole"
	MethodGrantVerification    = "GrantVerification"
	MethodRevokeVerification   = "RevokeVerification"
)

type fakeProfile struct {
	profile models.UserProfile
	saved   map[models.PostID]struct{}
}

// FakeRemote is an in-memory remote service with the same authorization
// rules as the reference server. It counts calls per method and can hold or
// fail them to script interleavings.
type FakeRemote struct {
	mu          sync.Mutex
	clock       int64
	nextPost    uint64
	nextComment uint64
	posts       map[models.PostID]*models.Post
	comments    map[models.PostID][]models.Comment
	profiles    map[models.Identity]*fakeProfile
	calls       map[string]int
	holds       map[string]chan struct{}
	failures    map[string]error
	buildErr    error
}

// NewFakeRemote creates an empty fake service.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		posts:    make(map[models.PostID]*models.Post),
		comments: make(map[models.PostID][]models.Comment),
		profiles: make(map[models.Identity]*fakeProfile),
		calls:    make(map[string]int),
		holds:    make(map[string]chan struct{}),
		failures: make(map[string]error),
	}
}

// Builder returns a channel.Builder producing channels bound to this fake.
func (f *FakeRemote) Builder() channel.Builder {
	return func(ctx context.Context, cred channel.Credential) (channel.Channel, error) {
		if err := f.enter(ctx, MethodBuild); err != nil {
			return nil, err
		}
		f.mu.Lock()
		err := f.buildErr
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return f.ChannelFor(cred), nil
	}
}

// ChannelFor returns a channel for cred without going through Builder.
func (f *FakeRemote) ChannelFor(cred channel.Credential) channel.Channel {
	return &fakeChannel{remote: f, cred: cred}
}

// FailBuilds makes every later build fail with err; nil restores success.
func (f *FakeRemote) FailBuilds(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buildErr = err
}

// Register seeds a profile.
func (f *FakeRemote) Register(id models.Identity, username, displayName string, role models.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[id] = &fakeProfile{
		profile: models.UserProfile{
			Username:     username,
			DisplayName:  displayName,
			Role:         role,
			RegisteredAt: f.tick(),
		},
		saved: make(map[models.PostID]struct{}),
	}
}

// SeedPost stores a post authored by author and returns its id.
func (f *FakeRemote) SeedPost(author models.Identity, title, content string) models.PostID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertPost(author, title, content, nil).ID
}

// Post returns the server-side state of id.
func (f *FakeRemote) Post(id models.PostID) (models.Post, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return models.Post{}, false
	}
	return f.decoratePost(*p), true
}

// Profile returns the server-side profile of id.
func (f *FakeRemote) Profile(id models.Identity) (*models.UserProfile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.profiles[id]
	if !ok {
		return nil, false
	}
	return fp.snapshot(), true
}

// Calls returns how often method was invoked.
func (f *FakeRemote) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls returns the number of channel calls of every method except builds.
func (f *FakeRemote) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for method, n := range f.calls {
		if method != MethodBuild {
			total += n
		}
	}
	return total
}

// Hold blocks every call of method, after it has been counted, until release runs.
func (f *FakeRemote) Hold(method string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.holds[method] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.holds[method] == gate {
				delete(f.holds, method)
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// FailNext makes the next call of method fail with err.
func (f *FakeRemote) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
}

func (f *FakeRemote) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	gate := f.holds[method]
	err, failing := f.failures[method]
	if failing {
		delete(f.failures, method)
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failing {
		return err
	}
	return nil
}

func (f *FakeRemote) tick() models.Timestamp {
	f.clock += 1000
	return models.Timestamp(f.clock)
}

func (f *FakeRemote) insertPost(author models.Identity, title, content string, image *blob.Ref) *models.Post {
	f.nextPost++
	p := &models.Post{
		ID:        models.PostID(f.nextPost),
		Title:     title,
		Content:   content,
		Author:    author,
		Image:     image,
		CreatedAt: f.tick(),
	}
	f.posts[p.ID] = p
	return p
}

func (f *FakeRemote) decoratePost(p models.Post) models.Post {
	if author, ok := f.profiles[p.Author]; ok {
		p.AuthorName = author.profile.DisplayName
		p.AuthorVerified = author.profile.Verified
	}
	p.CommentsCount = uint64(len(f.comments[p.ID]))
	return p
}

func (f *FakeRemote) sortedPosts(filter func(models.PostID) bool) []models.Post {
	out := make([]models.Post, 0, len(f.posts))
	for id, p := range f.posts {
		if filter == nil || filter(id) {
			out = append(out, f.decoratePost(*p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

func (fp *fakeProfile) snapshot() *models.UserProfile {
	p := fp.profile
	p.SavedPosts = make([]models.PostID, 0, len(fp.saved))
	for id := range fp.saved {
		p.SavedPosts = append(p.SavedPosts, id)
	}
	sort.Slice(p.SavedPosts, func(i, j int) bool { return p.SavedPosts[i] < p.SavedPosts[j] })
	return &p
}

// requireMember returns the caller profile or Unauthorized. Callers hold f.mu.
func (f *FakeRemote) requireMember(id models.Identity) (*fakeProfile, error) {
	if id.IsAnonymous() {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	fp, ok := f.profiles[id]
	if !ok {
		return nil, models.NewUnauthorizedError("profile registration required")
	}
	return fp, nil
}

func (f *FakeRemote) requireAdmin(id models.Identity) error {
	fp, err := f.requireMember(id)
	if err != nil {
		return err
	}
	if !fp.profile.Role.IsAdministrator() {
		return models.NewUnauthorizedError("administrator role required")
	}
	return nil
}

type fakeChannel struct {
	remote *FakeRemote
	cred   channel.Credential
}

func (c *fakeChannel) Identity() models.Identity { return c.cred.Identity }
func (c *fakeChannel) Token() string             { return c.cred.Token }

func (c *fakeChannel) GetCallerProfile(ctx context.Context) (*models.UserProfile, error) {
	f := c.remote
	if err := f.enter(ctx, MethodGetCallerProfile); err != nil {
		return nil, err
	}
	if c.cred.IsAnonymous() {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.profiles[c.cred.Identity]
	if !ok {
		return nil, nil
	}
	return fp.snapshot(), nil
}

func (c *fakeChannel) SaveCallerProfile(ctx context.Context, in models.UserProfileInput) error {
	f := c.remote
	if err := f.enter(ctx, MethodSaveCallerProfile); err != nil {
		return err
	}
	if c.cred.IsAnonymous() {
		return models.NewUnauthorizedError("authentication required")
	}
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.DisplayName) == "" {
		return models.NewValidationError("username and display name are required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, other := range f.profiles {
		if id != c.cred.Identity && strings.EqualFold(other.profile.Username, in.Username) {
			return models.NewValidationError("username is already taken")
		}
	}
	if fp, ok := f.profiles[c.cred.Identity]; ok {
		if fp.profile.Username != in.Username {
			return models.NewValidationError("username cannot be changed")
		}
		fp.profile.DisplayName = in.DisplayName
		fp.profile.Photo = in.Photo
		return nil
	}
	f.profiles[c.cred.Identity] = &fakeProfile{
		profile: models.UserProfile{
			Username:     in.Username,
			DisplayName:  in.DisplayName,
			Photo:        in.Photo,
			Role:         models.DefaultRole,
			RegisteredAt: f.tick(),
		},
		saved: make(map[models.PostID]struct{}),
	}
	return nil
}

func (c *fakeChannel) GetProfile(ctx context.Context, id models.Identity) (*models.UserProfile, error) {
	f := c.remote
	if err := f.enter(ctx, MethodGetProfile); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.profiles[id]
	if !ok {
		return nil, models.NewNotFoundError("Profile", id)
	}
	return fp.snapshot(), nil
}

func (c *fakeChannel) ListProfileSummaries(ctx context.Context) ([]models.UserProfileSummary, error) {
	f := c.remote
	if err := f.enter(ctx, MethodListProfileSummaries); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireAdmin(c.cred.Identity); err != nil {
		return nil, err
	}
	out := make([]models.UserProfileSummary, 0, len(f.profiles))
	for id, fp := range f.profiles {
		out = append(out, models.UserProfileSummary{
			Identity:     id,
			Username:     fp.profile.Username,
			DisplayName:  fp.profile.DisplayName,
			Photo:        fp.profile.Photo,
			Role:         fp.profile.Role,
			Verified:     fp.profile.Verified,
			RegisteredAt: fp.profile.RegisteredAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt < out[j].RegisteredAt })
	return out, nil
}

func (c *fakeChannel) ListPosts(ctx context.Context) ([]models.Post, error) {
	f := c.remote
	if err := f.enter(ctx, MethodListPosts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedPosts(nil), nil
}

func (c *fakeChannel) GetPost(ctx context.Context, id models.PostID) (*models.Post, error) {
	f := c.remote
	if err := f.enter(ctx, MethodGetPost); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, models.NewNotFoundError("Post", id)
	}
	out := f.decoratePost(*p)
	return &out, nil
}

func (c *fakeChannel) CreatePost(ctx context.Context, title, content string, image *blob.Ref) (*models.Post, error) {
	f := c.remote
	if err := f.enter(ctx, MethodCreatePost); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return nil, models.NewValidationError("title and content are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.requireMember(c.cred.Identity); err != nil {
		return nil, err
	}
	p := f.decoratePost(*f.insertPost(c.cred.Identity, title, content, image))
	return &p, nil
}

func (c *fakeChannel) DeletePost(ctx context.Context, id models.PostID) error {
	f := c.remote
	if err := f.enter(ctx, MethodDeletePost); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	caller, err := f.requireMember(c.cred.Identity)
	if err != nil {
		return err
	}
	p, ok := f.posts[id]
	if !ok {
		return models.NewNotFoundError("Post", id)
	}
	if p.Author != c.cred.Identity && !caller.profile.Role.IsAdministrator() {
		return models.NewUnauthorizedError("only the author or an administrator can delete this post")
	}
	delete(f.posts, id)
	delete(f.comments, id)
	for _, fp := range f.profiles {
		delete(fp.saved, id)
	}
	return nil
}

func (c *fakeChannel) bump(ctx context.Context, method string, id models.PostID, apply func(p *models.Post)) error {
	f := c.remote
	if err := f.enter(ctx, method); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.requireMember(c.cred.Identity); err != nil {
		return err
	}
	p, ok := f.posts[id]
	if !ok {
		return models.NewNotFoundError("Post", id)
	}
	apply(p)
	return nil
}

func (c *fakeChannel) LikePost(ctx context.Context, id models.PostID) error {
	return c.bump(ctx, MethodLikePost, id, func(p *models.Post) { p.Likes++ })
}

func (c *fakeChannel) SharePost(ctx context.Context, id models.PostID) error {
	return c.bump(ctx, MethodSharePost, id, func(p *models.Post) { p.Shares++ })
}

func (c *fakeChannel) SavePost(ctx context.Context, id models.PostID) error {
	return c.toggle(ctx, MethodSavePost, id, true)
}

func (c *fakeChannel) UnsavePost(ctx context.Context, id models.PostID) error {
	return c.toggle(ctx, MethodUnsavePost, id, false)
}

func (c *fakeChannel) toggle(ctx context.Context, method string, id models.PostID, save bool) error {
	f := c.remote
	if err := f.enter(ctx, method); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, err := f.requireMember(c.cred.Identity)
	if err != nil {
		return err
	}
	if !save {
		delete(fp.saved, id)
		return nil
	}
	if _, ok := f.posts[id]; !ok {
		return models.NewNotFoundError("Post", id)
	}
	fp.saved[id] = struct{}{}
	return nil
}

func (c *fakeChannel) ListSavedPosts(ctx context.Context) ([]models.Post, error) {
	f := c.remote
	if err := f.enter(ctx, MethodListSavedPosts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, err := f.requireMember(c.cred.Identity)
	if err != nil {
		return nil, err
	}
	return f.sortedPosts(func(id models.PostID) bool {
		_, ok := fp.saved[id]
		return ok
	}), nil
}

func (c *fakeChannel) ListComments(ctx context.Context, postID models.PostID) ([]models.Comment, error) {
	f := c.remote
	if err := f.enter(ctx, MethodListComments); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.posts[postID]; !ok {
		return nil, models.NewNotFoundError("Post", postID)
	}
	out := append([]models.Comment{}, f.comments[postID]...)
	for i := range out {
		if author, ok := f.profiles[out[i].Author]; ok {
			out[i].AuthorName = author.profile.DisplayName
			out[i].AuthorVerified = author.profile.Verified
		}
	}
	return out, nil
}

func (c *fakeChannel) AddComment(ctx context.Context, postID models.PostID, text string) (*models.Comment, error) {
	f := c.remote
	if err := f.enter(ctx, MethodAddComment); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, models.NewValidationError("comment text is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	caller, err := f.requireMember(c.cred.Identity)
	if err != nil {
		return nil, err
	}
	if _, ok := f.posts[postID]; !ok {
		return nil, models.NewNotFoundError("Post", postID)
	}
	f.nextComment++
	cm := models.Comment{
		ID:             models.CommentID(f.nextComment),
		PostID:         postID,
		Author:         c.cred.Identity,
		AuthorName:     caller.profile.DisplayName,
		AuthorVerified: caller.profile.Verified,
		Text:           text,
		CreatedAt:      f.tick(),
	}
	f.comments[postID] = append(f.comments[postID], cm)
	return &cm, nil
}

func (c *fakeChannel) GetCallerRole(ctx context.Context) (models.Role, error) {
	f := c.remote
	if err := f.enter(ctx, MethodGetCallerRole); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, err := f.requireMember(c.cred.Identity)
	if err != nil {
		return "", err
	}
	return fp.profile.Role, nil
}

func (c *fakeChannel) GetRole(ctx context.Context, id models.Identity) (models.Role, error) {
	f := c.remote
	if err := f.enter(ctx, MethodGetRole); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.profiles[id]
	if !ok {
		return "", models.NewNotFoundError("Profile", id)
	}
	return fp.profile.Role, nil
}

func (c *fakeChannel) IsCallerAdmin(ctx context.Context) (bool, error) {
	f := c.remote
	if err := f.enter(ctx, MethodIsCallerAdmin); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp, ok := f.profiles[c.cred.Identity]
	return ok && fp.profile.Role.IsAdministrator(), nil
}

func (c *fakeChannel) admin(ctx context.Context, method string, target models.Identity, apply func(fp *fakeProfile)) error {
	f := c.remote
	if err := f.enter(ctx, method); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireAdmin(c.cred.Identity); err != nil {
		return err
	}
	fp, ok := f.profiles[target]
	if !ok {
		return models.NewNotFoundError("Profile", target)
	}
	apply(fp)
	return nil
}

func (c *fakeChannel) SetRole(ctx context.Context, id models.Identity, role models.Role) error {
	if !role.Valid() {
		return models.NewValidationError(fmt.Sprintf("unknown role %q", role))
	}
	return c.admin(ctx, MethodSetRole, id, func(fp *fakeProfile) { fp.profile.Role = role })
}

func (c *fakeChannel) GrantVerification(ctx context.Context, id models.Identity) error {
	return c.admin(ctx, MethodGrantVerification, id, func(fp *fakeProfile) { fp.profile.Verified = true })
}

func (c *fakeChannel) RevokeVerification(ctx context.Context, id models.Identity) error {
	return c.admin(ctx, MethodRevokeVerification, id, func(fp *fakeProfile) { fp.profile.Verified = false })
}
