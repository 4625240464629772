// Package remote implements channel.Channel over the service's HTTP/JSON API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"bulletin/internal/blob"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/observability"
	"bulletin/internal/transport"

	"github.com/valyala/fasthttp"
)

// Client is a channel bound to one credential.
type Client struct {
	http    *fasthttp.Client
	baseURL string
	cred    channel.Credential
	tracer  *observability.TraceLayer
}

var _ channel.Channel = (*Client)(nil)

func (c *Client) Identity() models.Identity { return c.cred.Identity }
func (c *Client) Token() string             { return c.cred.Token }

// call performs one exchange. in is sent as JSON when non-nil; the response
// is decoded into out when non-nil.
func (c *Client) call(ctx context.Context, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.TraceRemoteCall(ctx, method, path)
	defer func() { observability.EndSpan(span, err) }()

	req := transport.Request{
		Method: method,
		URL:    c.baseURL + path,
		Token:  c.cred.Token,
	}
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		req.Header = map[string]string{CorrelationHeader: id}
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return models.NewValidationError(fmt.Sprintf("encode request: %v", err))
		}
		req.Body = body
		req.ContentType = jsonContentType
	}

	resp, err := transport.Do(ctx, c.http, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return models.NewTransientError(fmt.Errorf("%s %s: %w", method, path, err))
	}
	if resp.Status >= http.StatusBadRequest {
		return classifyStatus(resp.Status, resp.Body)
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return models.NewTransientError(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

const jsonContentType = "application/json"

func postPath(id models.PostID, suffix string) string {
	return "/api/posts/" + id.String() + suffix
}

func identityPath(prefix string, id models.Identity) string {
	return prefix + url.PathEscape(string(id))
}

func (c *Client) GetCallerProfile(ctx context.Context) (*models.UserProfile, error) {
	var out *models.UserProfile
	if err := c.call(ctx, http.MethodGet, "/api/profile/me", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SaveCallerProfile(ctx context.Context, in models.UserProfileInput) error {
	return c.call(ctx, http.MethodPut, "/api/profile/me", in, nil)
}

func (c *Client) GetProfile(ctx context.Context, id models.Identity) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := c.call(ctx, http.MethodGet, identityPath("/api/profiles/", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProfileSummaries(ctx context.Context) ([]models.UserProfileSummary, error) {
	var out []models.UserProfileSummary
	if err := c.call(ctx, http.MethodGet, "/api/profiles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPosts(ctx context.Context) ([]models.Post, error) {
	var out []models.Post
	if err := c.call(ctx, http.MethodGet, "/api/posts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPost(ctx context.Context, id models.PostID) (*models.Post, error) {
	var out models.Post
	if err := c.call(ctx, http.MethodGet, postPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePost(ctx context.Context, title, content string, image *blob.Ref) (*models.Post, error) {
	if image != nil && !image.Uploaded() {
		return nil, models.NewValidationError(blob.ErrNotUploaded.Error())
	}
	var out models.Post
	in := models.CreatePostInput{Title: title, Content: content, Image: image}
	if err := c.call(ctx, http.MethodPost, "/api/posts", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeletePost(ctx context.Context, id models.PostID) error {
	return c.call(ctx, http.MethodDelete, postPath(id, ""), nil, nil)
}

func (c *Client) LikePost(ctx context.Context, id models.PostID) error {
	return c.call(ctx, http.MethodPost, postPath(id, "/like"), nil, nil)
}

func (c *Client) SharePost(ctx context.Context, id models.PostID) error {
	return c.call(ctx, http.MethodPost, postPath(id, "/share"), nil, nil)
}

func (c *Client) SavePost(ctx context.Context, id models.PostID) error {
	return c.call(ctx, http.MethodPost, postPath(id, "/save"), nil, nil)
}

func (c *Client) UnsavePost(ctx context.Context, id models.PostID) error {
	return c.call(ctx, http.MethodDelete, postPath(id, "/save"), nil, nil)
}

func (c *Client) ListSavedPosts(ctx context.Context) ([]models.Post, error) {
	var out []models.Post
	if err := c.call(ctx, http.MethodGet, "/api/saved-posts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListComments(ctx context.Context, postID models.PostID) ([]models.Comment, error) {
	var out []models.Comment
	if err := c.call(ctx, http.MethodGet, postPath(postID, "/comments"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CommentInput is the payload of add-comment.
type CommentInput struct {
	Text string `json:"text"`
}

func (c *Client) AddComment(ctx context.Context, postID models.PostID, text string) (*models.Comment, error) {
	var out models.Comment
	if err := c.call(ctx, http.MethodPost, postPath(postID, "/comments"), CommentInput{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RoleBody is the payload of the role endpoints.
type RoleBody struct {
	Role models.Role `json:"role"`
}

// AdminBody is the payload of the admin check.
type AdminBody struct {
	IsAdmin bool `json:"is_admin"`
}

func (c *Client) GetCallerRole(ctx context.Context) (models.Role, error) {
	var out RoleBody
	if err := c.call(ctx, http.MethodGet, "/api/roles/me", nil, &out); err != nil {
		return "", err
	}
	return out.Role, nil
}

func (c *Client) GetRole(ctx context.Context, id models.Identity) (models.Role, error) {
	var out RoleBody
	if err := c.call(ctx, http.MethodGet, identityPath("/api/roles/", id), nil, &out); err != nil {
		return "", err
	}
	return out.Role, nil
}

func (c *Client) IsCallerAdmin(ctx context.Context) (bool, error) {
	var out AdminBody
	if err := c.call(ctx, http.MethodGet, "/api/roles/me/admin", nil, &out); err != nil {
		return false, err
	}
	return out.IsAdmin, nil
}

func (c *Client) SetRole(ctx context.Context, id models.Identity, role models.Role) error {
	return c.call(ctx, http.MethodPut, identityPath("/api/roles/", id), RoleBody{Role: role}, nil)
}

func (c *Client) GrantVerification(ctx context.Context, id models.Identity) error {
	return c.call(ctx, http.MethodPost, identityPath("/api/verifications/", id), nil, nil)
}

func (c *Client) RevokeVerification(ctx context.Context, id models.Identity) error {
	return c.call(ctx, http.MethodDelete, identityPath("/api/verifications/", id), nil, nil)
}
