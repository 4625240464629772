package remote

import (
	"context"
	"strings"
	"time"

	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/observability"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// Option configures NewBuilder.
type Option func(*builder)

// WithHTTPClient replaces the default fasthttp client.
func WithHTTPClient(client *fasthttp.Client) Option {
	return func(b *builder) { b.http = client }
}

// WithNow replaces the clock used to check token expiry.
func WithNow(now func() time.Time) Option {
	return func(b *builder) { b.now = now }
}

type builder struct {
	baseURL string
	http    *fasthttp.Client
	now     func() time.Time
}

// NewBuilder returns a channel.Builder for the service at baseURL. Session
// tokens are checked for shape, subject and expiry only; the service verifies
// the signature.
func NewBuilder(baseURL string, opts ...Option) channel.Builder {
	b := &builder{
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.http == nil {
		b.http = &fasthttp.Client{
			Name:                "bulletin",
			MaxIdleConnDuration: 30 * time.Second,
		}
	}
	return b.build
}

func (b *builder) build(ctx context.Context, cred channel.Credential) (channel.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cred.IsAnonymous() {
		if err := b.checkToken(cred); err != nil {
			return nil, err
		}
	}
	return &Client{
		http:    b.http,
		baseURL: b.baseURL,
		cred:    cred,
		tracer:  observability.GetTraceLayer(),
	}, nil
}

func (b *builder) checkToken(cred channel.Credential) error {
	if cred.Token == "" {
		return models.NewUnauthorizedError("session token required")
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(cred.Token, &claims); err != nil {
		return &models.AppError{Code: models.CodeUnauthorized, Message: "malformed session token", Err: err}
	}
	if claims.Subject != string(cred.Identity) {
		return models.NewUnauthorizedError("session token belongs to another identity")
	}
	if claims.ExpiresAt != nil && !b.now().Before(claims.ExpiresAt.Time) {
		return models.NewUnauthorizedError("session token expired")
	}
	return nil
}
