package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"bulletin/internal/models"
	"bulletin/internal/transport"

	"github.com/valyala/fasthttp"
)

// RequestDevToken asks a development service at baseURL to sign a session
// token for id. Production services do not offer the endpoint.
func RequestDevToken(ctx context.Context, client *fasthttp.Client, baseURL string, id models.Identity) (string, error) {
	if id.IsAnonymous() {
		return "", models.NewValidationError("identity required")
	}
	if client == nil {
		client = &fasthttp.Client{Name: "bulletin"}
	}
	body, err := json.Marshal(map[string]string{"identity": string(id)})
	if err != nil {
		return "", err
	}
	resp, err := transport.Do(ctx, client, transport.Request{
		Method:      http.MethodPost,
		URL:         strings.TrimRight(baseURL, "/") + "/api/dev/token",
		Body:        body,
		ContentType: jsonContentType,
	})
	if err != nil {
		return "", models.NewTransientError(fmt.Errorf("request dev token: %w", err))
	}
	if resp.Status >= http.StatusBadRequest {
		return "", classifyStatus(resp.Status, resp.Body)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", models.NewTransientError(fmt.Errorf("decode dev token: %w", err))
	}
	if out.Token == "" {
		return "", models.NewTransientError(fmt.Errorf("dev token response without token"))
	}
	return out.Token, nil
}
