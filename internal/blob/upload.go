package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"bulletin/internal/transport"

	"github.com/valyala/fasthttp"
)

// Uploader turns bytes-backed handles into url-backed ones.
type Uploader interface {
	Upload(ctx context.Context, ref *Ref, token string) (*Ref, error)
}

// HTTPStore uploads to the remote service blob endpoint.
type HTTPStore struct {
	client  *fasthttp.Client
	baseURL string
}

// NewHTTPStore creates a store posting to baseURL + "/api/blobs".
func NewHTTPStore(baseURL string, client *fasthttp.Client) *HTTPStore {
	if client == nil {
		client = &fasthttp.Client{Name: "bulletin-blob"}
	}
	return &HTTPStore{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload stores ref's bytes and returns a url-backed handle. Handles that
// are already stored are returned unchanged.
func (s *HTTPStore) Upload(ctx context.Context, ref *Ref, token string) (*Ref, error) {
	if ref == nil || ref.Uploaded() {
		return ref, nil
	}

	body := newProgressReader(ref.data, ref.progress)
	resp, err := transport.Do(ctx, s.client, transport.Request{
		Method:      http.MethodPost,
		URL:         s.baseURL + "/api/blobs",
		Token:       token,
		ContentType: "application/octet-stream",
		BodyStream:  body,
		BodySize:    len(ref.data),
	})
	if err != nil {
		return nil, fmt.Errorf("blob: upload: %w", err)
	}
	if resp.Status != http.StatusCreated && resp.Status != http.StatusOK {
		return nil, fmt.Errorf("blob: upload: status %d: %s", resp.Status, strings.TrimSpace(string(resp.Body)))
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("blob: decode upload response: %w", err)
	}
	if out.URL == "" {
		return nil, fmt.Errorf("blob: upload response without url")
	}
	body.finish()
	return FromURL(out.URL), nil
}

// progressReader reports whole-percentage steps as the body is consumed.
type progressReader struct {
	data   []byte
	off    int
	last   int
	report func(int)
}

func newProgressReader(data []byte, report func(int)) *progressReader {
	return &progressReader{data: data, last: -1, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if p.off >= len(p.data) {
		return 0, io.EOF
	}
	n := copy(b, p.data[p.off:])
	p.off += n
	p.step(p.off * 100 / len(p.data))
	return n, nil
}

func (p *progressReader) step(pct int) {
	if p.report == nil || pct <= p.last {
		return
	}
	p.last = pct
	p.report(pct)
}

// finish guarantees a final 100, also for empty bodies.
func (p *progressReader) finish() {
	p.step(100)
}
