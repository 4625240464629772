// Package blob holds handles to binary objects stored outside this module.
// A handle is forwarded as is; its bytes are never interpreted.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bulletin/internal/transport"

	"github.com/valyala/fasthttp"
)

// ErrNotUploaded is returned when a bytes-only handle has to cross the wire.
var ErrNotUploaded = errors.New("blob: handle has no direct url; upload it first")

// DefaultClient fetches bytes for url-backed handles.
var DefaultClient = &fasthttp.Client{Name: "bulletin-blob"}

// Ref is an opaque handle to an external binary object.
type Ref struct {
	url      string
	data     []byte
	progress func(percentage int)
}

// FromURL constructs a handle for an already stored object.
func FromURL(url string) *Ref {
	return &Ref{url: url}
}

// FromBytes constructs a handle for bytes that still have to be uploaded.
func FromBytes(data []byte) *Ref {
	return &Ref{data: append([]byte(nil), data...)}
}

// WithUploadProgress returns a copy of r that reports upload progress to fn,
// once per whole percentage reached.
func (r *Ref) WithUploadProgress(fn func(percentage int)) *Ref {
	cp := *r
	cp.progress = fn
	return &cp
}

// DirectURL returns the location of the stored object, or "" before upload.
func (r *Ref) DirectURL() string {
	if r == nil {
		return ""
	}
	return r.url
}

// Uploaded reports whether r points at a stored object.
func (r *Ref) Uploaded() bool {
	return r != nil && r.url != ""
}

// Bytes returns the object content, fetching it when r is url-backed.
func (r *Ref) Bytes(ctx context.Context) ([]byte, error) {
	if r == nil {
		return nil, errors.New("blob: nil handle")
	}
	if r.data != nil {
		return append([]byte(nil), r.data...), nil
	}
	resp, err := transport.Do(ctx, DefaultClient, transport.Request{Method: http.MethodGet, URL: r.url})
	if err != nil {
		return nil, fmt.Errorf("blob: fetch %s: %w", r.url, err)
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("blob: fetch %s: status %d", r.url, resp.Status)
	}
	return resp.Body, nil
}

func (r *Ref) MarshalJSON() ([]byte, error) {
	if r.url == "" {
		return nil, ErrNotUploaded
	}
	return json.Marshal(r.url)
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var url string
	if err := json.Unmarshal(b, &url); err != nil {
		return fmt.Errorf("blob: decode handle: %w", err)
	}
	*r = Ref{url: url}
	return nil
}
