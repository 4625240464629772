// Package transport runs fasthttp requests under a context.
package transport

import (
	"context"
	"io"

	"github.com/valyala/fasthttp"
)

// Request describes one HTTP exchange.
type Request struct {
	Method      string
	URL         string
	Token       string
	ContentType string
	Header      map[string]string
	Body        []byte
	// BodyStream, when set, replaces Body. BodySize must then be the exact length.
	BodyStream io.Reader
	BodySize   int
}

// Response is a detached copy of the server answer.
type Response struct {
	Status int
	Body   []byte
}

type result struct {
	resp Response
	err  error
}

// Do sends req with client. fasthttp has no context support, so the exchange
// runs in its own goroutine which owns the pooled request and response; when
// ctx ends first Do returns ctx.Err() and the exchange finishes in the background.
func Do(ctx context.Context, client *fasthttp.Client, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	done := make(chan result, 1)
	go func() {
		r := fasthttp.AcquireRequest()
		w := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(r)
		defer fasthttp.ReleaseResponse(w)

		r.Header.SetMethod(req.Method)
		r.SetRequestURI(req.URL)
		if req.Token != "" {
			r.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+req.Token)
		}
		if req.ContentType != "" {
			r.Header.SetContentType(req.ContentType)
		}
		for k, v := range req.Header {
			r.Header.Set(k, v)
		}
		if req.BodyStream != nil {
			r.SetBodyStream(req.BodyStream, req.BodySize)
		} else if req.Body != nil {
			r.SetBody(req.Body)
		}

		if err := client.Do(r, w); err != nil {
			done <- result{err: err}
			return
		}
		body := append([]byte(nil), w.Body()...)
		done <- result{resp: Response{Status: w.StatusCode(), Body: body}}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
