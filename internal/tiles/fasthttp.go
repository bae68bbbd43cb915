// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tiles

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultUserAgent = "ais-chartplotter/1.0"

// FastHTTPTransport issues tile requests with a shared fasthttp client.
// The public OSM tile servers reject requests without a User-Agent.
type FastHTTPTransport struct {
	client    *fasthttp.Client
	userAgent string
}

func NewFastHTTPTransport(userAgent string) *FastHTTPTransport {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &FastHTTPTransport{
		client: &fasthttp.Client{
			Name:                     userAgent,
			NoDefaultUserAgentHeader: true,
			MaxConnsPerHost:          4,
			MaxResponseBodySize:      2 << 20,
		},
		userAgent: userAgent,
	}
}

func (t *FastHTTPTransport) Request(ctx context.Context, url string, timeout time.Duration) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(t.userAgent)

	if err := t.client.DoTimeout(req, resp, timeout); err != nil {
		// fasthttp reports a body shorter than its Content-Length this way.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Response{}, shortBodyError{err}
		}
		return Response{}, err
	}

	// resp is returned to the pool, so the body must be copied out.
	body := append([]byte(nil), resp.Body()...)
	return Response{
		Status:        resp.StatusCode(),
		Body:          body,
		ContentLength: resp.Header.ContentLength(),
	}, nil
}

// shortBodyError is a transport error that matches ErrTruncated.
type shortBodyError struct {
	err error
}

func (e shortBodyError) Error() string        { return e.err.Error() }
func (e shortBodyError) Unwrap() error        { return e.err }
func (e shortBodyError) Is(target error) bool { return target == ErrTruncated }
