package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// adapter runs function URL invocations through an http.Handler.
type adapter struct {
	handler http.Handler
}

func newAdapter(h http.Handler) *adapter {
	return &adapter{handler: h}
}

func (a *adapter) handle(ctx context.Context, req events.LambdaFunctionURLRequest) (resp events.LambdaFunctionURLResponse, err error) {
	// A stream that fails after its first byte aborts the handler. The reply
	// is buffered here, so the partial body is replaced by a gateway error.
	defer func() {
		if v := recover(); v != nil {
			if v != http.ErrAbortHandler {
				panic(v)
			}
			resp = events.LambdaFunctionURLResponse{StatusCode: http.StatusBadGateway, Body: "Bad Gateway"}
		}
	}()

	r, err := toRequest(ctx, req)
	if err != nil {
		return events.LambdaFunctionURLResponse{StatusCode: http.StatusBadRequest, Body: "Bad Request"}, nil
	}

	w := &responseWriter{header: http.Header{}}
	a.handler.ServeHTTP(w, r)
	return w.response(), nil
}

func toRequest(ctx context.Context, req events.LambdaFunctionURLRequest) (*http.Request, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, err
		}
		body = decoded
	}

	raw := req.RawPath
	if raw == "" {
		raw = "/"
	}
	// RawPath arrives percent-encoded.
	path, err := url.PathUnescape(raw)
	if err != nil {
		return nil, err
	}
	u := &url.URL{Path: path, RawPath: raw, RawQuery: req.RawQueryString}
	r, err := http.NewRequestWithContext(ctx, req.RequestContext.HTTP.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}
	if len(req.Cookies) > 0 {
		r.Header.Set("Cookie", strings.Join(req.Cookies, "; "))
	}
	r.Host = req.RequestContext.DomainName
	if h := r.Header.Get("Host"); h != "" {
		r.Host = h
	}
	r.RemoteAddr = req.RequestContext.HTTP.SourceIP + ":0"
	r.RequestURI = u.RequestURI()
	// Function URLs are always served over TLS.
	r.Header.Set("X-Forwarded-Proto", "https")
	return r, nil
}

// responseWriter buffers a response for the function URL reply.
type responseWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(p)
}

func (w *responseWriter) response() events.LambdaFunctionURLResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(map[string]string, len(w.header))
	for k, v := range w.header {
		if k == "Set-Cookie" {
			continue
		}
		headers[k] = strings.Join(v, ", ")
	}
	return events.LambdaFunctionURLResponse{
		StatusCode:      status,
		Headers:         headers,
		Cookies:         w.header.Values("Set-Cookie"),
		Body:            base64.StdEncoding.EncodeToString(w.body.Bytes()),
		IsBase64Encoded: true,
	}
}
