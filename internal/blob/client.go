// Package blob reads raw message sources and attachment bytes from the blob service.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"github.com/jarrod-lowe/jmap-service-webmail/internal/spanattr"
	"go.opentelemetry.io/otel/trace"
)

// Error types for blob operations.
var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrForbidden    = errors.New("forbidden")
	ErrServerFail   = errors.New("server error")
)

// HTTPDoer abstracts HTTP client operations for dependency inversion.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBlobClient streams blobs via HTTP.
type HTTPBlobClient struct {
	baseURL    string
	httpClient HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	sleepFunc  func(time.Duration)
}

// NewHTTPBlobClient creates a new HTTPBlobClient with default settings.
func NewHTTPBlobClient(baseURL string, httpClient HTTPDoer) *HTTPBlobClient {
	return &HTTPBlobClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: 2,
		baseDelay:  100 * time.Millisecond,
		sleepFunc:  time.Sleep,
	}
}

func (c *HTTPBlobClient) blobURL(userID, blobID string) string {
	return c.baseURL + "/download-iam/" + url.PathEscape(userID) + "/" + url.PathEscape(blobID)
}

// Stream opens a blob owned by userID for reading. Connection failures and
// 5xx responses are retried with exponential backoff until a body is
// available; the caller must close the returned reader. Failures while the
// body is being read are returned by its Read method.
func (c *HTTPBlobClient) Stream(ctx context.Context, userID, blobID string) (io.ReadCloser, error) {
	ctx, span := tracing.Tracer("webmail-blob-client").Start(ctx, "blob.Stream",
		trace.WithAttributes(spanattr.UserID(userID), tracing.BlobID(blobID)))
	defer span.End()

	body, err := c.open(ctx, c.blobURL(userID, blobID))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return body, nil
}

func (c *HTTPBlobClient) open(ctx context.Context, u string) (io.ReadCloser, error) {
	maxAttempts := c.maxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 && c.sleepFunc != nil && c.baseDelay > 0 {
			c.sleepFunc(c.baseDelay * time.Duration(1<<(attempt-1)))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrServerFail, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, ErrBlobNotFound
		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, ErrForbidden
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrServerFail, resp.StatusCode)
			continue
		case resp.StatusCode >= 300:
			resp.Body.Close()
			return nil, fmt.Errorf("blob service returned status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}

	return nil, lastErr
}
