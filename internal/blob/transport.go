package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// emptyPayloadHash is the hex SHA-256 of an empty body.
var emptyPayloadHash = func() string {
	h := sha256.Sum256(nil)
	return hex.EncodeToString(h[:])
}()

// SigV4Transport is an http.RoundTripper that signs requests with AWS SigV4
// for API Gateway IAM authorization.
type SigV4Transport struct {
	wrapped     http.RoundTripper
	credentials aws.CredentialsProvider
	region      string
	service     string
	signer      *v4.Signer
	now         func() time.Time
}

// NewSigV4Transport creates a new SigV4Transport signing for execute-api.
func NewSigV4Transport(wrapped http.RoundTripper, credentials aws.CredentialsProvider, region string) *SigV4Transport {
	return &SigV4Transport{
		wrapped:     wrapped,
		credentials: credentials,
		region:      region,
		service:     "execute-api",
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *SigV4Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	creds, err := t.credentials.Retrieve(ctx)
	if err != nil {
		return nil, err
	}

	signedReq := req.Clone(ctx)

	payloadHash := emptyPayloadHash
	if signedReq.Body != nil && signedReq.Body != http.NoBody {
		body, err := io.ReadAll(signedReq.Body)
		if err != nil {
			return nil, err
		}
		signedReq.Body.Close()
		h := sha256.Sum256(body)
		payloadHash = hex.EncodeToString(h[:])
		signedReq.Body = io.NopCloser(bytes.NewReader(body))
		signedReq.ContentLength = int64(len(body))
	}

	if err := t.signer.SignHTTP(ctx, creds, signedReq, payloadHash, t.service, t.region, t.now()); err != nil {
		return nil, err
	}

	return t.wrapped.RoundTrip(signedReq)
}
