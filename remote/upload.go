package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/AnTengye/photoinsight/model"
)

// UploadTransport performs the direct PUT of an asset to a presigned URL
type UploadTransport struct {
	baseClient
}

// NewUploadTransport creates a transport. The auth token is never sent with
// uploads since presigned URLs carry their own signature.
func NewUploadTransport(opts Options) *UploadTransport {
	opts.AuthToken = ""
	return &UploadTransport{baseClient: newBaseClient(opts)}
}

// Upload makes exactly one PUT attempt
func (t *UploadTransport) Upload(ctx context.Context, putURL string, asset *model.Asset) error {
	if asset == nil {
		return &TransportError{Cause: fmt.Errorf("no asset")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(asset.Data))
	if err != nil {
		return &TransportError{Cause: err}
	}
	req.ContentLength = asset.Size()
	req.Header.Set("Content-Type", asset.UploadContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body := readErrorBody(resp.Body)
		var cause error
		if body != "" {
			cause = fmt.Errorf("%s", body)
		}
		return &TransportError{Status: resp.StatusCode, Cause: cause}
	}
	return nil
}
