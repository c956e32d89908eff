package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/AnTengye/photoinsight/model"
)

// EndpointClient resolves single-use upload targets from the API
type EndpointClient struct {
	baseClient
}

func NewEndpointClient(opts Options) *EndpointClient {
	return &EndpointClient{baseClient: newBaseClient(opts)}
}

// GetUploadTarget requests a fresh presigned target from {baseEndpoint}/presigned.
// It does not retry.
func (c *EndpointClient) GetUploadTarget(ctx context.Context, baseEndpoint string) (*model.PresignedTarget, error) {
	endpoint, err := joinEndpoint(baseEndpoint, "presigned")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointUnavailable, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &RemoteRejectedError{Op: "presigned", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var target model.PresignedTarget
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return nil, fmt.Errorf("failed to parse presigned response: %w", err)
	}
	if target.PutURL == "" || target.ResultsURL == "" {
		return nil, &RemoteRejectedError{Op: "presigned", Status: resp.StatusCode, Body: "incomplete target"}
	}

	return &target, nil
}

// joinEndpoint appends a path element to the base endpoint, failing with
// ErrEndpointUnavailable when the base is unset or not an absolute http(s) URL.
func joinEndpoint(baseEndpoint, subpath string) (string, error) {
	base := strings.TrimSpace(baseEndpoint)
	if base == "" {
		return "", fmt.Errorf("%w: base endpoint not configured", ErrEndpointUnavailable)
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: invalid base endpoint %q", ErrEndpointUnavailable, baseEndpoint)
	}
	return strings.TrimRight(base, "/") + "/" + subpath, nil
}
