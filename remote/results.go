package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/AnTengye/photoinsight/model"
)

// ResultsClient fetches the consolidated result document
type ResultsClient struct {
	baseClient
}

// NewResultsClient creates a results client. Results URLs are presigned or
// public, so no auth token is sent.
func NewResultsClient(opts Options) *ResultsClient {
	opts.AuthToken = ""
	return &ResultsClient{baseClient: newBaseClient(opts)}
}

// FetchResult issues one GET. A 403 or 404 is reported as ErrPollNotReady,
// since object stores answer that way until the document lands.
func (c *ResultsClient) FetchResult(ctx context.Context, resultsURL string) (*model.ResultDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrPollNotReady, resp.StatusCode)
	case !isSuccess(resp.StatusCode):
		return nil, &RemoteRejectedError{Op: "results", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var doc model.ResultDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse result document: %w", err)
	}
	return &doc, nil
}
