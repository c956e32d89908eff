package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/AnTengye/photoinsight/model"
)

// FeedbackSubmitter posts free-text feedback for sentiment analysis
type FeedbackSubmitter struct {
	baseClient
}

func NewFeedbackSubmitter(opts Options) *FeedbackSubmitter {
	return &FeedbackSubmitter{baseClient: newBaseClient(opts)}
}

// Send makes a single POST to {endpoint}/feedback
func (s *FeedbackSubmitter) Send(ctx context.Context, endpoint string, body model.FeedbackBody) (*model.FeedbackDocument, error) {
	target, err := joinEndpoint(endpoint, "feedback")
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, &RemoteRejectedError{Op: "feedback", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var doc model.FeedbackDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse feedback response: %w", err)
	}
	return &doc, nil
}
