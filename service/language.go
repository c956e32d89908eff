package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/model"
)

// LanguageService classifies the sentiment of free text
type LanguageService struct {
	providerClient
}

// SentimentRequest is the body sent to the sentiment endpoint
type SentimentRequest struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
}

func NewLanguageService(cfg *config.ProviderConfig) *LanguageService {
	return &LanguageService{providerClient: newProviderClient("language", cfg)}
}

// DetectSentiment classifies text written in language, defaulting to English
func (s *LanguageService) DetectSentiment(ctx context.Context, text, language string) (*model.Sentiment, error) {
	if language == "" {
		language = model.DefaultLanguage
	}

	body, err := s.post(ctx, "/sentiment", SentimentRequest{Text: text, LanguageCode: language})
	if err != nil {
		return nil, err
	}

	var sentiment model.Sentiment
	if err := json.Unmarshal(body, &sentiment); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	return &sentiment, nil
}
