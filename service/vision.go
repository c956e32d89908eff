package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/model"
)

// VisionService detects labels in images
type VisionService struct {
	providerClient
}

// LabelRequest is the body sent to the label detection endpoint
type LabelRequest struct {
	Image         []byte  `json:"image"`
	ContentType   string  `json:"content_type,omitempty"`
	MaxLabels     int     `json:"max_labels,omitempty"`
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

func NewVisionService(cfg *config.ProviderConfig) *VisionService {
	return &VisionService{providerClient: newProviderClient("vision", cfg)}
}

// DetectLabels returns the labels found in image
func (s *VisionService) DetectLabels(ctx context.Context, image []byte, contentType string) (*model.LabelSet, error) {
	body, err := s.post(ctx, "/labels", LabelRequest{
		Image:       image,
		ContentType: contentType,
	})
	if err != nil {
		return nil, err
	}

	var labels model.LabelSet
	if err := json.Unmarshal(body, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	return &labels, nil
}
