package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AnTengye/photoinsight/model"
	"github.com/AnTengye/photoinsight/pkg/logger"
	"github.com/AnTengye/photoinsight/service"
)

const maxCommentLen = 5000

type SentimentDetector interface {
	DetectSentiment(ctx context.Context, text, language string) (*model.Sentiment, error)
}

// ArtifactWriter stores JSON artifacts
type ArtifactWriter interface {
	PutJSON(ctx context.Context, key string, v any, tags map[string]string) error
}

type FeedbackHandler struct {
	detector SentimentDetector
	store    ArtifactWriter
	keyspace string
}

func NewFeedbackHandler(detector SentimentDetector, store ArtifactWriter, keyspace string) *FeedbackHandler {
	return &FeedbackHandler{
		detector: detector,
		store:    store,
		keyspace: keyspace,
	}
}

// Submit analyzes the sentiment of a comment, keeps the analysis and echoes it
func (h *FeedbackHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var body model.FeedbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	body.Comment = strings.TrimSpace(body.Comment)
	if body.Comment == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Comment is required"})
		return
	}
	if len(body.Comment) > maxCommentLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Comment is too long"})
		return
	}
	if body.Language == "" {
		body.Language = model.DefaultLanguage
	}

	sentiment, err := h.detector.DetectSentiment(ctx, body.Comment, body.Language)
	if err != nil {
		logger.Error(ctx, "sentiment detection failed", "lang", body.Language, "error", err)
		status := http.StatusBadGateway
		var perr *service.ProviderError
		if errors.As(err, &perr) && perr.Status == http.StatusBadRequest {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": "Failed to analyze comment"})
		return
	}

	doc := model.FeedbackDocument{Sentiment: sentiment, Comment: body.Comment}

	key := h.keyspace + "/" + uuid.New().String() + ".json"
	if err := h.store.PutJSON(ctx, key, doc, nil); err != nil {
		logger.Error(ctx, "failed to store feedback", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store feedback"})
		return
	}

	logger.Info(ctx, "feedback analyzed", "sentiment", sentiment.Sentiment, "key", key)
	c.JSON(http.StatusOK, doc)
}
