package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/model"
	"github.com/AnTengye/photoinsight/pkg/logger"
)

// Presigner issues time-limited object URLs
type Presigner interface {
	PresignedPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}

type PresignedHandler struct {
	store    Presigner
	minio    *config.MinioConfig
	pipeline *config.PipelineConfig
	putTTL   time.Duration
}

func NewPresignedHandler(store Presigner, cfg *config.Config) *PresignedHandler {
	return &PresignedHandler{
		store:    store,
		minio:    &cfg.Minio,
		pipeline: &cfg.Pipeline,
		putTTL:   time.Duration(cfg.Server.PresignMinutes) * time.Minute,
	}
}

// Create issues an upload URL for a new image and the URL its result
// document will appear at. Both objects share a fresh server-issued ID,
// never the caller-controlled request ID.
func (h *PresignedHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	id := uuid.New().String()

	uploadKey := h.pipeline.Uploads + "/" + id
	putURL, err := h.store.PresignedPut(ctx, uploadKey, h.putTTL)
	if err != nil {
		logger.Error(ctx, "failed to presign upload", "key", uploadKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate upload URL"})
		return
	}

	resultKey := h.pipeline.Consolidated + "/" + id
	resultsURL, err := h.resultsURL(ctx, resultKey)
	if err != nil {
		logger.Error(ctx, "failed to presign results", "key", resultKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate results URL"})
		return
	}

	logger.Info(ctx, "upload target issued", "object_id", id, "upload_key", uploadKey, "result_key", resultKey)
	c.JSON(http.StatusOK, model.PresignedTarget{
		PutURL:     putURL,
		ResultsURL: resultsURL,
	})
}

func (h *PresignedHandler) resultsURL(ctx context.Context, key string) (string, error) {
	if h.minio.PublicResults {
		return h.store.GetPublicURL(key), nil
	}
	return h.store.PresignedGet(ctx, key, time.Duration(h.minio.ResultsHours)*time.Hour)
}
