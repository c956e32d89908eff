package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/AnTengye/photoinsight/pkg/logger"
	"github.com/AnTengye/photoinsight/service"
)

// EventDispatcher runs the pipeline stages for pushed storage records
type EventDispatcher interface {
	Dispatch(ctx context.Context, records []service.ObjectRecord) error
}

type CallbackHandler struct {
	dispatcher EventDispatcher
	token      string
}

func NewCallbackHandler(dispatcher EventDispatcher, token string) *CallbackHandler {
	return &CallbackHandler{
		dispatcher: dispatcher,
		token:      token,
	}
}

// BucketNotification is the body a MinIO webhook target posts
type BucketNotification struct {
	EventName string               `json:"EventName"`
	Key       string               `json:"Key"`
	Records   []notification.Event `json:"Records"`
}

// HandleCallback receives bucket notifications from the storage webhook.
// A failed dispatch answers 500 so the sender retries.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook token"})
		return
	}

	var req BucketNotification
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	records := service.ObjectRecords(req.Records)
	if len(records) == 0 {
		c.JSON(http.StatusOK, gin.H{"message": "No records"})
		return
	}

	ctx := c.Request.Context()
	if err := h.dispatcher.Dispatch(ctx, records); err != nil {
		logger.Error(ctx, "bucket notification failed", "event", req.EventName, "key", req.Key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process notification"})
		return
	}

	logger.Info(ctx, "bucket notification processed", "event", req.EventName, "records", len(records))
	c.JSON(http.StatusOK, gin.H{"message": "Notification processed", "records": len(records)})
}

// authorized accepts "Bearer <token>" or the bare token. No token configured accepts everything.
func (h *CallbackHandler) authorized(header string) bool {
	if h.token == "" {
		return true
	}
	got := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}
