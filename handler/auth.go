package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/middleware"
	"github.com/AnTengye/photoinsight/pkg/logger"
)

type AuthHandler struct {
	config *config.AuthConfig
}

func NewAuthHandler(cfg *config.AuthConfig) *AuthHandler {
	return &AuthHandler{config: cfg}
}

type TokenRequest struct {
	Client string `json:"client" binding:"required"`
	Key    string `json:"key" binding:"required"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Client    string `json:"client"`
}

// IssueToken exchanges a configured client key for an API token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	client := h.config.FindClient(req.Client)
	if client == nil || subtle.ConstantTimeCompare([]byte(client.Key), []byte(req.Key)) != 1 {
		logger.Warn(c.Request.Context(), "token request rejected", "client", req.Client)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid client or key"})
		return
	}

	token, expiresAt, err := middleware.GenerateToken(client.Name, h.config)
	if errors.Is(err, middleware.ErrAuthDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Token issuing is disabled"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Client:    client.Name,
	})
}

// WhoAmI returns the client the request was authenticated as
func (h *AuthHandler) WhoAmI(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"client": middleware.GetClient(c)})
}
