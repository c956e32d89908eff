package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/pkg/logger"
)

const clientKey = "client"

// ErrAuthDisabled is returned when a token is requested without a signing secret
var ErrAuthDisabled = errors.New("jwt secret not configured")

// Claims identifies the API client a token was minted for
type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// GenerateToken mints an HS256 client token valid for TokenExpireHours
func GenerateToken(client string, cfg *config.AuthConfig) (string, time.Time, error) {
	if cfg.JWTSecret == "" {
		return "", time.Time{}, ErrAuthDisabled
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   client,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// RequireToken rejects requests without a valid client token. With no
// secret configured the API is open and every request passes.
func RequireToken(cfg *config.AuthConfig) gin.HandlerFunc {
	if cfg.JWTSecret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid || claims.Client == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(clientKey, claims.Client)
		ctx := context.WithValue(c.Request.Context(), logger.ClientKey, claims.Client)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetClient returns the authenticated client name, empty when auth is off
func GetClient(c *gin.Context) string {
	if client, exists := c.Get(clientKey); exists {
		return client.(string)
	}
	return ""
}
