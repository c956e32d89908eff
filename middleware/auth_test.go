package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testAuthConfig() *config.AuthConfig {
	return &config.AuthConfig{
		JWTSecret:        "test-secret-key",
		TokenExpireHours: 24,
	}
}

func TestGenerateToken(t *testing.T) {
	token, expiresAt, err := GenerateToken("kiosk", testAuthConfig())
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}

	expectedExpiry := time.Now().Add(24 * time.Hour)
	if expiresAt.Before(expectedExpiry.Add(-time.Minute)) || expiresAt.After(expectedExpiry.Add(time.Minute)) {
		t.Errorf("Expiry time %v is not within expected range of %v", expiresAt, expectedExpiry)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret-key"), nil
	})
	if err != nil {
		t.Fatalf("Failed to parse token: %v", err)
	}
	if claims.Client != "kiosk" || claims.Subject != "kiosk" {
		t.Errorf("Expected client kiosk, got %+v", claims)
	}
	if claims.ID == "" {
		t.Error("Expected a token ID")
	}
}

func TestGenerateTokenWithoutSecret(t *testing.T) {
	_, _, err := GenerateToken("kiosk", &config.AuthConfig{})
	if !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("Expected ErrAuthDisabled, got %v", err)
	}
}

func TestRequireToken(t *testing.T) {
	cfg := testAuthConfig()
	token, _, err := GenerateToken("kiosk", cfg)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Client: "kiosk",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	expiredToken, _ := expired.SignedString([]byte(cfg.JWTSecret))

	noClient := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{})
	noClientToken, _ := noClient.SignedString([]byte(cfg.JWTSecret))

	wrongSecret, _, _ := GenerateToken("kiosk", &config.AuthConfig{JWTSecret: "other", TokenExpireHours: 1})

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"no token", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired token", "Bearer " + expiredToken, http.StatusUnauthorized},
		{"token without client", "Bearer " + noClientToken, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + wrongSecret, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(RequireToken(cfg))
			router.GET("/test", func(c *gin.Context) {
				if GetClient(c) != "kiosk" {
					t.Errorf("Expected client kiosk, got '%s'", GetClient(c))
				}
				if got, _ := c.Request.Context().Value(logger.ClientKey).(string); got != "kiosk" {
					t.Errorf("Expected client in request context, got '%s'", got)
				}
				c.JSON(http.StatusOK, gin.H{"message": "ok"})
			})

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestRequireTokenDisabled(t *testing.T) {
	router := gin.New()
	router.Use(RequireToken(&config.AuthConfig{}))
	router.GET("/test", func(c *gin.Context) {
		if GetClient(c) != "" {
			t.Error("Expected no client when auth is disabled")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestRequireTokenRejectsOtherAlgorithms(t *testing.T) {
	cfg := testAuthConfig()
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Client: "kiosk"})
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	router := gin.New()
	router.Use(RequireToken(cfg))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}
