package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Minio    MinioConfig    `yaml:"minio"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Vision   ProviderConfig `yaml:"vision"`
	Speech   ProviderConfig `yaml:"speech"`
	Language ProviderConfig `yaml:"language"`
	Auth     AuthConfig     `yaml:"auth"`
	Client   ClientConfig   `yaml:"client"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           int `yaml:"port"`
	RateLimit      int `yaml:"rate_limit"` // requests per minute per client
	PresignMinutes int `yaml:"presign_minutes"`
}

type MinioConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"use_ssl"`
	ResultsHours  int    `yaml:"results_hours"`
	PublicResults bool   `yaml:"public_results"`
}

// PipelineConfig names the object keyspaces that connect the analysis stages
type PipelineConfig struct {
	Uploads            string `yaml:"uploads"`
	LabelArtifacts     string `yaml:"label_artifacts"`
	SpeechArtifacts    string `yaml:"speech_artifacts"`
	SentimentArtifacts string `yaml:"sentiment_artifacts"`
	Consolidated       string `yaml:"consolidated"`
	Voice              string `yaml:"voice"`
	Disabled           bool   `yaml:"disabled"`
	// Trigger is "listen" to subscribe to bucket notifications or "webhook"
	// to accept them pushed to /events
	Trigger      string `yaml:"trigger"`
	WebhookToken string `yaml:"webhook_token"`
}

const (
	TriggerListen  = "listen"
	TriggerWebhook = "webhook"
)

// ProviderConfig configures a remote analysis provider
type ProviderConfig struct {
	APIURL         string `yaml:"api_url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret        string             `yaml:"jwt_secret"`
	TokenExpireHours int                `yaml:"token_expire_hours"`
	Clients          []ClientCredential `yaml:"clients"`
}

// ClientCredential is an API key that can be exchanged for a token
type ClientCredential struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// ClientConfig configures the submission controller embedded by cmd/submit
type ClientConfig struct {
	BaseEndpoint     string `yaml:"base_endpoint"`
	ManifestPath     string `yaml:"manifest_path"`
	AuthToken        string `yaml:"auth_token"`
	PollIntervalMS   int    `yaml:"poll_interval_ms"`
	MaxAttempts      int    `yaml:"max_attempts"` // 0 polls forever
	CancelSuperseded *bool  `yaml:"cancel_superseded"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	MaxSessions      int    `yaml:"max_sessions"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var GlobalConfig *Config

// Load reads the YAML file at path. A .env file next to the working directory
// is applied first so secrets can stay out of the YAML.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Minio.AccessKey = GetEnv("MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = GetEnv("MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Vision.APIToken = GetEnv("VISION_API_TOKEN", c.Vision.APIToken)
	c.Speech.APIToken = GetEnv("SPEECH_API_TOKEN", c.Speech.APIToken)
	c.Language.APIToken = GetEnv("LANGUAGE_API_TOKEN", c.Language.APIToken)
	c.Pipeline.WebhookToken = GetEnv("PIPELINE_WEBHOOK_TOKEN", c.Pipeline.WebhookToken)
	c.Auth.JWTSecret = GetEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Client.BaseEndpoint = GetEnv("PHOTOINSIGHT_BASE_ENDPOINT", c.Client.BaseEndpoint)
	c.Client.AuthToken = GetEnv("PHOTOINSIGHT_TOKEN", c.Client.AuthToken)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.PresignMinutes == 0 {
		c.Server.PresignMinutes = 5
	}
	if c.Minio.ResultsHours == 0 {
		c.Minio.ResultsHours = 1
	}
	if c.Pipeline.Uploads == "" {
		c.Pipeline.Uploads = "uploads"
	}
	if c.Pipeline.LabelArtifacts == "" {
		c.Pipeline.LabelArtifacts = "rekognition-artifacts"
	}
	if c.Pipeline.SpeechArtifacts == "" {
		c.Pipeline.SpeechArtifacts = "polly-artifacts"
	}
	if c.Pipeline.SentimentArtifacts == "" {
		c.Pipeline.SentimentArtifacts = "comprehend-artifacts"
	}
	if c.Pipeline.Consolidated == "" {
		c.Pipeline.Consolidated = "consolidated"
	}
	if c.Pipeline.Voice == "" {
		c.Pipeline.Voice = "Joanna"
	}
	if c.Pipeline.Trigger == "" {
		c.Pipeline.Trigger = TriggerListen
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24 * 30
	}
	if c.Client.PollIntervalMS == 0 {
		c.Client.PollIntervalMS = 1000
	}
	if c.Client.CancelSuperseded == nil {
		cancel := true
		c.Client.CancelSuperseded = &cancel
	}
	if c.Client.TimeoutSeconds == 0 {
		c.Client.TimeoutSeconds = 30
	}
	if c.Client.MaxSessions == 0 {
		c.Client.MaxSessions = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// GetEnv reads an environment variable or returns fallback when it is unset or empty
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// FindClient finds a client credential by name
func (a *AuthConfig) FindClient(name string) *ClientCredential {
	for i := range a.Clients {
		if a.Clients[i].Name == name {
			return &a.Clients[i]
		}
	}
	return nil
}

// Timeout returns the provider request timeout, 60s when unset
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// PollInterval returns the configured fixed poll interval
func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Manifest is the deployment manifest published next to the front end
type Manifest struct {
	APIGatewayURL struct {
		Value string `json:"Value"`
	} `json:"APIGatewayURL"`
}

// ResolveBaseEndpoint returns the API base URL, preferring base_endpoint over the manifest.
// An empty result means no endpoint is configured.
func (c ClientConfig) ResolveBaseEndpoint() (string, error) {
	if c.BaseEndpoint != "" {
		return strings.TrimRight(c.BaseEndpoint, "/"), nil
	}
	if c.ManifestPath == "" {
		return "", nil
	}

	data, err := os.ReadFile(c.ManifestPath)
	if err != nil {
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse manifest: %w", err)
	}
	return strings.TrimRight(manifest.APIGatewayURL.Value, "/"), nil
}
