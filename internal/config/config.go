package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	AWS           AWSConfig
	ECS           ECSConfig
	API           APIConfig
	Worker        WorkerConfig
	Task          TaskConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region          string
	MediaBucket     string
	RenditionBucket string
	QueueURL        string
	IntentTable     string
	LockTable       string
	CDNDomain       string
}

// ECSConfig holds the transcode task launch configuration.
type ECSConfig struct {
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Port      string
	Username  string
	Password  string
	JWTSecret string
}

// WorkerConfig holds intake-worker configuration.
type WorkerConfig struct {
	MetricsPort int
	WorkerID    string
}

// TaskConfig holds transcode-task configuration.
type TaskConfig struct {
	ContentAPIURL string
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Default values
const (
	DefaultPort          = "8080"
	DefaultMetricsPort   = 2112
	DefaultOTLPEndpoint  = "localhost:4317"
	DefaultRegion        = "us-west-2"
	DefaultContainerName = "transcode"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	hostname, _ := os.Hostname()

	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", DefaultRegion),
			MediaBucket:     os.Getenv("MEDIA_BUCKET"),
			RenditionBucket: os.Getenv("RENDITION_BUCKET"),
			QueueURL:        os.Getenv("SQS_QUEUE_URL"),
			IntentTable:     os.Getenv("INTENT_TABLE"),
			LockTable:       os.Getenv("LOCK_TABLE"),
			CDNDomain:       os.Getenv("CDN_DOMAIN"),
		},
		ECS: ECSConfig{
			Cluster:        os.Getenv("ECS_CLUSTER"),
			TaskDefinition: os.Getenv("ECS_TASK_DEFINITION"),
			ContainerName:  getEnv("ECS_CONTAINER_NAME", DefaultContainerName),
			Subnets:        getEnvSlice("ECS_SUBNETS", nil),
			SecurityGroups: getEnvSlice("ECS_SECURITY_GROUPS", nil),
		},
		API: APIConfig{
			Port:      getEnv("PORT", DefaultPort),
			Username:  os.Getenv("API_USERNAME"),
			Password:  os.Getenv("API_PASSWORD"),
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Worker: WorkerConfig{
			MetricsPort: getEnvInt("METRICS_PORT", DefaultMetricsPort),
			WorkerID:    getEnv("WORKER_ID", hostname),
		},
		Task: TaskConfig{
			ContentAPIURL: os.Getenv("CONTENT_API_URL"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"https://app.courseloom.dev",
			}),
		},
	}

	return cfg, nil
}

// LoadAPI loads configuration required for the upload API service.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorker loads configuration required for the intake worker.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTask loads configuration required for the transcode task.
func LoadTask() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateTask(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateAPI validates configuration required for the upload API service.
func (c *Config) ValidateAPI() error {
	var errs []string

	if c.AWS.MediaBucket == "" {
		errs = append(errs, "MEDIA_BUCKET is required")
	}
	if c.AWS.IntentTable == "" {
		errs = append(errs, "INTENT_TABLE is required")
	}

	if c.IsProduction() {
		if c.API.Username == "" {
			errs = append(errs, "API_USERNAME is required in production")
		}
		if c.API.Password == "" {
			errs = append(errs, "API_PASSWORD is required in production")
		}
		if c.API.JWTSecret == "" {
			errs = append(errs, "JWT_SECRET is required in production")
		}
		if len(c.API.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateWorker validates configuration required for the intake worker.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.AWS.QueueURL == "" {
		errs = append(errs, "SQS_QUEUE_URL is required")
	}
	if c.AWS.LockTable == "" {
		errs = append(errs, "LOCK_TABLE is required")
	}
	if c.ECS.Cluster == "" {
		errs = append(errs, "ECS_CLUSTER is required")
	}
	if c.ECS.TaskDefinition == "" {
		errs = append(errs, "ECS_TASK_DEFINITION is required")
	}
	if len(c.ECS.Subnets) == 0 {
		errs = append(errs, "ECS_SUBNETS is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateTask validates configuration required for the transcode task.
func (c *Config) ValidateTask() error {
	var errs []string

	if c.AWS.MediaBucket == "" {
		errs = append(errs, "MEDIA_BUCKET is required")
	}
	if c.AWS.RenditionBucket == "" {
		errs = append(errs, "RENDITION_BUCKET is required")
	}
	if c.AWS.LockTable == "" {
		errs = append(errs, "LOCK_TABLE is required")
	}
	if c.AWS.CDNDomain == "" {
		errs = append(errs, "CDN_DOMAIN is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// GetAPICredentials returns API credentials with a fallback for development.
func (c *Config) GetAPICredentials() (username, password string, err error) {
	username = c.API.Username
	password = c.API.Password

	if username == "" || password == "" {
		if c.IsProduction() {
			return "", "", errors.New("API credentials not configured")
		}
		return "admin", "secret", nil
	}

	return username, password, nil
}

// GetJWTSecret returns the JWT signing secret.
func (c *Config) GetJWTSecret() ([]byte, error) {
	secret := c.API.JWTSecret

	if secret == "" {
		return nil, errors.New("JWT_SECRET is required (set it even for development)")
	}
	if len(secret) < 32 && c.IsProduction() {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	return []byte(secret), nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
