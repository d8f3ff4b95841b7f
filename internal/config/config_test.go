package config

import (
	"strings"
	"testing"
)

func baseConfig() *Config {
	return &Config{
		Environment: "dev",
		AWS: AWSConfig{
			Region:          "us-west-2",
			MediaBucket:     "media",
			RenditionBucket: "renditions",
			QueueURL:        "https://queue.example/ingest",
			IntentTable:     "intents",
			LockTable:       "locks",
			CDNDomain:       "cdn.example.com",
		},
		ECS: ECSConfig{
			Cluster:        "ingest",
			TaskDefinition: "transcode-task:1",
			ContainerName:  "transcode",
			Subnets:        []string{"subnet-1"},
		},
	}
}

func TestValidateAPI(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid dev config", func(c *Config) {}, ""},
		{"missing media bucket", func(c *Config) { c.AWS.MediaBucket = "" }, "MEDIA_BUCKET"},
		{"missing intent table", func(c *Config) { c.AWS.IntentTable = "" }, "INTENT_TABLE"},
		{
			"production requires credentials",
			func(c *Config) { c.Environment = "production" },
			"API_USERNAME",
		},
		{
			"production requires long jwt secret",
			func(c *Config) {
				c.Environment = "production"
				c.API.Username = "svc"
				c.API.Password = "pw"
				c.API.JWTSecret = "short"
			},
			"JWT_SECRET must be at least 32 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPI()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateAPI() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateAPI() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWorker(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"missing queue", func(c *Config) { c.AWS.QueueURL = "" }, "SQS_QUEUE_URL"},
		{"missing lock table", func(c *Config) { c.AWS.LockTable = "" }, "LOCK_TABLE"},
		{"missing cluster", func(c *Config) { c.ECS.Cluster = "" }, "ECS_CLUSTER"},
		{"missing subnets", func(c *Config) { c.ECS.Subnets = nil }, "ECS_SUBNETS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorker()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateWorker() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateWorker() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTask(t *testing.T) {
	cfg := baseConfig()
	if err := cfg.ValidateTask(); err != nil {
		t.Fatalf("ValidateTask() error = %v", err)
	}

	cfg.AWS.RenditionBucket = ""
	if err := cfg.ValidateTask(); err == nil || !strings.Contains(err.Error(), "RENDITION_BUCKET") {
		t.Errorf("ValidateTask() error = %v, want mention of RENDITION_BUCKET", err)
	}
}

func TestGetAPICredentials(t *testing.T) {
	cfg := baseConfig()

	// Dev falls back to fixed credentials.
	user, pass, err := cfg.GetAPICredentials()
	if err != nil {
		t.Fatalf("GetAPICredentials() error = %v", err)
	}
	if user != "admin" || pass != "secret" {
		t.Errorf("dev fallback = %q/%q", user, pass)
	}

	// Production never falls back.
	cfg.Environment = "prod"
	if _, _, err := cfg.GetAPICredentials(); err == nil {
		t.Error("production without credentials should fail")
	}

	cfg.API.Username = "svc"
	cfg.API.Password = "pw"
	user, pass, err = cfg.GetAPICredentials()
	if err != nil {
		t.Fatalf("GetAPICredentials() error = %v", err)
	}
	if user != "svc" || pass != "pw" {
		t.Errorf("configured credentials = %q/%q", user, pass)
	}
}

func TestGetJWTSecret(t *testing.T) {
	cfg := baseConfig()

	if _, err := cfg.GetJWTSecret(); err == nil {
		t.Error("empty JWT secret should fail even in dev")
	}

	cfg.API.JWTSecret = "dev-secret"
	if _, err := cfg.GetJWTSecret(); err != nil {
		t.Errorf("dev short secret should pass: %v", err)
	}

	cfg.Environment = "production"
	if _, err := cfg.GetJWTSecret(); err == nil {
		t.Error("production short secret should fail")
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"prod", true},
		{"production", true},
		{"PROD", true},
		{"dev", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		cfg := &Config{Environment: tt.env}
		if got := cfg.IsProduction(); got != tt.want {
			t.Errorf("IsProduction(%q) = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("MEDIA_BUCKET", "media-staging")
	t.Setenv("ECS_SUBNETS", "subnet-1, subnet-2 ,")
	t.Setenv("METRICS_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Environment != "staging" {
		t.Errorf("environment = %q", cfg.Environment)
	}
	if cfg.AWS.MediaBucket != "media-staging" {
		t.Errorf("mediaBucket = %q", cfg.AWS.MediaBucket)
	}
	if len(cfg.ECS.Subnets) != 2 || cfg.ECS.Subnets[0] != "subnet-1" || cfg.ECS.Subnets[1] != "subnet-2" {
		t.Errorf("subnets = %v", cfg.ECS.Subnets)
	}
	if cfg.Worker.MetricsPort != 9100 {
		t.Errorf("metricsPort = %d", cfg.Worker.MetricsPort)
	}
}
