package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/courseloom/video-ingest/internal/api"
	"github.com/courseloom/video-ingest/internal/auth"
	"github.com/courseloom/video-ingest/internal/config"
	"github.com/courseloom/video-ingest/internal/health"
	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/observability"
	"github.com/courseloom/video-ingest/internal/storage"
	"github.com/courseloom/video-ingest/internal/upload"
)

const (
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), "ingest-api", cfg.Observability.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	s3Client := storage.NewS3ClientFromAWSConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	intentStore, err := storage.NewIntentStore(dynamoClient, cfg.AWS.IntentTable)
	if err != nil {
		log.Error("Failed to initialize intent store", "error", err)
		os.Exit(1)
	}

	uploads := upload.NewService(s3Client, intentStore, cfg.AWS.MediaBucket, cfg.AWS.CDNDomain, log)

	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	jwtService := auth.NewJWTService(string(jwtSecret))
	loginLimiter := auth.NewLoginLimiter()

	healthChecker := health.NewChecker("ingest-api", log)
	healthChecker.Register("s3", health.BucketProbe(s3Client, cfg.AWS.MediaBucket))
	healthChecker.Register("dynamodb", health.TableProbe(dynamoClient, cfg.AWS.IntentTable))

	server, err := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Uploads:       uploads,
		JWTService:    jwtService,
		LoginLimiter:  loginLimiter,
		HealthChecker: healthChecker,
	})
	if err != nil {
		log.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel = context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}
