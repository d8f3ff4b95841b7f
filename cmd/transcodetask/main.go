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
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/courseloom/video-ingest/internal/config"
	"github.com/courseloom/video-ingest/internal/content"
	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/observability"
	"github.com/courseloom/video-ingest/internal/storage"
	"github.com/courseloom/video-ingest/internal/task"
	"github.com/courseloom/video-ingest/internal/transcoder"
)

const (
	AWSConfigTimeout      = 10 * time.Second
	TracerShutdownTimeout = 5 * time.Second
)

// The intake worker passes the job through the task environment.
const (
	VideoIDEnv   = "VIDEO_ID"
	ObjectKeyEnv = "OBJECT_KEY"
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, relying on system ENV variables")
	}

	videoID := os.Getenv(VideoIDEnv)
	objectKey := os.Getenv(ObjectKeyEnv)
	if videoID == "" || objectKey == "" {
		log.Error("VIDEO_ID and OBJECT_KEY are required")
		os.Exit(1)
	}

	cfg, err := config.LoadTask()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), "ingest-transcode", cfg.Observability.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	cancel()
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	lockStore, err := storage.NewLockStore(dynamodb.NewFromConfig(awsCfg), cfg.AWS.LockTable)
	if err != nil {
		log.Error("Failed to initialize lock store", "error", err)
		os.Exit(1)
	}

	runner := task.NewRunner(
		s3.NewFromConfig(awsCfg),
		cfg.AWS.MediaBucket,
		cfg.AWS.RenditionBucket,
		cfg.AWS.CDNDomain,
		transcoder.New(nil, log),
		content.NewClient(cfg.Task.ContentAPIURL, log),
		lockStore,
		log,
	)

	// The task is one job; SIGTERM from the scheduler cancels it.
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := runner.Run(runCtx, videoID, objectKey)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
	defer shutdownCancel()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Failed to shutdown tracer", "error", err)
	}

	if runErr != nil {
		os.Exit(1)
	}
}
