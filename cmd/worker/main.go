package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/courseloom/video-ingest/internal/config"
	"github.com/courseloom/video-ingest/internal/health"
	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/observability"
	"github.com/courseloom/video-ingest/internal/storage"
	"github.com/courseloom/video-ingest/internal/worker"
)

const (
	AWSConfigTimeout = 10 * time.Second
	ShutdownTimeout  = 5 * time.Second
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, relying on system ENV variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), "ingest-worker", cfg.Observability.OTLPEndpoint)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
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

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	lockStore, err := storage.NewLockStore(dynamoClient, cfg.AWS.LockTable)
	if err != nil {
		log.Error("Failed to initialize lock store", "error", err)
		os.Exit(1)
	}

	dispatcher := worker.NewECSDispatcher(ecs.NewFromConfig(awsCfg), &cfg.ECS, log)
	sqsClient := sqs.NewFromConfig(awsCfg)

	w := worker.New(&worker.Config{
		Queue:      sqsClient,
		QueueURL:   cfg.AWS.QueueURL,
		Locks:      lockStore,
		Dispatcher: dispatcher,
		WorkerID:   cfg.Worker.WorkerID,
		Logger:     log,
	})

	healthChecker := health.NewChecker("ingest-worker", log)
	healthChecker.Register("sqs", health.QueueProbe(sqsClient, cfg.AWS.QueueURL))
	healthChecker.Register("dynamodb", health.TableProbe(dynamoClient, cfg.AWS.LockTable))

	metricsServer := startMetricsServer(cfg.Worker.MetricsPort, healthChecker, log)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down intake worker...")
		cancel()
	}()

	w.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shutdown metrics server", "error", err)
	}
}

func startMetricsServer(port int, checker *health.Checker, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()

	return server
}
