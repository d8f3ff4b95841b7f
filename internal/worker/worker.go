// Package worker implements the video intake loop: it long-polls the queue
// for storage events, gates each video behind a conditional processing lock,
// and launches one transcode task per acquired lock.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/metrics"
	"github.com/courseloom/video-ingest/pkg/models"
)

// Queue and lock constants
const (
	SQSMaxMessages       = 1
	SQSWaitTimeSeconds   = 20
	SQSVisibilityTimeout = 900 // 15 minutes

	RetryBackoffPeriod = 5 * time.Second
	BusyWaitPeriod     = 15 * time.Second

	// LockLease is generously longer than any expected transcode; a crashed
	// task never releases explicitly, the lease lapse does it.
	LockLease = 2 * time.Hour

	// SourceVideoExtension is the only object suffix the worker acts on.
	SourceVideoExtension = ".mp4"

	// KeyMarker is the path segment that precedes the video id in permanent
	// object keys.
	KeyMarker = "videos"
)

var tracer = otel.Tracer("ingest-worker")

// QueueAPI is the slice of the SQS client the worker uses.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Locker acquires per-video processing locks.
type Locker interface {
	Acquire(ctx context.Context, videoID, owner string, lease time.Duration) error
}

// Dispatcher launches transcode tasks and reports whether one is running.
type Dispatcher interface {
	Dispatch(ctx context.Context, objectKey, videoID string) error
	Busy(ctx context.Context) (bool, error)
}

// Worker is the sequential intake loop. One message is in flight at a time;
// correctness under scale-out comes from the lock store's conditional write,
// not from anything in process memory.
type Worker struct {
	queue      QueueAPI
	queueURL   string
	locks      Locker
	dispatcher Dispatcher
	workerID   string
	log        *slog.Logger
	sleep      func(time.Duration)
}

// Config holds worker dependencies.
type Config struct {
	Queue      QueueAPI
	QueueURL   string
	Locks      Locker
	Dispatcher Dispatcher
	WorkerID   string
	Logger     *slog.Logger
}

// New creates a Worker with the given configuration.
func New(cfg *Config) *Worker {
	return &Worker{
		queue:      cfg.Queue,
		queueURL:   cfg.QueueURL,
		locks:      cfg.Locks,
		dispatcher: cfg.Dispatcher,
		workerID:   cfg.WorkerID,
		log:        cfg.Logger,
		sleep:      time.Sleep,
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	logger.Info(ctx, w.log, "Starting queue polling",
		"queueURL", w.queueURL,
		"workerId", w.workerID,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, w.log, "Intake worker shutting down")
			return
		default:
		}

		// Soft global cap: one in-flight transcode at a time. The per-video
		// lock stays correct even if this cap is ever relaxed.
		busy, err := w.dispatcher.Busy(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error(ctx, w.log, "Failed to check running tasks", "error", err)
			w.sleep(RetryBackoffPeriod)
			continue
		}
		if busy {
			w.sleep(BusyWaitPeriod)
			continue
		}

		pollStart := time.Now()
		result, err := w.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: SQSMaxMessages,
			WaitTimeSeconds:     SQSWaitTimeSeconds,
			VisibilityTimeout:   SQSVisibilityTimeout,
		})
		metrics.PollDuration.Observe(time.Since(pollStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error(ctx, w.log, "Failed to receive messages", "error", err)
			w.sleep(RetryBackoffPeriod)
			continue
		}

		for _, msg := range result.Messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one message through parse, filter, lock, and dispatch.
// Poison messages and lock contention are acked and dropped; a dispatch
// failure or an indeterminate lock outcome leaves the message unacked so the
// queue's redelivery and dead-letter policy owns the retry.
func (w *Worker) handleMessage(ctx context.Context, msg types.Message) {
	ctx, span := tracer.Start(ctx, "handle-message")
	defer span.End()

	objectKey, videoID, err := classifyMessage(msg)
	if err != nil {
		// Noise: test events, non-video uploads, malformed keys. Redelivery
		// will not fix any of these, so drop them now.
		logger.Info(ctx, w.log, "Discarding message",
			"reason", err.Error(),
			"messageId", aws.ToString(msg.MessageId),
		)
		metrics.MessagesHandled.WithLabelValues("discarded").Inc()
		w.ack(ctx, msg)
		return
	}

	span.SetAttributes(
		attribute.String("video.id", videoID),
		attribute.String("video.key", objectKey),
	)

	err = w.locks.Acquire(ctx, videoID, w.workerID, LockLease)
	switch {
	case err == nil:
		metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	case errors.Is(err, models.ErrLockHeld):
		// Another consumer already owns this video, either a duplicate
		// delivery or a racing instance. Expected, not an error.
		logger.Info(ctx, w.log, "Video already being processed", "videoId", videoID)
		metrics.LockAcquisitions.WithLabelValues("denied").Inc()
		w.ack(ctx, msg)
		return
	default:
		// Could not determine ownership (store unavailable, timeout). Leave
		// the message for redelivery rather than dropping a legitimate video.
		logger.Error(ctx, w.log, "Lock acquisition failed", "videoId", videoID, "error", err)
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return
	}

	if err := w.dispatcher.Dispatch(ctx, objectKey, videoID); err != nil {
		// Not acked: the queue's backoff and dead-letter routing is the
		// retry policy for transient launch failures.
		logger.Error(ctx, w.log, "Failed to dispatch transcode task",
			"videoId", videoID,
			"objectKey", objectKey,
			"error", err,
		)
		metrics.MessagesHandled.WithLabelValues("dispatch_failed").Inc()
		return
	}

	metrics.TasksDispatched.Inc()
	metrics.MessagesHandled.WithLabelValues("dispatched").Inc()
	logger.Info(ctx, w.log, "Transcode task dispatched",
		"videoId", videoID,
		"objectKey", objectKey,
	)

	w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg types.Message) {
	_, err := w.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error(ctx, w.log, "Failed to delete message",
			"messageId", aws.ToString(msg.MessageId),
			"error", err,
		)
	}
}

// classifyMessage extracts the object key and video id from a queue message,
// or returns why the message is noise.
func classifyMessage(msg types.Message) (objectKey, videoID string, err error) {
	if msg.Body == nil {
		return "", "", models.ErrEventParseFailed
	}

	ev, err := models.ParseStorageEvent(*msg.Body)
	if err != nil {
		return "", "", err
	}

	key := ev.Detail.Object.Key
	if !strings.HasSuffix(strings.ToLower(key), SourceVideoExtension) {
		return "", "", fmt.Errorf("%w: %s", models.ErrNotSourceVideo, key)
	}

	id, err := VideoIDFromKey(key)
	if err != nil {
		return "", "", err
	}

	return key, id, nil
}

// VideoIDFromKey derives the stable video identifier from an object key: the
// path segment that follows the marker segment. A key without the marker is a
// permanent parse failure; no redelivery fixes a key's shape.
func VideoIDFromKey(key string) (string, error) {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		if seg == KeyMarker && i+1 < len(segments) && segments[i+1] != "" {
			return segments[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: no %q segment in %s", models.ErrKeyFormat, KeyMarker, key)
}
