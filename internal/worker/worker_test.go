package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/courseloom/video-ingest/pkg/models"
)

func eventBody(key string) string {
	return fmt.Sprintf(`{"detail":{"object":{"key":"%s"}}}`, key)
}

type fakeQueue struct {
	deleted []string
}

func (f *fakeQueue) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeQueue) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeLocker struct {
	err      error
	acquired []string
}

func (f *fakeLocker) Acquire(ctx context.Context, videoID, owner string, lease time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.acquired = append(f.acquired, videoID)
	return nil
}

type fakeDispatcher struct {
	err        error
	dispatched []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, objectKey, videoID string) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, videoID)
	return nil
}

func (f *fakeDispatcher) Busy(ctx context.Context) (bool, error) {
	return false, nil
}

func newTestWorker(queue *fakeQueue, locks *fakeLocker, dispatcher *fakeDispatcher) *Worker {
	w := New(&Config{
		Queue:      queue,
		QueueURL:   "https://queue.example/ingest",
		Locks:      locks,
		Dispatcher: dispatcher,
		WorkerID:   "worker-test",
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	w.sleep = func(time.Duration) {}
	return w
}

func message(body string) types.Message {
	return types.Message{
		MessageId:     aws.String("msg-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(body),
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantKey     string
		wantVideoID string
		wantErr     error
	}{
		{
			name:        "permanent source key",
			body:        eventBody("media/owner-1/videos/abc-123/source.mp4"),
			wantKey:     "media/owner-1/videos/abc-123/source.mp4",
			wantVideoID: "abc-123",
		},
		{
			name:        "uppercase extension accepted",
			body:        eventBody("media/owner-1/videos/abc-123/source.MP4"),
			wantKey:     "media/owner-1/videos/abc-123/source.MP4",
			wantVideoID: "abc-123",
		},
		{
			name:    "non-video object is noise",
			body:    eventBody("uploads/readme.txt"),
			wantErr: models.ErrNotSourceVideo,
		},
		{
			name:    "mp4 without marker segment",
			body:    eventBody("uploads/clip.mp4"),
			wantErr: models.ErrKeyFormat,
		},
		{
			name:    "not json",
			body:    "ping",
			wantErr: models.ErrEventParseFailed,
		},
		{
			name:    "json without object key",
			body:    `{"detail":{"object":{}}}`,
			wantErr: models.ErrNoObjectKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, videoID, err := classifyMessage(message(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("classifyMessage() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("classifyMessage() error = %v", err)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
			if videoID != tt.wantVideoID {
				t.Errorf("videoID = %q, want %q", videoID, tt.wantVideoID)
			}
		})
	}
}

func TestClassifyMessageNilBody(t *testing.T) {
	_, _, err := classifyMessage(types.Message{ReceiptHandle: aws.String("rh")})
	if !errors.Is(err, models.ErrEventParseFailed) {
		t.Errorf("classifyMessage() error = %v, want ErrEventParseFailed", err)
	}
}

func TestVideoIDFromKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"media/owner/videos/vid-1/source.mp4", "vid-1", false},
		{"videos/vid-2/source.mp4", "vid-2", false},
		{"media/owner/videos/", "", true},
		{"media/owner/clips/vid-3/source.mp4", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := VideoIDFromKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("VideoIDFromKey(%q) expected error", tt.key)
			}
			continue
		}
		if err != nil {
			t.Errorf("VideoIDFromKey(%q) error = %v", tt.key, err)
			continue
		}
		if got != tt.want {
			t.Errorf("VideoIDFromKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestHandleMessageDispatchesAndAcks(t *testing.T) {
	queue := &fakeQueue{}
	locks := &fakeLocker{}
	dispatcher := &fakeDispatcher{}
	w := newTestWorker(queue, locks, dispatcher)

	w.handleMessage(context.Background(), message(eventBody("media/o/videos/vid-1/source.mp4")))

	if len(locks.acquired) != 1 || locks.acquired[0] != "vid-1" {
		t.Errorf("acquired = %v, want [vid-1]", locks.acquired)
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != "vid-1" {
		t.Errorf("dispatched = %v, want [vid-1]", dispatcher.dispatched)
	}
	if len(queue.deleted) != 1 {
		t.Errorf("acks = %d, want 1", len(queue.deleted))
	}
}

func TestHandleMessageDiscardsNoise(t *testing.T) {
	queue := &fakeQueue{}
	locks := &fakeLocker{}
	dispatcher := &fakeDispatcher{}
	w := newTestWorker(queue, locks, dispatcher)

	w.handleMessage(context.Background(), message(eventBody("uploads/readme.txt")))

	if len(locks.acquired) != 0 {
		t.Error("noise must not reach the lock store")
	}
	if len(dispatcher.dispatched) != 0 {
		t.Error("noise must not be dispatched")
	}
	// Noise is acked so it never redelivers.
	if len(queue.deleted) != 1 {
		t.Errorf("acks = %d, want 1", len(queue.deleted))
	}
}

func TestHandleMessageLockHeldAcks(t *testing.T) {
	queue := &fakeQueue{}
	locks := &fakeLocker{err: models.ErrLockHeld}
	dispatcher := &fakeDispatcher{}
	w := newTestWorker(queue, locks, dispatcher)

	w.handleMessage(context.Background(), message(eventBody("media/o/videos/vid-1/source.mp4")))

	if len(dispatcher.dispatched) != 0 {
		t.Error("contended video must not be dispatched")
	}
	// Duplicate delivery: ack so it stops redelivering.
	if len(queue.deleted) != 1 {
		t.Errorf("acks = %d, want 1", len(queue.deleted))
	}
}

func TestHandleMessageIndeterminateLockLeavesMessage(t *testing.T) {
	queue := &fakeQueue{}
	locks := &fakeLocker{err: errors.New("store unavailable")}
	dispatcher := &fakeDispatcher{}
	w := newTestWorker(queue, locks, dispatcher)

	w.handleMessage(context.Background(), message(eventBody("media/o/videos/vid-1/source.mp4")))

	if len(dispatcher.dispatched) != 0 {
		t.Error("must not dispatch without the lock")
	}
	// Indeterminate store outcome: leave the message for redelivery.
	if len(queue.deleted) != 0 {
		t.Errorf("acks = %d, want 0", len(queue.deleted))
	}
}

func TestHandleMessageDispatchFailureLeavesMessage(t *testing.T) {
	queue := &fakeQueue{}
	locks := &fakeLocker{}
	dispatcher := &fakeDispatcher{err: errors.New("capacity unavailable")}
	w := newTestWorker(queue, locks, dispatcher)

	w.handleMessage(context.Background(), message(eventBody("media/o/videos/vid-1/source.mp4")))

	if len(queue.deleted) != 0 {
		t.Errorf("acks = %d, want 0 after dispatch failure", len(queue.deleted))
	}
}
