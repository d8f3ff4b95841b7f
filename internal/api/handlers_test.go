package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/courseloom/video-ingest/internal/auth"
	"github.com/courseloom/video-ingest/internal/config"
	"github.com/courseloom/video-ingest/internal/upload"
	"github.com/courseloom/video-ingest/pkg/models"
)

type stubObjects struct{}

func (stubObjects) PresignPut(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error) {
	return "https://storage.example/" + key, nil
}

func (stubObjects) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	return "upload-1", nil
}

func (stubObjects) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, lifetime time.Duration) (string, error) {
	return "https://storage.example/" + key, nil
}

func (stubObjects) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []models.PartETag) error {
	return nil
}

func (stubObjects) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	return nil
}

func (stubObjects) MoveObject(ctx context.Context, bucket, srcKey, dstKey string) error {
	return nil
}

type stubIntents struct {
	items map[string]*models.UploadIntent
}

func (s *stubIntents) Put(ctx context.Context, intent *models.UploadIntent) error {
	s.items[intent.IntentID] = intent
	return nil
}

func (s *stubIntents) Get(ctx context.Context, intentID string) (*models.UploadIntent, error) {
	intent, ok := s.items[intentID]
	if !ok {
		return nil, models.ErrIntentNotFound
	}
	return intent, nil
}

func (s *stubIntents) Delete(ctx context.Context, intentID string) error {
	delete(s.items, intentID)
	return nil
}

func newTestHandlers(t *testing.T) (*Handlers, *auth.JWTService) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Environment: "dev"}
	uploads := upload.NewService(stubObjects{}, &stubIntents{items: map[string]*models.UploadIntent{}}, "media-bucket", "cdn.example.com", log)
	jwtService := auth.NewJWTService("unit-test-secret-that-is-long-enough")

	return NewHandlers(&HandlersConfig{
		Config:       cfg,
		Logger:       log,
		Uploads:      uploads,
		JWTService:   jwtService,
		LoginLimiter: auth.NewLoginLimiter(),
	}), jwtService
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestLoginHandler(t *testing.T) {
	tests := []struct {
		name       string
		username   string
		password   string
		wantStatus int
	}{
		{"valid dev credentials", "admin", "secret", http.StatusOK},
		{"wrong password", "admin", "nope", http.StatusUnauthorized},
		{"unknown user", "eve", "secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers, _ := newTestHandlers(t)

			req := httptest.NewRequest(http.MethodPost, "/login", nil)
			req.SetBasicAuth(tt.username, tt.password)
			rec := httptest.NewRecorder()

			handlers.LoginHandler(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				var resp map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatal(err)
				}
				if resp["token"] == "" {
					t.Error("login response missing token")
				}
			}
		})
	}
}

func TestLoginHandlerRateLimits(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	for i := 0; i < auth.MaxFailedLogins; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		req.SetBasicAuth("admin", "wrong")
		handlers.LoginHandler(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	handlers.LoginHandler(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestLoginHandlerRejectsGet(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	rec := httptest.NewRecorder()
	handlers.LoginHandler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestPresignHandler(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	rec := postJSON(t, handlers.PresignHandler, "/uploads/presign", upload.DeclaredFile{
		Filename:    "lecture.mp4",
		ContentType: "video/mp4",
		SizeBytes:   3 << 20,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp upload.PresignResult
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Mode != models.ModeSimple {
		t.Errorf("mode = %q, want simple for 3 MiB", resp.Mode)
	}
	if resp.UploadURL == "" || resp.IntentID == "" {
		t.Errorf("incomplete response: %+v", resp)
	}
}

func TestPresignHandlerValidation(t *testing.T) {
	tests := []struct {
		name       string
		file       upload.DeclaredFile
		wantStatus int
	}{
		{
			"bad extension",
			upload.DeclaredFile{Filename: "notes.txt", ContentType: "video/mp4", SizeBytes: 100},
			http.StatusBadRequest,
		},
		{
			"bad content type",
			upload.DeclaredFile{Filename: "a.mp4", ContentType: "application/zip", SizeBytes: 100},
			http.StatusBadRequest,
		},
		{
			"over size cap",
			upload.DeclaredFile{Filename: "a.mp4", ContentType: "video/mp4", SizeBytes: upload.MaxVideoBytes + 1},
			http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers, _ := newTestHandlers(t)
			rec := postJSON(t, handlers.PresignHandler, "/uploads/presign", tt.file)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestPresignHandlerRejectsMalformedJSON(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/uploads/presign", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	handlers.PresignHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestFinalizeHandlerUnknownIntent(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	rec := postJSON(t, handlers.FinalizeHandler, "/uploads/finalize", IntentRequest{IntentID: "absent"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestFinalizeHandlerRequiresIntentID(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	rec := postJSON(t, handlers.FinalizeHandler, "/uploads/finalize", IntentRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSignPartHandlerUnknownIntent(t *testing.T) {
	handlers, _ := newTestHandlers(t)

	rec := postJSON(t, handlers.SignPartHandler, "/uploads/parts/sign", SignPartRequest{IntentID: "absent", PartNumber: 1})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestProtectedEndpointRequiresToken(t *testing.T) {
	handlers, jwtService := newTestHandlers(t)
	protected := jwtService.Middleware(handlers.PresignHandler)

	req := httptest.NewRequest(http.MethodPost, "/uploads/presign", nil)
	rec := httptest.NewRecorder()
	protected(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestInternalOnlyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := internalOnlyMiddleware(next)

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		wantStatus int
	}{
		{"loopback allowed", "127.0.0.1:5000", "", http.StatusOK},
		{"private network allowed", "10.1.2.3:5000", "", http.StatusOK},
		{"public denied", "203.0.113.7:5000", "", http.StatusForbidden},
		{"via load balancer denied", "10.1.2.3:5000", "203.0.113.7", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
