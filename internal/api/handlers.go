package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/courseloom/video-ingest/internal/auth"
	"github.com/courseloom/video-ingest/internal/config"
	"github.com/courseloom/video-ingest/internal/logger"
	"github.com/courseloom/video-ingest/internal/metrics"
	"github.com/courseloom/video-ingest/internal/upload"
	"github.com/courseloom/video-ingest/pkg/models"
)

var tracer = otel.Tracer("ingest-api")

// MaxRequestBodySize caps JSON request bodies.
const MaxRequestBodySize = 1 << 20 // 1 MB

// Handlers contains all HTTP handlers for the upload API.
type Handlers struct {
	cfg          *config.Config
	log          *slog.Logger
	uploads      *upload.Service
	jwtService   *auth.JWTService
	loginLimiter *auth.LoginLimiter
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config       *config.Config
	Logger       *slog.Logger
	Uploads      *upload.Service
	JWTService   *auth.JWTService
	LoginLimiter *auth.LoginLimiter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:          cfg.Config,
		log:          cfg.Logger,
		uploads:      cfg.Uploads,
		jwtService:   cfg.JWTService,
		loginLimiter: cfg.LoginLimiter,
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(ctx, h.log, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

// decodeBody decodes a size-limited JSON request body into dst. It writes the
// error response itself and reports whether decoding succeeded.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// callerID returns the authenticated identity placed by the JWT middleware.
func (h *Handlers) callerID(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		return claims.Username
	}
	return ""
}

// statusForError maps service errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNotIntentOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidFileType),
		errors.Is(err, models.ErrInvalidContentType),
		errors.Is(err, models.ErrFilenameTooLong),
		errors.Is(err, models.ErrMissingETag):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// LoginHandler authenticates with basic credentials and returns a JWT.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	clientIP := auth.GetClientIP(r)

	if !h.loginLimiter.Allow(clientIP) {
		metrics.AuthFailures.WithLabelValues("rate_limited").Inc()
		logger.Warn(ctx, h.log, "Login rate limited", "ip", clientIP)
		h.writeError(ctx, w, http.StatusTooManyRequests, "Too many failed attempts")
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Missing credentials")
		return
	}

	expectedUsername, expectedPassword, err := h.cfg.GetAPICredentials()
	if err != nil {
		logger.Error(ctx, h.log, "Failed to get API credentials", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Server configuration error")
		return
	}

	if username != expectedUsername || password != expectedPassword {
		h.loginLimiter.RecordFailure(clientIP)
		metrics.AuthFailures.WithLabelValues("bad_credentials").Inc()
		logger.Warn(ctx, h.log, "Failed login attempt", "username", username, "ip", clientIP)
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.jwtService.GenerateToken(username)
	if err != nil {
		logger.Error(ctx, h.log, "Failed to generate token", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	h.loginLimiter.RecordSuccess(clientIP)
	logger.Info(ctx, h.log, "Successful login", "username", username, "ip", clientIP)
	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"token": token})
}

// PresignHandler creates an upload intent and returns time-boxed upload
// credentials. The response shape depends on the declared size.
func (h *Handlers) PresignHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	requestID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "presign-upload",
		trace.WithAttributes(attribute.String("request.id", requestID)))
	defer span.End()
	r = r.WithContext(ctx)

	var req upload.DeclaredFile
	if !h.decodeBody(w, r, &req) {
		return
	}

	result, err := h.uploads.Presign(ctx, h.callerID(r), req)
	if err != nil {
		span.RecordError(err)
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			logger.Error(ctx, h.log, "Presign failed", "error", err, "requestId", requestID)
			h.writeError(ctx, w, status, "Internal server error")
			return
		}
		h.writeError(ctx, w, status, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("upload.intent_id", result.IntentID),
		attribute.String("upload.mode", string(result.Mode)),
	)

	h.writeJSON(ctx, w, http.StatusOK, result)
}

// SignPartRequest asks for a fresh URL for one multipart part.
type SignPartRequest struct {
	IntentID   string `json:"intentId"`
	PartNumber int32  `json:"partNumber"`
}

// SignPartResponse carries the signed part URL.
type SignPartResponse struct {
	UploadURL  string `json:"uploadUrl"`
	PartNumber int32  `json:"partNumber"`
}

// SignPartHandler signs a single part URL for an open multipart session.
func (h *Handlers) SignPartHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, span := tracer.Start(ctx, "sign-part")
	defer span.End()
	r = r.WithContext(ctx)

	var req SignPartRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.IntentID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "intentId is required")
		return
	}

	url, err := h.uploads.SignPart(ctx, req.IntentID, req.PartNumber)
	if err != nil {
		span.RecordError(err)
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			logger.Error(ctx, h.log, "Part signing failed", "error", err, "intentId", req.IntentID)
			h.writeError(ctx, w, status, "Internal server error")
			return
		}
		h.writeError(ctx, w, status, err.Error())
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, SignPartResponse{
		UploadURL:  url,
		PartNumber: req.PartNumber,
	})
}

// CompleteRequest lists every uploaded part of a multipart session.
type CompleteRequest struct {
	IntentID string            `json:"intentId"`
	Parts    []models.PartETag `json:"parts"`
}

// CompleteHandler assembles an uploaded multipart session.
func (h *Handlers) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, span := tracer.Start(ctx, "complete-multipart")
	defer span.End()
	r = r.WithContext(ctx)

	var req CompleteRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.IntentID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "intentId is required")
		return
	}

	if err := h.uploads.CompleteMultipart(ctx, req.IntentID, req.Parts); err != nil {
		span.RecordError(err)
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			logger.Error(ctx, h.log, "Multipart completion failed", "error", err, "intentId", req.IntentID)
			h.writeError(ctx, w, status, "Internal server error")
			return
		}
		h.writeError(ctx, w, status, err.Error())
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "completed"})
}

// IntentRequest names one upload intent.
type IntentRequest struct {
	IntentID string `json:"intentId"`
}

// AbortHandler discards an open upload and its intent.
func (h *Handlers) AbortHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, span := tracer.Start(ctx, "abort-upload")
	defer span.End()
	r = r.WithContext(ctx)

	var req IntentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.IntentID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "intentId is required")
		return
	}

	if err := h.uploads.Abort(ctx, h.callerID(r), req.IntentID); err != nil {
		span.RecordError(err)
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			logger.Error(ctx, h.log, "Abort failed", "error", err, "intentId", req.IntentID)
			h.writeError(ctx, w, status, "Internal server error")
			return
		}
		h.writeError(ctx, w, status, err.Error())
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "aborted"})
}

// FinalizeHandler promotes a completed upload to its permanent key. The
// intent is consumed; repeating the call returns 404.
func (h *Handlers) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.writeError(ctx, w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	requestID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "finalize-upload",
		trace.WithAttributes(attribute.String("request.id", requestID)))
	defer span.End()
	r = r.WithContext(ctx)

	var req IntentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.IntentID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "intentId is required")
		return
	}

	result, err := h.uploads.Finalize(ctx, h.callerID(r), req.IntentID)
	if err != nil {
		span.RecordError(err)
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			logger.Error(ctx, h.log, "Finalize failed",
				"error", err,
				"intentId", req.IntentID,
				"requestId", requestID,
			)
			h.writeError(ctx, w, status, "Internal server error")
			return
		}
		h.writeError(ctx, w, status, err.Error())
		return
	}

	span.SetAttributes(attribute.String("upload.final_key", result.FinalKey))
	h.writeJSON(ctx, w, http.StatusOK, result)
}
