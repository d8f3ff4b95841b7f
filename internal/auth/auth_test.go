package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "unit-test-secret-that-is-long-enough"

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateToken("uploader-1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Username != "uploader-1" {
		t.Errorf("username = %q, want uploader-1", claims.Username)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService(testSecret).GenerateToken("uploader-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewJWTService("a-completely-different-secret-value").ParseToken(token); err == nil {
		t.Error("ParseToken() with wrong secret should fail")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	svc := NewJWTService(testSecret)
	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }

	token, err := svc.GenerateToken("uploader-1")
	if err != nil {
		t.Fatal(err)
	}

	verifier := NewJWTService(testSecret)
	if _, err := verifier.ParseToken(token); err == nil {
		t.Error("ParseToken() of expired token should fail")
	}
}

func TestMiddleware(t *testing.T) {
	svc := NewJWTService(testSecret)
	token, err := svc.GenerateToken("uploader-1")
	if err != nil {
		t.Fatal(err)
	}

	var gotUsername string
	handler := svc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			gotUsername = claims.Username
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"malformed header", "Bearer", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.token", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/uploads/presign", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			handler(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	if gotUsername != "uploader-1" {
		t.Errorf("claims username in context = %q, want uploader-1", gotUsername)
	}
}

func TestLoginLimiter(t *testing.T) {
	limiter := NewLoginLimiter()
	now := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return now }

	ip := "203.0.113.7"

	if !limiter.Allow(ip) {
		t.Fatal("fresh client should be allowed")
	}

	for i := 0; i < MaxFailedLogins; i++ {
		limiter.RecordFailure(ip)
	}
	if limiter.Allow(ip) {
		t.Error("client at the failure cap should be blocked")
	}

	// Other clients are unaffected.
	if !limiter.Allow("198.51.100.1") {
		t.Error("unrelated client should be allowed")
	}

	// The window lapses and the client is allowed again.
	now = now.Add(FailureWindow + time.Second)
	if !limiter.Allow(ip) {
		t.Error("client should be allowed after the window lapses")
	}
}

func TestLoginLimiterResetOnSuccess(t *testing.T) {
	limiter := NewLoginLimiter()

	ip := "203.0.113.7"
	for i := 0; i < MaxFailedLogins; i++ {
		limiter.RecordFailure(ip)
	}
	if limiter.Allow(ip) {
		t.Fatal("client should be blocked")
	}

	limiter.RecordSuccess(ip)
	if !limiter.Allow(ip) {
		t.Error("successful login should clear the failure history")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr only", "10.0.0.5:4432", nil, "10.0.0.5"},
		{"x-forwarded-for", "10.0.0.5:4432", map[string]string{"X-Forwarded-For": "203.0.113.7"}, "203.0.113.7"},
		{"x-forwarded-for chain", "10.0.0.5:4432", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"x-real-ip", "10.0.0.5:4432", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
