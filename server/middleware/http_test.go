package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/taskguard/errors"
	"github.com/kbukum/taskguard/logger"
	"github.com/kbukum/taskguard/observability"
	"github.com/kbukum/taskguard/resilience"
	"github.com/kbukum/taskguard/server/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apperrors.ErrorBody {
	t.Helper()
	var body apperrors.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not an error body: %v (%s)", err, rr.Body.String())
	}
	return body.Error
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

func TestRecovery_Panic(t *testing.T) {
	r := gin.New()
	r.Use(middleware.Recovery(logger.NewNop()))
	r.GET("/boom", func(*gin.Context) { panic("test panic") })

	rr := serve(t, r, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := decodeError(t, rr); got.Code != apperrors.ErrCodeInternal {
		t.Fatalf("expected %s, got %s", apperrors.ErrCodeInternal, got.Code)
	}
}

func TestRecovery_NoPanic(t *testing.T) {
	r := gin.New()
	r.Use(middleware.Recovery(logger.NewNop()))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	if rr := serve(t, r, httptest.NewRequest(http.MethodGet, "/", http.NoBody)); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// RequestID
// ---------------------------------------------------------------------------

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = c.GetString(middleware.ContextKeyRequestID)
		c.Status(http.StatusOK)
	})

	rr := serve(t, r, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if got := rr.Header().Get(middleware.HeaderRequestID); got == "" || got != seen {
		t.Fatalf("generated id %q not propagated (handler saw %q)", got, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(middleware.HeaderRequestID, "custom-id-123")
	rr = serve(t, r, req)
	if got := rr.Header().Get(middleware.HeaderRequestID); got != "custom-id-123" {
		t.Fatalf("expected custom-id-123, got %s", got)
	}
}

// ---------------------------------------------------------------------------
// CORS
// ---------------------------------------------------------------------------

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestCORS(t *testing.T) {
	cfg := middleware.CORSConfig{
		AllowedOrigins:   []string{"https://example.com"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowCredentials: true,
		MaxAge:           600,
	}
	h := middleware.CORS(cfg)(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantCode   int
		wantOrigin string
	}{
		{"allowed origin", http.MethodGet, "https://example.com", false, http.StatusOK, "https://example.com"},
		{"disallowed origin", http.MethodGet, "https://evil.com", false, http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://example.com", true, http.StatusNoContent, "https://example.com"},
		{"plain options", http.MethodOptions, "https://example.com", false, http.StatusOK, "https://example.com"},
		{"preflight from disallowed origin", http.MethodOptions, "https://evil.com", true, http.StatusForbidden, ""},
		{"origin matched case-insensitively", http.MethodGet, "https://EXAMPLE.com", false, http.StatusOK, "https://EXAMPLE.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/queues", http.NoBody)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rr := serve(t, h, req)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected origin %q, got %q", tt.wantOrigin, got)
			}
			if tt.wantOrigin != "" {
				if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
					t.Fatalf("expected credentials header, got %q", got)
				}
				if got := rr.Header().Get("Access-Control-Max-Age"); got != "600" {
					t.Fatalf("expected max age 600, got %q", got)
				}
			}
		})
	}
}

func TestCORS_SubdomainPattern(t *testing.T) {
	h := middleware.CORS(middleware.CORSConfig{AllowedOrigins: []string{"https://*.example.com"}})(okHandler())

	tests := map[string]bool{
		"https://app.example.com":    true,
		"https://a.b.example.com":    true,
		"https://example.com":        false,
		"http://app.example.com":     false,
		"https://app.example.com.io": false,
		"https://badexample.com":     false,
	}
	for origin, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/queues", http.NoBody)
		req.Header.Set("Origin", origin)
		rr := serve(t, h, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin") != ""; got != want {
			t.Errorf("origin %s allowed = %v, want %v", origin, got, want)
		}
	}
}

func TestGinWrap_StopsChainWhenMiddlewareAnswers(t *testing.T) {
	r := gin.New()
	r.Use(middleware.GinWrap(middleware.CORS(middleware.CORSConfig{AllowedOrigins: []string{"*"}})))
	called := false
	r.OPTIONS("/x", func(c *gin.Context) { called = true })

	req := httptest.NewRequest(http.MethodOptions, "/x", http.NoBody)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rr := serve(t, r, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if called {
		t.Fatal("route handler should not run after a preflight answer")
	}
}

// ---------------------------------------------------------------------------
// RateLimit
// ---------------------------------------------------------------------------

func TestRateLimit_PerClient(t *testing.T) {
	limiter := resilience.NewKeyedRateLimiter(resilience.RateLimiterConfig{Rate: 0.001, Burst: 2}, 0)
	r := gin.New()
	r.Use(middleware.RateLimit(limiter, func(c *gin.Context) string { return c.GetHeader("X-Client") }))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	request := func(client string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("X-Client", client)
		return serve(t, r, req)
	}

	for i := range 2 {
		if rr := request("a"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := request("a")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body.Code != apperrors.ErrCodeRateLimited || !body.Retryable {
		t.Fatalf("unexpected body %+v", body)
	}
	if rr := request("b"); rr.Code != http.StatusOK {
		t.Fatalf("other client should have its own bucket, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// BodySizeLimit
// ---------------------------------------------------------------------------

func TestBodySizeLimit(t *testing.T) {
	h := middleware.BodySizeLimit("8B")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	if rr := serve(t, h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))); rr.Code != http.StatusOK {
		t.Fatalf("small body: expected 200, got %d", rr.Code)
	}
	big := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"data":"0123456789"}`))
	if rr := serve(t, h, big); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large body: expected 413, got %d", rr.Code)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10MB", 10 << 20},
		{"512kb", 512 << 10},
		{"1GB", 1 << 30},
		{"2048", 2048},
		{"", 99},
		{"lots", 99},
		{"-1KB", 99},
	}
	for _, tt := range tests {
		if got := middleware.ParseSize(tt.in, 99); got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// RequestLogger and Metrics
// ---------------------------------------------------------------------------

func TestRequestLoggerAndMetrics_PassThrough(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestLogger(logger.NewNop()), middleware.Metrics(observability.NewNopMetrics()))
	r.POST("/queues/:queue/jobs", func(c *gin.Context) { c.Status(http.StatusCreated) })

	rr := serve(t, r, httptest.NewRequest(http.MethodPost, "/queues/mail/jobs", http.NoBody))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	rr = serve(t, r, httptest.NewRequest(http.MethodGet, "/missing", http.NoBody))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Chain
// ---------------------------------------------------------------------------

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-before")
				next.ServeHTTP(w, r)
				order = append(order, name+"-after")
			})
		}
	}

	h := middleware.Chain(mark("m1"), mark("m2"))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusOK)
	}))
	serve(t, h, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	expected := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected %v, got %v", expected, order)
	}
}
