package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"bitbucket-proxy-go/internal/client"
	"bitbucket-proxy-go/internal/metrics"
	"bitbucket-proxy-go/internal/middleware"
	"bitbucket-proxy-go/internal/service"
)

func newTestEcho(t *testing.T, upstreamURL string) *echo.Echo {
	t.Helper()
	cfg := testConfig(upstreamURL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := client.NewBitbucketClient(cfg, logger, nil)
	svc, err := service.NewBitbucketServiceForTest(bc, cfg, logger)
	if err != nil {
		t.Fatalf("NewBitbucketServiceForTest: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, cfg, NewBitbucketHandler(svc, logger), NewHealthHandler(cfg, "test"), nil)
	return e
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	e := newTestEcho(t, upstream.URL)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		withToken  bool
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", "", false, http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", "", false, http.StatusOK},
		{"POST /api/bitbucket/token", http.MethodPost, "/api/bitbucket/token", `{"code":"xyz"}`, false, http.StatusOK},
		{"GET /api/bitbucket/repositories", http.MethodGet, "/api/bitbucket/repositories", "", true, http.StatusOK},
		{"GET /api/bitbucket/user", http.MethodGet, "/api/bitbucket/user", "", true, http.StatusOK},
		{"GET /api/bitbucket/search/repositories", http.MethodGet, "/api/bitbucket/search/repositories?query=x", "", true, http.StatusOK},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", "", false, http.StatusNotFound},
		{"GET /metrics disabled returns 404", http.MethodGet, "/metrics", "", false, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			} else {
				req = httptest.NewRequest(tt.method, tt.path, http.NoBody)
			}
			if tt.withToken {
				req.Header.Set(middleware.HeaderBitbucketToken, "tok")
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRegisterRoutes_TokenGuardBlocksWithoutUpstreamCall(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	e := newTestEcho(t, upstream.URL)

	paths := []string{
		"/api/bitbucket/repositories",
		"/api/bitbucket/user",
		"/api/bitbucket/search/repositories",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}

	if calls != 0 {
		t.Errorf("upstream calls = %d, want 0", calls)
	}
}

func TestRegisterRoutes_MetricsEndpoint(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	bc := client.NewBitbucketClient(cfg, logger, m)
	svc, err := service.NewBitbucketServiceForTest(bc, cfg, logger)
	if err != nil {
		t.Fatalf("NewBitbucketServiceForTest: %v", err)
	}

	e := echo.New()
	RegisterRoutes(e, cfg, NewBitbucketHandler(svc, logger), NewHealthHandler(cfg, "test"), m)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected runtime metrics in /metrics output")
	}
}
