package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestOpsRoutes(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	failing := map[string]Check{
		"nats":  func(context.Context) error { return nil },
		"store": func(context.Context) error { return errors.New("ping timeout") },
	}
	h := Router(api, failing)

	cases := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/api/v1/anything", http.StatusTeapot},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.want, rec.Code)
		}
		if tc.path == "/readyz" && !strings.Contains(rec.Body.String(), "store: ping timeout") {
			t.Fatalf("readyz should name the failing check, got %q", rec.Body.String())
		}
	}
}

func TestReadyPasses(t *testing.T) {
	if err := Ready(context.Background(), map[string]Check{"ok": func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
}

func TestCORSLoopbackEquivalence(t *testing.T) {
	h := CORS("http://localhost:3000")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:3000" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestCORSOriginList(t *testing.T) {
	h := CORS("https://app.example.com, https://admin.example.com")(http.NotFoundHandler())

	for origin, want := range map[string]string{
		"https://admin.example.com": "https://admin.example.com",
		"https://evil.example.com":  "https://app.example.com",
		"":                          "https://app.example.com",
	} {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %q: allow-origin %q, want %q", origin, got, want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, "127.0.0.1:0", http.NotFoundHandler(), time.Second, discardLogger()); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}

func discardLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}
