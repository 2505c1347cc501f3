package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(slog.Default()))

	var fromCtx, fromGin *slog.Logger
	r.GET("/x", func(c *gin.Context) {
		fromCtx = From(c.Request.Context())
		fromGin = FromGin(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if fromCtx == nil || fromCtx == slog.Default() || fromCtx != fromGin {
		t.Fatalf("expected request-scoped logger in both contexts")
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", strings.Repeat("a", maxRequestIDLen+1))
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got == "" || len(got) > maxRequestIDLen {
		t.Fatalf("expected oversized id replaced, got %q", got)
	}
}

func TestMiddleware_EnrichReachesSummaryLine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := New(Options{Env: "production", Writer: &buf})

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/calls/:id", func(c *gin.Context) {
		Enrich(c, "user_id", "rep_1")
		FromGin(c).Info("handled")
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/calls/c1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected handler line and one summary (health check at debug), got %d: %s", len(lines), buf.String())
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary["msg"] != "request" || summary["user_id"] != "rep_1" || summary["path"] != "/calls/:id" || summary["service"] != "callcenter" {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestLevelFor(t *testing.T) {
	cases := []struct {
		o    Options
		want slog.Level
	}{
		{Options{Env: "local"}, slog.LevelDebug},
		{Options{Env: "production"}, slog.LevelInfo},
		{Options{Env: "production", Level: "debug"}, slog.LevelDebug},
		{Options{Env: "dev", Level: "warn"}, slog.LevelWarn},
		{Options{Env: "dev", Level: "loud"}, slog.LevelDebug},
	}
	for _, tc := range cases {
		if got := levelFor(tc.o); got != tc.want {
			t.Fatalf("%+v: got %v want %v", tc.o, got, tc.want)
		}
	}
}
