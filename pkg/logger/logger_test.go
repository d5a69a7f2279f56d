package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := newWithWriter(&buf, "production", "json")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get("X-Request-Id") != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", w.Header().Get("X-Request-Id"))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line not json: %v", err)
		}
		if rec["request_id"] != "rid-1" {
			t.Fatalf("expected request_id on every line, got %v", rec["request_id"])
		}
	}
}

func TestNew_DebugOnlyForLocalEnvs(t *testing.T) {
	var buf bytes.Buffer
	newWithWriter(&buf, "production", "text").Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be suppressed in production")
	}
	newWithWriter(&buf, "dev", "text").Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug should be enabled in dev")
	}
}

func TestMiddleware_TagsCallRoutesAndQuietsHealthChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := newWithWriter(&buf, "production", "json")

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/v1/calls/:call_id/answer", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected health check below info level, got %s", buf.String())
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/calls/S1/answer", nil))
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("log line not json: %v (%s)", err, buf.String())
	}
	if rec["call_id"] != "S1" || rec["route"] != "/v1/calls/:call_id/answer" {
		t.Fatalf("unexpected access line: %v", rec)
	}
}
