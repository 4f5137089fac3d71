package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgebridge/internal/common/ratelimit"

	"github.com/gin-gonic/gin"
)

func TestRateLimitRejectsAfterIPMax(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	policy := RateLimitPolicy{Window: time.Minute, IPMax: 2}
	router.POST("/submit", RateLimitMiddleware(ratelimit.NewMemoryLimiter(), "submit", policy), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestRateLimitDisabledWithoutWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/submit", RateLimitMiddleware(ratelimit.NewMemoryLimiter(), "submit", RateLimitPolicy{IPMax: 1}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
}

func TestCORSPreflightAndOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware(CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://ide.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		ExposedHeaders: []string{"X-Trace-Id"},
	}))
	router.GET("/api/tasks", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "https://ide.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://ide.example.com" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("disallowed preflight = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Origin", "https://ide.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Expose-Headers") != "X-Trace-Id" {
		t.Fatalf("simple request = %d %v", rec.Code, rec.Header())
	}
}
