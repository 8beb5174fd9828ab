package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestAllowRefills(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of two should pass")
	}
	if l.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("keys are independent")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("one token refilled after a second")
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	l := New(1, 1)
	l.now = func() time.Time { return now }
	l.Allow("a")
	now = now.Add(2 * time.Minute)
	l.Allow("b")
	if _, ok := l.m["a"]; ok {
		t.Fatal("idle bucket kept")
	}
}

func TestMiddlewareAnswers429(t *testing.T) {
	e := echo.New()
	l := New(1, 0.001)
	e.POST("/predict", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, l.Middleware("predict"))

	codes := make([]int, 2)
	for i := range codes {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/predict", nil))
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes %v", codes)
	}
}
