package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"recoverflow/internal/service"

	"github.com/gin-gonic/gin"
)

func TestHttpMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(HttpMiddleware())
	r.GET("/test", func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestTraceMiddleware_PropagatesToContext(t *testing.T) {
	r := gin.New()
	r.Use(TraceMiddleware())
	var seen string
	r.GET("/test", func(c *gin.Context) {
		seen = service.GetTraceID(c.Request.Context())
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set(TraceHeader, "trace-1")
	r.ServeHTTP(w, req)

	if seen != "trace-1" {
		t.Errorf("expected trace-1 in context, got %q", seen)
	}
	if got := w.Header().Get(TraceHeader); got != "trace-1" {
		t.Errorf("expected trace header echoed, got %q", got)
	}
}

type fakeParser struct {
	claims *service.UserClaims
}

func (p fakeParser) ParseToken(token string) (*service.UserClaims, error) {
	if token != "good" {
		return nil, service.ErrTokenInvalid
	}
	return p.claims, nil
}

func TestJWTMiddleware(t *testing.T) {
	parser := fakeParser{claims: &service.UserClaims{UserID: "u1", Username: "ops", Role: "operator"}}
	r := gin.New()
	r.Use(JWTMiddleware(parser, false))
	r.GET("/test", func(c *gin.Context) {
		c.String(200, service.GetOperator(c.Request.Context()))
	})

	tests := []struct {
		name   string
		header string
		query  string
		code   int
		body   string
	}{
		{name: "missing", code: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "bearer", header: "Bearer good", code: 200, body: "ops"},
		{name: "query token", query: "?token=good", code: 200, body: "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/test"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("expected operator %q, got %q", tt.body, w.Body.String())
			}
		})
	}
}

func TestJWTMiddleware_DevPassOnlyInDevMode(t *testing.T) {
	for _, devMode := range []bool{true, false} {
		r := gin.New()
		r.Use(JWTMiddleware(fakeParser{}, devMode))
		r.GET("/test", func(c *gin.Context) { c.Status(200) })

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		req.Header.Set(devPassHeader, "true")
		r.ServeHTTP(w, req)

		want := http.StatusUnauthorized
		if devMode {
			want = 200
		}
		if w.Code != want {
			t.Errorf("devMode=%v: expected %d, got %d", devMode, want, w.Code)
		}
	}
}

type fakeKeys map[string]bool

func (k fakeKeys) ValidateAPIKey(_ context.Context, key string) (bool, error) {
	if key == "boom" {
		return false, errors.New("db down")
	}
	return k[key], nil
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(APIKeyMiddleware(fakeKeys{"k1": true}))
	r.GET("/test", func(c *gin.Context) { c.Status(200) })

	cases := map[string]int{"": 401, "k2": 403, "boom": 403, "k1": 200}
	for key, want := range cases {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("key %q: expected %d, got %d", key, want, w.Code)
		}
	}
}
