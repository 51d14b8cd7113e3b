package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"

	"github.com/mark3748/intranet-portal/internal/lifecycle"
)

// Test that the RequestID middleware sets a header and context value.
func TestRequestID(t *testing.T) {
	cfg := Config{Env: "test"}
	a := NewApp(cfg, nil, nil, nil, nil)
	a.R.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get("request_id")
		if id == "" {
			t.Errorf("missing request_id in context")
		}
		c.JSON(200, gin.H{"ok": true})
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

// Test that the rate limiter blocks excessive requests.
func TestRateLimit(t *testing.T) {
	cfg := Config{Env: "test", RateLimitRPS: 1, RateLimitBurst: 1}
	a := NewApp(cfg, nil, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

// Test that the rate limiter is disabled when no configuration is provided.
func TestRateLimitDisabledByDefault(t *testing.T) {
	cfg := Config{Env: "test"}
	a := NewApp(cfg, nil, nil, nil, nil)
	a.R.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestFailMapsDomainErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		want int
		code string
	}{
		{lifecycle.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("decide: %w", lifecycle.ErrNotApprover), http.StatusForbidden, "forbidden"},
		{lifecycle.ErrCommentNotAllowed, http.StatusUnprocessableEntity, "comment_not_allowed"},
		{lifecycle.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{lifecycle.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
		{lifecycle.ErrNoActiveCycle, http.StatusConflict, "no_active_cycle"},
		{fmt.Errorf("%w: title is required", lifecycle.ErrValidation), http.StatusBadRequest, "validation"},
		{errors.New("connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			a := NewApp(Config{Env: "test"}, nil, nil, nil, nil)
			a.R.GET("/", func(c *gin.Context) { Fail(c, tt.err) })
			rr := httptest.NewRecorder()
			a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
			var env Envelope
			if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("unexpected envelope: %s", rr.Body.String())
			}
			if tt.want == http.StatusInternalServerError && env.Error.Message != "internal error" {
				t.Fatalf("internal error text leaked: %q", env.Error.Message)
			}
		})
	}
}

func TestBindErrorFieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := NewApp(Config{Env: "test"}, nil, nil, nil, nil)
	a.R.POST("/", func(c *gin.Context) {
		var in struct {
			Title string `json:"title" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			BindError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	rr := httptest.NewRecorder()
	a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var env Envelope
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	if env.Error == nil || env.Error.FieldErrors["title"] != "required" {
		t.Fatalf("unexpected envelope: %s", rr.Body.String())
	}
}

func TestFsObjectStore(t *testing.T) {
	fs := &FsObjectStore{Base: t.TempDir()}
	ctx := context.Background()
	body := []byte("hello")
	info, err := fs.PutObject(ctx, "attachments", "tickets/t1/a1", bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(body)) {
		t.Fatalf("size = %d", info.Size)
	}
	path, err := fs.Path("attachments", "tickets/t1/a1")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(path); string(got) != "hello" {
		t.Fatalf("content = %q", got)
	}
	if _, err := fs.Path("attachments", "../../etc/passwd"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected traversal to be rejected, got %v", err)
	}
	if err := fs.RemoveObject(ctx, "attachments", "tickets/t1/a1", minio.RemoveObjectOptions{}); err != nil {
		t.Fatalf("remove: %v", err)
	}
}
