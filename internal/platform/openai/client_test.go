package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slidesmith/deckgen-backend/internal/platform/logger"
)

func testClient(t *testing.T, baseURL string, maxRetries int) Client {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	c, err := NewClient(log, Options{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func chatBody(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	})
	return b
}

func TestCompleteHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatBody("hello"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	start := time.Now()
	out, err := c.GenerateText(context.Background(), "sys", "user")
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("content = %q", out)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	// jittered backoff for attempt 1 tops out at 1.25s; only the server's
	// Retry-After: 2 explains a pause this long
	if elapsed < 2*time.Second {
		t.Fatalf("retried after %v, want >= 2s", elapsed)
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3)
	start := time.Now()
	_, err := c.GenerateText(context.Background(), "sys", "user")

	if err == nil {
		t.Fatalf("bad request did not error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("non-retryable error slept %v", elapsed)
	}
}
