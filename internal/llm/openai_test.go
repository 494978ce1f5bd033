package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"scansplit/internal/config"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:         "openai-compatible",
		APIKey:           "test-key",
		Model:            "test-model",
		BaseURL:          baseURL,
		Timeout:          5 * time.Second,
		MaxRetries:       3,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  4 * time.Millisecond,
	}
}

func TestOpenAIComplete(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{"choices": [{"message": {"content": "segmented"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL))
	got, err := client.CompleteWithSystem(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteWithSystem() error = %v", err)
	}
	if got != "segmented" {
		t.Errorf("got %q", got)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestOpenAIRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL))
	got, err := client.Complete(context.Background(), "p")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewOpenAIClient(testConfig(server.URL))
	if _, err := client.Complete(context.Background(), "p"); err == nil {
		t.Fatal("want error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestOpenAIMissingAPIKey(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.APIKey = ""
	client := NewOpenAIClient(cfg)
	if _, err := client.Complete(context.Background(), "p"); err == nil ||
		!strings.Contains(err.Error(), "API key") {
		t.Errorf("want API key error, got %v", err)
	}
}

func TestNullClient(t *testing.T) {
	c := &NullClient{Response: "canned"}
	got, err := c.Complete(context.Background(), "anything")
	if err != nil || got != "canned" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestNewFromConfig(t *testing.T) {
	if _, err := NewFromConfig(config.LLMConfig{Provider: "null"}); err != nil {
		t.Errorf("null provider: %v", err)
	}
	if c, err := NewFromConfig(config.LLMConfig{Provider: "openai-compatible"}); err != nil || c == nil {
		t.Errorf("openai-compatible provider: %v", err)
	}
	if _, err := NewFromConfig(config.LLMConfig{Provider: "nope"}); err == nil {
		t.Error("unknown provider must error")
	}
}
