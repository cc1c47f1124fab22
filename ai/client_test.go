package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deepauras/auroraflow/core"
)

func newTestServerClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client := NewOpenAIClient("test-key", nil)
	client.baseURL = srv.URL
	return client, srv
}

func TestNewOpenAIClient_DefaultsAndEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")

	client := NewOpenAIClient("", nil)
	if client.apiKey != "env-key" {
		t.Errorf("expected apiKey to fall back to OPENAI_API_KEY, got %q", client.apiKey)
	}
	if _, ok := client.logger.(*core.NoOpLogger); !ok {
		t.Error("expected NoOpLogger when no logger provided")
	}

	explicit := NewOpenAIClient("explicit-key", nil)
	if explicit.apiKey != "explicit-key" {
		t.Errorf("expected explicit key to win over env, got %q", explicit.apiKey)
	}
}

func TestOpenAIClient_GenerateResponse_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	client := NewOpenAIClient("", nil)

	if _, err := client.GenerateResponse(context.Background(), "hello", nil); err == nil {
		t.Fatal("expected error when no API key is configured")
	}
}

func TestOpenAIClient_GenerateResponse_Success(t *testing.T) {
	client, srv := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["model"] != "gpt-4" {
			t.Errorf("expected default model gpt-4, got %v", body["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hi there"}},
			},
			"usage": map[string]int{
				"prompt_tokens":     5,
				"completion_tokens": 3,
				"total_tokens":      8,
			},
		})
	})
	defer srv.Close()

	resp, err := client.GenerateResponse(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("expected content %q, got %q", "hi there", resp.Content)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("expected total tokens 8, got %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIClient_GenerateResponse_APIError(t *testing.T) {
	client, srv := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	})
	defer srv.Close()

	if _, err := client.GenerateResponse(context.Background(), "hello", nil); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestOpenAIClient_GenerateResponse_NoChoices(t *testing.T) {
	client, srv := newTestServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []map[string]interface{}{}})
	})
	defer srv.Close()

	if _, err := client.GenerateResponse(context.Background(), "hello", nil); err == nil {
		t.Fatal("expected error when the response has no choices")
	}
}
