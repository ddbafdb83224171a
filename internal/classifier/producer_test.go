package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"tagsync/internal/services"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
			t.Errorf("expected json_object response format")
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[0].Content, "CLAIM") {
			t.Errorf("system prompt should list kinds: %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIProducerPropose(t *testing.T) {
	server := chatServer(t, ` {"proposals":[]} `)
	producer, err := NewOpenAIProducer(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, Model: "test-model", RequestsPerSecond: 100})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	got, err := producer.Propose(context.Background(), "Water boils at 100C.")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if got != `{"proposals":[]}` {
		t.Fatalf("content = %q", got)
	}
}

func TestOpenAIProducerEmptyContent(t *testing.T) {
	server := chatServer(t, "")
	producer, err := NewOpenAIProducer(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	_, err = producer.Propose(context.Background(), "text")
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "empty content") {
		t.Fatalf("expected empty content error, got %v", err)
	}
}

func TestOpenAIProducerHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()
	producer, err := NewOpenAIProducer(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	if _, err := producer.Propose(context.Background(), "text"); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestNewOpenAIProducerRequiresKey(t *testing.T) {
	_, err := NewOpenAIProducer(OpenAIConfig{APIKey: "  "})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if services.ExitCode(err) != services.ExitConfiguration {
		t.Fatalf("exit code = %d", services.ExitCode(err))
	}
}

func TestProposeRejectsBlankText(t *testing.T) {
	producer, err := NewOpenAIProducer(OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	if _, err := producer.Propose(context.Background(), " \n"); err == nil {
		t.Fatal("expected error for blank text")
	}
}
