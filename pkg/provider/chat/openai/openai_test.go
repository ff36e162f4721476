package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleylabs/parley/pkg/types"
)

// TestConvertMessage_System checks that system role is converted correctly.
func TestConvertMessage_System(t *testing.T) {
	param, err := convertMessage(types.System("You are a helpful voice assistant."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	param, err := convertMessage(types.User("What time is it?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_Assistant checks that assistant role is converted.
func TestConvertMessage_Assistant(t *testing.T) {
	param, err := convertMessage(types.Assistant("It is noon."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	_, err := convertMessage(types.Message{Role: "narrator", Content: "meanwhile"})
	if err == nil {
		t.Fatal("expected error for unknown role, got nil")
	}
}

// TestBuildParams_EmptyHistory ensures an empty message list is rejected.
func TestBuildParams_EmptyHistory(t *testing.T) {
	r := &Responder{model: "gpt-3.5-turbo", temperature: 0.7, maxTokens: 150}
	if _, err := r.buildParams(nil); err == nil {
		t.Fatal("expected error for empty messages, got nil")
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "gpt-3.5-turbo"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestReply_SendsHistoryAndReturnsContent round-trips a completion through a
// stub server and verifies the request carries the tuned spoken-reply limits.
func TestReply_SendsHistoryAndReturnsContent(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "It is just past noon."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 6, "total_tokens": 26}
		}`))
	}))
	defer srv.Close()

	r, err := New("sk-test", "gpt-3.5-turbo", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := r.Reply(context.Background(), []types.Message{
		types.System("You are a helpful voice assistant."),
		types.User("What time is it?"),
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "It is just past noon." {
		t.Errorf("reply = %q", reply)
	}

	if got := body["model"]; got != "gpt-3.5-turbo" {
		t.Errorf("model = %v", got)
	}
	if got := body["temperature"]; got != 0.7 {
		t.Errorf("temperature = %v, want 0.7", got)
	}
	if got := body["max_completion_tokens"]; got != float64(150) {
		t.Errorf("max_completion_tokens = %v, want 150", got)
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2 entries", body["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

// TestReply_EmptyChoices ensures a choiceless response surfaces as an error.
func TestReply_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "chatcmpl-2", "object": "chat.completion", "choices": []}`))
	}))
	defer srv.Close()

	r, err := New("sk-test", "gpt-3.5-turbo", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Reply(context.Background(), []types.Message{types.User("hello")}); err == nil {
		t.Fatal("expected error for empty choices, got nil")
	}
}

// TestReply_ServerFailure ensures backend errors are wrapped and returned.
func TestReply_ServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	r, err := New("sk-test", "gpt-3.5-turbo", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Reply(context.Background(), []types.Message{types.User("hello")}); err == nil {
		t.Fatal("expected error on server failure, got nil")
	}
}
