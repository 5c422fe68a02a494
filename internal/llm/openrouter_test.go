package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"
)

func TestOpenRouter_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("key", "test/model", srv.URL)
	text, err := c.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Hello!" {
		t.Errorf("text = %q", text)
	}
	if got.Model != "test/model" || got.Stream {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenRouter_StreamWithTools(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "text/event-stream")

		if n == 1 {
			if len(req.Tools) != 1 || req.Tools[0].Function.Name != "web_search" {
				t.Errorf("tools = %+v", req.Tools)
			}
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"web_search\",\"arguments\":\"{\\\"query\\\":\"}}]}}]}\n\n")
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"go\\\"}\"}}]},\"finish_reason\":\"tool_calls\"}]}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		last := req.Messages[len(req.Messages)-1]
		if last.Role != RoleTool || last.ToolCallID != "call_1" || last.Content != "3 results" {
			t.Errorf("tool message = %+v", last)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Go is \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"fun.\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("key", "m", srv.URL)
	var gotArgs string
	exec := func(_ context.Context, call ToolCall) string {
		gotArgs = call.Arguments
		return "3 results"
	}

	var text strings.Builder
	var statuses int
	for tok, err := range c.StreamWithTools(context.Background(), []Message{{Role: RoleUser, Content: "go?"}}, searchTool, exec) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		switch tok.Kind {
		case TokenText:
			text.WriteString(tok.Text)
		case TokenStatus:
			statuses++
		}
	}
	if gotArgs != `{"query":"go"}` {
		t.Errorf("arguments = %q", gotArgs)
	}
	if text.String() != "Go is fun." {
		t.Errorf("text = %q", text.String())
	}
	if statuses != 2 {
		t.Errorf("statuses = %d, want 2", statuses)
	}
}

func TestOpenRouter_RateLimitRetry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("key", "m", srv.URL)
	c.backoff = time.Millisecond
	text, err := c.Generate(context.Background(), nil)
	if err != nil || text != "ok" {
		t.Errorf("Generate = %q, %v", text, err)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestOpenRouter_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("key", "m", srv.URL)
	c.backoff = time.Millisecond
	_, err := c.Generate(context.Background(), nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	var rle *RateLimitError
	if !errors.As(err, &rle) || rle.Status != 429 {
		t.Errorf("errors.As RateLimitError failed: %v", err)
	}
}

func TestOpenRouter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOpenRouterWithBaseURL("key", "m", srv.URL).Generate(context.Background(), nil)
	if err == nil || errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want non-rate-limit error", err)
	}
}

func TestToolSchema_JSONSchema(t *testing.T) {
	s := ToolSchema{
		Name:     "lights_control",
		Params:   map[string]Param{"state": {Type: "string", Enum: []string{"on", "off"}}},
		Required: []string{"state"},
	}.JSONSchema()
	if s["type"] != "object" {
		t.Errorf("type = %v", s["type"])
	}
	props := s["properties"].(map[string]any)
	state := props["state"].(map[string]any)
	if state["type"] != "string" || len(state["enum"].([]string)) != 2 {
		t.Errorf("state = %+v", state)
	}
}

func TestToContents(t *testing.T) {
	contents, system := toContents([]Message{
		{Role: RoleSystem, Content: "persona"},
		{Role: RoleSystem, Content: "memory"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "web_search", Arguments: `{"query":"x"}`}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "web_search", Content: "r"},
	})
	if system == nil || system.Parts[0].Text != "persona\n\nmemory" {
		t.Errorf("system = %+v", system)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	if contents[1].Role != "model" || contents[1].Parts[0].FunctionCall.Args["query"] != "x" {
		t.Errorf("model content = %+v", contents[1])
	}
	if fr := contents[2].Parts[0].FunctionResponse; fr == nil || fr.Name != "web_search" {
		t.Errorf("function response = %+v", contents[2].Parts[0])
	}
}

func TestToGenaiTools(t *testing.T) {
	tools := toGenaiTools([]ToolSchema{{Name: "t", Params: map[string]Param{"n": {Type: "integer"}, "x": {Type: "weird"}}}})
	decl := tools[0].FunctionDeclarations[0]
	if decl.Parameters.Properties["n"].Type != genai.TypeInteger {
		t.Errorf("n type = %v", decl.Parameters.Properties["n"].Type)
	}
	if decl.Parameters.Properties["x"].Type != genai.TypeString {
		t.Errorf("unknown type should fall back to string")
	}
}

func TestClassifyGeminiError(t *testing.T) {
	if !errors.Is(classifyGeminiError(errors.New("Error 429, RESOURCE_EXHAUSTED")), ErrRateLimited) {
		t.Error("429 not mapped to ErrRateLimited")
	}
	if errors.Is(classifyGeminiError(errors.New("Error 500")), ErrRateLimited) {
		t.Error("500 mapped to ErrRateLimited")
	}
}
