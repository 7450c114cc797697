package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/ideaboard/internal/provider"
)

func staticKey(k string) func() string { return func() string { return k } }

func chunk(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "c1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "gpt-4.1",
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": content}}},
	})
	return "data: " + string(b) + "\n\n"
}

func TestStream(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{`{"items":[`, `{"name":"a"}`, `]}`} {
			fmt.Fprint(w, chunk(c))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(staticKey("sk-test"), srv.URL+"/v1")
	var got strings.Builder
	for delta, err := range c.Stream(context.Background(), provider.Request{
		Model:       "gpt-4.1",
		Prompt:      "go",
		JSON:        true,
		Temperature: provider.Float(0.3),
	}) {
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		got.WriteString(delta)
	}

	if got.String() != `{"items":[{"name":"a"}]}` {
		t.Errorf("deltas = %q", got.String())
	}
	if body["stream"] != true {
		t.Errorf("stream = %v, want true", body["stream"])
	}
	if rf, _ := body["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
	if body["temperature"] != 0.3 {
		t.Errorf("temperature = %v", body["temperature"])
	}
}

func TestStream_MissingKey(t *testing.T) {
	c := New(staticKey(""), "http://127.0.0.1:1")
	for _, err := range c.Stream(context.Background(), provider.Request{Prompt: "x"}) {
		if !errors.Is(err, provider.ErrMissingKey) {
			t.Fatalf("err = %v, want ErrMissingKey", err)
		}
		return
	}
	t.Fatal("stream yielded nothing")
}

func TestStream_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c := New(staticKey("sk"), srv.URL)
	var gotErr error
	for _, err := range c.Stream(context.Background(), provider.Request{Prompt: "x"}) {
		gotErr = err
	}
	var se *provider.StatusError
	if !errors.As(gotErr, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 StatusError", gotErr)
	}
}

func TestComplete_FewShotAndImages(t *testing.T) {
	var body struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_completion_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  a red chair  "}}]}`)
	}))
	defer srv.Close()

	c := New(staticKey("sk"), srv.URL)
	got, err := c.Complete(context.Background(), provider.Request{
		Model:     "gpt-4.1",
		System:    "describe parameters",
		History:   []provider.Message{{Role: "user", Content: "Material"}, {Role: "assistant", Content: "What it is made of"}},
		Prompt:    "Color",
		Images:    []provider.Image{{URL: "data:image/png;base64,AAAA"}},
		MaxTokens: 16,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "a red chair" {
		t.Errorf("content = %q", got)
	}

	roles := make([]string, len(body.Messages))
	for i, m := range body.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Errorf("roles = %v", roles)
	}
	last := string(body.Messages[len(body.Messages)-1].Content)
	if !strings.Contains(last, `"image_url"`) || !strings.Contains(last, "data:image/png;base64,AAAA") {
		t.Errorf("last message = %s", last)
	}
	if body.MaxTokens != 16 {
		t.Errorf("max_completion_tokens = %d", body.MaxTokens)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	_, err := New(staticKey("sk"), srv.URL).Complete(context.Background(), provider.Request{Prompt: "x"})
	if !provider.IsDecode(err) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
}
