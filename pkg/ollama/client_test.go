package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/menta2k/bookshelf-analyzer/pkg/client"
)

type chatBody struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string   `json:"role"`
		Content string   `json:"content"`
		Images  []string `json:"images"`
	} `json:"messages"`
	Format  json.RawMessage `json:"format"`
	Options map[string]any  `json:"options"`
}

func TestNewClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost", "://bad"} {
		if _, err := NewClient(u); err == nil {
			t.Errorf("NewClient(%q): expected error", u)
		}
	}
}

func TestQuery(t *testing.T) {
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":"[{\"title\":\"Dune\",\"author\":\"Frank Herbert\"}]"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	img := base64.StdEncoding.EncodeToString([]byte("fake-jpeg"))
	out, err := c.Query(context.Background(), client.Request{
		Model:       "llava",
		System:      "system text",
		Prompt:      "prompt text",
		ImagesB64:   []string{img, img},
		Schema:      json.RawMessage(`{"type":"array"}`),
		Temperature: client.Temperature(0.2),
		MaxTokens:   2000,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(out, "Dune") {
		t.Errorf("unexpected reply %q", out)
	}

	if got.Model != "llava" || len(got.Messages) != 2 {
		t.Fatalf("request: %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "system text" {
		t.Errorf("system message: %+v", got.Messages[0])
	}
	if user := got.Messages[1]; user.Role != "user" || user.Content != "prompt text" || len(user.Images) != 2 {
		t.Errorf("user message: %+v", user)
	}
	if string(got.Format) != `{"type":"array"}` {
		t.Errorf("format: %s", got.Format)
	}
	if got.Options["temperature"] != 0.2 || got.Options["num_predict"] != float64(2000) {
		t.Errorf("options: %v", got.Options)
	}
}

func TestQuery_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":""},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.Query(context.Background(), client.Request{Model: "llava", ImagesB64: []string{"%%%"}}); err == nil {
		t.Error("expected base64 error")
	}
	if _, err := c.SimpleQuery(context.Background(), "llava", "hi", base64.StdEncoding.EncodeToString([]byte("x"))); err == nil {
		t.Error("expected empty response error")
	}
}

func TestQuery_Temperature(t *testing.T) {
	var got chatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = chatBody{}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llava","message":{"role":"assistant","content":"[]"},"done":true}` + "\n"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.Query(context.Background(), client.Request{Model: "llava", Temperature: client.Temperature(0)}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if v, ok := got.Options["temperature"]; !ok || v != float64(0) {
		t.Errorf("zero temperature not sent: %v", got.Options)
	}

	if _, err := c.Query(context.Background(), client.Request{Model: "llava"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, ok := got.Options["temperature"]; ok {
		t.Errorf("unset temperature sent: %v", got.Options)
	}
}
