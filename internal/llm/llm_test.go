package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseModel(t *testing.T) {
	tests := []struct {
		in   string
		want Model
		ok   bool
	}{
		{"openai/gpt-5-mini", Model{Provider: "openai", ID: "gpt-5-mini"}, true},
		{"OpenRouter/openai/gpt-5-mini", Model{Provider: "openrouter", ID: "openai/gpt-5-mini"}, true},
		{"gpt-5", Model{}, false},
		{"/x", Model{}, false},
		{"", Model{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseModel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "openai/gpt-5", Model{Provider: "openai", ID: "gpt-5"}.String())
}

func TestCatalog_ListAndProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/v1/models/good-model" {
			_, _ = io.WriteString(w, `{"id":"good-model"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cat := NewCatalog([]ProviderConfig{
		{ID: "OpenAI", BaseURL: srv.URL + "/v1/", APIKey: "sk-test"},
		{ID: "groq", BaseURL: srv.URL + "/v1", APIKey: "wrong"},
		{ID: "mistral"},
	}, time.Second)

	assert.Equal(t, []string{"groq", "openai"}, cat.ListAvailableProviders(context.Background()))

	m, err := cat.GetModel(context.Background(), "openai", "good-model")
	require.NoError(t, err)
	assert.Equal(t, Model{Provider: "openai", ID: "good-model"}, m)

	_, err = cat.GetModel(context.Background(), "openai", "missing")
	assert.Error(t, err)
	_, err = cat.GetModel(context.Background(), "groq", "good-model")
	assert.Error(t, err)
	_, err = cat.GetModel(context.Background(), "mistral", "x")
	assert.Error(t, err)
	_, err = cat.GetModel(context.Background(), "nobody", "x")
	assert.Error(t, err)

	p, ok := cat.Provider("mistral")
	require.True(t, ok)
	assert.Equal(t, DefaultBaseURLs[ProviderMistral], p.BaseURL)
}

func TestClient_GenerateStructured(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"`+"```json\\n{\\\"pruned_tool_call_ids\\\":[\\\"3\\\"],\\\"reasoning\\\":\\\"old\\\"}\\n```"+`"}}]}`)
	}))
	defer srv.Close()

	cat := NewCatalog([]ProviderConfig{{ID: "openai", BaseURL: srv.URL + "/v1", APIKey: "k"}}, time.Second)
	client := NewClient(cat, time.Second)
	schema := Schema{Name: "prune", Schema: map[string]any{"type": "object"}}

	res, err := client.GenerateStructured(context.Background(), Model{Provider: "openai", ID: "gpt-5-mini"}, schema, "analyze")
	require.NoError(t, err)
	assert.Equal(t, "3", res.Get("pruned_tool_call_ids.0").String())
	assert.Equal(t, "old", res.Get("reasoning").String())

	assert.Equal(t, "gpt-5-mini", got["model"])
	assert.Equal(t, "json_schema", gjsonPath(t, got, "response_format.type"))
	assert.Equal(t, "prune", gjsonPath(t, got, "response_format.json_schema.name"))

	_, err = client.GenerateStructured(context.Background(), Model{Provider: "anthropic", ID: "x"}, schema, "p")
	assert.Error(t, err)
}

func TestClient_RejectsNonJSONAndErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"prose", http.StatusOK, `{"choices":[{"message":{"content":"I think 3 is obsolete"}}]}`},
		{"array", http.StatusOK, `{"choices":[{"message":{"content":"[1,2]"}}]}`},
		{"empty", http.StatusOK, `{"choices":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			cat := NewCatalog([]ProviderConfig{{ID: "openai", BaseURL: srv.URL, APIKey: "k"}}, time.Second)
			_, err := NewClient(cat, time.Second).GenerateStructured(context.Background(), Model{Provider: "openai", ID: "m"}, Schema{}, "p")
			assert.Error(t, err)
		})
	}
}

func TestExtractContent(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractContent([]byte(`{"content":[{"type":"thinking","thinking":"x"},{"type":"text","text":"{\"a\":1}"}]}`)))
	assert.Equal(t, "hi", extractContent([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`)))
	assert.Equal(t, "", extractContent([]byte(`{}`)))
}

func gjsonPath(t *testing.T, v map[string]any, path string) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return gjson.GetBytes(raw, path).String()
}
