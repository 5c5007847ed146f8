package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// Schema constrains a structured completion.
type Schema struct {
	Name   string
	Schema map[string]any
}

// Generator runs one-shot structured completions.
type Generator interface {
	GenerateStructured(ctx context.Context, model Model, schema Schema, prompt string) (gjson.Result, error)
}

// Client posts chat completions with a json_schema response format.
type Client struct {
	catalog *Catalog
	client  *resty.Client
}

func NewClient(catalog *Catalog, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	// No retries: a failed analysis waits for the next natural trigger.
	return &Client{
		catalog: catalog,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

const systemPrompt = "You are a context janitor for an AI coding session. Reply only with JSON matching the requested schema."

// GenerateStructured sends prompt to model and returns the parsed JSON object.
func (c *Client) GenerateStructured(ctx context.Context, model Model, schema Schema, prompt string) (gjson.Result, error) {
	if c == nil || c.catalog == nil {
		return gjson.Result{}, errors.New("llm: client not configured")
	}
	p, ok := c.catalog.Provider(model.Provider)
	if !ok {
		return gjson.Result{}, fmt.Errorf("llm: provider %q is not configured", model.Provider)
	}
	name := schema.Name
	if name == "" {
		name = "result"
	}
	payload := map[string]any{
		"model": model.ID,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": true,
				"schema": schema.Schema,
			},
		},
	}

	req := c.client.R().SetContext(ctx).SetBody(payload)
	authorize(req, p)
	resp, err := req.Post(p.BaseURL + "/chat/completions")
	if err != nil {
		return gjson.Result{}, fmt.Errorf("llm: generate with %s: %w", model, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("llm: generate with %s: status %d: %s", model, resp.StatusCode(), truncate(resp.String(), 300))
	}
	content := extractContent(resp.Body())
	if content == "" {
		return gjson.Result{}, fmt.Errorf("llm: generate with %s: empty response", model)
	}
	content = stripCodeFence(content)
	if !gjson.Valid(content) {
		return gjson.Result{}, fmt.Errorf("llm: generate with %s: response is not JSON", model)
	}
	parsed := gjson.Parse(content)
	if !parsed.IsObject() {
		return gjson.Result{}, fmt.Errorf("llm: generate with %s: response is not an object", model)
	}
	return parsed, nil
}

// extractContent reads the assistant text from OpenAI, Claude or Gemini
// shaped responses.
func extractContent(body []byte) string {
	root := gjson.ParseBytes(body)
	for _, path := range []string{
		"choices.0.message.content",
		"choices.0.text",
		`content.#(type=="text").text`,
		"candidates.0.content.parts.0.text",
	} {
		if v := root.Get(path); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return strings.TrimSpace(v.Str)
		}
	}
	return ""
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
