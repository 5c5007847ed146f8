// Package llm reaches the model providers used for obsolescence analysis. Every
// provider is spoken to through its OpenAI-compatible surface.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Provider ids with built-in defaults.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderDeepSeek   = "deepseek"
	ProviderXAI        = "xai"
	ProviderMistral    = "mistral"
	ProviderGroq       = "groq"
	ProviderOpenRouter = "openrouter"
)

// DefaultBaseURLs are the OpenAI-compatible endpoints of known providers.
var DefaultBaseURLs = map[string]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderAnthropic:  "https://api.anthropic.com/v1",
	ProviderGoogle:     "https://generativelanguage.googleapis.com/v1beta/openai",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
	ProviderXAI:        "https://api.x.ai/v1",
	ProviderMistral:    "https://api.mistral.ai/v1",
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
}

// ProviderConfig is one configured provider.
type ProviderConfig struct {
	ID      string
	BaseURL string
	APIKey  string
}

// Model is a resolved, usable model handle.
type Model struct {
	Provider string
	ID       string
}

func (m Model) String() string {
	if m.Provider == "" {
		return m.ID
	}
	return m.Provider + "/" + m.ID
}

// ParseModel splits "provider/model". Model ids may contain further slashes.
func ParseModel(s string) (Model, bool) {
	s = strings.TrimSpace(s)
	provider, id, ok := strings.Cut(s, "/")
	if !ok || provider == "" || id == "" {
		return Model{}, false
	}
	return Model{Provider: strings.ToLower(provider), ID: id}, true
}

// ModelCatalog lists providers and resolves model handles.
type ModelCatalog interface {
	ListAvailableProviders(ctx context.Context) []string
	GetModel(ctx context.Context, provider, model string) (Model, error)
}

// Catalog resolves models against the configured providers. GetModel issues a
// cheap authenticated probe so unauthenticated or unknown models fail early.
type Catalog struct {
	providers map[string]ProviderConfig
	client    *resty.Client
}

func NewCatalog(providers []ProviderConfig, probeTimeout time.Duration) *Catalog {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	byID := make(map[string]ProviderConfig, len(providers))
	for _, p := range providers {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			continue
		}
		p.ID = id
		if p.BaseURL == "" {
			p.BaseURL = DefaultBaseURLs[id]
		}
		p.BaseURL = strings.TrimRight(p.BaseURL, "/")
		byID[id] = p
	}
	return &Catalog{
		providers: byID,
		client:    resty.New().SetTimeout(probeTimeout),
	}
}

// Provider returns the configuration of id.
func (c *Catalog) Provider(id string) (ProviderConfig, bool) {
	p, ok := c.providers[strings.ToLower(id)]
	return p, ok
}

// ListAvailableProviders returns the ids of providers that have credentials
// and an endpoint.
func (c *Catalog) ListAvailableProviders(_ context.Context) []string {
	var out []string
	for id, p := range c.providers {
		if strings.TrimSpace(p.APIKey) != "" && p.BaseURL != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GetModel probes GET {base}/models/{model}.
func (c *Catalog) GetModel(ctx context.Context, provider, model string) (Model, error) {
	p, ok := c.providers[strings.ToLower(provider)]
	if !ok || strings.TrimSpace(p.APIKey) == "" {
		return Model{}, fmt.Errorf("llm: provider %q is not configured", provider)
	}
	if strings.TrimSpace(model) == "" {
		return Model{}, fmt.Errorf("llm: empty model id for provider %q", provider)
	}
	req := c.client.R().SetContext(ctx)
	authorize(req, p)
	resp, err := req.Get(p.BaseURL + "/models/" + url.PathEscape(model))
	if err != nil {
		return Model{}, fmt.Errorf("llm: probe %s/%s: %w", p.ID, model, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Model{}, fmt.Errorf("llm: probe %s/%s: status %d", p.ID, model, resp.StatusCode())
	}
	return Model{Provider: p.ID, ID: model}, nil
}

func authorize(req *resty.Request, p ProviderConfig) {
	req.SetAuthToken(p.APIKey)
	if p.ID == ProviderAnthropic {
		req.SetHeader("x-api-key", p.APIKey)
		req.SetHeader("anthropic-version", "2023-06-01")
	}
}
