// Package janitor runs obsolescence analysis: deduplication plus one
// structured LLM call that proposes tool outputs which are no longer needed.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/router-for-me/prunepilot/internal/errors"
	"github.com/router-for-me/prunepilot/internal/llm"
	"github.com/router-for-me/prunepilot/internal/metrics"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Source tells which step of the cascade produced a model.
type Source string

const (
	SourceConfigured Source = "configured"
	SourceSession    Source = "session"
	SourceFallback   Source = "fallback"
)

// Selection is the outcome of ModelSelector.Select.
type Selection struct {
	Model  llm.Model
	Source Source
	// FailedModel is the last model that failed before Model was chosen.
	FailedModel string
}

// Fallback is a provider and the model tried for it in the last cascade step.
type Fallback struct {
	Provider string
	Model    string
}

// DefaultFallbacks is the provider priority list with one model per provider.
var DefaultFallbacks = []Fallback{
	{llm.ProviderOpenAI, "gpt-5-mini"},
	{llm.ProviderAnthropic, "claude-haiku-4-5"},
	{llm.ProviderGoogle, "gemini-2.5-flash"},
	{llm.ProviderDeepSeek, "deepseek-chat"},
	{llm.ProviderXAI, "grok-4-fast"},
	{llm.ProviderMistral, "mistral-small-latest"},
	{llm.ProviderGroq, "llama-3.3-70b-versatile"},
	{llm.ProviderOpenRouter, "openai/gpt-5-mini"},
}

// DefaultIncompatibleProviders cannot be called with the session's own model.
var DefaultIncompatibleProviders = []string{"github-copilot", llm.ProviderAnthropic}

// SelectorOptions configures a ModelSelector.
type SelectorOptions struct {
	// ConfiguredModel is an operator override in provider/model form.
	ConfiguredModel string
	ProbeTimeout    time.Duration
	Fallbacks       []Fallback
	Incompatible    []string
}

// ModelSelector picks the model used for analysis. Results are cached per
// session and concurrent selections for the same session share one cascade.
type ModelSelector struct {
	catalog      llm.ModelCatalog
	configured   string
	probeTimeout time.Duration
	fallbacks    []Fallback
	incompatible map[string]struct{}

	mu    sync.Mutex
	cache map[string]Selection
	group singleflight.Group
}

func NewModelSelector(catalog llm.ModelCatalog, opts SelectorOptions) *ModelSelector {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.Fallbacks == nil {
		opts.Fallbacks = DefaultFallbacks
	}
	if opts.Incompatible == nil {
		opts.Incompatible = DefaultIncompatibleProviders
	}
	inc := make(map[string]struct{}, len(opts.Incompatible))
	for _, p := range opts.Incompatible {
		inc[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return &ModelSelector{
		catalog:      catalog,
		configured:   strings.TrimSpace(opts.ConfiguredModel),
		probeTimeout: opts.ProbeTimeout,
		fallbacks:    opts.Fallbacks,
		incompatible: inc,
		cache:        make(map[string]Selection),
	}
}

func cacheKey(sessionID string, sessionModel llm.Model) string {
	return sessionID + "|" + sessionModel.String()
}

// Select runs the cascade for sessionID, or returns the cached selection.
func (s *ModelSelector) Select(ctx context.Context, sessionID string, sessionModel llm.Model) (Selection, error) {
	key := cacheKey(sessionID, sessionModel)
	s.mu.Lock()
	if sel, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return sel, nil
	}
	s.mu.Unlock()

	// The cascade outlives any single caller: waiters share its result, so it
	// runs detached and is bounded by the probe budget instead.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cascadeBudget())
		defer cancel()
		sel, err := s.cascade(cctx, sessionModel)
		if err != nil {
			return Selection{}, err
		}
		s.mu.Lock()
		s.cache[key] = sel
		s.mu.Unlock()
		return sel, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Selection{}, res.Err
		}
		return res.Val.(Selection), nil
	case <-ctx.Done():
		return Selection{}, ctx.Err()
	}
}

// cascadeBudget covers one probe per cascade step plus the provider listing.
func (s *ModelSelector) cascadeBudget() time.Duration {
	return s.probeTimeout * time.Duration(len(s.fallbacks)+3)
}

// Invalidate forgets every cached selection of sessionID.
func (s *ModelSelector) Invalidate(sessionID string) {
	prefix := sessionID + "|"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
}

func (s *ModelSelector) cascade(ctx context.Context, sessionModel llm.Model) (Selection, error) {
	var failed string
	var lastErr error

	if s.configured != "" {
		m, ok := llm.ParseModel(s.configured)
		if !ok {
			failed, lastErr = s.configured, fmt.Errorf("invalid model %q, expected provider/model", s.configured)
		} else if got, err := s.probe(ctx, m.Provider, m.ID); err == nil {
			return s.selected(Selection{Model: got, Source: SourceConfigured}), nil
		} else {
			failed, lastErr = m.String(), err
		}
		log.WithError(lastErr).WithField("model", failed).Warn("configured analysis model unavailable")
	}

	if sessionModel.ID != "" && sessionModel.Provider != "" {
		if _, skip := s.incompatible[strings.ToLower(sessionModel.Provider)]; skip {
			log.WithField("provider", sessionModel.Provider).Debug("session provider cannot serve analysis, skipping to fallbacks")
		} else if got, err := s.probe(ctx, sessionModel.Provider, sessionModel.ID); err == nil {
			return s.selected(Selection{Model: got, Source: SourceSession, FailedModel: failed}), nil
		} else {
			failed, lastErr = sessionModel.String(), err
			log.WithError(err).WithField("model", failed).Debug("session model unavailable for analysis")
		}
	}

	available := make(map[string]struct{})
	for _, p := range s.catalog.ListAvailableProviders(ctx) {
		available[strings.ToLower(p)] = struct{}{}
	}
	for _, fb := range s.fallbacks {
		if _, ok := available[strings.ToLower(fb.Provider)]; !ok {
			continue
		}
		got, err := s.probe(ctx, fb.Provider, fb.Model)
		if err != nil {
			lastErr = err
			continue
		}
		return s.selected(Selection{Model: got, Source: SourceFallback, FailedModel: failed}), nil
	}

	metrics.ModelSelections.WithLabelValues("exhausted").Inc()
	return Selection{}, apperrors.SelectionExhausted(lastErr)
}

func (s *ModelSelector) selected(sel Selection) Selection {
	metrics.ModelSelections.WithLabelValues(string(sel.Source)).Inc()
	log.WithFields(log.Fields{
		"model":        sel.Model.String(),
		"source":       sel.Source,
		"failed_model": sel.FailedModel,
	}).Debug("analysis model selected")
	return sel
}

var errProbeTimeout = errors.New("model probe timed out")

// probe resolves a model, treating a probe that outlives the timeout as a failure.
func (s *ModelSelector) probe(ctx context.Context, provider, model string) (llm.Model, error) {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	type result struct {
		m   llm.Model
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := s.catalog.GetModel(ctx, provider, model)
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		return r.m, r.err
	case <-ctx.Done():
		return llm.Model{}, fmt.Errorf("%s/%s: %w", provider, model, errProbeTimeout)
	}
}
