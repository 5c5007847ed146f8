package main

import (
	"github.com/router-for-me/prunepilot/internal/config"
	"github.com/router-for-me/prunepilot/internal/engine"
	"github.com/router-for-me/prunepilot/internal/intercept"
	"github.com/router-for-me/prunepilot/internal/janitor"
	"github.com/router-for-me/prunepilot/internal/llm"
)

func janitorOptions(cfg *config.Config) janitor.Options {
	p := &cfg.Prune
	return janitor.Options{
		Strategies:           p.GetOnIdle(),
		Notification:         p.GetNotification(),
		MinMessages:          p.GetMinMessages(),
		AnalysisTimeout:      p.GetAnalysisTimeout(),
		StrictModelSelection: p.StrictModelSelection,
	}
}

func engineOptions(cfg *config.Config) engine.Options {
	p := &cfg.Prune
	return engine.Options{
		OnIdle:       p.GetOnIdle(),
		OnTool:       p.GetOnTool(),
		Notification: p.GetNotification(),
	}
}

func interceptOptions(cfg *config.Config) intercept.Options {
	p := &cfg.Prune
	return intercept.Options{
		Enabled:        p.IsEnabled(),
		InjectGuidance: p.ShouldInjectGuidance(),
		NudgeFrequency: p.GetNudgeFrequency(),
	}
}

func providerConfigs(cfg *config.Config) []llm.ProviderConfig {
	out := make([]llm.ProviderConfig, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		out = append(out, llm.ProviderConfig{ID: p.ID, BaseURL: p.BaseURL, APIKey: p.APIKey})
	}
	return out
}

// restartRequired reports settings that are fixed once the engine is built.
func restartRequired(old, next *config.Config) []string {
	var changed []string
	if old.GetPort() != next.GetPort() || old.Host != next.Host {
		changed = append(changed, "listen address")
	}
	if old.HostURL != next.HostURL || old.HostToken != next.HostToken {
		changed = append(changed, "host-url")
	}
	if old.Prune.Model != next.Prune.Model || old.Prune.GetProbeTimeout() != next.Prune.GetProbeTimeout() {
		changed = append(changed, "prune.model")
	}
	if len(old.Providers) != len(next.Providers) {
		changed = append(changed, "providers")
	} else {
		for i := range old.Providers {
			if old.Providers[i] != next.Providers[i] {
				changed = append(changed, "providers")
				break
			}
		}
	}
	if old.Persistence != next.Persistence {
		changed = append(changed, "persistence")
	}
	if old.Prune.GetRegistryCap() != next.Prune.GetRegistryCap() || !sameStrings(old.Prune.GetProtectedTools(), next.Prune.GetProtectedTools()) {
		changed = append(changed, "prune.protected-tools/registry-cap")
	}
	return changed
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
