package main

import (
	"testing"
	"time"

	"github.com/router-for-me/prunepilot/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestOptionsFromConfig(t *testing.T) {
	off := false
	nudge := 4
	cfg := &config.Config{
		Prune: config.PruneConfig{
			InjectGuidance:       &off,
			NudgeFrequency:       &nudge,
			Notification:         "detailed",
			StrictModelSelection: true,
			Strategies:           config.StrategiesConfig{OnTool: []string{config.StrategyDeduplication}},
		},
		Providers: []config.ProviderConfig{{ID: "openai", APIKey: "sk"}},
	}

	j := janitorOptions(cfg)
	assert.Equal(t, []string{config.StrategyDeduplication, config.StrategyAIAnalysis}, j.Strategies)
	assert.Equal(t, "detailed", j.Notification)
	assert.Equal(t, 3, j.MinMessages)
	assert.Equal(t, 60*time.Second, j.AnalysisTimeout)
	assert.True(t, j.StrictModelSelection)

	e := engineOptions(cfg)
	assert.Equal(t, []string{config.StrategyDeduplication}, e.OnTool)

	i := interceptOptions(cfg)
	assert.True(t, i.Enabled)
	assert.False(t, i.InjectGuidance)
	assert.Equal(t, 4, i.NudgeFrequency)

	p := providerConfigs(cfg)
	assert.Len(t, p, 1)
	assert.Equal(t, "sk", p[0].APIKey)
}

func TestRestartRequired(t *testing.T) {
	base := &config.Config{HostURL: "http://h", Prune: config.PruneConfig{Model: "openai/a"}}

	tests := []struct {
		name string
		next *config.Config
		want []string
	}{
		{"unchanged", &config.Config{HostURL: "http://h", Prune: config.PruneConfig{Model: "openai/a", Notification: "off"}}, nil},
		{"model", &config.Config{HostURL: "http://h", Prune: config.PruneConfig{Model: "openai/b"}}, []string{"prune.model"}},
		{"port and host", &config.Config{Port: 9000, HostURL: "http://other", Prune: config.PruneConfig{Model: "openai/a"}}, []string{"listen address", "host-url"}},
		{"providers", &config.Config{HostURL: "http://h", Prune: config.PruneConfig{Model: "openai/a"}, Providers: []config.ProviderConfig{{ID: "groq"}}}, []string{"providers"}},
		{"protected tools", &config.Config{HostURL: "http://h", Prune: config.PruneConfig{Model: "openai/a", ProtectedTools: []string{"task"}}}, []string{"prune.protected-tools/registry-cap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, restartRequired(base, tt.next))
		})
	}
}
