package config

import "time"

// Strategy names accepted in prune.strategies.
const (
	StrategyDeduplication = "deduplication"
	StrategyAIAnalysis    = "ai-analysis"
)

// DefaultProtectedTools are never pruned unless the operator overrides the list.
var DefaultProtectedTools = []string{"task", "todowrite", "todoread", "prune"}

// PruneConfig holds the pruning engine configuration.
type PruneConfig struct {
	// Enabled toggles request interception and analysis.
	// nil means default (true).
	Enabled *bool `yaml:"enabled,omitempty" toml:"enabled,omitempty" json:"enabled,omitempty"`

	// Model overrides the analysis model, as provider/model.
	Model string `yaml:"model,omitempty" toml:"model,omitempty" json:"model,omitempty"`

	// StrictModelSelection skips analysis when only a fallback model is reachable
	// after a preferred model failed.
	StrictModelSelection bool `yaml:"strict-model-selection,omitempty" toml:"strict-model-selection,omitempty" json:"strict-model-selection,omitempty"`

	// ProtectedTools are tool names that are never pruned.
	// nil means DefaultProtectedTools.
	ProtectedTools []string `yaml:"protected-tools,omitempty" toml:"protected-tools,omitempty" json:"protected-tools,omitempty"`

	// Notification is off, minimal or detailed. Empty means minimal.
	Notification string `yaml:"notification,omitempty" toml:"notification,omitempty" json:"notification,omitempty"`

	// NudgeFrequency is the number of tool results after which the acting model
	// is reminded to prune. nil means default (10); 0 disables nudges.
	NudgeFrequency *int `yaml:"nudge-frequency,omitempty" toml:"nudge-frequency,omitempty" json:"nudge-frequency,omitempty"`

	// InjectGuidance toggles the prunable list in outbound requests.
	// nil means default (true).
	InjectGuidance *bool `yaml:"inject-guidance,omitempty" toml:"inject-guidance,omitempty" json:"inject-guidance,omitempty"`

	// RegistryCap bounds the tool calls tracked per session.
	// nil means default (500).
	RegistryCap *int `yaml:"registry-cap,omitempty" toml:"registry-cap,omitempty" json:"registry-cap,omitempty"`

	Strategies StrategiesConfig `yaml:"strategies,omitempty" toml:"strategies,omitempty" json:"strategies,omitempty"`

	// AnalysisTimeoutSeconds bounds the structured model call.
	// nil means default (60).
	AnalysisTimeoutSeconds *int `yaml:"analysis-timeout-seconds,omitempty" toml:"analysis-timeout-seconds,omitempty" json:"analysis-timeout-seconds,omitempty"`

	// ProbeTimeoutSeconds bounds each model availability probe.
	// nil means default (10).
	ProbeTimeoutSeconds *int `yaml:"probe-timeout-seconds,omitempty" toml:"probe-timeout-seconds,omitempty" json:"probe-timeout-seconds,omitempty"`

	// MinMessages is the transcript length below which analysis is skipped.
	// nil means default (3).
	MinMessages *int `yaml:"min-messages,omitempty" toml:"min-messages,omitempty" json:"min-messages,omitempty"`
}

// StrategiesConfig selects the strategies run by each trigger.
type StrategiesConfig struct {
	// OnIdle runs when the host reports the session idle.
	// nil means deduplication plus ai-analysis.
	OnIdle []string `yaml:"on-idle,omitempty" toml:"on-idle,omitempty" json:"on-idle,omitempty"`

	// OnTool runs right after the acting model used the prune tool.
	// nil means none.
	OnTool []string `yaml:"on-tool,omitempty" toml:"on-tool,omitempty" json:"on-tool,omitempty"`
}

// IsEnabled returns whether pruning is enabled, defaulting to true.
func (c *PruneConfig) IsEnabled() bool {
	if c == nil || c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ShouldInjectGuidance returns whether guidance is injected, defaulting to true.
func (c *PruneConfig) ShouldInjectGuidance() bool {
	if c == nil || c.InjectGuidance == nil {
		return true
	}
	return *c.InjectGuidance
}

// GetNotification returns the notification mode, defaulting to minimal.
func (c *PruneConfig) GetNotification() string {
	if c == nil {
		return "minimal"
	}
	switch c.Notification {
	case "off", "minimal", "detailed":
		return c.Notification
	default:
		return "minimal"
	}
}

// GetNudgeFrequency returns the nudge threshold, defaulting to 10.
func (c *PruneConfig) GetNudgeFrequency() int {
	if c == nil || c.NudgeFrequency == nil || *c.NudgeFrequency < 0 {
		return 10
	}
	return *c.NudgeFrequency
}

// GetRegistryCap returns the per-session registry bound, defaulting to 500.
func (c *PruneConfig) GetRegistryCap() int {
	if c == nil || c.RegistryCap == nil || *c.RegistryCap <= 0 {
		return 500
	}
	return *c.RegistryCap
}

// GetProtectedTools returns the protected tool names.
func (c *PruneConfig) GetProtectedTools() []string {
	if c == nil || c.ProtectedTools == nil {
		return append([]string(nil), DefaultProtectedTools...)
	}
	return append([]string(nil), c.ProtectedTools...)
}

// GetOnIdle returns the idle strategies.
func (c *PruneConfig) GetOnIdle() []string {
	if c == nil || c.Strategies.OnIdle == nil {
		return []string{StrategyDeduplication, StrategyAIAnalysis}
	}
	return append([]string(nil), c.Strategies.OnIdle...)
}

// GetOnTool returns the strategies run after a manual prune.
func (c *PruneConfig) GetOnTool() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.Strategies.OnTool...)
}

// GetAnalysisTimeout returns the analysis call timeout, defaulting to 60 seconds.
func (c *PruneConfig) GetAnalysisTimeout() time.Duration {
	if c == nil {
		return seconds(nil, 60)
	}
	return seconds(c.AnalysisTimeoutSeconds, 60)
}

// GetProbeTimeout returns the model probe timeout, defaulting to 10 seconds.
func (c *PruneConfig) GetProbeTimeout() time.Duration {
	if c == nil {
		return seconds(nil, 10)
	}
	return seconds(c.ProbeTimeoutSeconds, 10)
}

// GetMinMessages returns the analysis threshold, defaulting to 3.
func (c *PruneConfig) GetMinMessages() int {
	if c == nil || c.MinMessages == nil || *c.MinMessages <= 0 {
		return 3
	}
	return *c.MinMessages
}

func seconds(v *int, def int) time.Duration {
	if v == nil || *v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(*v) * time.Second
}
