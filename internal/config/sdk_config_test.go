package config

import (
	"testing"
	"time"
)

func TestPruneConfig_Toggles(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name       string
		cfg        *PruneConfig
		wantEnable bool
		wantInject bool
	}{
		{
			name:       "nil config defaults to true",
			cfg:        nil,
			wantEnable: true,
			wantInject: true,
		},
		{
			name:       "nil fields default to true",
			cfg:        &PruneConfig{},
			wantEnable: true,
			wantInject: true,
		},
		{
			name:       "explicitly disabled",
			cfg:        &PruneConfig{Enabled: boolPtr(false), InjectGuidance: boolPtr(false)},
			wantEnable: false,
			wantInject: false,
		},
		{
			name:       "guidance off only",
			cfg:        &PruneConfig{InjectGuidance: boolPtr(false)},
			wantEnable: true,
			wantInject: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IsEnabled(); got != tt.wantEnable {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.wantEnable)
			}
			if got := tt.cfg.ShouldInjectGuidance(); got != tt.wantInject {
				t.Errorf("ShouldInjectGuidance() = %v, want %v", got, tt.wantInject)
			}
		})
	}
}

func TestPruneConfig_Numbers(t *testing.T) {
	intPtr := func(i int) *int { return &i }

	tests := []struct {
		name      string
		cfg       *PruneConfig
		nudge     int
		cap       int
		minMsgs   int
		analysis  time.Duration
		probe     time.Duration
	}{
		{
			name:     "nil config",
			cfg:      nil,
			nudge:    10,
			cap:      500,
			minMsgs:  3,
			analysis: 60 * time.Second,
			probe:    10 * time.Second,
		},
		{
			name: "custom values",
			cfg: &PruneConfig{
				NudgeFrequency:         intPtr(5),
				RegistryCap:            intPtr(100),
				MinMessages:            intPtr(6),
				AnalysisTimeoutSeconds: intPtr(20),
				ProbeTimeoutSeconds:    intPtr(2),
			},
			nudge:    5,
			cap:      100,
			minMsgs:  6,
			analysis: 20 * time.Second,
			probe:    2 * time.Second,
		},
		{
			name: "invalid values fall back",
			cfg: &PruneConfig{
				NudgeFrequency:         intPtr(-1),
				RegistryCap:            intPtr(0),
				MinMessages:            intPtr(-4),
				AnalysisTimeoutSeconds: intPtr(0),
				ProbeTimeoutSeconds:    intPtr(-3),
			},
			nudge:    10,
			cap:      500,
			minMsgs:  3,
			analysis: 60 * time.Second,
			probe:    10 * time.Second,
		},
		{
			name:     "zero nudge disables",
			cfg:      &PruneConfig{NudgeFrequency: intPtr(0)},
			nudge:    0,
			cap:      500,
			minMsgs:  3,
			analysis: 60 * time.Second,
			probe:    10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetNudgeFrequency(); got != tt.nudge {
				t.Errorf("GetNudgeFrequency() = %v, want %v", got, tt.nudge)
			}
			if got := tt.cfg.GetRegistryCap(); got != tt.cap {
				t.Errorf("GetRegistryCap() = %v, want %v", got, tt.cap)
			}
			if got := tt.cfg.GetMinMessages(); got != tt.minMsgs {
				t.Errorf("GetMinMessages() = %v, want %v", got, tt.minMsgs)
			}
			if got := tt.cfg.GetAnalysisTimeout(); got != tt.analysis {
				t.Errorf("GetAnalysisTimeout() = %v, want %v", got, tt.analysis)
			}
			if got := tt.cfg.GetProbeTimeout(); got != tt.probe {
				t.Errorf("GetProbeTimeout() = %v, want %v", got, tt.probe)
			}
		})
	}
}

func TestPruneConfig_Lists(t *testing.T) {
	var nilCfg *PruneConfig
	if got := nilCfg.GetProtectedTools(); len(got) != len(DefaultProtectedTools) {
		t.Errorf("GetProtectedTools() = %v, want defaults", got)
	}
	if got := nilCfg.GetOnIdle(); len(got) != 2 {
		t.Errorf("GetOnIdle() = %v, want both strategies", got)
	}
	if got := nilCfg.GetOnTool(); len(got) != 0 {
		t.Errorf("GetOnTool() = %v, want none", got)
	}

	cfg := &PruneConfig{ProtectedTools: []string{}, Strategies: StrategiesConfig{OnIdle: []string{}}}
	if got := cfg.GetProtectedTools(); len(got) != 0 {
		t.Errorf("explicit empty protected list = %v, want empty", got)
	}
	if got := cfg.GetOnIdle(); len(got) != 0 {
		t.Errorf("explicit empty on-idle = %v, want empty", got)
	}

	got := nilCfg.GetProtectedTools()
	got[0] = "mutated"
	if DefaultProtectedTools[0] == "mutated" {
		t.Error("GetProtectedTools must return a copy")
	}
}

func TestPruneConfig_Notification(t *testing.T) {
	tests := map[string]string{
		"":         "minimal",
		"off":      "off",
		"minimal":  "minimal",
		"detailed": "detailed",
		"verbose":  "minimal",
	}
	for in, want := range tests {
		cfg := &PruneConfig{Notification: in}
		if got := cfg.GetNotification(); got != want {
			t.Errorf("GetNotification(%q) = %q, want %q", in, got, want)
		}
	}
}
