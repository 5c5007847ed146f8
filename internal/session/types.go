// Package session defines the transcript model shared by the pruning engine and
// the contracts of the host application that owns the canonical conversation.
package session

import (
	"context"
	"strconv"
	"strings"
)

// Part types as emitted by the host transcript.
const (
	PartText       = "text"
	PartTool       = "tool"
	PartReasoning  = "reasoning"
	PartStepStart  = "step-start"
	PartStepFinish = "step-finish"
	PartCompaction = "compaction"
)

// Tool lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Message is one entry of the host transcript.
type Message struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// MessageInfo carries message metadata.
type MessageInfo struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionID,omitempty"`
	Role       string `json:"role"`
	ProviderID string `json:"providerID,omitempty"`
	ModelID    string `json:"modelID,omitempty"`
	// Summary is set by the host on the message that replaced collapsed history.
	Summary bool `json:"summary,omitempty"`
}

// Part is a typed fragment of a message. Only tool parts populate CallID, Tool and State.
type Part struct {
	ID           string     `json:"id,omitempty"`
	Type         string     `json:"type"`
	Text         string     `json:"text,omitempty"`
	CallID       string     `json:"callID,omitempty"`
	Tool         string     `json:"tool,omitempty"`
	ParentCallID string     `json:"parentCallID,omitempty"`
	State        *ToolState `json:"state,omitempty"`
	Synthetic    bool       `json:"synthetic,omitempty"`
	Ignored      bool       `json:"ignored,omitempty"`
}

// ToolState is the lifecycle state of a tool part.
type ToolState struct {
	Status string `json:"status"`
	Input  any    `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Info is the host's session metadata.
type Info struct {
	ID       string `json:"id"`
	ParentID string `json:"parentID,omitempty"`
	Title    string `json:"title,omitempty"`
}

// IsSubagent reports whether the session was spawned by another session.
func (i Info) IsSubagent() bool {
	return strings.TrimSpace(i.ParentID) != ""
}

// TranscriptSource reads the canonical transcript.
type TranscriptSource interface {
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)
}

// InfoSource reads session metadata.
type InfoSource interface {
	GetSession(ctx context.Context, sessionID string) (Info, error)
}

// GuidanceSender posts a message that is shown to the user but ignored by the model.
type GuidanceSender interface {
	SendGuidanceMessage(ctx context.Context, sessionID string, text string) error
}

// Host bundles every collaborator the engine needs from the host application.
type Host interface {
	TranscriptSource
	InfoSource
	GuidanceSender
}

// LastModel returns the provider and model of the most recent message that names one.
func LastModel(msgs []Message) (providerID, modelID string) {
	for i := len(msgs) - 1; i >= 0; i-- {
		info := msgs[i].Info
		if info.ProviderID != "" && info.ModelID != "" {
			return info.ProviderID, info.ModelID
		}
	}
	return "", ""
}

// IsCompactionMarker reports whether the message replaced collapsed history.
func IsCompactionMarker(m Message) bool {
	if m.Info.Summary {
		return true
	}
	for _, p := range m.Parts {
		if p.Type == PartCompaction {
			return true
		}
	}
	return false
}

// LatestCompaction returns the id of the newest compaction marker, or "".
func LatestCompaction(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if IsCompactionMarker(msgs[i]) {
			if msgs[i].Info.ID != "" {
				return msgs[i].Info.ID
			}
			return "index:" + strconv.Itoa(i)
		}
	}
	return ""
}

// SinceCompaction returns the suffix of msgs starting at the newest compaction
// marker. History before it has been collapsed by the host.
func SinceCompaction(msgs []Message) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if IsCompactionMarker(msgs[i]) {
			return msgs[i:]
		}
	}
	return msgs
}
