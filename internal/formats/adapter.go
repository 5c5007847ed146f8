// Package formats rewrites outbound model requests in the four supported wire
// formats: tool outputs are located and replaced in place and synthetic
// guidance text is spliced into the last user turn. Bodies are handled as raw
// JSON through gjson/sjson so unknown provider fields survive untouched.
package formats

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Format identifies a wire format.
type Format string

const (
	FormatOpenAIChat Format = "openai-chat"
	FormatClaude     Format = "claude"
	FormatGemini     Format = "gemini"
	FormatResponses  Format = "openai-responses"
)

// ToolOutput is one tool result found in a request body.
type ToolOutput struct {
	ID   string
	Tool string
	// Position is the 1-based occurrence of Tool in document order. Only the
	// Gemini adapter sets it.
	Position int
}

// Resolver answers registry questions for the session the body belongs to.
type Resolver interface {
	// Lookup returns the tool name recorded for id (case-insensitive).
	Lookup(id string) (tool string, ok bool)
	// ResolvePosition maps the n-th result of tool to its call id.
	ResolvePosition(tool string, n int) (id string, ok bool)
}

// Adapter is the per-format capability set used by the interception layer.
type Adapter interface {
	Format() Format
	Detect(body []byte) bool
	HasToolOutputs(body []byte) bool
	ExtractToolOutputs(body []byte, r Resolver) []ToolOutput
	// ReplaceToolOutput rewrites every result of call id with text. The bool
	// reports whether the body changed.
	ReplaceToolOutput(body []byte, r Resolver, id, text string) ([]byte, bool)
	// InjectSynth appends text to the last user turn, creating one when the
	// body has none.
	InjectSynth(body []byte, text string) ([]byte, bool)
}

// adapters is ordered the way Detect tries them.
var adapters = []Adapter{
	GeminiAdapter{},
	ResponsesAdapter{},
	ClaudeAdapter{},
	OpenAIChatAdapter{},
}

// Detect returns the adapter for body, or nil when no format matches.
func Detect(body []byte) Adapter {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	for _, a := range adapters {
		if a.Detect(body) {
			return a
		}
	}
	return nil
}

// ForPath returns the adapter implied by a request path, or nil.
func ForPath(path string) Adapter {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, ":generatecontent"), strings.Contains(p, ":streamgeneratecontent"):
		return GeminiAdapter{}
	case strings.HasSuffix(p, "/responses"):
		return ResponsesAdapter{}
	case strings.HasSuffix(p, "/messages"):
		return ClaudeAdapter{}
	case strings.HasSuffix(p, "/chat/completions"):
		return OpenAIChatAdapter{}
	default:
		return nil
	}
}


// PrunableListTag wraps the list of prunable tool calls.
const PrunableListTag = "prunable-tools"

// InjectPrunableList wraps list in the prunable-tools tag and injects it.
func InjectPrunableList(a Adapter, body []byte, list string) ([]byte, bool) {
	list = strings.TrimSpace(list)
	if a == nil || list == "" {
		return body, false
	}
	if !strings.HasPrefix(list, "<"+PrunableListTag+">") {
		list = "<" + PrunableListTag + ">\n" + list + "\n</" + PrunableListTag + ">"
	}
	return a.InjectSynth(body, list)
}

const synthSeparator = "\n\n"

// alreadyInjected reports whether any string value of body contains text.
// Values are compared decoded because encoders differ in how they escape.
func alreadyInjected(body []byte, text string) bool {
	if text == "" {
		return false
	}
	return containsString(gjson.ParseBytes(body), text)
}

func containsString(r gjson.Result, text string) bool {
	switch {
	case r.Type == gjson.String:
		return strings.Contains(r.Str, text)
	case r.IsArray() || r.IsObject():
		found := false
		r.ForEach(func(_, v gjson.Result) bool {
			found = containsString(v, text)
			return !found
		})
		return found
	default:
		return false
	}
}

func isUserRole(r gjson.Result) bool {
	return strings.EqualFold(r.Get("role").String(), "user")
}

func lookupTool(r Resolver, id string) (string, bool) {
	if r == nil || id == "" {
		return "", false
	}
	return r.Lookup(id)
}

func textBlock(typ, text string) string {
	obj := `{}`
	if typ != "" {
		obj, _ = sjson.Set(obj, "type", typ)
	}
	obj, _ = sjson.Set(obj, "text", text)
	return obj
}
