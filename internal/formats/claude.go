package formats

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ClaudeAdapter handles Anthropic Messages bodies. Tool results are
// tool_result blocks inside user-role content, keyed by tool_use_id.
type ClaudeAdapter struct{}

func (ClaudeAdapter) Format() Format { return FormatClaude }

func (ClaudeAdapter) Detect(body []byte) bool {
	root := gjson.ParseBytes(body)
	msgs := root.Get("messages")
	if !root.IsObject() || !msgs.IsArray() {
		return false
	}
	if root.Get("anthropic_version").Exists() || root.Get("system").Exists() {
		return true
	}
	model := strings.ToLower(root.Get("model").String())
	if strings.Contains(model, "claude") || strings.Contains(model, "anthropic") {
		return true
	}
	found := false
	msgs.ForEach(func(_, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "tool_use", "tool_result", "thinking", "redacted_thinking":
				found = true
			}
			return !found
		})
		return !found
	})
	return found
}

func (ClaudeAdapter) HasToolOutputs(body []byte) bool {
	found := false
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		found = msg.Get(`content.#(type=="tool_result")`).Exists()
		return !found
	})
	return found
}

func (ClaudeAdapter) ExtractToolOutputs(body []byte, r Resolver) []ToolOutput {
	names := make(map[string]string)
	var out []ToolOutput
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		msg.Get("content").ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "tool_use":
				if id := block.Get("id").String(); id != "" {
					names[strings.ToLower(id)] = block.Get("name").String()
				}
			case "tool_result":
				id := block.Get("tool_use_id").String()
				if id == "" {
					return true
				}
				tool, ok := lookupTool(r, id)
				if !ok {
					tool = names[strings.ToLower(id)]
				}
				out = append(out, ToolOutput{ID: id, Tool: tool})
			}
			return true
		})
		return true
	})
	return out
}

func (ClaudeAdapter) ReplaceToolOutput(body []byte, _ Resolver, id, text string) ([]byte, bool) {
	msgs := gjson.GetBytes(body, "messages")
	if !msgs.IsArray() || id == "" {
		return body, false
	}
	changed := false
	for i, msg := range msgs.Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		for j, block := range content.Array() {
			if block.Get("type").String() != "tool_result" || !strings.EqualFold(block.Get("tool_use_id").String(), id) {
				continue
			}
			cur := block.Get("content")
			if cur.Type == gjson.String && cur.String() == text {
				continue
			}
			// Only the content is rewritten; is_error and cache_control stay.
			path := "messages." + strconv.Itoa(i) + ".content." + strconv.Itoa(j) + ".content"
			out, err := sjson.SetBytes(body, path, text)
			if err != nil {
				continue
			}
			body = out
			changed = true
		}
	}
	return body, changed
}

func (ClaudeAdapter) InjectSynth(body []byte, text string) ([]byte, bool) {
	text = strings.TrimSpace(text)
	msgs := gjson.GetBytes(body, "messages")
	if text == "" || !msgs.IsArray() || alreadyInjected(body, text) {
		return body, false
	}
	arr := msgs.Array()
	for i := len(arr) - 1; i >= 0; i-- {
		if !isUserRole(arr[i]) {
			continue
		}
		base := "messages." + strconv.Itoa(i) + ".content"
		content := arr[i].Get("content")
		switch {
		case content.Type == gjson.String:
			out, err := sjson.SetBytes(body, base, content.String()+synthSeparator+text)
			if err != nil {
				return body, false
			}
			return out, true
		case content.IsArray():
			out, err := sjson.SetRawBytes(body, base+".-1", []byte(textBlock("text", text)))
			if err != nil {
				return body, false
			}
			return out, true
		}
	}
	msg, _ := sjson.SetRaw(`{"role":"user"}`, "content", "["+textBlock("text", text)+"]")
	out, err := sjson.SetRawBytes(body, "messages.-1", []byte(msg))
	if err != nil {
		return body, false
	}
	return out, true
}
