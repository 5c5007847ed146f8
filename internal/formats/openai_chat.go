package formats

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpenAIChatAdapter handles /v1/chat/completions bodies, where every tool
// result is a discrete message with role "tool" and a tool_call_id.
type OpenAIChatAdapter struct{}

func (OpenAIChatAdapter) Format() Format { return FormatOpenAIChat }

func (OpenAIChatAdapter) Detect(body []byte) bool {
	root := gjson.ParseBytes(body)
	return root.IsObject() && root.Get("messages").IsArray()
}

func (OpenAIChatAdapter) HasToolOutputs(body []byte) bool {
	return gjson.GetBytes(body, `messages.#(role=="tool")`).Exists()
}

func (OpenAIChatAdapter) ExtractToolOutputs(body []byte, r Resolver) []ToolOutput {
	msgs := gjson.GetBytes(body, "messages")
	if !msgs.IsArray() {
		return nil
	}
	names := make(map[string]string)
	var out []ToolOutput
	msgs.ForEach(func(_, msg gjson.Result) bool {
		switch msg.Get("role").String() {
		case "assistant":
			msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
				if id := call.Get("id").String(); id != "" {
					names[strings.ToLower(id)] = call.Get("function.name").String()
				}
				return true
			})
		case "tool":
			id := msg.Get("tool_call_id").String()
			if id == "" {
				return true
			}
			tool, ok := lookupTool(r, id)
			if !ok {
				tool = msg.Get("name").String()
				if tool == "" {
					tool = names[strings.ToLower(id)]
				}
			}
			out = append(out, ToolOutput{ID: id, Tool: tool})
		}
		return true
	})
	return out
}

func (OpenAIChatAdapter) ReplaceToolOutput(body []byte, _ Resolver, id, text string) ([]byte, bool) {
	msgs := gjson.GetBytes(body, "messages")
	if !msgs.IsArray() || id == "" {
		return body, false
	}
	changed := false
	for i, msg := range msgs.Array() {
		if msg.Get("role").String() != "tool" || !strings.EqualFold(msg.Get("tool_call_id").String(), id) {
			continue
		}
		content := msg.Get("content")
		if content.Type == gjson.String && content.String() == text {
			continue
		}
		out, err := sjson.SetBytes(body, "messages."+strconv.Itoa(i)+".content", text)
		if err != nil {
			continue
		}
		body = out
		changed = true
	}
	return body, changed
}

func (OpenAIChatAdapter) InjectSynth(body []byte, text string) ([]byte, bool) {
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
	msg, _ := sjson.Set(`{"role":"user"}`, "content", text)
	out, err := sjson.SetRawBytes(body, "messages.-1", []byte(msg))
	if err != nil {
		return body, false
	}
	return out, true
}
