package formats

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ResponsesAdapter handles OpenAI Responses bodies: a flat input array of
// typed items where tool results are function_call_output items keyed by
// call_id.
type ResponsesAdapter struct{}

func (ResponsesAdapter) Format() Format { return FormatResponses }

func (ResponsesAdapter) Detect(body []byte) bool {
	root := gjson.ParseBytes(body)
	if !root.IsObject() || root.Get("messages").Exists() {
		return false
	}
	input := root.Get("input")
	if !input.Exists() {
		return false
	}
	if root.Get("instructions").Exists() || input.IsArray() {
		return true
	}
	return false
}

func (ResponsesAdapter) HasToolOutputs(body []byte) bool {
	return gjson.GetBytes(body, `input.#(type=="function_call_output")`).Exists()
}

func (ResponsesAdapter) ExtractToolOutputs(body []byte, r Resolver) []ToolOutput {
	names := make(map[string]string)
	var out []ToolOutput
	gjson.GetBytes(body, "input").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "function_call":
			if id := item.Get("call_id").String(); id != "" {
				names[strings.ToLower(id)] = item.Get("name").String()
			}
		case "function_call_output":
			id := item.Get("call_id").String()
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
	return out
}

func (ResponsesAdapter) ReplaceToolOutput(body []byte, _ Resolver, id, text string) ([]byte, bool) {
	input := gjson.GetBytes(body, "input")
	if !input.IsArray() || id == "" {
		return body, false
	}
	changed := false
	for i, item := range input.Array() {
		if item.Get("type").String() != "function_call_output" || !strings.EqualFold(item.Get("call_id").String(), id) {
			continue
		}
		cur := item.Get("output")
		if cur.Type == gjson.String && cur.String() == text {
			continue
		}
		out, err := sjson.SetBytes(body, "input."+strconv.Itoa(i)+".output", text)
		if err != nil {
			continue
		}
		body = out
		changed = true
	}
	return body, changed
}

func (ResponsesAdapter) InjectSynth(body []byte, text string) ([]byte, bool) {
	text = strings.TrimSpace(text)
	input := gjson.GetBytes(body, "input")
	if text == "" || !input.Exists() || alreadyInjected(body, text) {
		return body, false
	}
	if input.Type == gjson.String {
		out, err := sjson.SetBytes(body, "input", input.String()+synthSeparator+text)
		if err != nil {
			return body, false
		}
		return out, true
	}
	if !input.IsArray() {
		return body, false
	}
	arr := input.Array()
	for i := len(arr) - 1; i >= 0; i-- {
		if !isUserRole(arr[i]) {
			continue
		}
		if t := arr[i].Get("type").String(); t != "" && t != "message" {
			continue
		}
		base := "input." + strconv.Itoa(i) + ".content"
		content := arr[i].Get("content")
		switch {
		case content.Type == gjson.String:
			out, err := sjson.SetBytes(body, base, content.String()+synthSeparator+text)
			if err != nil {
				return body, false
			}
			return out, true
		case content.IsArray():
			out, err := sjson.SetRawBytes(body, base+".-1", []byte(textBlock("input_text", text)))
			if err != nil {
				return body, false
			}
			return out, true
		}
	}
	item, _ := sjson.SetRaw(`{"type":"message","role":"user"}`, "content", "["+textBlock("input_text", text)+"]")
	out, err := sjson.SetRawBytes(body, "input.-1", []byte(item))
	if err != nil {
		return body, false
	}
	return out, true
}
