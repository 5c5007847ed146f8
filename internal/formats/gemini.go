package formats

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GeminiAdapter handles generateContent bodies, bare or wrapped in a
// "request" envelope. Function responses usually carry no call id, so they are
// addressed by toolName:occurrence through the session's position index.
type GeminiAdapter struct{}

func (GeminiAdapter) Format() Format { return FormatGemini }

func geminiRoot(body []byte) string {
	if gjson.GetBytes(body, "request.contents").IsArray() {
		return "request.contents"
	}
	return "contents"
}

func (GeminiAdapter) Detect(body []byte) bool {
	contents := gjson.GetBytes(body, geminiRoot(body))
	if !contents.IsArray() {
		return false
	}
	if gjson.GetBytes(body, "generationConfig").Exists() || gjson.GetBytes(body, "request.generationConfig").Exists() {
		return true
	}
	arr := contents.Array()
	return len(arr) > 0 && arr[0].Get("parts").Exists()
}

func (GeminiAdapter) HasToolOutputs(body []byte) bool {
	found := false
	gjson.GetBytes(body, geminiRoot(body)).ForEach(func(_, c gjson.Result) bool {
		found = c.Get("parts.#.functionResponse").Get("#").Int() > 0
		return !found
	})
	return found
}

type geminiResponse struct {
	content int
	part    int
	out     ToolOutput
}

// walk enumerates function responses in document order, numbering repeated
// calls to the same tool the way the provider does.
func (GeminiAdapter) walk(body []byte, r Resolver) []geminiResponse {
	var out []geminiResponse
	counts := make(map[string]int)
	contents := gjson.GetBytes(body, geminiRoot(body))
	for i, c := range contents.Array() {
		for j, part := range c.Get("parts").Array() {
			fr := part.Get("functionResponse")
			if !fr.Exists() {
				continue
			}
			name := fr.Get("name").String()
			key := strings.ToLower(name)
			counts[key]++
			n := counts[key]
			id := fr.Get("id").String()
			if id == "" && r != nil {
				id, _ = r.ResolvePosition(name, n)
			}
			out = append(out, geminiResponse{
				content: i,
				part:    j,
				out:     ToolOutput{ID: id, Tool: name, Position: n},
			})
		}
	}
	return out
}

func (g GeminiAdapter) ExtractToolOutputs(body []byte, r Resolver) []ToolOutput {
	var out []ToolOutput
	for _, resp := range g.walk(body, r) {
		if resp.out.ID == "" {
			continue
		}
		if tool, ok := lookupTool(r, resp.out.ID); ok && tool != "" {
			resp.out.Tool = tool
		}
		out = append(out, resp.out)
	}
	return out
}

func (g GeminiAdapter) ReplaceToolOutput(body []byte, r Resolver, id, text string) ([]byte, bool) {
	if id == "" {
		return body, false
	}
	root := geminiRoot(body)
	changed := false
	for _, resp := range g.walk(body, r) {
		if !strings.EqualFold(resp.out.ID, id) {
			continue
		}
		// Only functionResponse.response is touched so sibling fields such as
		// thoughtSignature keep their exact bytes.
		path := root + "." + strconv.Itoa(resp.content) + ".parts." + strconv.Itoa(resp.part) + ".functionResponse.response"
		cur := gjson.GetBytes(body, path)
		field := "output"
		if cur.Get("content").Exists() {
			field = "content"
		}
		if cur.IsObject() && len(cur.Map()) == 1 && cur.Get(field).String() == text {
			continue
		}
		replacement, _ := sjson.Set(`{}`, field, text)
		out, err := sjson.SetRawBytes(body, path, []byte(replacement))
		if err != nil {
			continue
		}
		body = out
		changed = true
	}
	return body, changed
}

func (GeminiAdapter) InjectSynth(body []byte, text string) ([]byte, bool) {
	text = strings.TrimSpace(text)
	root := geminiRoot(body)
	contents := gjson.GetBytes(body, root)
	if text == "" || !contents.IsArray() || alreadyInjected(body, text) {
		return body, false
	}
	arr := contents.Array()
	for i := len(arr) - 1; i >= 0; i-- {
		if !isUserRole(arr[i]) || !arr[i].Get("parts").IsArray() {
			continue
		}
		path := root + "." + strconv.Itoa(i) + ".parts.-1"
		out, err := sjson.SetRawBytes(body, path, []byte(textBlock("", text)))
		if err != nil {
			return body, false
		}
		return out, true
	}
	content, _ := sjson.SetRaw(`{"role":"user"}`, "parts", "["+textBlock("", text)+"]")
	out, err := sjson.SetRawBytes(body, root+".-1", []byte(content))
	if err != nil {
		return body, false
	}
	return out, true
}
