package types

import (
	"encoding/json"
	"fmt"
)

// Part is one element of a prompt. Parts are forwarded to the server
// unchanged: Type and Text are the common fields, anything else rides in
// Extra and is marshalled inline.
type Part struct {
	Type  string
	Text  string
	Extra map[string]any
}

// TextPart returns a text prompt part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// FilePart returns a file prompt part referencing url with the given mime type.
func FilePart(url, mime string) Part {
	return Part{Type: "file", Extra: map[string]any{"url": url, "mime": mime}}
}

// MarshalJSON flattens Extra next to type and text.
func (p Part) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		m[k] = v
	}
	m["type"] = p.Type
	if p.Text != "" || p.Type == "text" {
		m["text"] = p.Text
	}
	return json.Marshal(m)
}

// UnmarshalJSON collects unknown fields into Extra.
func (p *Part) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode part: %w", err)
	}
	*p = Part{}
	if t, ok := m["type"].(string); ok {
		p.Type = t
	}
	if t, ok := m["text"].(string); ok {
		p.Text = t
	}
	delete(m, "type")
	delete(m, "text")
	if len(m) > 0 {
		p.Extra = m
	}
	return nil
}

// PromptText concatenates the text of all text parts, newline separated.
func PromptText(parts []Part) string {
	var out string
	for _, p := range parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}
