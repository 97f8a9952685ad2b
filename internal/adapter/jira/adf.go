package jira

import "encoding/json"

// Jira Cloud descriptions are Atlassian Document Format (ADF) trees. The
// unified model carries plain text only, so ingest flattens the tree and
// writes re-wrap plain text into a minimal single-paragraph document. The
// round trip is lossy for formatting; that is accepted.

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// flattenADF extracts the plain text of an ADF document. Paragraph-level
// nodes are separated by newlines. A payload that is not an ADF tree (older
// Jira servers return plain strings) is returned as-is.
func flattenADF(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	var out []byte
	flattenInto(&out, &doc, true)
	return string(out)
}

func flattenInto(out *[]byte, n *adfNode, root bool) {
	if n.Type == "text" {
		*out = append(*out, n.Text...)
		return
	}
	for i := range n.Content {
		flattenInto(out, &n.Content[i], false)
	}
	// Block nodes end a line; the root doc node does not add a trailing one.
	if !root && isBlock(n.Type) && len(*out) > 0 && (*out)[len(*out)-1] != '\n' {
		*out = append(*out, '\n')
	}
	if root {
		for len(*out) > 0 && (*out)[len(*out)-1] == '\n' {
			*out = (*out)[:len(*out)-1]
		}
	}
}

func isBlock(typ string) bool {
	switch typ {
	case "paragraph", "heading", "listItem", "codeBlock", "blockquote":
		return true
	}
	return false
}

// wrapADF wraps plain text into a minimal ADF document for writes.
func wrapADF(text string) map[string]any {
	content := []map[string]any{}
	if text != "" {
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": []map[string]any{{"type": "text", "text": text}},
		})
	}
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
}
