package notion

// Notion text fields are arrays of rich text fragments. The unified model
// carries plain text only; the round trip keeps content and drops formatting.

type richText struct {
	PlainText string `json:"plain_text,omitempty"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
}

// flattenRichText concatenates the plain text of all fragments.
func flattenRichText(fragments []richText) string {
	var out string
	for _, f := range fragments {
		if f.PlainText != "" {
			out += f.PlainText
			continue
		}
		if f.Text != nil {
			out += f.Text.Content
		}
	}
	return out
}

// wrapRichText builds a single-fragment rich text array for writes.
func wrapRichText(text string) []map[string]any {
	if text == "" {
		return []map[string]any{}
	}
	return []map[string]any{
		{"type": "text", "text": map[string]any{"content": text}},
	}
}
