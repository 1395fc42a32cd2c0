package agent

import (
	"encoding/json"
	"fmt"
)

// ExtractReply returns items[0].content.parts[0].text from a /run response
// body. Any missing, mistyped or empty step yields ErrShapeMismatch; invalid
// JSON yields ErrUndecodable.
func ExtractReply(body []byte) (string, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return replyText(data)
}

func replyText(data any) (string, error) {
	items, ok := data.([]any)
	if !ok || len(items) == 0 {
		return "", ErrShapeMismatch
	}
	item, ok := items[0].(map[string]any)
	if !ok {
		return "", ErrShapeMismatch
	}
	content, ok := item["content"].(map[string]any)
	if !ok {
		return "", ErrShapeMismatch
	}
	parts, ok := content["parts"].([]any)
	if !ok || len(parts) == 0 {
		return "", ErrShapeMismatch
	}
	part, ok := parts[0].(map[string]any)
	if !ok {
		return "", ErrShapeMismatch
	}
	text, ok := part["text"].(string)
	if !ok || text == "" {
		return "", ErrShapeMismatch
	}
	return text, nil
}
