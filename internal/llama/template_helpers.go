package llama

import (
	"encoding/json"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
)

// oaiMessage mirrors the subset of the OpenAI chat message shape the
// Jinja-mode messages JSON carries.
type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func parseOAIMessages(messagesJSON string) ([]ChatMessage, error) {
	var raw []oaiMessage
	if err := json.Unmarshal([]byte(messagesJSON), &raw); err != nil {
		return nil, apperr.Execf(err, "invalid messages JSON")
	}
	out := make([]ChatMessage, len(raw))
	for i, m := range raw {
		out[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out, nil
}

// injectToolsBlock appends the rendered tool catalog after the rendered
// prompt's generation-prompt marker is presumed absent (the template
// already added control tokens); this mirrors models whose chat template
// does not natively understand a tools array but that still accept a
// system-adjacent tools block appended to the prompt tail.
//
// parallelToolCalls is accepted for signature symmetry with the upstream
// OpenAIChatTemplateParams shape; models in this corpus do not vary prompt
// text on it, only decoding behavior downstream.
func injectToolsBlock(prompt, toolsJSON string, _ bool) string {
	if toolsJSON == "" {
		return prompt
	}
	return prompt + "\n<tools>\n" + toolsJSON + "\n</tools>\n"
}
