// Package nativepath renders a conversation through a model's own chat
// template and tool-calling support, then streams generated text while
// holding back anything that might still turn into a JSON or XML tool
// call.
package nativepath

import (
	"encoding/json"
	"strings"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
	"github.com/shaneholloman/goose-local-inference/internal/llama"
	"github.com/shaneholloman/goose-local-inference/internal/toolcall"
)

// ToolDefinition is the minimal shape this package needs from a tool
// catalog entry; the provider layer owns the richer type.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// RenderPrompt applies the model's chat template, retrying with a compact
// tool catalog (name and description only) if the full catalog either
// fails to render or would not leave enough room for generation.
func RenderPrompt(model llama.Model, messagesJSON string, chatMessages []llama.ChatMessage, useJinja bool, tools []ToolDefinition, contextCap int) (llama.TemplateResult, error) {
	if len(tools) == 0 {
		return applyTemplate(model, messagesJSON, chatMessages, useJinja, "")
	}

	full, err := json.Marshal(tools)
	if err != nil {
		return llama.TemplateResult{}, apperr.Execf(err, "failed to marshal tool catalog")
	}

	result, err := applyTemplate(model, messagesJSON, chatMessages, useJinja, string(full))
	if err == nil && fitsBudget(model, result.Prompt, contextCap) {
		return result, nil
	}

	compact, cerr := json.Marshal(CompactTools(tools))
	if cerr != nil {
		return llama.TemplateResult{}, apperr.Execf(cerr, "failed to marshal compact tool catalog")
	}
	result, cerr = applyTemplate(model, messagesJSON, chatMessages, useJinja, string(compact))
	if cerr != nil {
		if err != nil {
			return llama.TemplateResult{}, err
		}
		return llama.TemplateResult{}, cerr
	}
	return result, nil
}

func applyTemplate(model llama.Model, messagesJSON string, chatMessages []llama.ChatMessage, useJinja bool, toolsJSON string) (llama.TemplateResult, error) {
	return model.ApplyChatTemplate(llama.ChatTemplateParams{
		UseJinja:            useJinja,
		MessagesJSON:        messagesJSON,
		ChatMessages:        chatMessages,
		ToolsJSON:           toolsJSON,
		AddGenerationPrompt: true,
		ParseToolCalls:      true,
	})
}

const minGenerationHeadroom = 512

func fitsBudget(model llama.Model, prompt string, contextCap int) bool {
	if contextCap <= 0 {
		return true
	}
	tokens := model.Tokenize(prompt, false)
	return len(tokens) <= contextCap-minGenerationHeadroom
}

// CompactTools reduces a tool catalog to name and description only, used
// when the full catalog does not fit the token budget.
func CompactTools(tools []ToolDefinition) []map[string]string {
	out := make([]map[string]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]string{"name": t.Name, "description": t.Description})
	}
	return out
}

// StreamState tracks how much of the generated text has already been
// streamed to the caller, so OnToken never re-emits text across calls with
// growing generatedText.
type StreamState struct {
	generatedText string
	streamedLen   int
}

// OnToken folds one decoded token into the stream, returning the newly
// safe-to-emit text (possibly empty) and whether generation should stop
// because the text ends with a model-declared stop sequence. A closed
// tool call does not by itself stop generation.
func (s *StreamState) OnToken(piece string, additionalStops []string) (emit string, stop bool) {
	s.generatedText += piece

	var streamUpTo int
	switch {
	case hasJSONToolCall(s.generatedText):
		content, _ := toolcall.SplitContentAndToolCalls(s.generatedText)
		streamUpTo = len(content)
	case hasXMLToolCall(s.generatedText):
		content, _, _ := toolcall.SplitContentAndXMLToolCalls(s.generatedText)
		streamUpTo = len(content)
	default:
		streamUpTo = toolcall.SafeStreamEnd(s.generatedText)
	}

	if streamUpTo > s.streamedLen {
		emit = s.generatedText[s.streamedLen:streamUpTo]
		s.streamedLen = streamUpTo
	}

	if endsWithAny(s.generatedText, additionalStops) {
		return emit, true
	}
	return emit, false
}

// ToolCalls extracts every tool call found in the accumulated text, trying
// the JSON shape first and falling back to the XML shapes.
func (s *StreamState) ToolCalls() []toolcall.ToolRequest {
	if _, jsonStr := toolcall.SplitContentAndToolCalls(s.generatedText); jsonStr != nil {
		return toolcall.ExtractToolCallMessages(*jsonStr)
	}
	if _, blocks, found := toolcall.SplitContentAndXMLToolCalls(s.generatedText); found && len(blocks) > 0 {
		return toolcall.ExtractXMLToolCallMessages(blocks)
	}
	return nil
}

// Remainder returns whatever text has not yet been streamed, for the
// "emit the full text as a fallback" case when no tool call was found.
func (s *StreamState) Remainder() string {
	return s.generatedText[s.streamedLen:]
}

func hasJSONToolCall(text string) bool {
	_, tc := toolcall.SplitContentAndToolCalls(text)
	return tc != nil
}

func hasXMLToolCall(text string) bool {
	_, blocks, found := toolcall.SplitContentAndXMLToolCalls(text)
	return found && len(blocks) > 0
}

func endsWithAny(text string, stops []string) bool {
	for _, s := range stops {
		if s != "" && strings.HasSuffix(text, s) {
			return true
		}
	}
	return false
}
