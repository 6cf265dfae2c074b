package provider

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
	"github.com/shaneholloman/goose-local-inference/internal/config"
	"github.com/shaneholloman/goose-local-inference/internal/devmem"
	"github.com/shaneholloman/goose-local-inference/internal/emulator"
	"github.com/shaneholloman/goose-local-inference/internal/engine"
	"github.com/shaneholloman/goose-local-inference/internal/llama"
	"github.com/shaneholloman/goose-local-inference/internal/markdown"
	"github.com/shaneholloman/goose-local-inference/internal/nativepath"
	"github.com/shaneholloman/goose-local-inference/internal/registry"
	rt "github.com/shaneholloman/goose-local-inference/internal/runtime"
	"github.com/shaneholloman/goose-local-inference/internal/toolcall"
)

// streamBufferDepth is the output channel's capacity: enough to absorb a
// burst of markdown-safe chunks without the generation loop blocking on a
// slow consumer, without letting a stalled consumer buffer unbounded
// memory.
const streamBufferDepth = 32

// LocalProvider drives the local inference core end to end: resolving a
// model from the registry, loading it into the shared runtime's slot
// cache, rendering a prompt through either the native or emulator
// tool-calling path, and streaming generated tokens back as messages.
type LocalProvider struct {
	log      *zerolog.Logger
	runtime  *rt.Runtime
	registry LocalRegistry
}

// LocalRegistry is the slice of *registry.LocalModelRegistry this package
// depends on, narrowed so tests can supply a fake.
type LocalRegistry interface {
	GetModel(id string) (registry.ModelEntry, bool)
	Load() ([]registry.ModelEntry, error)
}

// NewLocalProvider wires a provider against the process-wide runtime and a
// model registry. Callers own the Runtime's lifetime and must Close it
// once every LocalProvider built from it is done.
func NewLocalProvider(log *zerolog.Logger, resident *rt.Runtime, reg LocalRegistry) *LocalProvider {
	return &LocalProvider{log: log, runtime: resident, registry: reg}
}

// NewDefault loads the core's configuration from the environment, opens
// (or creates) its on-disk registry, and initializes the process-wide
// runtime, returning a ready-to-use provider plus a close func the caller
// must invoke once done.
func NewDefault(log *zerolog.Logger) (*LocalProvider, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, apperr.Execf(err, "failed to load configuration")
	}
	if err := os.MkdirAll(cfg.ModelsDir(), 0o755); err != nil {
		return nil, nil, apperr.Execf(err, "failed to create models directory %q", cfg.ModelsDir())
	}

	reg := registry.New(log, cfg.RegistryPath())
	if _, err := reg.Load(); err != nil {
		return nil, nil, apperr.Execf(err, "failed to load model registry")
	}

	resident, err := rt.GetOrInit(log)
	if err != nil {
		return nil, nil, apperr.Execf(err, "failed to initialize inference runtime")
	}

	return NewLocalProvider(log, resident, reg), resident.Close, nil
}

func (p *LocalProvider) GetName() string { return "local" }

func (p *LocalProvider) GetModelConfig() ModelConfig { return ModelConfig{} }

// FetchSupportedModels lists the IDs of every model currently registered
// locally, regardless of download state.
func (p *LocalProvider) FetchSupportedModels(ctx context.Context) ([]string, error) {
	entries, err := p.registry.Load()
	if err != nil {
		return nil, apperr.Execf(err, "failed to load model registry")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// Stream resolves cfg.ModelID against the registry, loads it into the
// runtime's slot cache (evicting any other resident model), renders
// messages plus tools through the appropriate tool-calling path, and
// returns a channel of StreamItem fed by a background goroutine. The
// channel is closed once generation ends, errors out, or ctx is
// cancelled.
func (p *LocalProvider) Stream(ctx context.Context, cfg ModelConfig, sessionID string, system string, messages []Message, tools []ToolDefinition) (<-chan StreamItem, error) {
	entry, ok := p.registry.GetModel(cfg.ModelID)
	if !ok {
		return nil, apperr.NotFoundf("model %q not registered", cfg.ModelID)
	}
	if entry.LocalPath == "" {
		return nil, apperr.BadRequestf("model %q has not been downloaded", cfg.ModelID)
	}

	slot := p.runtime.GetOrCreateSlot(entry.ID)
	slot.Lock()

	if err := p.runtime.EvictOthers(entry.ID); err != nil {
		slot.Unlock()
		return nil, apperr.Execf(err, "failed to evict other resident models")
	}

	if slot.Loaded() == nil {
		weights, err := llama.LoadModel(entry.LocalPath)
		if err != nil {
			slot.Unlock()
			return nil, apperr.Execf(err, "failed to load model %q", entry.LocalPath)
		}
		slot.SetLoaded(&rt.LoadedModel{Weights: weights, ChatTemplate: weights.ChatTemplate()})
	}
	loaded := slot.Loaded()
	weights := loaded.Weights

	settings := entry.Settings
	memoryMax, _ := engine.EstimateMaxContextForMemory(weights, devmem.AvailableInferenceMemoryBytes(weights))
	limit := engine.ContextCap(settings, 0, weights.NCtxTrain(), memoryMax)

	useNative := settings.NativeToolCalling && len(tools) > 0

	var promptText string
	var additionalStops []string
	var emuParser *emulator.Parser

	if useNative {
		chatMessages := toChatMessages(system, messages)
		nativeTools := toNativeTools(tools)
		messagesJSON := ""
		if settings.UseJinja {
			oai := make([]map[string]string, 0, len(chatMessages))
			for _, m := range chatMessages {
				oai = append(oai, map[string]string{"role": m.Role, "content": m.Content})
			}
			raw, err := json.Marshal(oai)
			if err != nil {
				slot.Unlock()
				return nil, apperr.Execf(err, "failed to encode messages JSON")
			}
			messagesJSON = string(raw)
		}
		result, err := nativepath.RenderPrompt(weights, messagesJSON, chatMessages, settings.UseJinja, nativeTools, limit)
		if err != nil {
			slot.Unlock()
			return nil, apperr.Execf(err, "failed to render native tool-calling prompt")
		}
		promptText = result.Prompt
		additionalStops = result.AdditionalStops
	} else {
		codeMode := hasCodeExecutionTool(tools)
		emuSystem := emulator.SystemPrompt(cwd(), shellPath(), toEmulatorCatalog(tools))
		chatMessages := []llama.ChatMessage{{Role: "system", Content: emuSystem}}
		chatMessages = append(chatMessages, flattenEmulatorHistory(messages)...)
		result, err := applyPlainTemplate(weights, chatMessages)
		if err != nil {
			slot.Unlock()
			return nil, apperr.Execf(err, "failed to render emulator prompt")
		}
		promptText = result.Prompt
		emuParser = emulator.NewParser(codeMode)
	}

	promptTokens := weights.Tokenize(promptText, false)
	if memoryMax > 0 && len(promptTokens) > memoryMax {
		slot.Unlock()
		return nil, apperr.ContextExceeded(len(promptTokens), memoryMax)
	}
	effectiveCtx, warn := engine.EffectiveContextSize(len(promptTokens), limit)
	if warn {
		p.log.Warn().Str("session_id", sessionID).Int("prompt_tokens", len(promptTokens)).Int("limit", limit).
			Msg("prompt plus minimum generation headroom exceeds the context cap; truncating available output")
	}
	if len(promptTokens) >= effectiveCtx {
		slot.Unlock()
		return nil, apperr.ContextExceeded(len(promptTokens), limit)
	}

	out := make(chan StreamItem, streamBufferDepth)

	go func() {
		defer slot.Unlock()
		defer close(out)
		p.generate(ctx, weights, settings, promptText, effectiveCtx, additionalStops, useNative, emuParser, out)
	}()

	return out, nil
}

func (p *LocalProvider) generate(
	ctx context.Context,
	weights llama.Model,
	settings registry.ModelSettings,
	promptText string,
	effectiveCtx int,
	additionalStops []string,
	useNative bool,
	emuParser *emulator.Parser,
	out chan<- StreamItem,
) {
	genCtx, tokens, err := engine.CreateAndPrefillContext(weights, promptText, settings, effectiveCtx, p.log)
	if err != nil {
		werr := apperr.Execf(err, "failed to prefill context")
		p.log.Error().Err(werr).Msg("generation worker failed")
		send(ctx, out, StreamItem{Err: werr})
		return
	}
	defer genCtx.Close()

	md := markdown.New()
	native := &nativepath.StreamState{}

	onToken := func(piece string) (engine.TokenAction, error) {
		select {
		case <-ctx.Done():
			return engine.TokenActionStop, ctx.Err()
		default:
		}

		if useNative {
			emit, stop := native.OnToken(piece, additionalStops)
			if emit != "" {
				safe := md.Push(emit)
				if safe != "" && !send(ctx, out, textItem(safe)) {
					return engine.TokenActionStop, ctx.Err()
				}
			}
			if stop {
				return engine.TokenActionStop, nil
			}
			return engine.TokenActionContinue, nil
		}

		stop := false
		for _, action := range emuParser.Push(piece) {
			if !emitEmulatorAction(ctx, out, md, action) {
				return engine.TokenActionStop, ctx.Err()
			}
			if action.Kind != emulator.ActionText {
				stop = true
			}
		}
		if stop {
			return engine.TokenActionStop, nil
		}
		return engine.TokenActionContinue, nil
	}

	generated, genErr := engine.GenerationLoop(weights, genCtx, settings, len(tokens), effectiveCtx, onToken)

	if useNative {
		if rem := md.Push(native.Remainder()); rem != "" {
			send(ctx, out, textItem(rem))
		}
		for _, tc := range native.ToolCalls() {
			send(ctx, out, toolRequestItem(tc))
		}
	} else {
		for _, action := range emuParser.Flush() {
			emitEmulatorAction(ctx, out, md, action)
		}
	}
	if flushed := md.Flush(); flushed != "" {
		send(ctx, out, textItem(flushed))
	}

	if genErr != nil {
		p.log.Error().Err(genErr).Msg("generation worker failed")
		send(ctx, out, StreamItem{Err: genErr})
		return
	}
	send(ctx, out, StreamItem{Usage: &Usage{PromptTokens: len(tokens), CompletionTokens: generated}})
}

func emitEmulatorAction(ctx context.Context, out chan<- StreamItem, md *markdown.Buffer, action emulator.Action) bool {
	switch action.Kind {
	case emulator.ActionText:
		if safe := md.Push(action.Text); safe != "" {
			return send(ctx, out, textItem(safe))
		}
		return true
	default:
		if req := action.ToolRequest(); req != nil {
			return send(ctx, out, toolRequestItem(*req))
		}
		return true
	}
}

// send pushes item onto out unless ctx is already cancelled, returning
// whether the send happened.
func send(ctx context.Context, out chan<- StreamItem, item StreamItem) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- item:
		return true
	}
}

func textItem(text string) StreamItem {
	return StreamItem{Message: &Message{
		Role:      RoleAssistant,
		Content:   []ContentPart{{Kind: PartText, Text: text}},
		Timestamp: time.Now(),
	}}
}

func toolRequestItem(req toolcall.ToolRequest) StreamItem {
	return StreamItem{Message: &Message{
		Role: RoleAssistant,
		Content: []ContentPart{{
			Kind:       PartToolRequest,
			ToolCallID: req.ID,
			ToolName:   req.Name,
			ToolArgs:   req.Arguments,
		}},
		Timestamp: time.Now(),
	}}
}

func toNativeTools(tools []ToolDefinition) []nativepath.ToolDefinition {
	out := make([]nativepath.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		out = append(out, nativepath.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: params})
	}
	return out
}

func toEmulatorCatalog(tools []ToolDefinition) []emulator.ToolCatalogEntry {
	out := make([]emulator.ToolCatalogEntry, 0, len(tools))
	for _, t := range tools {
		out = append(out, emulator.ToolCatalogEntry{Name: t.Name, Description: t.Description})
	}
	return out
}

func hasCodeExecutionTool(tools []ToolDefinition) bool {
	for _, t := range tools {
		if t.Name == "code_execution__execute" {
			return true
		}
	}
	return false
}

func toChatMessages(system string, messages []Message) []llama.ChatMessage {
	out := make([]llama.ChatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, llama.ChatMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out = append(out, llama.ChatMessage{Role: role, Content: flattenContent(m.Content)})
	}
	return out
}

func flattenContent(parts []ContentPart) string {
	var text string
	for _, part := range parts {
		switch part.Kind {
		case PartText, PartThinking:
			text += part.Text
		case PartToolResponse:
			if part.ToolError != "" {
				text += "Command error: " + part.ToolError + "\n"
			} else {
				text += "Command output:\n" + part.ToolOutput + "\n"
			}
		}
	}
	return text
}

func flattenEmulatorHistory(messages []Message) []llama.ChatMessage {
	var turns []emulator.Turn
	for _, m := range messages {
		for _, part := range m.Content {
			switch part.Kind {
			case PartText:
				turns = append(turns, emulator.Turn{Text: part.Text})
			case PartToolRequest:
				if cmd, ok := part.ToolArgs["command"].(string); ok {
					turns = append(turns, emulator.Turn{Command: cmd})
				} else if code, ok := part.ToolArgs["code"].(string); ok {
					turns = append(turns, emulator.Turn{Code: code})
				}
			case PartToolResponse:
				if part.ToolError != "" {
					turns = append(turns, emulator.Turn{Error: &part.ToolError})
				} else {
					out := part.ToolOutput
					turns = append(turns, emulator.Turn{Output: &out})
				}
			}
		}
	}
	flat := emulator.FlattenHistory(turns)
	if flat == "" {
		return nil
	}
	return []llama.ChatMessage{{Role: "user", Content: flat}}
}

func applyPlainTemplate(model llama.Model, chatMessages []llama.ChatMessage) (llama.TemplateResult, error) {
	return model.ApplyChatTemplate(llama.ChatTemplateParams{
		ChatMessages:        chatMessages,
		AddGenerationPrompt: true,
	})
}

func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

func shellPath() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
