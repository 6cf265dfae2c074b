package engine

import (
	"github.com/rs/zerolog"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
	"github.com/shaneholloman/goose-local-inference/internal/llama"
	"github.com/shaneholloman/goose-local-inference/internal/registry"
)

// TokenAction tells the generation loop whether to keep sampling or stop
// after the callback has seen a piece.
type TokenAction int

const (
	TokenActionContinue TokenAction = iota
	TokenActionStop
)

// CreateAndPrefillContext tokenizes prompt (BOS disabled, since the chat
// template already inserted any control tokens), creates a context sized
// to effectiveCtx, and decodes the prompt in NBatch-sized chunks.
func CreateAndPrefillContext(model llama.Model, prompt string, settings registry.ModelSettings, effectiveCtx int, log *zerolog.Logger) (*llama.Context, []llama.Token, error) {
	tokens := model.Tokenize(prompt, false)
	if len(tokens) == 0 {
		return nil, nil, apperr.Exec("prompt tokenized to zero tokens")
	}

	cp := llama.ContextParams{NCtx: effectiveCtx}
	if settings.NBatch != nil {
		cp.NBatch = *settings.NBatch
	}
	if settings.NThreads != nil {
		cp.NThreads = *settings.NThreads
	}
	if settings.FlashAttention != nil {
		cp.FlashAttention = *settings.FlashAttention
	}

	ctx, err := model.NewContext(cp, log)
	if err != nil {
		return nil, nil, err
	}

	batchSize := cp.NBatch
	if batchSize <= 0 {
		batchSize = effectiveCtx
	}
	for start := 0; start < len(tokens); start += batchSize {
		end := start + batchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		if err := ctx.Decode(start, tokens[start:end]); err != nil {
			ctx.Close()
			return nil, nil, err
		}
	}
	return ctx, tokens, nil
}

// GenerationLoop samples one token at a time, decoding complete UTF-8
// pieces through onToken, until end-of-generation, the output budget is
// exhausted, or onToken requests a stop. It returns the number of tokens
// generated.
func GenerationLoop(model llama.Model, ctx *llama.Context, settings registry.ModelSettings, promptTokens, effectiveCtx int, onToken func(piece string) (TokenAction, error)) (int, error) {
	sampler := llama.BuildSampler(samplerSettingsFrom(settings))
	defer sampler.Close()

	maxOut := effectiveCtx - promptTokens
	if settings.MaxOutputTokens != nil && *settings.MaxOutputTokens < maxOut {
		maxOut = *settings.MaxOutputTokens
	}
	if maxOut <= 0 {
		return 0, nil
	}

	var dec llama.Utf8Decoder
	pos := promptTokens
	generated := 0

	for i := 0; i < maxOut; i++ {
		tok := sampler.Sample(ctx, -1)
		sampler.Accept(tok)
		if model.IsEndOfGeneration(tok) {
			break
		}

		piece := model.TokenToPiece(&dec, tok, true)
		if piece != "" {
			action, err := onToken(piece)
			if err != nil {
				return generated, err
			}
			if action == TokenActionStop {
				generated++
				break
			}
		}

		if err := ctx.Decode(pos, llama.BatchOfOne(tok)); err != nil {
			return generated, err
		}
		pos++
		generated++
	}
	return generated, nil
}

func samplerSettingsFrom(s registry.ModelSettings) llama.SamplerSettings {
	mode := llama.SamplingTemperature
	switch s.Sampling {
	case registry.SamplingGreedy:
		mode = llama.SamplingGreedy
	case registry.SamplingMirostatV2:
		mode = llama.SamplingMirostatV2
	}
	var seed uint32 = 0xFFFFFFFF
	if s.Seed != nil {
		seed = *s.Seed
	}
	return llama.SamplerSettings{
		RepeatPenalty:    s.RepeatPenalty,
		RepeatLastN:      s.RepeatLastN,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		Mode:             mode,
		Temperature:      s.Temperature,
		TopK:             s.TopK,
		TopP:             s.TopP,
		MinP:             s.MinP,
		MirostatTau:      s.MirostatTau,
		MirostatEta:      s.MirostatEta,
		Seed:             seed,
	}
}
