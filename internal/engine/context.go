// Package engine owns context sizing and the prefill-plus-generation loop
// that drives token-by-token decoding once a model is loaded.
package engine

import (
	"github.com/shaneholloman/goose-local-inference/internal/llama"
	"github.com/shaneholloman/goose-local-inference/internal/registry"
)

// minGenerationHeadroom is the minimum number of tokens reserved for
// output beyond whatever the prompt consumed.
const minGenerationHeadroom = 512

// EstimateMaxContextForMemory derives the largest KV cache (in tokens) the
// available memory can hold, reserving half of it for compute scratch
// space. It returns (0, false) when the model's attention metadata is
// missing or any divisor would be zero.
func EstimateMaxContextForMemory(weights llama.Model, availableBytes int64) (int, bool) {
	usable := availableBytes / 2
	if usable <= 0 {
		return 0, false
	}

	arch, ok := weights.Meta("general.architecture")
	if !ok || arch == "" {
		return 0, false
	}

	nLayer := weights.MetaInt(arch+".block_count", 0)
	nHeadKV := weights.MetaInt(arch+".attention.head_count_kv", 0)
	nHead := weights.MetaInt(arch+".attention.head_count", 0)
	nEmbd := weights.MetaInt(arch+".embedding_length", 0)
	if nLayer <= 0 || nHeadKV <= 0 || nHead <= 0 || nEmbd <= 0 {
		return 0, false
	}

	headDim := nEmbd / nHead
	if headDim <= 0 {
		return 0, false
	}
	kPerHead := weights.MetaInt(arch+".attention.key_length", headDim)
	vPerHead := weights.MetaInt(arch+".attention.value_length", headDim)

	bytesPerToken := int64(kPerHead+vPerHead) * int64(nHeadKV) * int64(nLayer) * 2
	if bytesPerToken <= 0 {
		return 0, false
	}

	maxTokens := usable / bytesPerToken
	if maxTokens <= 0 {
		return 0, false
	}
	return int(maxTokens), true
}

// ContextCap resolves the hard upper bound on context size for a model: a
// user-set ContextSize wins outright, otherwise ctxLimit (or nCtxTrain when
// ctxLimit is unset) is clamped down to memoryMax when memoryMax is
// tighter.
func ContextCap(settings registry.ModelSettings, ctxLimit, nCtxTrain, memoryMax int) int {
	if settings.ContextSize != nil {
		return *settings.ContextSize
	}
	limit := ctxLimit
	if limit <= 0 {
		limit = nCtxTrain
	}
	if memoryMax > 0 && memoryMax < limit {
		limit = memoryMax
	}
	return limit
}

// EffectiveContextSize picks min(promptTokens+headroom, limit) and reports
// whether the headroom didn't fully fit (the caller logs this, it never
// fails generation outright).
func EffectiveContextSize(promptTokens, limit int) (int, bool) {
	wanted := promptTokens + minGenerationHeadroom
	if wanted <= limit {
		return wanted, false
	}
	return limit, true
}
