package llama

/*
#include <stdlib.h>
#include "llama.h"
*/
import "C"

// SamplingMode selects the terminal sampling technique appended after any
// penalties sampler.
type SamplingMode int

const (
	SamplingGreedy SamplingMode = iota
	SamplingTemperature
	SamplingMirostatV2
)

// SamplerSettings configures the chain built by BuildSampler. Field names
// mirror ModelSettings in the registry package; this package does not
// import that package, so the engine translates registry settings into
// this struct.
type SamplerSettings struct {
	RepeatPenalty    float32
	RepeatLastN      int
	FrequencyPenalty float32
	PresencePenalty  float32

	Mode        SamplingMode
	Temperature float32
	TopK        int
	TopP        float32
	MinP        float32
	MirostatTau float32
	MirostatEta float32
	Seed        uint32
}

// Sampler wraps a llama_sampler chain (or a single unwrapped sampler when
// the chain would otherwise hold exactly one element).
type Sampler struct {
	ptr *C.struct_llama_sampler
}

// BuildSampler assembles the sampler chain described by the sampler
// builder design: an optional penalties sampler, followed by greedy,
// temperature-chain, or mirostat v2.
func BuildSampler(s SamplerSettings) *Sampler {
	var elems []*C.struct_llama_sampler

	if s.RepeatPenalty != 1.0 || s.FrequencyPenalty != 0 || s.PresencePenalty != 0 {
		elems = append(elems, C.llama_sampler_init_penalties(
			C.int32_t(s.RepeatLastN),
			C.float(s.RepeatPenalty),
			C.float(s.FrequencyPenalty),
			C.float(s.PresencePenalty),
		))
	}

	switch s.Mode {
	case SamplingGreedy:
		elems = append(elems, C.llama_sampler_init_greedy())
	case SamplingMirostatV2:
		elems = append(elems, C.llama_sampler_init_mirostat_v2(C.uint32_t(s.Seed), C.float(s.MirostatTau), C.float(s.MirostatEta)))
	default: // SamplingTemperature
		elems = append(elems,
			C.llama_sampler_init_top_k(C.int32_t(s.TopK)),
			C.llama_sampler_init_top_p(C.float(s.TopP), 1),
			C.llama_sampler_init_min_p(C.float(s.MinP), 1),
			C.llama_sampler_init_temp(C.float(s.Temperature)),
			C.llama_sampler_init_dist(C.uint32_t(s.Seed)),
		)
	}

	if len(elems) == 1 {
		return &Sampler{ptr: elems[0]}
	}

	chain := C.llama_sampler_chain_init(C.llama_sampler_chain_default_params())
	for _, e := range elems {
		C.llama_sampler_chain_add(chain, e)
	}
	return &Sampler{ptr: chain}
}

// Sample draws a token from the context's logits at position pos (-1 for
// the last decoded position).
func (s *Sampler) Sample(ctx *Context, pos int32) Token {
	return Token(C.llama_sampler_sample(s.ptr, ctx.ptr, C.int32_t(pos)))
}

// Accept records the chosen token so repetition-aware samplers can update
// their history window.
func (s *Sampler) Accept(tok Token) {
	C.llama_sampler_accept(s.ptr, C.llama_token(tok))
}

func (s *Sampler) Close() {
	if s.ptr == nil {
		return
	}
	C.llama_sampler_free(s.ptr)
	s.ptr = nil
}
