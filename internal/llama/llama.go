// Package llama wraps llama.cpp via cgo: backend lifecycle, model loading,
// tokenization, chat templates, and the token-level sampler chain used by
// the generation loop in internal/engine.
package llama

/*
#cgo CFLAGS: -Ofast -std=c11 -fPIC
#cgo CPPFLAGS: -Ofast -Wall -Wextra -Wno-unused-function -Wno-unused-variable -DNDEBUG
#cgo CXXFLAGS: -std=c++11 -fPIC
#cgo darwin CPPFLAGS: -DGGML_USE_ACCELERATE
#cgo darwin,arm64 CPPFLAGS: -DGGML_USE_METAL -DGGML_METAL_NDEBUG
#cgo darwin LDFLAGS: -framework Accelerate -framework Foundation -framework Metal -framework MetalKit -framework MetalPerformanceShaders
#cgo linux LDFLAGS: -lm -ldl -lpthread

#include <stdlib.h>
#include <string.h>
#include "ggml-alloc.h"
#include "ggml-backend.h"
#include "llama.h"

int llm_go_eval(struct llama_context *ctx, int pos, llama_token *tokens, int n_tokens) {
	if (n_tokens < 1) return 0;
	llama_batch batch = llama_batch_init(n_tokens, 0, 1);
	batch.n_tokens = n_tokens;
	for (int i = 0; i < n_tokens; i++) {
		batch.token[i] = tokens[i];
		batch.pos[i] = pos + i;
		batch.seq_id[i][0] = 0;
		batch.n_seq_id[i] = 1;
	}
	batch.logits[n_tokens - 1] = true;
	int e = llama_decode(ctx, batch);
	llama_batch_free(batch);
	return e;
}

void llm_go_mute_log_handler(enum ggml_log_level level, const char *text, void *user) {
	(void)(user);
	if (level <= GGML_LOG_LEVEL_INFO) return;
	fputs(text, stderr);
	fflush(stderr);
}

static void llm_go_mute() {
	llama_log_set(llm_go_mute_log_handler, NULL);
}

static int llm_go_device_count(struct llama_model *model) {
	return (int)llama_model_n_devices(model);
}

static size_t llm_go_device_free_bytes(struct llama_model *model, int idx) {
	size_t free_bytes = 0, total_bytes = 0;
	ggml_backend_dev_t dev = llama_model_device(model, idx);
	if (dev == NULL) return 0;
	ggml_backend_dev_memory(dev, &free_bytes, &total_bytes);
	return free_bytes;
}

static int llm_go_device_is_cpu(struct llama_model *model, int idx) {
	ggml_backend_dev_t dev = llama_model_device(model, idx);
	if (dev == NULL) return 1;
	return ggml_backend_dev_type(dev) == GGML_BACKEND_DEVICE_TYPE_CPU;
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
)

// Token is a vocabulary index, matching llama_token's underlying type.
type Token = C.int32_t

// Backend is the process-wide handle to the native inference library. At
// most one instance is ever constructed per process; see runtime.Runtime
// for the reference-counted holder that enforces this.
type Backend struct{}

var (
	backendMu   sync.Mutex
	backendInit bool
)

// InitBackend initializes the native backend. It must only be called while
// holding the caller's own serializing lock (runtime.Runtime does this);
// a second concurrent call from outside that discipline is a programming
// error, not a recoverable condition.
func InitBackend() (*Backend, error) {
	backendMu.Lock()
	defer backendMu.Unlock()
	if backendInit {
		return nil, apperr.Exec("llama backend already initialized in this process; caller failed to serialize init")
	}
	C.llama_backend_init()
	C.llm_go_mute()
	backendInit = true
	return &Backend{}, nil
}

// Close tears down the native backend. Callers must guarantee every
// LoadedModel has already been released; llama_backend_free frees FFI
// statics that live model/context objects still touch.
func (b *Backend) Close() {
	backendMu.Lock()
	defer backendMu.Unlock()
	if !backendInit {
		return
	}
	C.llama_backend_free()
	backendInit = false
}

// Device describes one compute device the backend can place weights on.
type Device struct {
	Index     int
	IsCPU     bool
	FreeBytes int64
}

// Model wraps a loaded set of weights plus the metadata needed for context
// sizing, chat templating, and tokenization.
type Model interface {
	Close()
	NCtxTrain() int
	Meta(key string) (string, bool)
	MetaInt(key string, fallback int) int
	Tokenize(text string, addBOS bool) []Token
	TokenToPiece(dec *Utf8Decoder, tok Token, special bool) string
	IsEndOfGeneration(tok Token) bool
	Devices() []Device
	ChatTemplate() string
	ApplyChatTemplate(params ChatTemplateParams) (TemplateResult, error)
	NewContext(cp ContextParams, log *zerolog.Logger) (*Context, error)
}

type model struct {
	ptr          *C.struct_llama_model
	vocab        *C.struct_llama_vocab
	nCtxTrain    int
	bos, eos, nl Token
}

// LoadModel loads a GGUF model from path. The backend must already be
// initialized (runtime.Runtime guarantees this before any load).
func LoadModel(path string) (Model, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	mp := C.llama_model_default_params()
	ptr := C.llama_model_load_from_file(cPath, mp)
	if ptr == nil {
		return nil, apperr.Exec("failed to load model %q", path)
	}
	m := &model{ptr: ptr}
	m.vocab = C.llama_model_get_vocab(ptr)
	m.nCtxTrain = int(C.llama_model_n_ctx_train(ptr))
	if m.nCtxTrain < 1 {
		C.llama_model_free(ptr)
		return nil, apperr.Exec("missing n_ctx_train in model %q", path)
	}
	m.bos = Token(C.llama_vocab_bos(m.vocab))
	m.eos = Token(C.llama_vocab_eos(m.vocab))
	m.nl = Token(C.llama_vocab_nl(m.vocab))
	return m, nil
}

func (m *model) Close() {
	if m.ptr == nil {
		return
	}
	C.llama_model_free(m.ptr)
	m.ptr = nil
}

func (m *model) NCtxTrain() int { return m.nCtxTrain }

// Meta looks up a GGUF metadata value by its dotted key, e.g.
// "llama.attention.key_length". Keys are looked up by formatted string,
// same convention the rest of the ecosystem's GGUF readers use.
func (m *model) Meta(key string) (string, bool) {
	cKey := C.CString(key)
	defer C.free(unsafe.Pointer(cKey))

	var buf [256]C.char
	n := C.llama_model_meta_val_str(m.ptr, cKey, &buf[0], C.size_t(len(buf)))
	if n < 0 {
		return "", false
	}
	return C.GoStringN(&buf[0], n), true
}

// MetaInt is Meta parsed as an integer, returning fallback when the key is
// absent or not parseable.
func (m *model) MetaInt(key string, fallback int) int {
	v, ok := m.Meta(key)
	if !ok {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func (m *model) Tokenize(text string, addBOS bool) []Token {
	buf := make([]Token, len(text)+8)
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))
	n := C.llama_tokenize(
		m.vocab,
		cText, C.int32_t(len(text)),
		(*C.llama_token)(unsafe.SliceData(buf)), C.int32_t(len(buf)),
		C.bool(addBOS), C.bool(true),
	)
	if n < 0 {
		buf = make([]Token, -int(n))
		n = C.llama_tokenize(
			m.vocab,
			cText, C.int32_t(len(text)),
			(*C.llama_token)(unsafe.SliceData(buf)), C.int32_t(len(buf)),
			C.bool(addBOS), C.bool(true),
		)
	}
	return buf[:n]
}

// Utf8Decoder accumulates partial multi-byte sequences across token
// boundaries so callers always see complete UTF-8 pieces.
type Utf8Decoder struct {
	pending []byte
}

func (m *model) TokenToPiece(dec *Utf8Decoder, tok Token, special bool) string {
	var tmp [128]byte
	n := C.llama_token_to_piece(m.vocab, C.llama_token(tok), (*C.char)(unsafe.Pointer(&tmp[0])), C.int32_t(len(tmp)), 0, C.bool(special))
	if n < 0 {
		return ""
	}
	raw := append(dec.pending, tmp[:n]...)
	dec.pending = nil

	valid := completeUTF8Prefix(raw)
	dec.pending = append(dec.pending, raw[valid:]...)
	return string(raw[:valid])
}

// completeUTF8Prefix returns the length of the longest prefix of b that
// ends on a complete rune, holding back a dangling partial multi-byte
// sequence at the tail for the next call.
func completeUTF8Prefix(b []byte) int {
	n := len(b)
	if n == 0 {
		return 0
	}
	// Walk back over continuation bytes (10xxxxxx) at the tail.
	i := n
	for i > 0 && b[i-1]&0xC0 == 0x80 {
		i--
	}
	if i == n {
		if b[n-1]&0xC0 == 0xC0 && b[n-1] < 0xF8 {
			return n - 1 // lead byte whose continuation bytes have not arrived yet
		}
		return n // tail byte is ASCII (or not a valid lead byte)
	}
	if i == 0 {
		return n // continuation bytes with no lead byte (malformed input passthrough)
	}
	lead := b[i-1]
	want := 1
	switch {
	case lead&0xE0 == 0xC0:
		want = 2
	case lead&0xF0 == 0xE0:
		want = 3
	case lead&0xF8 == 0xF0:
		want = 4
	default:
		return n // not a valid lead byte, treat as complete (malformed input passthrough)
	}
	if n-(i-1) >= want {
		return n
	}
	return i - 1
}

func (m *model) IsEndOfGeneration(tok Token) bool {
	return bool(C.llama_vocab_is_eog(m.vocab, C.llama_token(tok)))
}

func (m *model) Devices() []Device {
	n := int(C.llm_go_device_count(m.ptr))
	devs := make([]Device, 0, n)
	for i := 0; i < n; i++ {
		devs = append(devs, Device{
			Index:     i,
			IsCPU:     C.llm_go_device_is_cpu(m.ptr, C.int(i)) != 0,
			FreeBytes: int64(C.llm_go_device_free_bytes(m.ptr, C.int(i))),
		})
	}
	return devs
}

func (m *model) ChatTemplate() string {
	cTmpl := C.llama_model_chat_template(m.ptr, nil)
	if cTmpl == nil {
		return ""
	}
	return C.GoString(cTmpl)
}

// ChatMessage is one turn rendered through the plain (non-Jinja) template
// path.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatTemplateParams selects and configures one of the two chat template
// rendering modes described by the native tool path.
type ChatTemplateParams struct {
	// UseJinja selects the messages-JSON route (the conversation is read
	// from MessagesJSON); otherwise ChatMessages is used. Both routes
	// render through llama_chat_apply_template with the model's built-in
	// template and append ToolsJSON as a <tools> block; no Jinja engine
	// runs and the library's own tool injection is not used.
	UseJinja bool

	// MessagesJSON is the OpenAI-style rendered conversation, required
	// when UseJinja is true.
	MessagesJSON string

	// ChatMessages is the plain conversation, used when UseJinja is false.
	ChatMessages []ChatMessage

	// ToolsJSON is the tool catalog to inject, or "" for none.
	ToolsJSON string

	AddGenerationPrompt bool
	ParallelToolCalls   bool
	EnableThinking      bool
	ParseToolCalls      bool
}

// TemplateResult is the rendered prompt plus any model-advertised stop
// sequences the generation loop must also honor.
type TemplateResult struct {
	Prompt          string
	AdditionalStops []string
}

func (m *model) ApplyChatTemplate(p ChatTemplateParams) (TemplateResult, error) {
	tmpl := m.ChatTemplate()
	if tmpl == "" {
		return TemplateResult{}, apperr.Exec("model has no chat template")
	}

	var messages []ChatMessage
	if p.UseJinja {
		parsed, err := parseOAIMessages(p.MessagesJSON)
		if err != nil {
			return TemplateResult{}, apperr.Execf(err, "failed to parse messages JSON")
		}
		messages = parsed
	} else {
		messages = p.ChatMessages
	}

	prompt, err := m.renderTemplate(tmpl, messages, p.AddGenerationPrompt)
	if err != nil {
		return TemplateResult{}, err
	}
	if p.ToolsJSON != "" {
		prompt = injectToolsBlock(prompt, p.ToolsJSON, p.ParallelToolCalls)
	}
	return TemplateResult{Prompt: prompt}, nil
}

func (m *model) renderTemplate(tmpl string, messages []ChatMessage, addGenerationPrompt bool) (string, error) {
	n := len(messages)
	cRoles := make([]*C.char, n)
	cContents := make([]*C.char, n)
	cMsgs := make([]C.struct_llama_chat_message, n)
	for i, msg := range messages {
		cRoles[i] = C.CString(msg.Role)
		cContents[i] = C.CString(msg.Content)
		cMsgs[i].role = cRoles[i]
		cMsgs[i].content = cContents[i]
	}
	defer func() {
		for i := range messages {
			C.free(unsafe.Pointer(cRoles[i]))
			C.free(unsafe.Pointer(cContents[i]))
		}
	}()

	cTmpl := C.CString(tmpl)
	defer C.free(unsafe.Pointer(cTmpl))

	bufLen := 4096
	for {
		buf := make([]byte, bufLen)
		var msgsPtr *C.struct_llama_chat_message
		if n > 0 {
			msgsPtr = &cMsgs[0]
		}
		written := C.llama_chat_apply_template(
			cTmpl, msgsPtr, C.size_t(n), C.bool(addGenerationPrompt),
			(*C.char)(unsafe.Pointer(&buf[0])), C.int32_t(len(buf)),
		)
		if int(written) < 0 {
			return "", apperr.Exec("failed to apply chat template")
		}
		if int(written) <= bufLen {
			return string(buf[:written]), nil
		}
		bufLen = int(written)
	}
}

// BatchOfOne wraps a single token for the "decode after sample" step of
// the generation loop.
func BatchOfOne(tok Token) []Token { return []Token{tok} }

// ContextParams configures a generation context.
type ContextParams struct {
	NCtx           int
	NBatch         int
	NThreads       int
	FlashAttention bool
}

// Context is a generation context: KV cache plus decode state for one
// stream of tokens.
type Context struct {
	ptr   *C.struct_llama_context
	model *model
	log   *zerolog.Logger
}

func (m *model) NewContext(cp ContextParams, log *zerolog.Logger) (*Context, error) {
	params := C.llama_context_default_params()
	params.n_ctx = C.uint32_t(cp.NCtx)
	if cp.NBatch > 0 {
		params.n_batch = C.uint32_t(cp.NBatch)
	} else {
		params.n_batch = C.uint32_t(cp.NCtx)
	}
	if cp.NThreads > 0 {
		params.n_threads = C.int32_t(cp.NThreads)
		params.n_threads_batch = C.int32_t(cp.NThreads)
	} else {
		params.n_threads = C.int32_t(nThreadsDefault)
		params.n_threads_batch = C.int32_t(nThreadsDefault)
	}
	if cp.FlashAttention {
		params.flash_attn = C.bool(true)
	}

	ptr := C.llama_init_from_model(m.ptr, params)
	if ptr == nil {
		return nil, apperr.Exec("failed to create context from model")
	}
	return &Context{ptr: ptr, model: m, log: log}, nil
}

// Decode runs a forward pass over tokens starting at pos, enabling logits
// only on the final token (matching the teacher's llm_go_eval helper).
func (c *Context) Decode(pos int, tokens []Token) error {
	if len(tokens) == 0 {
		return nil
	}
	e := C.llm_go_eval(c.ptr, C.int(pos), unsafe.SliceData(tokens), C.int(len(tokens)))
	if e == 0 {
		return nil
	}
	if e == 1 {
		return apperr.Exec("decode failed, KV cache overflow")
	}
	return apperr.Exec("decode failed with error %d", int(e))
}

func (c *Context) Logits() *C.float {
	return C.llama_get_logits(c.ptr)
}

func (c *Context) NVocab() int {
	return int(C.llama_vocab_n_tokens(c.model.vocab))
}

func (c *Context) Close() {
	if c.ptr == nil {
		return
	}
	C.llama_free(c.ptr)
	c.ptr = nil
}

var nThreadsDefault = runtime.NumCPU()
