package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shaneholloman/goose-local-inference/internal/llama"
	"github.com/shaneholloman/goose-local-inference/internal/registry"
)

type fakeModel struct {
	meta map[string]string
}

func (f *fakeModel) Close()          {}
func (f *fakeModel) NCtxTrain() int  { return 8192 }
func (f *fakeModel) Meta(key string) (string, bool) {
	v, ok := f.meta[key]
	return v, ok
}
func (f *fakeModel) MetaInt(key string, fallback int) int {
	v, ok := f.meta[key]
	if !ok {
		return fallback
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}
func (f *fakeModel) Tokenize(text string, addBOS bool) []llama.Token        { return nil }
func (f *fakeModel) TokenToPiece(*llama.Utf8Decoder, llama.Token, bool) string { return "" }
func (f *fakeModel) IsEndOfGeneration(llama.Token) bool                     { return false }
func (f *fakeModel) Devices() []llama.Device                                { return nil }
func (f *fakeModel) ChatTemplate() string                                   { return "" }
func (f *fakeModel) ApplyChatTemplate(llama.ChatTemplateParams) (llama.TemplateResult, error) {
	return llama.TemplateResult{}, nil
}
func (f *fakeModel) NewContext(llama.ContextParams, *zerolog.Logger) (*llama.Context, error) {
	return nil, nil
}

func TestEstimateMaxContextForMemory_ComputesFromMetadata(t *testing.T) {
	m := &fakeModel{meta: map[string]string{
		"general.architecture":           "llama",
		"llama.block_count":              "32",
		"llama.attention.head_count_kv":  "8",
		"llama.attention.head_count":     "32",
		"llama.embedding_length":         "4096",
		"llama.attention.key_length":     "128",
		"llama.attention.value_length":   "128",
	}}
	tokens, ok := EstimateMaxContextForMemory(m, 16<<30)
	require.True(t, ok)
	require.Greater(t, tokens, 0)
}

func TestEstimateMaxContextForMemory_MissingMetadataFails(t *testing.T) {
	m := &fakeModel{meta: map[string]string{}}
	_, ok := EstimateMaxContextForMemory(m, 16<<30)
	require.False(t, ok)
}

func TestEstimateMaxContextForMemory_ZeroMemoryFails(t *testing.T) {
	m := &fakeModel{meta: map[string]string{"general.architecture": "llama"}}
	_, ok := EstimateMaxContextForMemory(m, 0)
	require.False(t, ok)
}

func TestContextCap_UserOverrideWins(t *testing.T) {
	n := 2048
	settings := registry.DefaultModelSettings()
	settings.ContextSize = &n
	require.Equal(t, 2048, ContextCap(settings, 8192, 4096, 1024))
}

func TestContextCap_ClampsToMemoryWhenTighter(t *testing.T) {
	settings := registry.DefaultModelSettings()
	require.Equal(t, 1024, ContextCap(settings, 8192, 4096, 1024))
}

func TestContextCap_FallsBackToTrainingContext(t *testing.T) {
	settings := registry.DefaultModelSettings()
	require.Equal(t, 4096, ContextCap(settings, 0, 4096, 0))
}

// Scenario G: context over budget.
func TestEffectiveContextSize_WarnsWhenPromptPlusHeadroomExceedsCap(t *testing.T) {
	size, warn := EffectiveContextSize(4000, 4096)
	require.Equal(t, 4096, size)
	require.True(t, warn)
}

func TestEffectiveContextSize_Bounds(t *testing.T) {
	size, warn := EffectiveContextSize(100, 4096)
	require.Equal(t, 612, size)
	require.False(t, warn)
}
