package runtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shaneholloman/goose-local-inference/internal/llama"
)

// fakeModel satisfies llama.Model without touching cgo, so the cache and
// slot bookkeeping in this package can be tested independently of the
// native backend.
type fakeModel struct{ closed bool }

func (f *fakeModel) Close()                                   { f.closed = true }
func (f *fakeModel) NCtxTrain() int                            { return 4096 }
func (f *fakeModel) Meta(string) (string, bool)                { return "", false }
func (f *fakeModel) MetaInt(_ string, fallback int) int        { return fallback }
func (f *fakeModel) Tokenize(string, bool) []llama.Token       { return nil }
func (f *fakeModel) TokenToPiece(*llama.Utf8Decoder, llama.Token, bool) string { return "" }
func (f *fakeModel) IsEndOfGeneration(llama.Token) bool        { return false }
func (f *fakeModel) Devices() []llama.Device                   { return nil }
func (f *fakeModel) ChatTemplate() string                      { return "" }
func (f *fakeModel) ApplyChatTemplate(llama.ChatTemplateParams) (llama.TemplateResult, error) {
	return llama.TemplateResult{}, nil
}
func (f *fakeModel) NewContext(llama.ContextParams, *zerolog.Logger) (*llama.Context, error) {
	return nil, nil
}

func TestSlot_EmptyByDefault(t *testing.T) {
	rt := &Runtime{cache: make(map[string]*Slot)}
	s := rt.GetOrCreateSlot("model-a")
	s.Lock()
	defer s.Unlock()
	require.Nil(t, s.Loaded())
}

func TestSlot_SameIDReturnsSameSlot(t *testing.T) {
	rt := &Runtime{cache: make(map[string]*Slot)}
	a := rt.GetOrCreateSlot("model-a")
	b := rt.GetOrCreateSlot("model-a")
	require.Same(t, a, b)
}

func TestOtherSlots_ExcludesKeep(t *testing.T) {
	rt := &Runtime{cache: make(map[string]*Slot)}
	rt.GetOrCreateSlot("a")
	rt.GetOrCreateSlot("b")
	rt.GetOrCreateSlot("c")

	others := rt.OtherSlots("b")
	require.Len(t, others, 2)
	for _, s := range others {
		require.NotEqual(t, "b", s.id)
	}
}

func TestEvictOthers_ClosesWeightsExceptTarget(t *testing.T) {
	rt := &Runtime{cache: make(map[string]*Slot)}
	fm := &fakeModel{}
	target := rt.GetOrCreateSlot("keep")
	other := rt.GetOrCreateSlot("evict")
	other.SetLoaded(&LoadedModel{Weights: fm})

	err := rt.EvictOthers("keep")
	require.NoError(t, err)
	require.True(t, fm.closed)

	target.Lock()
	require.Nil(t, target.Loaded())
	target.Unlock()

	other.Lock()
	require.Nil(t, other.Loaded())
	other.Unlock()
}
