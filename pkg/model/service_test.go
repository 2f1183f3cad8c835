package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpcore/agentrt/pkg/bus"
)

type fakeAdapter struct {
	chunks []Chunk
}

func (f *fakeAdapter) CompleteStream(ctx context.Context, modelName string, messages []Message, opts Options) ChunkSeq {
	return func(yield func(Chunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (f *fakeAdapter) CompleteNonStream(ctx context.Context, modelName string, messages []Message, opts Options) (CompletionResult, error) {
	var content string
	for _, c := range f.chunks {
		content += c.Content
	}
	return CompletionResult{Content: content}, nil
}

func (f *fakeAdapter) Embed(ctx context.Context, modelName string, text string) (EmbeddingResult, error) {
	return EmbeddingResult{}, nil
}

func setupServiceBus(t *testing.T, chunks []Chunk) (*bus.Bus, *[]map[string]any) {
	t.Helper()
	b := bus.New()
	reg := NewRegistry()
	require.NoError(t, reg.Register(ProviderConfig{
		Name:        "fake",
		AdapterType: AdapterCustom,
		Models:      []AdvertisedModel{{Type: ModelLLM, Name: "fake-llm"}},
	}, map[AdapterType]AdapterFactory{
		AdapterCustom: func(cfg ProviderConfig) (Adapter, error) { return &fakeAdapter{chunks: chunks}, nil },
	}))
	svc := NewService(reg)
	require.NoError(t, svc.RegisterCapabilities(b))

	var relayed []map[string]any
	require.NoError(t, b.Register(bus.Descriptor{ID: "shell:send"}, func(_, _ string, input any) (any, error) {
		m := input.(map[string]any)
		relayed = append(relayed, m)
		return map[string]any{"success": true}, nil
	}, nil))

	return b, &relayed
}

func TestModelLLM_StreamToUser_RelaysChunksInOrder(t *testing.T) {
	chunks := []Chunk{
		{Content: "he"},
		{Content: "llo"},
		{Finished: true, Usage: &Usage{TotalTokens: 3}},
	}
	b, relayed := setupServiceBus(t, chunks)

	res := b.Invoke("model:llm", "", "task-1", []byte(`{"provider":"fake","model":"fake-llm","streamToUser":true,"messages":[{"role":"user","content":"hi"}]}`))
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)

	out := res.Result.(LLMResult)
	assert.Equal(t, "hello", out.Content)

	var indices []any
	for _, r := range *relayed {
		indices = append(indices, r["index"])
	}
	assert.Equal(t, []any{0.0, 1.0, -1.0}, indices)
}

func TestModelLLM_StreamToUser_FinalChunkCarriesContentAndFinished(t *testing.T) {
	chunks := []Chunk{{Content: "hello", Finished: true}}
	b, relayed := setupServiceBus(t, chunks)

	res := b.Invoke("model:llm", "", "task-1", []byte(`{"provider":"fake","model":"fake-llm","streamToUser":true,"messages":[{"role":"user","content":"hi"}]}`))
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	out := res.Result.(LLMResult)
	assert.Equal(t, "hello", out.Content)

	require.Len(t, *relayed, 1)
	assert.Equal(t, -1.0, (*relayed)[0]["index"])
	assert.Equal(t, "hello", (*relayed)[0]["content"])
}

func TestModelLLM_NonStreaming(t *testing.T) {
	chunks := []Chunk{{Content: "ok"}, {Finished: true}}
	b, _ := setupServiceBus(t, chunks)

	res := b.Invoke("model:llm", "", "task-1", []byte(`{"provider":"fake","model":"fake-llm","streamToUser":false,"messages":[{"role":"user","content":"hi"}]}`))
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	out := res.Result.(LLMResult)
	assert.Equal(t, "ok", out.Content)
}

func TestModelLLM_UnknownModelRejectedBeforeNetworkCall(t *testing.T) {
	b, _ := setupServiceBus(t, nil)
	res := b.Invoke("model:llm", "", "task-1", []byte(`{"provider":"fake","model":"not-advertised","messages":[]}`))
	assert.Equal(t, bus.OutcomeError, res.Outcome)
}

func TestListLLM(t *testing.T) {
	b, _ := setupServiceBus(t, nil)
	res := b.Invoke("model:listLLM", "", bus.SystemCaller, nil)
	require.Equal(t, bus.OutcomeSuccess, res.Outcome)
	providers := res.Result.(map[string]any)["providers"].([]ProviderModels)
	require.Len(t, providers, 1)
	assert.Equal(t, "fake", providers[0].ProviderName)
}
