package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGenerator struct {
	lastPrompt string
	lastOpts   GenerateOptions
	generation *Generation
	err        error
}

func (m *mockGenerator) Generate(_ context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	m.lastPrompt = prompt
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.generation, nil
}

func TestLLMCallValidateConfig(t *testing.T) {
	h := &LLMCallHandler{}

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"valid minimal", map[string]any{"prompt_template": "hi"}, false},
		{"valid full", map[string]any{"prompt_template": "hi", "temperature": 0.2, "max_tokens": 100}, false},
		{"missing prompt", map[string]any{}, true},
		{"prompt not string", map[string]any{"prompt_template": 5}, true},
		{"temperature too high", map[string]any{"prompt_template": "hi", "temperature": 2.5}, true},
		{"temperature negative", map[string]any{"prompt_template": "hi", "temperature": -0.1}, true},
		{"temperature not numeric", map[string]any{"prompt_template": "hi", "temperature": "hot"}, true},
		{"max_tokens zero", map[string]any{"prompt_template": "hi", "max_tokens": 0}, true},
		{"max_tokens fractional", map[string]any{"prompt_template": "hi", "max_tokens": 1.5}, true},
		{"temperature boundary", map[string]any{"prompt_template": "hi", "temperature": 2.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ValidateConfig(tt.config)
			if tt.wantErr {
				var herr *HandlerError
				require.ErrorAs(t, err, &herr)
				assert.Equal(t, "llm_call", herr.Handler)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLLMCallExecute(t *testing.T) {
	gen := &mockGenerator{generation: &Generation{
		Text: "a fine answer", Model: "llama3.2", InputTokens: 10, OutputTokens: 5,
	}}
	h := &LLMCallHandler{generator: gen}

	out, err := h.Execute(context.Background(), map[string]any{
		"prompt_template": "Summarize {topic}",
		"temperature":     0.3,
		"max_tokens":      128,
	}, Inputs{WorkflowInput: map[string]any{"topic": "goroutines"}})
	require.NoError(t, err)

	assert.Equal(t, "Summarize goroutines", gen.lastPrompt)
	assert.Equal(t, 0.3, gen.lastOpts.Temperature)
	assert.Equal(t, 128, gen.lastOpts.MaxTokens)

	assert.Equal(t, "a fine answer", out["response"])
	assert.Equal(t, "llama3.2", out["model"])
	assert.Equal(t, 15, out["tokens_used"])
	assert.Equal(t, 10, out["input_tokens"])
	assert.Equal(t, 5, out["output_tokens"])
}

func TestLLMCallExecuteDefaults(t *testing.T) {
	gen := &mockGenerator{generation: &Generation{Text: "ok"}}
	h := &LLMCallHandler{generator: gen}

	out, err := h.Execute(context.Background(), map[string]any{"prompt_template": "hi"}, Inputs{})
	require.NoError(t, err)
	assert.Equal(t, defaultTemperature, gen.lastOpts.Temperature)
	assert.Equal(t, defaultMaxTokens, gen.lastOpts.MaxTokens)
	assert.Equal(t, defaultTemperature, out["temperature"])
}

func TestLLMCallExecuteUsesNodeOutputs(t *testing.T) {
	gen := &mockGenerator{generation: &Generation{Text: "ok"}}
	h := &LLMCallHandler{generator: gen}

	_, err := h.Execute(context.Background(), map[string]any{
		"prompt_template": "Given: {search_results}",
	}, Inputs{
		NodeOutputs: map[string]map[string]any{
			"search": {"results": []any{
				map[string]any{"text": "chunk one"},
				map[string]any{"text": "chunk two"},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Given: chunk one\nchunk two", gen.lastPrompt)
}

func TestLLMCallConfigVariablesWin(t *testing.T) {
	gen := &mockGenerator{generation: &Generation{Text: "ok"}}
	h := &LLMCallHandler{generator: gen}

	_, err := h.Execute(context.Background(), map[string]any{
		"prompt_template": "hello {name}",
		"variables":       map[string]any{"name": "override"},
	}, Inputs{WorkflowInput: map[string]any{"name": "input"}})
	require.NoError(t, err)
	assert.Equal(t, "hello override", gen.lastPrompt)
}

func TestLLMCallExecuteGeneratorError(t *testing.T) {
	cause := errors.New("model unavailable")
	h := &LLMCallHandler{generator: &mockGenerator{err: cause}}

	_, err := h.Execute(context.Background(), map[string]any{"prompt_template": "hi"}, Inputs{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "llm_call", herr.Handler)
}
