package workflow

import (
	"context"
	"log/slog"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 256
)

// LLMCallHandler renders a prompt template against the run context and
// invokes the text-generation collaborator.
//
// Config:
//
//	prompt_template  template string (required)
//	temperature      0.0-2.0 (default 0.7)
//	max_tokens       positive int (default 256)
//	variables        extra template variables, highest priority (optional)
type LLMCallHandler struct {
	generator TextGenerator
}

func (h *LLMCallHandler) ValidateConfig(config map[string]any) error {
	if _, ok := stringConfig(config, "prompt_template"); !ok {
		return handlerErrf("llm_call", "missing or invalid required config field %q", "prompt_template")
	}
	if raw, ok := config["temperature"]; ok {
		temp, numeric := toFloat64(raw)
		if !numeric || temp < 0 || temp > 2 {
			return handlerErrf("llm_call", "invalid temperature %v: must be between 0.0 and 2.0", raw)
		}
	}
	if raw, ok := config["max_tokens"]; ok {
		tokens, numeric := toInt(raw)
		if !numeric || tokens <= 0 {
			return handlerErrf("llm_call", "invalid max_tokens %v: must be a positive integer", raw)
		}
	}
	return nil
}

func (h *LLMCallHandler) Execute(ctx context.Context, config map[string]any, inputs Inputs) (map[string]any, error) {
	if err := h.ValidateConfig(config); err != nil {
		return nil, err
	}

	template, _ := stringConfig(config, "prompt_template")
	temperature := defaultTemperature
	if raw, ok := config["temperature"]; ok {
		temperature, _ = toFloat64(raw)
	}
	maxTokens := defaultMaxTokens
	if raw, ok := config["max_tokens"]; ok {
		maxTokens, _ = toInt(raw)
	}

	// Config-level variables override anything from the run context.
	tmplCtx := inputs.Context()
	for k, v := range mapConfig(config, "variables") {
		tmplCtx[k] = v
	}

	prompt := RenderTemplate(template, tmplCtx)
	slog.Debug("executing llm call", "promptLength", len(prompt), "temperature", temperature, "maxTokens", maxTokens)

	gen, err := h.generator.Generate(ctx, prompt, GenerateOptions{
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, handlerWrap("llm_call", err, "text generation failed: %v", err)
	}

	slog.Info("llm call completed", "model", gen.Model, "tokensUsed", gen.InputTokens+gen.OutputTokens)

	return map[string]any{
		"response":      gen.Text,
		"model":         gen.Model,
		"tokens_used":   gen.InputTokens + gen.OutputTokens,
		"input_tokens":  gen.InputTokens,
		"output_tokens": gen.OutputTokens,
		"temperature":   temperature,
		"max_tokens":    maxTokens,
	}, nil
}
