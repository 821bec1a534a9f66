package worker

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/burrowd/burrow/pkg/errdefs"
)

// Options configures the Anthropic completion worker (default model id,
// max tokens, temperature, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// AnthropicWorker executes completion jobs against the Anthropic Messages
// API. Per-job params may override the configured defaults.
type AnthropicWorker struct {
	client *anthropic.Client
	opts   Options
}

// NewAnthropicWorker creates a worker using the official client.
func NewAnthropicWorker(optFns ...func(o *Options)) *AnthropicWorker {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &AnthropicWorker{
		client: &client,
		opts:   opts,
	}
}

// Invoke runs one completion. Recognized params:
//
//	prompt      string  (required) user prompt
//	system      string  optional system prompt
//	model       string  optional model override
//	max_tokens  number  optional token limit override
//	temperature number  optional sampling override
//
// The result payload carries content, stop_reason, model, and token usage.
func (w *AnthropicWorker) Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return nil, errdefs.Validationf("completion params missing prompt")
	}

	model := w.opts.Model
	if m, ok := params["model"].(string); ok && m != "" {
		model = anthropic.Model(m)
	}
	maxTokens := w.opts.MaxTokens
	if mt, ok := asInt64(params["max_tokens"]); ok && mt > 0 {
		maxTokens = mt
	}
	temperature := w.opts.Temperature
	if temp, ok := asFloat64(params["temperature"]); ok {
		temperature = temp
	}

	req := anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	if system, ok := params["system"].(string); ok && system != "" {
		req.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := w.client.Messages.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}

	return map[string]interface{}{
		"content":     content,
		"stop_reason": string(resp.StopReason),
		"model":       string(resp.Model),
		"usage": map[string]interface{}{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}, nil
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		// JSON numbers decode as float64.
		return int64(n), true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
