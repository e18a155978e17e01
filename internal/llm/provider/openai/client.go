package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/asktra/asktra/internal/llm/types"
)

// Package openai adapts the Chat Completions API to the generation
// capability. Any OpenAI-compatible endpoint (Ollama, vLLM, LocalAI) works
// by pointing baseURL at it; the API key may then be a placeholder.
//
// Extended reasoning maps to reasoning_effort, which only reasoning models
// accept, so it is sent only when a non-empty effort is configured.

const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 8192
)

// Client implements generation against OpenAI-compatible chat models.
type Client struct {
	client          openai.Client
	model           string
	maxTokens       int64
	reasoningEffort string
}

// NewClient creates an OpenAI client. baseURL and reasoningEffort may be
// empty.
func NewClient(apiKey, model, baseURL, reasoningEffort string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}

	return &Client{
		client:          openai.NewClient(opts...),
		model:           model,
		maxTokens:       DefaultMaxTokens,
		reasoningEffort: strings.ToLower(strings.TrimSpace(reasoningEffort)),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate performs one chat completion. The single message content of the
// first choice is returned as one fragment.
func (c *Client) Generate(ctx context.Context, req types.Request) (*types.Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, classifyError(err)
	}

	out := &types.Response{
		Usage: types.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	if text := resp.Choices[0].Message.Content; strings.TrimSpace(text) != "" {
		out.Parts = append(out.Parts, text)
	}
	return out, nil
}

func (c *Client) buildParams(req types.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	if req.Image != nil && len(req.Image.Data) > 0 {
		dataURL := fmt.Sprintf("data:%s;base64,%s", req.Image.MIMEType, base64.StdEncoding.EncodeToString(req.Image.Data))
		messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.Prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}))
	} else {
		messages = append(messages, openai.UserMessage(req.Prompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONMode {
		obj := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &obj}
	}
	if req.ExtendedReasoning && c.reasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(c.reasoningEffort)
	}
	return params
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && types.IsRateLimitStatus(apiErr.StatusCode) {
		return &types.RateLimitError{Provider: "openai", StatusCode: apiErr.StatusCode, Message: err.Error()}
	}
	return fmt.Errorf("OpenAI API request failed: %w", err)
}
