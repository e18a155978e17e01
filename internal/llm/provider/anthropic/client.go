package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/asktra/asktra/internal/llm/types"
)

// Package anthropic adapts the Anthropic Messages API to the generation
// capability. Claude has no JSON response mode, so JSON requests get an
// extra system instruction; extended reasoning maps to an enabled thinking
// budget whose blocks come back as separate fragments.

const (
	DefaultModel          = "claude-sonnet-4-5"
	DefaultMaxTokens      = 8192
	DefaultThinkingBudget = 4096
)

const jsonOnlyInstruction = "Respond with a single JSON object and nothing else: no Markdown fences, no commentary."

// Client implements generation against Claude models.
type Client struct {
	client         anthropic.Client
	model          string
	maxTokens      int64
	thinkingBudget int64
}

// NewClient creates an Anthropic client. baseURL may be empty.
func NewClient(apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(baseURL)))
	}

	return &Client{
		client:         anthropic.NewClient(opts...),
		model:          model,
		maxTokens:      DefaultMaxTokens,
		thinkingBudget: DefaultThinkingBudget,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate sends one Messages request and returns the text of each thinking
// and text block in response order, marking thinking blocks as thoughts.
func (c *Client) Generate(ctx context.Context, req types.Request) (*types.Response, error) {
	params := c.buildParams(req)

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}

	out := &types.Response{
		Usage: types.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			out.AddPart(variant.Thinking, true)
		case anthropic.TextBlock:
			out.AddPart(variant.Text, false)
		}
	}
	return out, nil
}

func (c *Client) buildParams(req types.Request) anthropic.MessageNewParams {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.Prompt)}
	if req.Image != nil && len(req.Image.Data) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(req.Image.MIMEType, base64.StdEncoding.EncodeToString(req.Image.Data)))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}

	system := strings.TrimSpace(req.System)
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyInstruction)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if req.ExtendedReasoning && c.thinkingBudget >= 1024 && c.thinkingBudget < params.MaxTokens {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(c.thinkingBudget)
	}
	return params
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && types.IsRateLimitStatus(apiErr.StatusCode) {
		return &types.RateLimitError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Message: err.Error()}
	}
	return fmt.Errorf("Anthropic API request failed: %w", err)
}
