package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asktra/asktra/internal/llm/types"
)

// Package gemini talks to the Google Generative Language REST API
// (models/{model}:generateContent).
//
// Responsibilities:
//   - JSON response mode via generationConfig.responseMimeType
//   - Extended reasoning via generationConfig.thinkingConfig, with thought
//     parts returned as separate fragments
//   - Inline image attachments
//   - Mapping 429 / RESOURCE_EXHAUSTED / 503 to types.ErrRateLimited

const (
	DefaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel     = "gemini-2.5-flash"
	DefaultMaxTokens = 8192
	DefaultTimeout   = 180 * time.Second
)

// Client implements generation against Gemini models.
type Client struct {
	apiKey        string
	model         string
	maxTokens     int
	baseURL       string
	thinkingLevel string
	httpClient    *http.Client
}

// Gemini API structures
type part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type thinkingConfig struct {
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
	ThinkingBudget  *int   `json:"thinkingBudget,omitempty"`
	IncludeThoughts bool   `json:"includeThoughts,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewClient creates a Gemini client. thinkingLevel is sent as
// thinkingConfig.thinkingLevel when extended reasoning is requested; when
// empty, a dynamic thinking budget is requested instead.
func NewClient(apiKey, model, thinkingLevel string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		apiKey:        apiKey,
		model:         model,
		maxTokens:     DefaultMaxTokens,
		baseURL:       DefaultBaseURL,
		thinkingLevel: thinkingLevel,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Generate performs one generateContent call and returns every non-empty
// text part of the first candidate, thought parts included, in order.
func (c *Client) Generate(ctx context.Context, req types.Request) (*types.Response, error) {
	userParts := []part{{Text: req.Prompt}}
	if req.Image != nil && len(req.Image.Data) > 0 {
		userParts = append(userParts, part{InlineData: &inlineData{
			MimeType: req.Image.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(req.Image.Data),
		}})
	}

	payload := generateRequest{
		Contents: []content{{Role: "user", Parts: userParts}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: c.maxTokens,
		},
	}
	if req.MaxTokens > 0 {
		payload.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if req.System != "" {
		payload.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}
	if req.JSONMode {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}
	if req.ExtendedReasoning {
		tc := &thinkingConfig{IncludeThoughts: true}
		if c.thinkingLevel != "" {
			tc.ThinkingLevel = c.thinkingLevel
		} else {
			dynamic := -1
			tc.ThinkingBudget = &dynamic
		}
		payload.GenerationConfig.ThinkingConfig = tc
	}

	body, err := c.makeRequest(ctx, fmt.Sprintf("/models/%s:generateContent", c.model), payload)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse Gemini response: %w", err)
	}

	out := &types.Response{
		Usage: types.TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		out.AddPart(p.Text, p.Thought)
	}
	return out, nil
}

func (c *Client) makeRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, responseBody)
	}
	return responseBody, nil
}

func classifyError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
		if apiErr.Error.Status != "" {
			msg = apiErr.Error.Status + ": " + msg
		}
	}

	if types.IsRateLimitStatus(status) || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return &types.RateLimitError{Provider: "gemini", StatusCode: status, Message: msg}
	}
	return fmt.Errorf("Gemini API error (status %d): %s", status, msg)
}

// SetBaseURL overrides the API endpoint (useful for testing).
func (c *Client) SetBaseURL(url string) { c.baseURL = url }
