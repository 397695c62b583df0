// Package llm wraps github.com/openai/openai-go behind a small
// fallback-rotating client, grounded on the teacher's mcp.AIClient seam
// (internal/decision never imports openai-go directly) and on the model
// fallback order the original system reads from settings
// (GEMINI_MODEL_FALLBACK_ORDER).
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"sentryfx/internal/core"
	"sentryfx/internal/logger"
)

// ModelConfig names one model in the fallback list and the endpoint that
// serves it (a "Gemini" model name may point at Gemini's OpenAI-compatible
// endpoint, or any other model name at a native OpenAI-compatible one).
type ModelConfig struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Response is the parsed result of one successful Invoke.
type Response struct {
	Content           string
	Model             string
	PromptTokens      int
	CompletionTokens  int
}

// Client maintains an ordered model list and rotates past quota-exhausted
// models on failure (spec.md §4.4). Safe for concurrent use.
type Client struct {
	mu           sync.RWMutex
	models       []ModelConfig
	oaClients    []*openai.Client
	activeIndex  atomic.Int64
	httpClient   *http.Client
}

// New builds a Client from an ordered, deduplicated model list. The first
// entry is primary; the rest are fallbacks tried in order on quota errors.
func New(models []ModelConfig) (*Client, error) {
	c := &Client{httpClient: &http.Client{}}
	if err := c.reconfigure(models); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconfigure rebuilds the model list and resets active_index to 0
// (spec.md §4.4), used when Settings' Gemini model or fallback order
// changes live.
func (c *Client) Reconfigure(models []ModelConfig) error {
	return c.reconfigure(models)
}

func (c *Client) reconfigure(models []ModelConfig) error {
	deduped := dedupModels(models)
	if len(deduped) == 0 {
		return errors.New("llm: at least one model is required")
	}

	clients := make([]*openai.Client, len(deduped))
	for i, m := range deduped {
		opts := []option.RequestOption{
			option.WithAPIKey(m.APIKey),
			option.WithBaseURL(m.BaseURL),
			option.WithHTTPClient(c.httpClient),
			// No SDK-level retries: a non-quota error propagates on the
			// first failure and a quota error rotates models at once.
			option.WithMaxRetries(0),
		}
		client := openai.NewClient(opts...)
		clients[i] = &client
	}

	c.mu.Lock()
	c.models = deduped
	c.oaClients = clients
	c.mu.Unlock()
	c.activeIndex.Store(0)
	return nil
}

func dedupModels(models []ModelConfig) []ModelConfig {
	seen := make(map[string]bool, len(models))
	out := make([]ModelConfig, 0, len(models))
	for _, m := range models {
		if m.Name == "" || seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m)
	}
	return out
}

// Invoke sends prompt to the currently active model. On a quota-exhaustion
// failure it advances active_index (wrapping to 0 with a CRITICAL log at
// wrap) and retries with the next model, bounded at len(models) attempts.
// Non-quota errors propagate immediately (spec.md §4.4).
func (c *Client) Invoke(ctx context.Context, prompt string) (Response, error) {
	c.mu.RLock()
	models := c.models
	clients := c.oaClients
	c.mu.RUnlock()

	if len(models) == 0 {
		return Response{}, errors.New("llm: no models configured")
	}

	var lastErr error
	for attempt := 0; attempt < len(models); attempt++ {
		idx := int(c.activeIndex.Load()) % len(models)
		model := models[idx]

		resp, err := c.invokeOne(ctx, clients[idx], model.Name, prompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isQuotaError(err) {
			return Response{}, err
		}

		next := (idx + 1) % len(models)
		if next == 0 {
			logger.Errorf("llm: CRITICAL: all %d models exhausted this wrap, restarting from %s", len(models), models[0].Name)
		}
		c.activeIndex.Store(int64(next))
		logger.Warnf("llm: model %s quota exhausted, rotating to %s", model.Name, models[next].Name)
	}

	return Response{}, fmt.Errorf("%w: %v", core.ErrAllModelsExhausted, lastErr)
}

func (c *Client) invokeOne(ctx context.Context, client *openai.Client, modelName, prompt string) (Response, error) {
	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		if isQuotaError(err) {
			return Response{}, fmt.Errorf("%w: %s: %v", core.ErrQuotaExhausted, modelName, err)
		}
		return Response{}, fmt.Errorf("llm: %s: %w", modelName, err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: %s: empty response", modelName)
	}

	return Response{
		Content:          completion.Choices[0].Message.Content,
		Model:            completion.Model,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

// isQuotaError recognizes HTTP 429 (rate limit) and 403 (quota/permission
// denied) as quota-exhaustion failures; everything else is treated as a
// hard error that must propagate without rotation.
func isQuotaError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == http.StatusForbidden
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || errors.Is(err, core.ErrQuotaExhausted)
}
