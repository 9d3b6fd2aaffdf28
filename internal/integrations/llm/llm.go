package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// Turn is one prior conversation exchange, oldest first.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

type Request struct {
	System      string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Provider is the single LLM boundary: one request/response completion
// taking a system instruction plus ordered turn history. Implementations
// must return catchable errors; malformed content is the caller's concern.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, Usage, error)
}

const defaultModel = "claude-sonnet-4-5-20250929"

type AnthropicClient struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

func NewAnthropicClient(apiKey, model string, timeout time.Duration, perSec float64, burst int) *AnthropicClient {
	if model == "" {
		model = defaultModel
	}
	return &AnthropicClient{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", Usage{}, fmt.Errorf("rate limiter: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var messages []anthropic.MessageParam
	for _, turn := range req.Turns {
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: messages,
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d",
				len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// TrimFences strips markdown code fences models sometimes wrap around JSON
// output despite the "JSON only" instruction.
func TrimFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
