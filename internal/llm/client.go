package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/papertrend/backend/internal/llm/prompts"
	"github.com/papertrend/backend/internal/metrics"
	"github.com/papertrend/backend/pkg/circuitbreaker"
	"github.com/papertrend/backend/pkg/logger"
	"github.com/papertrend/backend/pkg/retry"
	"github.com/papertrend/backend/pkg/textutil"
)

// EmbeddingCache is consulted before the embedding provider. The redis
// client satisfies it; a nil cache disables caching.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cache          EmbeddingCache
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config

	mu    sync.Mutex
	usage Usage
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Usage is the explicit cost accumulator for provider calls. The client
// owns one instance; callers read it through Usage() instead of a
// process-wide tracker.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EmbeddingCalls   int
	CompletionCalls  int
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int, cache EmbeddingCache) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cache:          cache,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

// Usage returns a copy of the accumulated provider usage.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *Client) addCompletionUsage(u openai.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.PromptTokens += u.PromptTokens
	c.usage.CompletionTokens += u.CompletionTokens
	c.usage.TotalTokens += u.TotalTokens
	c.usage.CompletionCalls++
	metrics.LLMTokensUsed.WithLabelValues("prompt").Add(float64(u.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues("completion").Add(float64(u.CompletionTokens))
}

func (c *Client) addEmbeddingUsage(u openai.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.PromptTokens += u.PromptTokens
	c.usage.TotalTokens += u.TotalTokens
	c.usage.EmbeddingCalls++
	metrics.LLMTokensUsed.WithLabelValues("embedding").Add(float64(u.PromptTokens))
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			c.addCompletionUsage(resp.Usage)

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		metrics.ProviderFailures.WithLabelValues("completion").Inc()
		return nil, err
	}

	return result, nil
}

// Embed returns the fixed-length embedding for text, consulting the
// cache first when one is configured.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	textHash := textutil.Hash(text)

	if c.cache != nil {
		if cached, ok, err := c.cache.GetEmbedding(ctx, textHash); err == nil && ok {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			c.addEmbeddingUsage(resp.Usage)

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		metrics.ProviderFailures.WithLabelValues("embedding").Inc()
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetEmbedding(ctx, textHash, embedding, 7*24*time.Hour); err != nil {
			logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	return embedding, nil
}

// GenerateCanonicalStem produces the shared-concept description for a
// new variant group. A single-member group keeps its only text verbatim;
// callers fall back to the first text when the provider fails.
func (c *Client) GenerateCanonicalStem(ctx context.Context, questions []string) (string, error) {
	if len(questions) == 0 {
		return "", fmt.Errorf("no questions to summarize")
	}
	if len(questions) == 1 {
		return questions[0], nil
	}

	var b strings.Builder
	for _, q := range questions {
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: prompts.ConceptStemSystem,
		UserPrompt:   prompts.ConceptStemUser(b.String()),
		Temperature:  0.2,
		MaxTokens:    200,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate canonical stem: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

// RewriteVariant rewrites an existing question under the section's
// register at the requested sampling temperature.
func (c *Client) RewriteVariant(ctx context.Context, section, original string, temperature float32) (string, error) {
	r := prompts.Register(section)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: prompts.VariantSystem(r),
		UserPrompt:   prompts.VariantUser(original),
		Temperature:  temperature,
		MaxTokens:    400,
	})
	if err != nil {
		return "", fmt.Errorf("failed to rewrite variant: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

// GenerateNovel authors a new question from the topic and module names
// alone, under the section's register.
func (c *Client) GenerateNovel(ctx context.Context, section, topicName, moduleName string, temperature float32) (string, error) {
	r := prompts.Register(section)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: prompts.NovelSystem(r),
		UserPrompt:   prompts.NovelUser(topicName, moduleName),
		Temperature:  temperature,
		MaxTokens:    400,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate novel question: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

// TrendInsight writes the qualitative narrative attached to a trend
// snapshot. Failures are the caller's cue to omit the narrative.
func (c *Client) TrendInsight(ctx context.Context, emerging, declining, gaps []string) (string, error) {
	join := func(names []string) string {
		if len(names) == 0 {
			return "None"
		}
		return strings.Join(names, ", ")
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: prompts.TrendInsightSystem,
		UserPrompt:   prompts.TrendInsightUser(join(emerging), join(declining), join(gaps)),
		Temperature:  0.2,
		MaxTokens:    400,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate trend insight: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}
