package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// DefaultModel 未配置模型时使用的 chat 模型。
const DefaultModel = "gpt-4"

// Price 是每 1K token 的美元价格。
type Price struct {
	Input  float64
	Output float64
}

var pricing = map[string]Price{
	"gpt-4":         {Input: 0.03, Output: 0.06},
	"gpt-4-turbo":   {Input: 0.01, Output: 0.03},
	"gpt-3.5-turbo": {Input: 0.0015, Output: 0.002},
}

// PriceFor 返回模型价格，未知模型按 gpt-4 计价。
func PriceFor(modelName string) Price {
	if p, ok := pricing[modelName]; ok {
		return p
	}
	return pricing[DefaultModel]
}

// EstimateCost 估算一次调用的费用。
func EstimateCost(modelName string, inputTokens, outputTokens int) float64 {
	p := PriceFor(modelName)
	return float64(inputTokens)/1000*p.Input + float64(outputTokens)/1000*p.Output
}

// Answer 是生成结果，Text 中保留 "[Source N]" 标记。
type Answer struct {
	Text    string
	Model   string
	Usage   model.TokenUsage
	Sources []store.ScoredChunk
	Prompt  *Prompt
}

// Generator 调用 chat 供应商生成回答。
type Generator struct {
	chat     llm.ChatProvider
	composer *PromptComposer
	opts     *ragopts.GenerationOptions
	model    string
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.RAGMetrics
}

// NewGenerator creates an answer generator. modelName is the configured chat
// model and selects the price tier.
func NewGenerator(chat llm.ChatProvider, opts *ragopts.GenerationOptions, modelName string, m *metrics.RAGMetrics) *Generator {
	if opts == nil {
		opts = ragopts.NewOptions().Generation
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if m == nil {
		m = metrics.New()
	}
	return &Generator{
		chat:     chat,
		composer: NewPromptComposer(opts),
		opts:     opts,
		model:    modelName,
		breaker:  resilience.NewCircuitBreaker("chat:"+chat.Name(), nil),
		metrics:  m,
	}
}

// Generate 基于排好序的分块回答问题。
// 问题为空或 chunks 为空时直接返回 ValidationError，不会调用供应商。
func (g *Generator) Generate(ctx context.Context, question string, chunks []store.ScoredChunk, history []model.ConversationTurn) (*Answer, error) {
	if textutil.IsBlank(question) {
		return nil, newValidationError("query", -1, errs.ErrRAGInvalidRequest, "Query cannot be empty")
	}
	if len(chunks) == 0 {
		return nil, newValidationError("context", -1, errs.ErrRAGEmptyContext, "Context chunks cannot be empty")
	}

	prompt := g.composer.Compose(question, chunks, history)
	if prompt.DroppedSources > 0 {
		logger.Infow("prompt over budget, dropped sources",
			"dropped", prompt.DroppedSources,
			"kept", len(prompt.Sources),
			"estimated_tokens", prompt.EstimatedTokens,
		)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompt.System},
		{Role: llm.RoleUser, Content: prompt.User},
	}
	cfg := &resilience.RetryConfig{
		MaxAttempts:  g.opts.MaxAttempts,
		InitialDelay: g.opts.MinBackoff,
		MaxDelay:     g.opts.MaxBackoff,
		Multiplier:   2.0,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			g.metrics.RecordLLMRetry()
			logger.Warnw("chat call failed, retrying",
				"provider", g.chat.Name(),
				"attempt", attempt,
				"delay", delay.String(),
				"error", err.Error(),
			)
		},
	}

	var resp *llm.ChatResponse
	start := time.Now()
	err := resilience.RetryWithCircuitBreaker(ctx, cfg, g.breaker, func(ctx context.Context) error {
		r, err := g.chat.Chat(ctx, messages,
			llm.WithModel(g.model),
			llm.WithTemperature(g.opts.Temperature),
			llm.WithMaxTokens(g.opts.MaxTokens),
		)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		g.metrics.RecordLLMCall(time.Since(start), 0, 0, 0, err)
		return nil, fatal(OpGenerate, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		g.metrics.RecordLLMCall(time.Since(start), 0, 0, 0, llm.ErrEmptyResponse)
		return nil, fatal(OpGenerate, llm.ErrEmptyResponse)
	}

	usage := model.TokenUsage{
		InputTokens:   resp.Usage.PromptTokens,
		OutputTokens:  resp.Usage.CompletionTokens,
		TotalTokens:   resp.Usage.TotalTokens,
		EstimatedCost: EstimateCost(g.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	g.metrics.RecordLLMCall(time.Since(start), usage.InputTokens, usage.OutputTokens, usage.EstimatedCost, nil)

	modelName := resp.Model
	if modelName == "" {
		modelName = g.model
	}
	return &Answer{
		Text:    resp.Content,
		Model:   modelName,
		Usage:   usage,
		Sources: prompt.Sources,
		Prompt:  prompt,
	}, nil
}

// Provider returns the chat provider name.
func (g *Generator) Provider() string {
	return g.chat.Name()
}
