// Package langchain 通过 langchaingo 接入 OpenAI 兼容端点或 Ollama。
package langchain

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/kart-io/sentinel-rag/pkg/llm"
)

const ProviderName = "langchain"

// Backends
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config langchain 供应商配置。
type Config struct {
	Backend    string `json:"backend" mapstructure:"backend"`
	BaseURL    string `json:"base_url" mapstructure:"base_url"`
	APIKey     string `json:"-" mapstructure:"api_key"`
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`
	ChatModel  string `json:"chat_model" mapstructure:"chat_model"`
}

// Provider 包装 langchaingo 的 llms.Model 与 embeddings.Embedder。
type Provider struct {
	config   *Config
	chat     llms.Model
	embedder embeddings.Embedder
}

var _ llm.Provider = (*Provider)(nil)

// NewProvider 从配置 map 创建供应商。backend 默认为 openai。
func NewProvider(m map[string]any) (llm.Provider, error) {
	cfg := &Config{
		Backend:    llm.StringValue(m, "backend", BackendOpenAI),
		BaseURL:    llm.StringValue(m, "base_url", ""),
		APIKey:     llm.StringValue(m, "api_key", ""),
		EmbedModel: llm.StringValue(m, "embed_model", ""),
		ChatModel:  llm.StringValue(m, "chat_model", ""),
	}
	return NewProviderWithConfig(cfg)
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) (*Provider, error) {
	var (
		chatModel   llms.Model
		embedClient embeddings.EmbedderClient
	)

	switch cfg.Backend {
	case BackendOpenAI:
		var opts []lcopenai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, lcopenai.WithToken(cfg.APIKey))
		}
		if cfg.ChatModel != "" {
			opts = append(opts, lcopenai.WithModel(cfg.ChatModel))
		}
		if cfg.EmbedModel != "" {
			opts = append(opts, lcopenai.WithEmbeddingModel(cfg.EmbedModel))
		}
		c, err := lcopenai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("langchain: 初始化 openai 客户端失败: %w", err)
		}
		chatModel, embedClient = c, c

	case BackendOllama:
		serverOpt := lcollama.WithServerURL(cfg.BaseURL)
		chat, err := lcollama.New(serverOpt, lcollama.WithModel(cfg.ChatModel))
		if err != nil {
			return nil, fmt.Errorf("langchain: 初始化 ollama chat 客户端失败: %w", err)
		}
		emb, err := lcollama.New(serverOpt, lcollama.WithModel(cfg.EmbedModel))
		if err != nil {
			return nil, fmt.Errorf("langchain: 初始化 ollama embed 客户端失败: %w", err)
		}
		chatModel, embedClient = chat, emb

	default:
		return nil, fmt.Errorf("langchain: unknown backend: %s", cfg.Backend)
	}

	embedder, err := embeddings.NewEmbedder(embedClient, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("langchain: 创建 embedder 失败: %w", err)
	}
	return &Provider{config: cfg, chat: chatModel, embedder: embedder}, nil
}

func (p *Provider) Name() string { return ProviderName + "-" + p.config.Backend }

// Embed 批量生成向量。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("langchain: 期望 %d 个向量，实际 %d: %w", len(texts), len(vecs), llm.ErrMalformedResponse)
	}
	return vecs, nil
}

// EmbedSingle 生成查询向量。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return p.embedder.EmbedQuery(ctx, text)
}

func messageType(r llm.Role) llms.ChatMessageType {
	switch r {
	case llm.RoleSystem:
		return llms.ChatMessageTypeSystem
	case llm.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// Chat 通过 GenerateContent 完成一次对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (*llm.ChatResponse, error) {
	o := llm.ApplyChatOptions(opts...)

	content := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		content[i] = llms.TextParts(messageType(m.Role), m.Content)
	}

	var callOpts []llms.CallOption
	model := p.config.ChatModel
	if o.Model != "" {
		model = o.Model
		callOpts = append(callOpts, llms.WithModel(o.Model))
	}
	if o.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*o.Temperature))
	}
	if o.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(o.MaxTokens))
	}

	resp, err := p.chat.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, fmt.Errorf("langchain: 未返回响应内容: %w", llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &llm.ChatResponse{
		Content: choice.Content,
		Model:   model,
		Usage:   usageFromInfo(choice.GenerationInfo),
	}, nil
}

// usageFromInfo 读取 GenerationInfo 中的 token 计数，不同后端的数值类型不一致。
func usageFromInfo(info map[string]any) llm.TokenUsage {
	u := llm.TokenUsage{
		PromptTokens:     intOf(info["PromptTokens"]),
		CompletionTokens: intOf(info["CompletionTokens"]),
		TotalTokens:      intOf(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
