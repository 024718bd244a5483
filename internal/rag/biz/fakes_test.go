package biz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
)

const testDim = 4

// fakeEmbedder 按文本内容生成确定性向量。
type fakeEmbedder struct {
	calls     atomic.Int32
	failFirst int32
	failOn    string
	err       error

	mu      sync.Mutex
	batches [][]string
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()

	if n <= f.failFirst {
		return nil, resilience.NewTransient(resilience.KindRateLimit, errors.New("429 too many requests"))
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, resilience.NewTransient(resilience.KindConnection, errors.New("connection reset"))
		}
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// vectorFor 让以相同字母开头的文本落在相近方向上。
func vectorFor(text string) []float32 {
	v := make([]float32, testDim)
	if text == "" {
		return v
	}
	v[int(text[0])%testDim] = 1
	v[len(text)%testDim] += 0.1
	return v
}

// fakeChat 返回预设回复，记录收到的消息。
type fakeChat struct {
	calls   atomic.Int32
	reply   string
	model   string
	usage   llm.TokenUsage
	errs    []error
	lastMsg []llm.Message
	mu      sync.Mutex
}

func (f *fakeChat) Name() string { return "fake-chat" }

func (f *fakeChat) Chat(_ context.Context, messages []llm.Message, opts ...llm.ChatOption) (*llm.ChatResponse, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.lastMsg = messages
	f.mu.Unlock()
	if n <= len(f.errs) && f.errs[n-1] != nil {
		return nil, f.errs[n-1]
	}
	o := llm.ApplyChatOptions(opts...)
	model := f.model
	if model == "" {
		model = o.Model
	}
	return &llm.ChatResponse{Content: f.reply, Model: model, Usage: f.usage}, nil
}

func testEmbeddingOptions() *ragopts.EmbeddingOptions {
	o := ragopts.NewOptions().Embedding
	o.Dimension = testDim
	o.MinBackoff = time.Millisecond
	o.MaxBackoff = 5 * time.Millisecond
	return o
}

func testGenerationOptions() *ragopts.GenerationOptions {
	o := ragopts.NewOptions().Generation
	o.MinBackoff = time.Millisecond
	o.MaxBackoff = 5 * time.Millisecond
	return o
}
