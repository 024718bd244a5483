package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	errs "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		model string
		in    int
		out   int
		want  float64
	}{
		{"gpt-4", 1000, 1000, 0.09},
		{"gpt-4-turbo", 2000, 500, 0.035},
		{"gpt-3.5-turbo", 1000, 1000, 0.0035},
		{"llama3", 1000, 0, 0.03},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateCost(tt.model, tt.in, tt.out), 1e-9)
		})
	}
}

func TestGenerateEmptyQuestionSkipsProvider(t *testing.T) {
	chat := &fakeChat{reply: "x"}
	g := NewGenerator(chat, testGenerationOptions(), "gpt-4", nil)

	_, err := g.Generate(context.Background(), "", []store.ScoredChunk{scored("c1", 0.9, "ctx")}, nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Query cannot be empty", ve.Reason)
	assert.Zero(t, chat.calls.Load())
	assert.Equal(t, 400, ToErrno(err).HTTPStatus())
}

func TestGenerateEmptyContext(t *testing.T) {
	chat := &fakeChat{reply: "x"}
	g := NewGenerator(chat, testGenerationOptions(), "gpt-4", nil)

	_, err := g.Generate(context.Background(), "why?", nil, nil)
	require.True(t, IsValidation(err))
	assert.True(t, errs.IsCode(ToErrno(err), errs.ErrRAGEmptyContext.Code))
	assert.Zero(t, chat.calls.Load())
}

func TestGenerateUsageAndCost(t *testing.T) {
	chat := &fakeChat{
		reply: "The price is 10 USD [Source 1].",
		model: "gpt-4-0613",
		usage: llm.TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}
	g := NewGenerator(chat, testGenerationOptions(), "gpt-4", nil)

	ans, err := g.Generate(context.Background(), "price?", []store.ScoredChunk{scored("c1", 0.9, "Price is 10 USD.")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "The price is 10 USD [Source 1].", ans.Text)
	assert.Equal(t, "gpt-4-0613", ans.Model)
	assert.Equal(t, 1500, ans.Usage.TotalTokens)
	assert.InDelta(t, 0.06, ans.Usage.EstimatedCost, 1e-9)
	require.Len(t, ans.Sources, 1)

	require.Len(t, chat.lastMsg, 2)
	assert.Equal(t, llm.RoleSystem, chat.lastMsg[0].Role)
	assert.Equal(t, SystemMessage, chat.lastMsg[0].Content)
	assert.Contains(t, chat.lastMsg[1].Content, "[Source 1]\nPrice is 10 USD.")
}

func TestGenerateRetriesTransient(t *testing.T) {
	transient := resilience.NewTransient(resilience.KindTimeout, errors.New("timeout"))
	chat := &fakeChat{reply: "ok", errs: []error{transient, transient}}
	g := NewGenerator(chat, testGenerationOptions(), "gpt-4", nil)

	ans, err := g.Generate(context.Background(), "q", []store.ScoredChunk{scored("c1", 0.9, "ctx")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", ans.Text)
	assert.Equal(t, int32(3), chat.calls.Load())
}

func TestGenerateExhaustedIsFatal(t *testing.T) {
	transient := resilience.NewTransient(resilience.KindRateLimit, errors.New("429"))
	chat := &fakeChat{reply: "ok", errs: []error{transient, transient, transient}}
	g := NewGenerator(chat, testGenerationOptions(), "gpt-4", nil)

	_, err := g.Generate(context.Background(), "q", []store.ScoredChunk{scored("c1", 0.9, "ctx")}, nil)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, OpGenerate, fe.Op)
	assert.True(t, errs.IsCode(ToErrno(err), errs.ErrRAGProviderRateLimited.Code))
	assert.Equal(t, 429, ToErrno(err).HTTPStatus())
}

func TestGenerateEmptyAnswerIsFatal(t *testing.T) {
	chat := &fakeChat{reply: "   "}
	g := NewGenerator(chat, testGenerationOptions(), "gpt-4", nil)

	_, err := g.Generate(context.Background(), "q", []store.ScoredChunk{scored("c1", 0.9, "ctx")}, nil)
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	assert.Equal(t, int32(1), chat.calls.Load())
	assert.True(t, errs.IsCode(ToErrno(err), errs.ErrRAGEmptyAnswer.Code))
}
