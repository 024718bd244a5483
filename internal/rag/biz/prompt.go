package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
)

// SystemMessage 是每次生成使用的系统消息。
const SystemMessage = "You are a helpful assistant that answers questions based on provided context."

const promptTemplate = `You are a helpful assistant that answers questions based on the provided context from email documents and attachments.

Context:
%s
%s

Question: %s

Instructions:
- Answer the question based only on the provided context
- If the context doesn't contain enough information, say so
- Cite sources using [Source 1], [Source 2], etc. in your answer
- Be concise and accurate
- If you're unsure, indicate that

Answer:`

// Prompt 是组装好的 prompt 以及实际使用的来源。
// Sources[i] 在 prompt 中标记为 "Source i+1"。
type Prompt struct {
	System          string
	User            string
	Sources         []store.ScoredChunk
	History         []model.ConversationTurn
	DroppedSources  int
	EstimatedTokens int
}

// PromptComposer 组装带编号来源、对话历史和问题的 prompt。
type PromptComposer struct {
	budget       int
	historyTurns int
}

// NewPromptComposer creates a composer from the generation options.
func NewPromptComposer(opts *ragopts.GenerationOptions) *PromptComposer {
	if opts == nil {
		opts = ragopts.NewOptions().Generation
	}
	turns := opts.HistoryTurns
	if turns <= 0 {
		turns = 3
	}
	return &PromptComposer{budget: opts.InputTokenBudget, historyTurns: turns}
}

// Compose 按检索顺序给来源编号，只取最近 historyTurns 轮历史（旧的在前）。
//
// 超出输入预算时先逐个丢弃相似度最低的来源，至少保留一个；
// 仍然超出再丢弃较早的历史，问题和最近一轮历史始终保留。
func (p *PromptComposer) Compose(question string, chunks []store.ScoredChunk, history []model.ConversationTurn) *Prompt {
	sources := append([]store.ScoredChunk(nil), chunks...)
	if len(history) > p.historyTurns {
		history = history[len(history)-p.historyTurns:]
	}
	history = append([]model.ConversationTurn(nil), history...)

	out := &Prompt{System: SystemMessage}
	for {
		out.User = renderPrompt(question, sources, history)
		out.EstimatedTokens = textutil.EstimateTokens(out.System) + textutil.EstimateTokens(out.User)
		if p.budget <= 0 || out.EstimatedTokens <= p.budget {
			break
		}
		if len(sources) > 1 {
			sources = dropLowest(sources)
			out.DroppedSources++
			continue
		}
		if len(history) > 1 {
			history = history[1:]
			continue
		}
		break
	}

	out.Sources = sources
	out.History = history
	return out
}

func renderPrompt(question string, sources []store.ScoredChunk, history []model.ConversationTurn) string {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		blocks[i] = fmt.Sprintf("[Source %d]\n%s", i+1, s.Content)
	}

	historyText := ""
	if len(history) > 0 {
		turns := make([]string, len(history))
		for i, t := range history {
			turns[i] = fmt.Sprintf("User: %s\nAssistant: %s", t.Question, t.Answer)
		}
		historyText = "\n\nPrevious conversation:\n" + strings.Join(turns, "\n")
	}

	return fmt.Sprintf(promptTemplate, strings.Join(blocks, "\n\n"), historyText, question)
}

// dropLowest 删除相似度最低的来源，其余保持原顺序。相同相似度删靠后的。
func dropLowest(sources []store.ScoredChunk) []store.ScoredChunk {
	lowest := len(sources) - 1
	for i := len(sources) - 2; i >= 0; i-- {
		if sources[i].Similarity < sources[lowest].Similarity {
			lowest = i
		}
	}
	return append(sources[:lowest:lowest], sources[lowest+1:]...)
}
